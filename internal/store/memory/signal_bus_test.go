package memory

import (
	"context"
	"testing"
	"time"
)

func TestSignalBus_PublishSubscribe(t *testing.T) {
	b := NewSignalBus(0)
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, "ch")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(context.Background(), "ch", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-ch:
		if string(got) != "hello" {
			t.Errorf("got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSignalBus_Stream(t *testing.T) {
	ctx := context.Background()
	b := NewSignalBus(3)
	for _, p := range []string{"a", "b", "c", "d"} {
		if err := b.StreamAppend(ctx, "s", []byte(p)); err != nil {
			t.Fatal(err)
		}
	}

	all, err := b.StreamRead(ctx, "s", "0", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || string(all[0].Payload) != "b" {
		t.Fatalf("stream = %+v, want trimmed to b,c,d", all)
	}

	next, err := b.StreamRead(ctx, "s", all[0].ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 1 || string(next[0].Payload) != "c" {
		t.Errorf("after %s = %+v, want c", all[0].ID, next)
	}
}
