package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// newTestClient connects to TEST_REDIS_ADDR under a per-test prefix and
// skips when Redis is not available.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "xbet-test:" + t.Name()})
	if err != nil {
		t.Skipf("test redis not available: %v", err)
	}
	t.Cleanup(func() {
		keys, _ := c.rdb.Keys(context.Background(), c.Key("*")).Result()
		if len(keys) > 0 {
			c.rdb.Del(context.Background(), keys...)
		}
		_ = c.Close()
	})
	return c
}

func TestClient_Key(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"", []string{"lock", "market:abc"}, "lock:market:abc"},
		{"xbet", []string{"market", "id", "42"}, "xbet:market:id:42"},
		{"xbet:", []string{"ratelimit", "1.2.3.4"}, "xbet:ratelimit:1.2.3.4"},
	}
	for _, tt := range tests {
		if got := NewFromClient(rdb, tt.prefix).Key(tt.parts...); got != tt.want {
			t.Errorf("Key(%v) with prefix %q = %q, want %q", tt.parts, tt.prefix, got, tt.want)
		}
	}
}

func TestLockManager_Integration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "market:abc", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "market:abc", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("second Acquire = %v, want ErrLockHeld", err)
	}
	if _, err := lm.AcquireWait(ctx, "market:abc", time.Second, 60*time.Millisecond); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("AcquireWait while held = %v, want ErrLockHeld", err)
	}
	unlock()
	unlock()

	again, err := lm.AcquireWait(ctx, "market:abc", time.Second, time.Second)
	if err != nil {
		t.Fatalf("AcquireWait after unlock: %v", err)
	}
	again()
}

func TestMarketCache_Integration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	mc := NewMarketCache(c, time.Minute)
	view := domain.MarketView{Address: domain.PublicKey{1, 2, 3}, MarketID: 42, Outcomes: [2]string{"500", "1000"}}

	if _, err := mc.Get(ctx, view.Address); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get before Set = %v", err)
	}
	if err := mc.Set(ctx, view); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := mc.GetByMarketID(ctx, 42)
	if err != nil {
		t.Fatalf("GetByMarketID: %v", err)
	}
	if got.Address != view.Address || got.Outcomes != view.Outcomes {
		t.Errorf("GetByMarketID = %+v", got)
	}
	if err := mc.Invalidate(ctx, view.Address); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := mc.GetByMarketID(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByMarketID after Invalidate = %v", err)
	}
}

func TestSignalBus_StreamIntegration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	sb := NewSignalBus(c)

	for _, p := range []string{"a", "b"} {
		if err := sb.StreamAppend(ctx, domain.SettlementStream, []byte(p)); err != nil {
			t.Fatalf("StreamAppend: %v", err)
		}
	}
	msgs, err := sb.StreamRead(ctx, domain.SettlementStream, "0", 10)
	if err != nil {
		t.Fatalf("StreamRead: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "a" || string(msgs[1].Payload) != "b" {
		t.Errorf("StreamRead = %+v", msgs)
	}
	rest, err := sb.StreamRead(ctx, domain.SettlementStream, msgs[1].ID, 10)
	if err != nil || len(rest) != 0 {
		t.Errorf("StreamRead after last = %+v, %v", rest, err)
	}
}

func TestRateLimiter_Integration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "client", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("Allow #%d = %v, %v", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, "client", 3, time.Minute); ok {
		t.Error("fourth request allowed")
	}
}

func TestCheckpoint_Integration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	cp := NewCheckpoint(c, "evm")

	if _, ok, err := cp.Load(ctx); err != nil || ok {
		t.Fatalf("empty Load = ok %v err %v", ok, err)
	}
	if err := cp.Save(ctx, 12345); err != nil {
		t.Fatal(err)
	}
	block, ok, err := cp.Load(ctx)
	if err != nil || !ok || block != 12345 {
		t.Errorf("Load = %d %v %v, want 12345", block, ok, err)
	}
}
