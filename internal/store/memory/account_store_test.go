package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

func TestAccountStore_ApplyAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewAccountStore()
	a := domain.PublicKey{1}

	if _, err := s.Get(ctx, a); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}
	if err := s.Apply(ctx, domain.Commit{Writes: []domain.AccountWrite{{Address: a, Data: []byte{1, 2}}}}); err != nil {
		t.Fatalf("Apply create: %v", err)
	}
	got, err := s.Get(ctx, a)
	if err != nil || string(got) != "\x01\x02" {
		t.Fatalf("Get = %x, %v", got, err)
	}
	got[0] = 9
	again, _ := s.Get(ctx, a)
	if again[0] != 1 {
		t.Error("Get must return a copy")
	}
}

func TestAccountStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewAccountStore()
	a, b := domain.PublicKey{1}, domain.PublicKey{2}
	s.Put(a, []byte{1})

	tests := []struct {
		name string
		c    domain.Commit
	}{
		{"create over existing", domain.Commit{Writes: []domain.AccountWrite{{Address: a, Data: []byte{2}}}}},
		{"stale prev", domain.Commit{Writes: []domain.AccountWrite{{Address: a, Prev: []byte{7}, Data: []byte{2}}}}},
		{"prev on missing", domain.Commit{Writes: []domain.AccountWrite{{Address: b, Prev: []byte{1}, Data: []byte{2}}}}},
		{"second write stale", domain.Commit{Writes: []domain.AccountWrite{
			{Address: b, Data: []byte{5}},
			{Address: a, Prev: []byte{8}, Data: []byte{2}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Apply(ctx, tt.c); !errors.Is(err, domain.ErrConflict) {
				t.Errorf("Apply = %v, want ErrConflict", err)
			}
			if _, err := s.Get(ctx, b); !errors.Is(err, domain.ErrNotFound) {
				t.Error("failed commit must not write anything")
			}
		})
	}
}

func TestAccountStore_TransferDedup(t *testing.T) {
	ctx := context.Background()
	s := NewAccountStore()
	c := domain.Commit{Writes: []domain.AccountWrite{{Address: domain.PublicKey{3}, Data: []byte{1}}}, TransferID: "0xaa:1"}
	if err := s.Apply(ctx, c); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	seen, _ := s.TransferSeen(ctx, "0xaa:1")
	if !seen {
		t.Error("TransferSeen = false after commit")
	}
	c.Writes[0].Prev = []byte{1}
	if err := s.Apply(ctx, c); !errors.Is(err, domain.ErrDuplicateTransfer) {
		t.Errorf("replay = %v, want ErrDuplicateTransfer", err)
	}
}

func TestAccountStore_ListBySize(t *testing.T) {
	ctx := context.Background()
	s := NewAccountStore()
	s.Put(domain.PublicKey{2}, make([]byte, 89))
	s.Put(domain.PublicKey{1}, make([]byte, 89))
	s.Put(domain.PublicKey{3}, make([]byte, 45))

	got, err := s.ListBySize(ctx, 89)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Address != (domain.PublicKey{1}) {
		t.Errorf("ListBySize = %+v", got)
	}
}

func TestAuditStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	for _, ev := range []string{"a", "b", "c"} {
		if err := s.Log(ctx, ev, nil); err != nil {
			t.Fatal(err)
		}
	}
	got, _ := s.List(ctx, domain.ListOpts{Limit: 2})
	if len(got) != 2 || got[0].Event != "c" || got[1].Event != "b" {
		t.Errorf("List = %+v", got)
	}
	got, _ = s.List(ctx, domain.ListOpts{Offset: 5})
	if len(got) != 0 {
		t.Errorf("List past end = %+v", got)
	}
}
