package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// newTestClient connects to TEST_POSTGRES_DSN and skips when it is unset or
// unreachable.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := New(ctx, ClientConfig{DSN: dsn})
	if err != nil {
		t.Skipf("test postgres not available: %v", err)
	}
	if err := c.RunMigrations(ctx); err != nil {
		c.Close()
		t.Fatalf("RunMigrations: %v", err)
	}
	t.Cleanup(func() {
		_, _ = c.Pool().Exec(context.Background(), `TRUNCATE accounts, processed_transfers, audit_log`)
		c.Close()
	})
	return c
}

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "xbet", User: "u", Password: "p"})
	want := "postgres://u:p@db:5432/xbet?sslmode=disable"
	if got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}); got != "postgres://x" {
		t.Errorf("explicit DSN = %q", got)
	}
}

func TestAccountStore_Integration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	s := NewAccountStore(c.Pool())
	addr := domain.PublicKey{7}

	if _, err := s.Get(ctx, addr); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing = %v, want ErrNotFound", err)
	}

	create := domain.Commit{Writes: []domain.AccountWrite{{Address: addr, Data: make([]byte, 89)}}, TransferID: "0x01:0"}
	if err := s.Apply(ctx, create); err != nil {
		t.Fatalf("Apply create: %v", err)
	}
	if err := s.Apply(ctx, create); !errors.Is(err, domain.ErrDuplicateTransfer) {
		t.Errorf("replay = %v, want ErrDuplicateTransfer", err)
	}

	stale := domain.Commit{Writes: []domain.AccountWrite{{Address: addr, Prev: []byte{1}, Data: []byte{2}}}, TransferID: "0x02:0"}
	if err := s.Apply(ctx, stale); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("stale write = %v, want ErrConflict", err)
	}
	if seen, _ := s.TransferSeen(ctx, "0x02:0"); seen {
		t.Error("transfer recorded by a rolled back commit")
	}

	list, err := s.ListBySize(ctx, 89)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Address != addr {
		t.Errorf("ListBySize = %+v", list)
	}
}

func TestAuditStore_Integration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	s := NewAuditStore(c.Pool())

	if err := s.Log(ctx, "settlement.applied", map[string]any{"market_id": 42}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	entries, err := s.List(ctx, domain.ListOpts{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Event != "settlement.applied" {
		t.Errorf("List = %+v", entries)
	}
}
