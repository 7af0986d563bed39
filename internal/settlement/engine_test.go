package settlement

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/account"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/compose"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/store/memory"
)

var (
	testProgram = domain.MustParsePublicKey("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkgSgK6z7uJc")
	testMarket  = domain.PublicKey{0xaa, 0x01}
	testUser    = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func newTestEngine(t *testing.T) (*Engine, *memory.AccountStore) {
	t.Helper()
	store := memory.NewAccountStore()
	e := NewEngine(testProgram, store)
	if _, err := e.InitializeMarket(context.Background(), testMarket, 42); err != nil {
		t.Fatalf("InitializeMarket: %v", err)
	}
	return e, store
}

func delivery(t *testing.T, e *Engine, msg compose.Message, amount uint64, transferID string) Delivery {
	t.Helper()
	payload, err := compose.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	accts, err := e.ExpectedAccounts(testMarket, msg)
	if err != nil {
		t.Fatalf("ExpectedAccounts: %v", err)
	}
	return Delivery{Payload: payload, Accounts: accts, Amount: amount, TransferID: transferID}
}

func loadMarket(t *testing.T, store *memory.AccountStore) account.Market {
	t.Helper()
	raw, err := store.Get(context.Background(), testMarket)
	if err != nil {
		t.Fatalf("Get market: %v", err)
	}
	m, err := account.DecodeMarket(raw)
	if err != nil {
		t.Fatalf("DecodeMarket: %v", err)
	}
	return m
}

func TestSettle_Market42Scenario(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	r, err := e.Settle(ctx, delivery(t, e, compose.Message{Sender: testUser, MarketID: 42, Outcome: 1}, 1000, ""))
	if err != nil {
		t.Fatalf("first Settle: %v", err)
	}
	if r.State != Applied || !r.PositionCreated {
		t.Errorf("first receipt state=%s created=%v", r.State, r.PositionCreated)
	}

	r, err = e.Settle(ctx, delivery(t, e, compose.Message{Sender: testUser, MarketID: 42, Outcome: 0}, 500, ""))
	if err != nil {
		t.Fatalf("second Settle: %v", err)
	}
	if r.PositionCreated {
		t.Error("second settlement must update, not create")
	}

	m := loadMarket(t, store)
	if m.Outcomes[0].Uint64() != 500 || m.Outcomes[1].Uint64() != 1000 {
		t.Errorf("totals = (%s, %s), want (500, 1000)", m.Outcomes[0].Dec(), m.Outcomes[1].Dec())
	}
	if m.VaultBalance != 1500 {
		t.Errorf("vault balance = %d, want 1500", m.VaultBalance)
	}
	if !m.Balanced() {
		t.Error("market not balanced")
	}

	raw, err := store.Get(ctx, r.Accounts.UserPosition)
	if err != nil {
		t.Fatalf("Get position: %v", err)
	}
	pos, err := account.DecodePosition(raw)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Amount != 1500 || pos.Outcome != 0 || pos.MarketID != 42 {
		t.Errorf("position = %+v, want amount 1500 outcome 0", pos)
	}
	if r.Position != pos {
		t.Errorf("receipt position = %+v, stored %+v", r.Position, pos)
	}
}

func TestSettle_Monotone(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	rng := rand.New(rand.NewSource(7))

	prev := loadMarket(t, store)
	for i := 0; i < 50; i++ {
		var sender common.Address
		sender[19] = byte(rng.Intn(4))
		msg := compose.Message{Sender: sender, MarketID: 42, Outcome: uint8(rng.Intn(2))}
		amount := uint64(rng.Intn(10_000) + 1)

		if _, err := e.Settle(ctx, delivery(t, e, msg, amount, "")); err != nil {
			t.Fatalf("Settle %d: %v", i, err)
		}
		cur := loadMarket(t, store)
		for o := 0; o < 2; o++ {
			if cur.Outcomes[o].Lt(&prev.Outcomes[o]) {
				t.Fatalf("outcome %d decreased at step %d", o, i)
			}
		}
		if cur.VaultBalance <= prev.VaultBalance {
			t.Fatalf("balance did not grow at step %d", i)
		}
		if !cur.Balanced() {
			t.Fatalf("balance invariant broken at step %d", i)
		}
		prev = cur
	}
}

func TestSettle_Rejections(t *testing.T) {
	good := compose.Message{Sender: testUser, MarketID: 42, Outcome: 1}

	tests := []struct {
		name  string
		build func(t *testing.T, e *Engine, store *memory.AccountStore) Delivery
		want  error
	}{
		{"95 byte payload", func(t *testing.T, e *Engine, _ *memory.AccountStore) Delivery {
			d := delivery(t, e, good, 10, "")
			d.Payload = d.Payload[:95]
			return d
		}, domain.ErrMalformedPayload},
		{"97 byte payload", func(t *testing.T, e *Engine, _ *memory.AccountStore) Delivery {
			d := delivery(t, e, good, 10, "")
			d.Payload = append(d.Payload, 0)
			return d
		}, domain.ErrMalformedPayload},
		{"outcome 2", func(t *testing.T, e *Engine, _ *memory.AccountStore) Delivery {
			return delivery(t, e, compose.Message{Sender: testUser, MarketID: 42, Outcome: 2}, 10, "")
		}, domain.ErrInvalidOutcome},
		{"zero amount", func(t *testing.T, e *Engine, _ *memory.AccountStore) Delivery {
			return delivery(t, e, good, 0, "")
		}, domain.ErrZeroAmount},
		{"market id mismatch", func(t *testing.T, e *Engine, _ *memory.AccountStore) Delivery {
			return delivery(t, e, compose.Message{Sender: testUser, MarketID: 43, Outcome: 1}, 10, "")
		}, domain.ErrAccountMismatch},
		{"missing market", func(t *testing.T, e *Engine, _ *memory.AccountStore) Delivery {
			d := delivery(t, e, good, 10, "")
			d.Accounts.Market = domain.PublicKey{0xbb}
			return d
		}, domain.ErrAccountMismatch},
		{"wrong vault", func(t *testing.T, e *Engine, _ *memory.AccountStore) Delivery {
			d := delivery(t, e, good, 10, "")
			d.Accounts.Vault[0] ^= 0xff
			return d
		}, domain.ErrAccountMismatch},
		{"wrong position", func(t *testing.T, e *Engine, _ *memory.AccountStore) Delivery {
			d := delivery(t, e, good, 10, "")
			d.Accounts.UserPosition[0] ^= 0xff
			return d
		}, domain.ErrAccountMismatch},
		{"market address holds a position", func(t *testing.T, e *Engine, store *memory.AccountStore) Delivery {
			d := delivery(t, e, good, 10, "")
			fake := domain.PublicKey{0xcc}
			store.Put(fake, account.EncodePosition(account.Position{MarketID: 42}))
			d.Accounts.Market = fake
			return d
		}, domain.ErrAccountMismatch},
		{"record vault differs", func(t *testing.T, e *Engine, store *memory.AccountStore) Delivery {
			d := delivery(t, e, good, 10, "")
			m := loadMarket(t, store)
			m.Vault[0] ^= 0xff
			data, err := account.EncodeMarket(m)
			if err != nil {
				t.Fatal(err)
			}
			store.Put(testMarket, data)
			return d
		}, domain.ErrAccountMismatch},
		{"position belongs to another market", func(t *testing.T, e *Engine, store *memory.AccountStore) Delivery {
			d := delivery(t, e, good, 10, "")
			store.Put(d.Accounts.UserPosition, account.EncodePosition(account.Position{
				MarketID: 43, User: [20]byte(testUser), Amount: 1, Outcome: 1,
			}))
			return d
		}, domain.ErrAccountMismatch},
		{"position belongs to another user", func(t *testing.T, e *Engine, store *memory.AccountStore) Delivery {
			d := delivery(t, e, good, 10, "")
			store.Put(d.Accounts.UserPosition, account.EncodePosition(account.Position{
				MarketID: 42, User: [20]byte{0x22}, Amount: 1, Outcome: 1,
			}))
			return d
		}, domain.ErrAccountMismatch},
		{"position amount overflow", func(t *testing.T, e *Engine, store *memory.AccountStore) Delivery {
			d := delivery(t, e, good, 10, "")
			store.Put(d.Accounts.UserPosition, account.EncodePosition(account.Position{
				MarketID: 42, User: [20]byte(testUser), Amount: ^uint64(0) - 5, Outcome: 1,
			}))
			return d
		}, domain.ErrOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := newTestEngine(t)
			d := tt.build(t, e, store)
			before, _ := store.Get(context.Background(), testMarket)

			r, err := e.Settle(context.Background(), d)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Settle error = %v, want %v", err, tt.want)
			}
			if r.State != Rejected {
				t.Errorf("state = %s, want rejected", r.State)
			}
			if !IsRejection(err) {
				t.Errorf("IsRejection(%v) = false", err)
			}
			after, _ := store.Get(context.Background(), testMarket)
			if string(before) != string(after) {
				t.Error("rejected delivery modified the market record")
			}
		})
	}
}

func TestSettle_OutcomeOverflow(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	m := loadMarket(t, store)
	maxU128 := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	maxU128.SubUint64(maxU128, 1)
	m.Outcomes[0] = *maxU128
	data, err := account.EncodeMarket(m)
	if err != nil {
		t.Fatal(err)
	}
	store.Put(testMarket, data)

	_, err = e.Settle(ctx, delivery(t, e, compose.Message{Sender: testUser, MarketID: 42, Outcome: 0}, 1, ""))
	if !errors.Is(err, domain.ErrOverflow) {
		t.Fatalf("Settle error = %v, want ErrOverflow", err)
	}
	if got := loadMarket(t, store); got != m {
		t.Error("overflowing settlement modified the market")
	}

	// The other outcome still has room.
	if _, err := e.Settle(ctx, delivery(t, e, compose.Message{Sender: testUser, MarketID: 42, Outcome: 1}, 1, "")); err != nil {
		t.Errorf("Settle on outcome 1: %v", err)
	}
}

func TestSettle_BalanceOverflow(t *testing.T) {
	e, store := newTestEngine(t)
	m := loadMarket(t, store)
	m.VaultBalance = ^uint64(0)
	data, _ := account.EncodeMarket(m)
	store.Put(testMarket, data)

	_, err := e.Settle(context.Background(), delivery(t, e, compose.Message{Sender: testUser, MarketID: 42, Outcome: 1}, 1, ""))
	if !errors.Is(err, domain.ErrOverflow) {
		t.Errorf("Settle error = %v, want ErrOverflow", err)
	}
}

func TestSettle_DuplicateTransfer(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)
	d := delivery(t, e, compose.Message{Sender: testUser, MarketID: 42, Outcome: 1}, 250, "0xabc:0")

	if _, err := e.Settle(ctx, d); err != nil {
		t.Fatalf("first Settle: %v", err)
	}
	r, err := e.Settle(ctx, d)
	if !errors.Is(err, domain.ErrDuplicateTransfer) {
		t.Fatalf("replay error = %v, want ErrDuplicateTransfer", err)
	}
	if r.State != Rejected || Kind(err) != "duplicate_transfer" {
		t.Errorf("replay state=%s kind=%s", r.State, Kind(err))
	}
	if m := loadMarket(t, store); m.VaultBalance != 250 {
		t.Errorf("balance = %d, want 250", m.VaultBalance)
	}

	// Deliveries without a transfer id are not deduplicated.
	d.TransferID = ""
	if _, err := e.Settle(ctx, d); err != nil {
		t.Errorf("Settle without id: %v", err)
	}
}

// racingStore mutates the market between the engine's read and its commit.
type racingStore struct {
	*memory.AccountStore
}

func (s racingStore) Apply(ctx context.Context, c domain.Commit) error {
	raw, err := s.AccountStore.Get(ctx, testMarket)
	if err == nil {
		m, _ := account.DecodeMarket(raw)
		m.VaultBalance += 1
		data, _ := account.EncodeMarket(m)
		s.AccountStore.Put(testMarket, data)
	}
	return s.AccountStore.Apply(ctx, c)
}

func TestSettle_ConcurrentWriteConflicts(t *testing.T) {
	ctx := context.Background()
	inner, _ := newTestEngine(t)
	store := inner.store.(*memory.AccountStore)
	e := NewEngine(testProgram, racingStore{store})

	r, err := e.Settle(ctx, delivery(t, e, compose.Message{Sender: testUser, MarketID: 42, Outcome: 1}, 5, "0x1:1"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Settle error = %v, want ErrConflict", err)
	}
	if !IsRetryable(err) || IsRejection(err) {
		t.Error("conflict must be retryable, not a rejection")
	}
	if r.State == Applied || r.State == Rejected {
		t.Errorf("state = %s", r.State)
	}
	if seen, _ := store.TransferSeen(ctx, "0x1:1"); seen {
		t.Error("transfer id recorded despite conflict")
	}
}

func TestInitializeMarket(t *testing.T) {
	ctx := context.Background()
	e, store := newTestEngine(t)

	m := loadMarket(t, store)
	if m.MarketID != 42 || m.VaultBalance != 0 || !m.Outcomes[0].IsZero() || !m.Outcomes[1].IsZero() {
		t.Errorf("initialized market = %+v", m)
	}
	accts, err := e.ExpectedAccounts(testMarket, compose.Message{MarketID: 42})
	if err != nil {
		t.Fatal(err)
	}
	if m.Vault != accts.Vault {
		t.Errorf("vault = %s, want %s", m.Vault, accts.Vault)
	}

	if _, err := e.InitializeMarket(ctx, testMarket, 42); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("second InitializeMarket = %v, want ErrAlreadyExists", err)
	}
	if _, err := e.InitializeMarket(ctx, domain.PublicKey{}, 1); err == nil {
		t.Error("zero market address accepted")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err       error
		kind      string
		rejection bool
	}{
		{nil, "", false},
		{errors.New("boom"), "", false},
		{domain.ErrMalformedPayload, "malformed_payload", true},
		{domain.ErrOverflow, "overflow", true},
		{domain.ErrConflict, "conflict", false},
		{domain.ErrBumpExhausted, "", false},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.kind {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.kind)
		}
		if got := IsRejection(tt.err); got != tt.rejection {
			t.Errorf("IsRejection(%v) = %v, want %v", tt.err, got, tt.rejection)
		}
	}
	if !IsFatal(domain.ErrBumpExhausted) {
		t.Error("bump exhaustion must be fatal")
	}
}
