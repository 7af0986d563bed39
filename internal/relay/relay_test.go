package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/compose"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/crypto"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/service"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/settlement"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/store/memory"
)

const (
	devKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

var (
	testProgram = domain.MustParsePublicKey("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkgSgK6z7uJc")
	testMarket  = domain.PublicKey{0xaa, 0x01}
	testUser    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testAdapter = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	settle  *service.SettlementService
	markets *service.MarketService
	vault   domain.PublicKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.NewAccountStore()
	deps := service.Deps{
		Engine:   settlement.NewEngine(testProgram, store),
		Accounts: store,
		Logger:   discardLogger(),
	}
	settle, err := service.NewSettlementService(deps, service.DefaultLockConfig())
	if err != nil {
		t.Fatal(err)
	}
	markets, err := service.NewMarketService(deps, service.DefaultLockConfig())
	if err != nil {
		t.Fatal(err)
	}
	view, err := markets.InitializeMarket(context.Background(), testMarket, 42)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{settle: settle, markets: markets, vault: view.Vault}
}

func (h *harness) envelope(t *testing.T, outcome uint8, amount uint64, transferID string) Delivery {
	t.Helper()
	payload, err := compose.Encode(compose.Message{Sender: testUser, MarketID: 42, Outcome: outcome})
	if err != nil {
		t.Fatal(err)
	}
	accts, err := h.markets.ResolveAccounts(context.Background(), 42, testUser)
	if err != nil {
		t.Fatal(err)
	}
	return NewDelivery(payload, amount, accts, transferID)
}

func (h *harness) balance(t *testing.T) uint64 {
	t.Helper()
	v, err := h.markets.GetMarket(context.Background(), testMarket)
	if err != nil {
		t.Fatal(err)
	}
	return v.VaultBalance
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Disposition
	}{
		{nil, Ack},
		{fmt.Errorf("x: %w", domain.ErrZeroAmount), Ack},
		{fmt.Errorf("x: %w", domain.ErrDuplicateTransfer), Ack},
		{fmt.Errorf("x: %w", domain.ErrMalformedPayload), Ack},
		{fmt.Errorf("x: %w", domain.ErrUnauthorized), Term},
		{fmt.Errorf("x: %w", domain.ErrBumpExhausted), Term},
		{fmt.Errorf("x: %w", domain.ErrConflict), Nak},
		{fmt.Errorf("x: %w", domain.ErrLockHeld), Nak},
		{errors.New("connection reset"), Nak},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestDelivery_JSONAndSignature(t *testing.T) {
	h := newHarness(t)
	d := h.envelope(t, 1, 1000, "0xabc:0")

	att, err := crypto.NewAttestor(devKey)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Sign(att); err != nil {
		t.Fatal(err)
	}

	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeDelivery(raw)
	if err != nil {
		t.Fatalf("DecodeDelivery: %v", err)
	}
	if back != d {
		t.Errorf("decoded %+v, want %+v", back, d)
	}

	v, _ := crypto.NewVerifier([]string{devAddress})
	if _, err := back.Verify(v); err != nil {
		t.Errorf("Verify: %v", err)
	}
	back.Amount++
	if _, err := back.Verify(v); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("tampered amount: err = %v", err)
	}

	if _, err := DecodeDelivery([]byte(`{"payload":"0x","amount":1,"extra":true}`)); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Errorf("unknown field: err = %v", err)
	}
	if _, err := (Delivery{Payload: "zz"}).Settlement(); !errors.Is(err, domain.ErrMalformedPayload) {
		t.Errorf("bad hex: err = %v", err)
	}
}

func TestProcessor_HandleMessage(t *testing.T) {
	h := newHarness(t)
	v, _ := crypto.NewVerifier([]string{devAddress})
	att, _ := crypto.NewAttestor(devKey)
	p := NewProcessor(h.settle, v, nil, discardLogger())
	ctx := context.Background()

	signed := h.envelope(t, 1, 1000, "tx:1")
	if err := signed.Sign(att); err != nil {
		t.Fatal(err)
	}
	signedRaw, _ := json.Marshal(signed)
	unsignedRaw, _ := json.Marshal(h.envelope(t, 1, 1000, "tx:2"))

	tests := []struct {
		name    string
		data    []byte
		want    Disposition
		balance uint64
	}{
		{"garbage", []byte("{"), Ack, 0},
		{"unsigned", unsignedRaw, Term, 0},
		{"signed", signedRaw, Ack, 1000},
		{"replayed", signedRaw, Ack, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.HandleMessage(ctx, "test", tt.data); got != tt.want {
				t.Errorf("disposition = %s, want %s", got, tt.want)
			}
			if got := h.balance(t); got != tt.balance {
				t.Errorf("balance = %d, want %d", got, tt.balance)
			}
		})
	}
}

type flakySettler struct {
	next  Settler
	fails int
	calls int
}

func (f *flakySettler) Settle(ctx context.Context, d settlement.Delivery) (settlement.Receipt, error) {
	f.calls++
	if f.fails > 0 {
		f.fails--
		return settlement.Receipt{}, fmt.Errorf("flaky: %w", domain.ErrConflict)
	}
	return f.next.Settle(ctx, d)
}

type fakeMsg struct {
	data []byte
	got  string
}

func (m *fakeMsg) Data() []byte                     { return m.data }
func (m *fakeMsg) Ack() error                       { m.got = "ack"; return nil }
func (m *fakeMsg) NakWithDelay(time.Duration) error { m.got = "nak"; return nil }
func (m *fakeMsg) Term() error                      { m.got = "term"; return nil }

func TestNATSSource_Dispatch(t *testing.T) {
	h := newHarness(t)
	flaky := &flakySettler{next: h.settle, fails: 1}
	src := NewNATSSource(nil, DefaultNATSConfig(), NewProcessor(flaky, nil, nil, discardLogger()), discardLogger())

	raw, _ := json.Marshal(h.envelope(t, 0, 250, "tx:9"))

	msg := &fakeMsg{data: raw}
	src.dispatch(context.Background(), msg)
	if msg.got != "nak" {
		t.Errorf("first attempt = %s, want nak", msg.got)
	}
	src.dispatch(context.Background(), msg)
	if msg.got != "ack" {
		t.Errorf("redelivery = %s, want ack", msg.got)
	}
	if h.balance(t) != 250 {
		t.Errorf("balance = %d", h.balance(t))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg = &fakeMsg{data: raw}
	src.dispatch(ctx, msg)
	if msg.got != "nak" || flaky.calls != 2 {
		t.Errorf("after shutdown got %s with %d calls", msg.got, flaky.calls)
	}
}

func TestDeliverySubject(t *testing.T) {
	if got := DeliverySubject(DefaultNATSConfig(), 42); got != "xbet.deliveries.42" {
		t.Errorf("subject = %s", got)
	}
}

type fakeChain struct {
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) { return c.head, nil }

func (c *fakeChain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.queries = append(c.queries, q)
	var out []types.Log
	for _, lg := range c.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func transferLog(t *testing.T, vault domain.PublicKey, outcome uint8, amount int64, block uint64, index uint) types.Log {
	t.Helper()
	payload, err := compose.Encode(compose.Message{Sender: testUser, MarketID: 42, Outcome: outcome})
	if err != nil {
		t.Fatal(err)
	}
	data, err := compose.PackTransferData(compose.Transfer{
		DstChainID: 40168,
		To:         vault,
		MarketID:   42,
		Outcome:    outcome,
		Amount:     big.NewInt(amount),
		ComposeMsg: payload,
	})
	if err != nil {
		t.Fatal(err)
	}
	return types.Log{
		Address:     testAdapter,
		Topics:      []common.Hash{compose.TransferTopic()},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
		Index:       index,
	}
}

func TestEVMWatcher_Poll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	chain := &fakeChain{
		head: 120,
		logs: []types.Log{
			transferLog(t, h.vault, 0, 500, 105, 0),
			transferLog(t, h.vault, 1, 1000, 101, 3),
			transferLog(t, domain.PublicKey{0x99}, 1, 7, 102, 0), // foreign vault
			transferLog(t, h.vault, 1, 5, 119, 0),                // not yet confirmed
		},
	}
	cp := &MemoryCheckpoint{}
	w := NewEVMWatcher(chain, h.markets, NewProcessor(h.settle, nil, nil, discardLogger()), cp,
		EVMConfig{Adapter: testAdapter, StartBlock: 100, Confirmations: 10, BatchSize: 4}, nil, discardLogger())

	cursor, err := w.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if cursor != 110 {
		t.Errorf("cursor = %d, want 110", cursor)
	}
	if len(chain.queries) != 3 {
		t.Errorf("queries = %d, want 3 batches of 4 blocks", len(chain.queries))
	}
	if got := h.balance(t); got != 1500 {
		t.Errorf("balance = %d, want 1500", got)
	}
	pos, err := h.markets.GetPosition(ctx, testMarket, testUser)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Outcome != 0 {
		t.Errorf("position outcome = %d, want last settled 0", pos.Outcome)
	}

	chain.head = 130
	if _, err := w.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if got := h.balance(t); got != 1505 {
		t.Errorf("balance after head advance = %d, want 1505", got)
	}
}

func TestEVMWatcher_RetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	chain := &fakeChain{
		head: 200,
		logs: []types.Log{
			transferLog(t, h.vault, 1, 100, 150, 0),
			transferLog(t, h.vault, 1, 200, 160, 0),
		},
	}
	cp := &MemoryCheckpoint{}
	_ = cp.Save(ctx, 140)
	// The first log settles, the second hits a conflict.
	w := NewEVMWatcher(chain, h.markets, NewProcessor(&failAfter{next: h.settle, ok: 1}, nil, nil, discardLogger()), cp,
		EVMConfig{Adapter: testAdapter}, nil, discardLogger())

	cursor, err := w.Poll(ctx)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if cursor != 159 {
		t.Errorf("cursor = %d, want 159", cursor)
	}
	if got := h.balance(t); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}

	w.proc = NewProcessor(h.settle, nil, nil, discardLogger())
	cursor, err = w.Poll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cursor != 200 || h.balance(t) != 300 {
		t.Errorf("cursor = %d balance = %d, want 200 and 300", cursor, h.balance(t))
	}
}

// failAfter lets ok calls through and then fails with a conflict.
type failAfter struct {
	next Settler
	ok   int
}

func (f *failAfter) Settle(ctx context.Context, d settlement.Delivery) (settlement.Receipt, error) {
	if f.ok == 0 {
		return settlement.Receipt{}, fmt.Errorf("failAfter: %w", domain.ErrConflict)
	}
	f.ok--
	return f.next.Settle(ctx, d)
}
