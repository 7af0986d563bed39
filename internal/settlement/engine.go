// Package settlement applies verified cross-chain bet deliveries to market
// and position records.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"github.com/google/uuid"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/account"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/compose"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/pda"
)

// Accounts are the record addresses a relay supplies with a delivery.
type Accounts struct {
	Market       domain.PublicKey `json:"market"`
	Vault        domain.PublicKey `json:"vault"`
	UserPosition domain.PublicKey `json:"user_position"`
}

// Delivery is one inbound message as handed over by a relay.
type Delivery struct {
	Payload    []byte
	Accounts   Accounts
	Amount     uint64
	TransferID string
}

// Receipt describes the outcome of Settle.
type Receipt struct {
	ID              string
	State           State
	Message         compose.Message
	Accounts        Accounts
	Amount          uint64
	TransferID      string
	Before          account.Market
	After           account.Market
	Position        account.Position
	PositionCreated bool
	At              time.Time
}

// Engine is the only writer of market and position records.
type Engine struct {
	programID domain.PublicKey
	store     domain.AccountStore
	now       func() time.Time
}

// NewEngine binds an engine to a program id and an account arena.
func NewEngine(programID domain.PublicKey, store domain.AccountStore) *Engine {
	return &Engine{programID: programID, store: store, now: time.Now}
}

// ProgramID returns the program id used for address derivation.
func (e *Engine) ProgramID() domain.PublicKey {
	return e.programID
}

// ExpectedAccounts derives the addresses a delivery for msg must carry.
func (e *Engine) ExpectedAccounts(market domain.PublicKey, msg compose.Message) (Accounts, error) {
	vault, _, err := pda.DeriveVault(e.programID, market)
	if err != nil {
		return Accounts{}, fmt.Errorf("settlement: derive vault: %w", err)
	}
	pos, _, err := pda.DeriveUserPosition(e.programID, msg.MarketID, msg.SenderBytes())
	if err != nil {
		return Accounts{}, fmt.Errorf("settlement: derive position: %w", err)
	}
	return Accounts{Market: market, Vault: vault, UserPosition: pos}, nil
}

// Settle runs one delivery through Received, Validated and Applied. On any
// error nothing is written. The receipt then reports Rejected for rejection
// kinds and otherwise the last state reached.
func (e *Engine) Settle(ctx context.Context, d Delivery) (Receipt, error) {
	r := Receipt{
		ID:         uuid.NewString(),
		State:      Received,
		Accounts:   d.Accounts,
		Amount:     d.Amount,
		TransferID: d.TransferID,
		At:         e.now().UTC(),
	}

	fail := func(err error) (Receipt, error) {
		if IsRejection(err) {
			r.State = Rejected
		}
		return r, err
	}

	msg, err := compose.Decode(d.Payload)
	if err != nil {
		return fail(fmt.Errorf("settlement: decode payload: %w", err))
	}
	r.Message = msg

	marketRaw, market, err := e.loadMarket(ctx, d.Accounts.Market)
	if err != nil {
		return fail(err)
	}
	if market.MarketID != msg.MarketID {
		return fail(fmt.Errorf("settlement: record holds market %d, payload names %d: %w",
			market.MarketID, msg.MarketID, domain.ErrAccountMismatch))
	}

	vault, bump, err := pda.DeriveVault(e.programID, d.Accounts.Market)
	if err != nil {
		return fail(fmt.Errorf("settlement: derive vault: %w", err))
	}
	if vault != d.Accounts.Vault {
		return fail(fmt.Errorf("settlement: supplied vault %s, derived %s: %w", d.Accounts.Vault, vault, domain.ErrAccountMismatch))
	}
	if vault != market.Vault || bump != market.VaultBump {
		return fail(fmt.Errorf("settlement: record vault %s/%d, derived %s/%d: %w",
			market.Vault, market.VaultBump, vault, bump, domain.ErrAccountMismatch))
	}

	posAddr, _, err := pda.DeriveUserPosition(e.programID, msg.MarketID, msg.SenderBytes())
	if err != nil {
		return fail(fmt.Errorf("settlement: derive position: %w", err))
	}
	if posAddr != d.Accounts.UserPosition {
		return fail(fmt.Errorf("settlement: supplied position %s, derived %s: %w",
			d.Accounts.UserPosition, posAddr, domain.ErrAccountMismatch))
	}

	if msg.Outcome > compose.OutcomeYes {
		return fail(fmt.Errorf("settlement: outcome %d: %w", msg.Outcome, domain.ErrInvalidOutcome))
	}
	if d.Amount == 0 {
		return fail(fmt.Errorf("settlement: %w", domain.ErrZeroAmount))
	}
	r.State = Validated

	if d.TransferID != "" {
		seen, err := e.store.TransferSeen(ctx, d.TransferID)
		if err != nil {
			return fail(fmt.Errorf("settlement: check transfer %s: %w", d.TransferID, err))
		}
		if seen {
			return fail(fmt.Errorf("settlement: transfer %s: %w", d.TransferID, domain.ErrDuplicateTransfer))
		}
	}

	posRaw, pos, created, err := e.loadPosition(ctx, posAddr, msg)
	if err != nil {
		return fail(err)
	}

	after, err := credit(market, msg.Outcome, d.Amount)
	if err != nil {
		return fail(err)
	}
	sum, carry := bits.Add64(pos.Amount, d.Amount, 0)
	if carry != 0 {
		return fail(fmt.Errorf("settlement: position amount: %w", domain.ErrOverflow))
	}
	pos.Amount = sum
	pos.Outcome = msg.Outcome

	marketData, err := account.EncodeMarket(after)
	if err != nil {
		return fail(fmt.Errorf("settlement: encode market: %w", err))
	}
	err = e.store.Apply(ctx, domain.Commit{
		Writes: []domain.AccountWrite{
			{Address: d.Accounts.Market, Prev: marketRaw, Data: marketData},
			{Address: posAddr, Prev: posRaw, Data: account.EncodePosition(pos)},
		},
		TransferID: d.TransferID,
	})
	if err != nil {
		return fail(fmt.Errorf("settlement: commit: %w", err))
	}

	r.State = Applied
	r.Before = market
	r.After = after
	r.Position = pos
	r.PositionCreated = created
	return r, nil
}

// credit returns a copy of m with amount added to outcome and the vault.
func credit(m account.Market, outcome uint8, amount uint64) (account.Market, error) {
	after := m
	total := &after.Outcomes[outcome]
	total.AddUint64(total, amount)
	if !account.FitsU128(total) {
		return m, fmt.Errorf("settlement: outcome %d total: %w", outcome, domain.ErrOverflow)
	}
	bal, carry := bits.Add64(after.VaultBalance, amount, 0)
	if carry != 0 {
		return m, fmt.Errorf("settlement: vault balance: %w", domain.ErrOverflow)
	}
	after.VaultBalance = bal
	return after, nil
}

func (e *Engine) loadMarket(ctx context.Context, addr domain.PublicKey) ([]byte, account.Market, error) {
	raw, err := e.store.Get(ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, account.Market{}, fmt.Errorf("settlement: no market record at %s: %w", addr, domain.ErrAccountMismatch)
	}
	if err != nil {
		return nil, account.Market{}, fmt.Errorf("settlement: load market %s: %w", addr, err)
	}
	m, err := account.DecodeMarket(raw)
	if err != nil {
		return nil, account.Market{}, fmt.Errorf("settlement: market record at %s: %v: %w", addr, err, domain.ErrAccountMismatch)
	}
	return raw, m, nil
}

func (e *Engine) loadPosition(ctx context.Context, addr domain.PublicKey, msg compose.Message) ([]byte, account.Position, bool, error) {
	raw, err := e.store.Get(ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, account.Position{MarketID: msg.MarketID, User: msg.SenderBytes()}, true, nil
	}
	if err != nil {
		return nil, account.Position{}, false, fmt.Errorf("settlement: load position %s: %w", addr, err)
	}
	p, err := account.DecodePosition(raw)
	if err != nil {
		return nil, account.Position{}, false, fmt.Errorf("settlement: position record at %s: %v: %w", addr, err, domain.ErrAccountMismatch)
	}
	if p.MarketID != msg.MarketID || p.User != msg.SenderBytes() {
		return nil, account.Position{}, false, fmt.Errorf("settlement: position record at %s belongs elsewhere: %w", addr, domain.ErrAccountMismatch)
	}
	return raw, p, false, nil
}

// InitializeMarket creates a zeroed market record at addr with its vault
// derived from the program id.
func (e *Engine) InitializeMarket(ctx context.Context, addr domain.PublicKey, marketID uint64) (account.Market, error) {
	if addr.IsZero() {
		return account.Market{}, fmt.Errorf("settlement: market address must not be zero: %w", domain.ErrAccountMismatch)
	}
	if _, err := e.store.Get(ctx, addr); err == nil {
		return account.Market{}, fmt.Errorf("settlement: market %s: %w", addr, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return account.Market{}, fmt.Errorf("settlement: load market %s: %w", addr, err)
	}

	vault, bump, err := pda.DeriveVault(e.programID, addr)
	if err != nil {
		return account.Market{}, fmt.Errorf("settlement: derive vault: %w", err)
	}
	m := account.NewMarket(marketID, vault, bump)
	data, err := account.EncodeMarket(m)
	if err != nil {
		return account.Market{}, fmt.Errorf("settlement: encode market: %w", err)
	}
	err = e.store.Apply(ctx, domain.Commit{Writes: []domain.AccountWrite{{Address: addr, Data: data}}})
	if errors.Is(err, domain.ErrConflict) {
		return account.Market{}, fmt.Errorf("settlement: market %s: %w", addr, domain.ErrAlreadyExists)
	}
	if err != nil {
		return account.Market{}, fmt.Errorf("settlement: commit market: %w", err)
	}
	return m, nil
}
