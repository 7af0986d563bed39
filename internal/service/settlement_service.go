package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/aggregate"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/notify"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/settlement"
)

// SettlementService is the single writer entrypoint for deliveries.
type SettlementService struct {
	deps   Deps
	lock   LockConfig
	local  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(deps Deps, lock LockConfig) (*SettlementService, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &SettlementService{
		deps:   deps,
		lock:   lock,
		local:  newKeyedMutex(),
		logger: deps.logger("settlement_service"),
		now:    time.Now,
	}, nil
}

// Settle applies one delivery under the market lock and fans the outcome
// out to metrics, cache, bus, audit and notifications. The returned error
// is the engine's, or a lock error when the market could not be locked.
func (s *SettlementService) Settle(ctx context.Context, d settlement.Delivery) (settlement.Receipt, error) {
	start := s.now()

	var (
		receipt settlement.Receipt
		setErr  error
	)
	err := withMarketLock(ctx, s.local, s.deps.Locks, s.lock, marketLockKey(d.Accounts.Market), func() error {
		receipt, setErr = s.deps.Engine.Settle(ctx, d)
		return nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: market lock unavailable",
			slog.String("market", d.Accounts.Market.String()),
			slog.String("transfer_id", d.TransferID),
			slog.String("error", err.Error()),
		)
		return settlement.Receipt{}, err
	}

	s.record(ctx, receipt, setErr, s.now().Sub(start))
	return receipt, setErr
}

func (s *SettlementService) record(ctx context.Context, r settlement.Receipt, err error, elapsed time.Duration) {
	kind := settlement.Kind(err)
	state := r.State.String()
	s.deps.Metrics.ObserveSettlement(state, kind, r.Amount, elapsed)

	attrs := []any{
		slog.String("receipt_id", r.ID),
		slog.String("market", r.Accounts.Market.String()),
		slog.Uint64("market_id", r.Message.MarketID),
		slog.Uint64("amount", r.Amount),
		slog.String("transfer_id", r.TransferID),
		slog.String("state", state),
	}

	event := notify.EventApplied
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "settlement_service: applied",
			append(attrs,
				slog.Int("outcome", int(r.Message.Outcome)),
				slog.String("user", r.Message.Sender.Hex()),
				slog.Uint64("vault_balance", r.After.VaultBalance),
			)...)
		s.refreshCache(ctx, r)
	case settlement.IsFatal(err):
		event = notify.EventFatal
		s.logger.ErrorContext(ctx, "settlement_service: fatal derivation failure",
			append(attrs, slog.String("error", err.Error()))...)
	case settlement.IsRetryable(err):
		// Nothing was committed and the transfer id is unused; the
		// redelivery produces the event.
		s.logger.WarnContext(ctx, "settlement_service: conflict, delivery will be retried",
			append(attrs, slog.String("error", err.Error()))...)
		return
	case settlement.IsRejection(err):
		event = notify.EventRejected
		s.logger.WarnContext(ctx, "settlement_service: rejected",
			append(attrs, slog.String("kind", kind), slog.String("error", err.Error()))...)
	default:
		// Infrastructure failure: nothing to publish, the caller retries.
		s.logger.ErrorContext(ctx, "settlement_service: settle failed",
			append(attrs, slog.String("error", err.Error()))...)
		return
	}

	ev := domain.SettlementEvent{
		ReceiptID:  r.ID,
		State:      state,
		Kind:       kind,
		Market:     r.Accounts.Market,
		MarketID:   r.Message.MarketID,
		Outcome:    r.Message.Outcome,
		Amount:     r.Amount,
		TransferID: r.TransferID,
		At:         r.At,
	}
	if r.Message.Sender != ([20]byte{}) {
		ev.User = r.Message.Sender.Hex()
	}
	s.publish(ctx, ev)
	s.audit(ctx, "settlement."+state, ev, err)
	s.notify(ctx, event, ev, err)
}

func (s *SettlementService) refreshCache(ctx context.Context, r settlement.Receipt) {
	if s.deps.Cache == nil {
		return
	}
	view := aggregate.View(r.Accounts.Market, r.After, r.At)
	if err := s.deps.Cache.Set(ctx, view); err != nil {
		// The next read falls through to the store and back-fills.
		s.logger.WarnContext(ctx, "settlement_service: cache set failed",
			slog.String("market", r.Accounts.Market.String()),
			slog.String("error", err.Error()),
		)
		_ = s.deps.Cache.Invalidate(ctx, r.Accounts.Market)
	}
}

func (s *SettlementService) publish(ctx context.Context, ev domain.SettlementEvent) {
	if s.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "settlement_service: marshal event", slog.String("error", err.Error()))
		return
	}
	if err := s.deps.Bus.Publish(ctx, domain.SettlementChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: publish failed", slog.String("error", err.Error()))
	}
	if err := s.deps.Bus.StreamAppend(ctx, domain.SettlementStream, payload); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: stream append failed", slog.String("error", err.Error()))
	}
}

func (s *SettlementService) audit(ctx context.Context, event string, ev domain.SettlementEvent, settleErr error) {
	if s.deps.Audit == nil {
		return
	}
	detail := map[string]any{
		"receipt_id":  ev.ReceiptID,
		"market":      ev.Market.String(),
		"market_id":   ev.MarketID,
		"outcome":     ev.Outcome,
		"amount":      ev.Amount,
		"transfer_id": ev.TransferID,
		"user":        ev.User,
	}
	if settleErr != nil {
		detail["kind"] = ev.Kind
		detail["error"] = settleErr.Error()
	}
	if err := s.deps.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: audit log failed", slog.String("error", err.Error()))
	}
}

func (s *SettlementService) notify(ctx context.Context, event string, ev domain.SettlementEvent, settleErr error) {
	if !s.deps.Notifier.Enabled() || !s.deps.Notifier.Allows(event) {
		return
	}
	note := notify.Notification{Event: event, Payload: ev}
	switch event {
	case notify.EventApplied:
		note.Title = fmt.Sprintf("Bet settled on market %d", ev.MarketID)
		note.Text = fmt.Sprintf("%s staked %d on outcome %d (transfer %s)", ev.User, ev.Amount, ev.Outcome, ev.TransferID)
	default:
		note.Title = fmt.Sprintf("Delivery %s on market %s", ev.State, ev.Market)
		note.Text = settleErr.Error()
	}
	// Notifications must not hold up the relay.
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		_ = s.deps.Notifier.Notify(nctx, note)
	}()
}

// IsLockError reports whether err came from failing to take the market lock.
func IsLockError(err error) bool {
	return errors.Is(err, domain.ErrLockHeld)
}
