// Package service orchestrates settlement around the engine: per-market
// locking, cache refresh, event publication, audit and notifications. It
// also serves the read side of the API.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/metrics"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/notify"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/settlement"
)

// Deps are the collaborators of the services. Engine and Accounts are
// required; the rest may be nil and are skipped when absent.
type Deps struct {
	Engine   *settlement.Engine
	Accounts domain.AccountStore
	Cache    domain.MarketCache
	Bus      domain.SignalBus
	Locks    domain.LockManager
	Audit    domain.AuditStore
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// LockConfig tunes the distributed per-market lock.
type LockConfig struct {
	TTL  time.Duration
	Wait time.Duration
}

// DefaultLockConfig holds a lock for 10s and waits up to 5s for it.
func DefaultLockConfig() LockConfig {
	return LockConfig{TTL: 10 * time.Second, Wait: 5 * time.Second}
}

func (d Deps) validate() error {
	if d.Engine == nil {
		return fmt.Errorf("service: engine is required")
	}
	if d.Accounts == nil {
		return fmt.Errorf("service: account store is required")
	}
	return nil
}

func (d Deps) logger(component string) *slog.Logger {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", component))
}

// withMarketLock runs fn while holding the in-process lock for key and, when
// configured, the distributed lock of the same name.
func withMarketLock(ctx context.Context, local *keyedMutex, locks domain.LockManager, cfg LockConfig, key string, fn func() error) error {
	unlockLocal := local.Lock(key)
	defer unlockLocal()

	if locks != nil {
		unlock, err := locks.AcquireWait(ctx, key, cfg.TTL, cfg.Wait)
		if err != nil {
			return fmt.Errorf("service: lock %s: %w", key, err)
		}
		defer unlock()
	}
	return fn()
}

func marketLockKey(addr domain.PublicKey) string {
	return "market:" + addr.String()
}
