package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market view lookups for the read API.
type MarketCache interface {
	Set(ctx context.Context, view MarketView) error
	Get(ctx context.Context, addr PublicKey) (MarketView, error)
	GetByMarketID(ctx context.Context, marketID uint64) (MarketView, error)
	Invalidate(ctx context.Context, addr PublicKey) error
}

// LockManager provides distributed locking.
type LockManager interface {
	// Acquire fails with ErrLockHeld when the lock is taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// AcquireWait retries Acquire for up to wait.
	AcquireWait(ctx context.Context, key string, ttl, wait time.Duration) (unlock func(), err error)
}

// RateLimiter counts requests per key in a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
