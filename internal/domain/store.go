package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RawAccount is one record of the account arena: opaque bytes addressed by a
// derived public key.
type RawAccount struct {
	Address PublicKey
	Data    []byte
}

// AccountWrite replaces the record at Address with Data. Prev is the record
// content the write was computed from; nil means the record must not exist
// yet.
type AccountWrite struct {
	Address PublicKey
	Prev    []byte
	Data    []byte
}

// Commit is a set of writes applied as one unit. A non-empty TransferID is
// recorded in the same unit and rejected if already present.
type Commit struct {
	Writes     []AccountWrite
	TransferID string
}

// AccountStore is the arena of ledger records indexed by address.
type AccountStore interface {
	// Get returns the record bytes or ErrNotFound.
	Get(ctx context.Context, addr PublicKey) ([]byte, error)
	// ListBySize returns every record whose data length equals size.
	ListBySize(ctx context.Context, size int) ([]RawAccount, error)
	// Apply commits every write or none. It returns ErrConflict when any
	// Prev no longer matches and ErrDuplicateTransfer when the transfer id
	// was already recorded.
	Apply(ctx context.Context, c Commit) error
	// TransferSeen reports whether a transfer id has been committed.
	TransferSeen(ctx context.Context, transferID string) (bool, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
