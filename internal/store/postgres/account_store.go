package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// AccountStore implements domain.AccountStore on the accounts and
// processed_transfers tables.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Get returns the record at addr.
func (s *AccountStore) Get(ctx context.Context, addr domain.PublicKey) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM accounts WHERE address = $1`, addr[:]).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: account %s: %w", addr, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get account %s: %w", addr, err)
	}
	return data, nil
}

// ListBySize returns every record whose length equals size, ordered by address.
func (s *AccountStore) ListBySize(ctx context.Context, size int) ([]domain.RawAccount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, data FROM accounts WHERE data_len = $1 ORDER BY address`, size)
	if err != nil {
		return nil, fmt.Errorf("postgres: list accounts of size %d: %w", size, err)
	}
	defer rows.Close()

	var out []domain.RawAccount
	for rows.Next() {
		var addr, data []byte
		if err := rows.Scan(&addr, &data); err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		pk, err := domain.PublicKeyFromBytes(addr)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out = append(out, domain.RawAccount{Address: pk, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list accounts rows: %w", err)
	}
	return out, nil
}

// Apply commits the writes and the transfer id in one transaction. Each
// write is guarded by its previous content, so a concurrent writer makes
// the whole commit fail with ErrConflict.
func (s *AccountStore) Apply(ctx context.Context, c domain.Commit) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if c.TransferID != "" {
			tag, err := tx.Exec(ctx,
				`INSERT INTO processed_transfers (transfer_id) VALUES ($1) ON CONFLICT DO NOTHING`,
				c.TransferID)
			if err != nil {
				return fmt.Errorf("postgres: record transfer %s: %w", c.TransferID, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("postgres: transfer %s: %w", c.TransferID, domain.ErrDuplicateTransfer)
			}
		}

		for _, w := range c.Writes {
			if err := applyWrite(ctx, tx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyWrite(ctx context.Context, tx pgx.Tx, w domain.AccountWrite) error {
	if w.Prev == nil {
		tag, err := tx.Exec(ctx,
			`INSERT INTO accounts (address, data) VALUES ($1, $2) ON CONFLICT (address) DO NOTHING`,
			w.Address[:], w.Data)
		if err != nil {
			return fmt.Errorf("postgres: insert account %s: %w", w.Address, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("postgres: account %s already exists: %w", w.Address, domain.ErrConflict)
		}
		return nil
	}

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET data = $2, updated_at = NOW() WHERE address = $1 AND data = $3`,
		w.Address[:], w.Data, w.Prev)
	if err != nil {
		return fmt.Errorf("postgres: update account %s: %w", w.Address, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: account %s changed: %w", w.Address, domain.ErrConflict)
	}
	return nil
}

// TransferSeen reports whether transferID was committed.
func (s *AccountStore) TransferSeen(ctx context.Context, transferID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM processed_transfers WHERE transfer_id = $1)`, transferID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check transfer %s: %w", transferID, err)
	}
	return exists, nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
