// Package memory is an in-process account arena used for tests, local runs
// and as the fallback when no database is configured.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// AccountStore keeps records in a map guarded by a single mutex. Every
// Apply is checked and written under the lock, so commits are atomic.
type AccountStore struct {
	mu        sync.RWMutex
	records   map[domain.PublicKey][]byte
	transfers map[string]struct{}
}

// NewAccountStore returns an empty arena.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		records:   make(map[domain.PublicKey][]byte),
		transfers: make(map[string]struct{}),
	}
}

// Get returns a copy of the record at addr.
func (s *AccountStore) Get(_ context.Context, addr domain.PublicKey) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.records[addr]
	if !ok {
		return nil, fmt.Errorf("memory: account %s: %w", addr, domain.ErrNotFound)
	}
	return bytes.Clone(data), nil
}

// ListBySize returns every record of exactly size bytes, ordered by address.
func (s *AccountStore) ListBySize(_ context.Context, size int) ([]domain.RawAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RawAccount
	for addr, data := range s.records {
		if len(data) == size {
			out = append(out, domain.RawAccount{Address: addr, Data: bytes.Clone(data)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out, nil
}

// Apply validates every precondition before touching any record.
func (s *AccountStore) Apply(_ context.Context, c domain.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.TransferID != "" {
		if _, seen := s.transfers[c.TransferID]; seen {
			return fmt.Errorf("memory: transfer %s: %w", c.TransferID, domain.ErrDuplicateTransfer)
		}
	}
	for _, w := range c.Writes {
		cur, exists := s.records[w.Address]
		switch {
		case w.Prev == nil && exists:
			return fmt.Errorf("memory: account %s already exists: %w", w.Address, domain.ErrConflict)
		case w.Prev != nil && (!exists || !bytes.Equal(cur, w.Prev)):
			return fmt.Errorf("memory: account %s changed: %w", w.Address, domain.ErrConflict)
		}
	}

	for _, w := range c.Writes {
		s.records[w.Address] = bytes.Clone(w.Data)
	}
	if c.TransferID != "" {
		s.transfers[c.TransferID] = struct{}{}
	}
	return nil
}

// TransferSeen reports whether transferID was committed.
func (s *AccountStore) TransferSeen(_ context.Context, transferID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.transfers[transferID]
	return ok, nil
}

// Put writes a record unconditionally. Intended for seeding fixtures.
func (s *AccountStore) Put(addr domain.PublicKey, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[addr] = bytes.Clone(data)
}

var _ domain.AccountStore = (*AccountStore)(nil)
