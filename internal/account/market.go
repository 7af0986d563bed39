// Package account encodes and decodes the fixed binary layouts of the
// destination ledger's market and position records.
package account

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// Market record layout, all integers little-endian:
//
//	[0:8]   tag
//	[8:16]  market_id u64
//	[16:32] outcome0 u128
//	[32:48] outcome1 u128
//	[48:80] vault
//	[80]    vault_bump
//	[81:89] vault_balance u64
const (
	MarketPayloadSize = 81
	MarketSize        = 8 + MarketPayloadSize
)

// MarketTag prefixes every market record.
var MarketTag = discriminator("MarketAccount")

// Market is the decoded state of one binary market.
type Market struct {
	MarketID     uint64
	Outcomes     [2]uint256.Int
	Vault        domain.PublicKey
	VaultBump    uint8
	VaultBalance uint64
}

// NewMarket returns a zeroed market bound to its vault.
func NewMarket(marketID uint64, vault domain.PublicKey, bump uint8) Market {
	return Market{MarketID: marketID, Vault: vault, VaultBump: bump}
}

// Total returns outcome0 + outcome1. Both are below 2^128 so the sum cannot
// wrap in 256 bits.
func (m Market) Total() uint256.Int {
	var sum uint256.Int
	sum.Add(&m.Outcomes[0], &m.Outcomes[1])
	return sum
}

// Balanced reports whether the vault balance equals the sum of outcome
// totals.
func (m Market) Balanced() bool {
	total := m.Total()
	return total.IsUint64() && total.Uint64() == m.VaultBalance
}

// EncodeMarket serializes m into exactly MarketSize bytes.
func EncodeMarket(m Market) ([]byte, error) {
	for i := range m.Outcomes {
		if !FitsU128(&m.Outcomes[i]) {
			return nil, fmt.Errorf("account: outcome %d total exceeds 128 bits: %w", i, domain.ErrOverflow)
		}
	}

	b := make([]byte, MarketSize)
	copy(b[0:8], MarketTag[:])
	binary.LittleEndian.PutUint64(b[8:16], m.MarketID)
	putU128LE(b[16:32], &m.Outcomes[0])
	putU128LE(b[32:48], &m.Outcomes[1])
	copy(b[48:80], m.Vault[:])
	b[80] = m.VaultBump
	binary.LittleEndian.PutUint64(b[81:89], m.VaultBalance)
	return b, nil
}

// DecodeMarket parses a market record. The tag is skipped, not checked;
// callers select market records by size.
func DecodeMarket(b []byte) (Market, error) {
	var m Market
	if len(b) < MarketSize {
		return m, fmt.Errorf("account: market record is %d bytes, want %d: %w", len(b), MarketSize, domain.ErrInvalidLength)
	}
	p := b[8:]
	m.MarketID = binary.LittleEndian.Uint64(p[0:8])
	m.Outcomes[0] = readU128LE(p[8:24])
	m.Outcomes[1] = readU128LE(p[24:40])
	copy(m.Vault[:], p[40:72])
	m.VaultBump = p[72]
	m.VaultBalance = binary.LittleEndian.Uint64(p[73:81])
	return m, nil
}

// HasMarketTag reports whether b starts with the market record tag.
func HasMarketTag(b []byte) bool {
	return len(b) >= 8 && [8]byte(b[:8]) == MarketTag
}
