package account

import (
	"encoding/binary"
	"fmt"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// Position record layout:
//
//	[0:8]   tag
//	[8:16]  market_id u64 LE
//	[16:36] user
//	[36:44] amount u64 LE
//	[44]    outcome
const (
	PositionPayloadSize = 37
	PositionSize        = 8 + PositionPayloadSize
)

// PositionTag prefixes every user position record.
var PositionTag = discriminator("UserPosition")

// Position is one foreign user's stake in a market.
type Position struct {
	MarketID uint64
	User     [20]byte
	Amount   uint64
	Outcome  uint8
}

// EncodePosition serializes p into exactly PositionSize bytes.
func EncodePosition(p Position) []byte {
	b := make([]byte, PositionSize)
	copy(b[0:8], PositionTag[:])
	binary.LittleEndian.PutUint64(b[8:16], p.MarketID)
	copy(b[16:36], p.User[:])
	binary.LittleEndian.PutUint64(b[36:44], p.Amount)
	b[44] = p.Outcome
	return b
}

// DecodePosition parses a position record, skipping the tag.
func DecodePosition(b []byte) (Position, error) {
	var p Position
	if len(b) < PositionSize {
		return p, fmt.Errorf("account: position record is %d bytes, want %d: %w", len(b), PositionSize, domain.ErrInvalidLength)
	}
	p.MarketID = binary.LittleEndian.Uint64(b[8:16])
	copy(p.User[:], b[16:36])
	p.Amount = binary.LittleEndian.Uint64(b[36:44])
	p.Outcome = b[44]
	return p, nil
}
