package account

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

func TestPosition_RoundTrip(t *testing.T) {
	p := Position{MarketID: 42, Amount: 1500, Outcome: 0}
	for i := range p.User {
		p.User[i] = 0x11
	}

	b := EncodePosition(p)
	if len(b) != PositionSize {
		t.Fatalf("len = %d, want %d", len(b), PositionSize)
	}
	sum := sha256.Sum256([]byte("account:UserPosition"))
	if !bytes.Equal(b[:8], sum[:8]) {
		t.Errorf("tag = %x, want %x", b[:8], sum[:8])
	}

	got, err := DecodePosition(b)
	if err != nil {
		t.Fatalf("DecodePosition: %v", err)
	}
	if got != p {
		t.Errorf("round trip = %+v, want %+v", got, p)
	}
}

func TestDecodePosition_Short(t *testing.T) {
	if _, err := DecodePosition(make([]byte, PositionSize-1)); !errors.Is(err, domain.ErrInvalidLength) {
		t.Errorf("error = %v, want ErrInvalidLength", err)
	}
}

func TestRecordSizesDiffer(t *testing.T) {
	if MarketSize == PositionSize {
		t.Fatal("market and position records must be distinguishable by size")
	}
	if MarketSize != 89 || PositionSize != 45 {
		t.Errorf("sizes = %d/%d, want 89/45", MarketSize, PositionSize)
	}
}
