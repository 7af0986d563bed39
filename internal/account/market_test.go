package account

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

func sampleMarket() Market {
	var vault domain.PublicKey
	for i := range vault {
		vault[i] = byte(i + 1)
	}
	m := NewMarket(42, vault, 254)
	m.Outcomes[0].SetUint64(500)
	m.Outcomes[1].SetUint64(1000)
	m.VaultBalance = 1500
	return m
}

func TestMarketTag(t *testing.T) {
	sum := sha256.Sum256([]byte("account:MarketAccount"))
	if !bytes.Equal(MarketTag[:], sum[:8]) {
		t.Errorf("MarketTag = %x, want %x", MarketTag, sum[:8])
	}
}

func TestEncodeMarket_Layout(t *testing.T) {
	m := sampleMarket()
	b, err := EncodeMarket(m)
	if err != nil {
		t.Fatalf("EncodeMarket: %v", err)
	}
	if len(b) != MarketSize {
		t.Fatalf("len = %d, want %d", len(b), MarketSize)
	}
	if !HasMarketTag(b) {
		t.Error("missing tag")
	}
	if got := binary.LittleEndian.Uint64(b[8:16]); got != 42 {
		t.Errorf("market_id = %d, want 42", got)
	}
	if got := binary.LittleEndian.Uint64(b[16:24]); got != 500 {
		t.Errorf("outcome0 low = %d, want 500", got)
	}
	if got := binary.LittleEndian.Uint64(b[32:40]); got != 1000 {
		t.Errorf("outcome1 low = %d, want 1000", got)
	}
	if !bytes.Equal(b[48:80], m.Vault[:]) {
		t.Errorf("vault = %x", b[48:80])
	}
	if b[80] != 254 {
		t.Errorf("bump = %d, want 254", b[80])
	}
	if got := binary.LittleEndian.Uint64(b[81:89]); got != 1500 {
		t.Errorf("balance = %d, want 1500", got)
	}
}

func TestMarket_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		m    Market
	}{
		{"sample", sampleMarket()},
		{"zero", NewMarket(0, domain.PublicKey{}, 0)},
		{"max u128", func() Market {
			m := sampleMarket()
			max := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
			max.SubUint64(max, 1)
			m.Outcomes[1] = *max
			m.MarketID = ^uint64(0)
			m.VaultBalance = ^uint64(0)
			return m
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeMarket(tt.m)
			if err != nil {
				t.Fatalf("EncodeMarket: %v", err)
			}
			got, err := DecodeMarket(b)
			if err != nil {
				t.Fatalf("DecodeMarket: %v", err)
			}
			if got != tt.m {
				t.Errorf("round trip = %+v, want %+v", got, tt.m)
			}
		})
	}
}

func TestDecodeMarket_Short(t *testing.T) {
	for _, n := range []int{0, 8, MarketSize - 1} {
		if _, err := DecodeMarket(make([]byte, n)); !errors.Is(err, domain.ErrInvalidLength) {
			t.Errorf("DecodeMarket(%d bytes) error = %v, want ErrInvalidLength", n, err)
		}
	}
}

func TestDecodeMarket_IgnoresTagAndTrailingBytes(t *testing.T) {
	b, err := EncodeMarket(sampleMarket())
	if err != nil {
		t.Fatal(err)
	}
	copy(b[0:8], []byte{9, 9, 9, 9, 9, 9, 9, 9})
	b = append(b, 0xff)
	got, err := DecodeMarket(b)
	if err != nil {
		t.Fatalf("DecodeMarket: %v", err)
	}
	if got != sampleMarket() {
		t.Errorf("DecodeMarket = %+v", got)
	}
}

func TestEncodeMarket_RejectsWideTotals(t *testing.T) {
	m := sampleMarket()
	m.Outcomes[0] = *new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	if _, err := EncodeMarket(m); !errors.Is(err, domain.ErrOverflow) {
		t.Errorf("EncodeMarket error = %v, want ErrOverflow", err)
	}
}

func TestMarket_Balanced(t *testing.T) {
	m := sampleMarket()
	if !m.Balanced() {
		t.Error("sample market should be balanced")
	}
	m.VaultBalance++
	if m.Balanced() {
		t.Error("off-by-one balance reported as balanced")
	}
	if total := m.Total(); total.Uint64() != 1500 {
		t.Errorf("Total = %s, want 1500", total.Dec())
	}
}
