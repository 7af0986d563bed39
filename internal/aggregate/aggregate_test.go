package aggregate

import (
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/account"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestPercentages(t *testing.T) {
	maxU128 := new(uint256.Int).Lsh(u(1), 128)
	maxU128.SubUint64(maxU128, 1)
	pow := func(n uint) *uint256.Int { return new(uint256.Int).Lsh(u(1), n) }
	maxU256 := new(uint256.Int).SetAllOne()

	tests := []struct {
		name   string
		a, b   *uint256.Int
		p0, p1 uint8
	}{
		{"empty market", u(0), u(0), 50, 50},
		{"equal", u(7), u(7), 50, 50},
		{"one sided", u(123), u(0), 100, 0},
		{"other side", u(0), u(1), 0, 100},
		{"thirds floor", u(1), u(2), 33, 66},
		{"scenario", u(500), u(1000), 33, 66},
		{"u128 max both", maxU128, maxU128, 50, 50},
		{"u128 max vs one", maxU128, u(1), 99, 0},
		{"wide one sided", pow(255), u(0), 100, 0},
		{"wide thirds", pow(250), pow(251), 33, 66},
		{"wide vs narrow", pow(200), u(5), 100, 0},
		{"u256 max both", maxU256, maxU256, 50, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p0, p1 := Percentages(tt.a, tt.b)
			if p0 != tt.p0 || p1 != tt.p1 {
				t.Errorf("Percentages(%s, %s) = (%d, %d), want (%d, %d)", tt.a.Dec(), tt.b.Dec(), p0, p1, tt.p0, tt.p1)
			}
			if int(p0)+int(p1) > 100 {
				t.Errorf("sum %d exceeds 100", int(p0)+int(p1))
			}
		})
	}
}

func TestForMarket(t *testing.T) {
	m := account.NewMarket(42, domain.PublicKey{1}, 255)
	m.Outcomes[0].SetUint64(500)
	m.Outcomes[1].SetUint64(1000)

	got := ForMarket(m)
	if got.Percentages != [2]uint8{33, 66} {
		t.Errorf("Percentages = %v, want [33 66]", got.Percentages)
	}
	if got.Totals != [2]string{"500", "1000"} || got.Total != "1500" {
		t.Errorf("totals = %v / %s", got.Totals, got.Total)
	}
}

func TestView(t *testing.T) {
	m := account.NewMarket(7, domain.PublicKey{9}, 253)
	m.Outcomes[1].SetUint64(40)
	m.VaultBalance = 40
	addr := domain.PublicKey{1}

	v := View(addr, m, time.Unix(100, 0))
	if v.Address != addr || v.MarketID != 7 || v.VaultBump != 253 || v.VaultBalance != 40 {
		t.Errorf("View = %+v", v)
	}
	if v.Percentages != [2]uint8{0, 100} {
		t.Errorf("Percentages = %v", v.Percentages)
	}
	if v.VaultHex != m.Vault.Hex() {
		t.Errorf("VaultHex = %s", v.VaultHex)
	}
}

func TestPositionView(t *testing.T) {
	p := account.Position{MarketID: 42, Amount: 5, Outcome: 1}
	p.User[19] = 0xab
	v := PositionView(domain.PublicKey{2}, p)
	if v.User != "0x00000000000000000000000000000000000000AB" && v.User != "0x00000000000000000000000000000000000000ab" {
		t.Errorf("User = %s", v.User)
	}
	if v.Amount != 5 || v.Outcome != 1 {
		t.Errorf("PositionView = %+v", v)
	}
}
