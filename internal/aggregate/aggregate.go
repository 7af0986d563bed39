// Package aggregate derives read-only views over market totals.
package aggregate

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/account"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

var hundred = uint256.NewInt(100)

// Percentages returns floor(a*100/(a+b)) and floor(b*100/(a+b)), or (50,50)
// for an empty market. The pair may sum to less than 100. Totals are u128;
// wider inputs are scaled down to 128 bits first, so the shares are
// approximate but never wrap.
func Percentages(a, b *uint256.Int) (uint8, uint8) {
	if !account.FitsU128(a) || !account.FitsU128(b) {
		n := uint(max(a.BitLen(), b.BitLen()) - 128)
		var sa, sb uint256.Int
		sa.Rsh(a, n)
		sb.Rsh(b, n)
		a, b = &sa, &sb
	}
	var sum uint256.Int
	sum.Add(a, b)
	if sum.IsZero() {
		return 50, 50
	}
	return share(a, &sum), share(b, &sum)
}

func share(x, sum *uint256.Int) uint8 {
	var pct uint256.Int
	pct.Mul(x, hundred)
	pct.Div(&pct, sum)
	return uint8(pct.Uint64())
}

// Shares is the presentation view of a market's totals.
type Shares struct {
	Percentages [2]uint8  `json:"percentages"`
	Totals      [2]string `json:"totals"`
	Total       string    `json:"total"`
}

// ForMarket computes Shares for m.
func ForMarket(m account.Market) Shares {
	p0, p1 := Percentages(&m.Outcomes[0], &m.Outcomes[1])
	total := m.Total()
	return Shares{
		Percentages: [2]uint8{p0, p1},
		Totals:      [2]string{m.Outcomes[0].Dec(), m.Outcomes[1].Dec()},
		Total:       total.Dec(),
	}
}

// View builds the read-API shape of the market record stored at addr.
func View(addr domain.PublicKey, m account.Market, updatedAt time.Time) domain.MarketView {
	s := ForMarket(m)
	return domain.MarketView{
		Address:      addr,
		MarketID:     m.MarketID,
		Outcomes:     s.Totals,
		Percentages:  s.Percentages,
		Vault:        m.Vault,
		VaultHex:     m.Vault.Hex(),
		VaultBump:    m.VaultBump,
		VaultBalance: m.VaultBalance,
		UpdatedAt:    updatedAt,
	}
}

// PositionView builds the read-API shape of a position record.
func PositionView(addr domain.PublicKey, p account.Position) domain.PositionView {
	return domain.PositionView{
		Address:  addr,
		MarketID: p.MarketID,
		User:     common.BytesToAddress(p.User[:]).Hex(),
		Amount:   p.Amount,
		Outcome:  p.Outcome,
	}
}
