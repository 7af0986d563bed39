package domain

import "time"

// MarketView is the decoded, presentation-ready shape of a market record.
// Outcome totals are 128-bit values and travel as decimal strings.
type MarketView struct {
	Address      PublicKey `json:"address"`
	MarketID     uint64    `json:"market_id"`
	Outcomes     [2]string `json:"outcomes"`
	Percentages  [2]uint8  `json:"percentages"`
	Vault        PublicKey `json:"vault"`
	VaultHex     string    `json:"vault_hex"`
	VaultBump    uint8     `json:"vault_bump"`
	VaultBalance uint64    `json:"vault_balance"`
	UpdatedAt    time.Time `json:"updated_at"`
}
