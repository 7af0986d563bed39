package domain

// PositionView is the decoded shape of a user position record.
type PositionView struct {
	Address  PublicKey `json:"address"`
	MarketID uint64    `json:"market_id"`
	User     string    `json:"user"` // 0x-prefixed origin-chain address
	Amount   uint64    `json:"amount"`
	Outcome  uint8     `json:"outcome"`
}
