package domain

import "time"

// SettlementEvent is published on the signal bus for every settlement
// attempt, applied or rejected.
type SettlementEvent struct {
	ReceiptID  string    `json:"receipt_id"`
	State      string    `json:"state"`
	Kind       string    `json:"kind,omitempty"`
	Market     PublicKey `json:"market"`
	MarketID   uint64    `json:"market_id"`
	User       string    `json:"user,omitempty"`
	Outcome    uint8     `json:"outcome"`
	Amount     uint64    `json:"amount"`
	TransferID string    `json:"transfer_id,omitempty"`
	At         time.Time `json:"at"`
}

// SettlementChannel is the pub/sub channel carrying SettlementEvent JSON.
const SettlementChannel = "ch:settlement"

// SettlementStream is the durable stream mirroring SettlementChannel.
const SettlementStream = "stream:settlement"

// MarketChannel is the pub/sub channel carrying MarketView JSON whenever a
// market is created.
const MarketChannel = "ch:market"
