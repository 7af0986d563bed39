// Package relay feeds deliveries into settlement. Deliveries arrive as
// signed JSON envelopes over NATS JetStream or HTTP, or are built locally
// from CrossChainBetSent logs on the origin chain.
package relay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/compose"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/crypto"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/settlement"
)

// Delivery is the wire envelope relays exchange.
type Delivery struct {
	Payload    string              `json:"payload"` // 0x-prefixed compose bytes
	Amount     uint64              `json:"amount"`
	Accounts   settlement.Accounts `json:"accounts"`
	TransferID string              `json:"transfer_id,omitempty"`
	Signature  string              `json:"signature,omitempty"`
}

// NewDelivery builds an unsigned envelope.
func NewDelivery(payload []byte, amount uint64, accounts settlement.Accounts, transferID string) Delivery {
	return Delivery{
		Payload:    hexutil.Encode(payload),
		Amount:     amount,
		Accounts:   accounts,
		TransferID: transferID,
	}
}

// DecodeDelivery parses an envelope, rejecting unknown fields. Any parse
// failure is a malformed payload.
func DecodeDelivery(data []byte) (Delivery, error) {
	var d Delivery
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return Delivery{}, fmt.Errorf("relay: decode delivery: %v: %w", err, domain.ErrMalformedPayload)
	}
	return d, nil
}

// PayloadBytes decodes the hex payload.
func (d Delivery) PayloadBytes() ([]byte, error) {
	return compose.ParseHex(d.Payload)
}

// Settlement converts the envelope to the engine's input.
func (d Delivery) Settlement() (settlement.Delivery, error) {
	payload, err := d.PayloadBytes()
	if err != nil {
		return settlement.Delivery{}, err
	}
	return settlement.Delivery{
		Payload:    payload,
		Accounts:   d.Accounts,
		Amount:     d.Amount,
		TransferID: d.TransferID,
	}, nil
}

// Sign attaches an attestation over payload, amount and transfer id.
func (d *Delivery) Sign(a *crypto.Attestor) error {
	payload, err := d.PayloadBytes()
	if err != nil {
		return err
	}
	sig, err := a.Sign(payload, d.Amount, d.TransferID)
	if err != nil {
		return err
	}
	d.Signature = sig
	return nil
}

// Verify checks the attestation against the trusted relay set.
func (d Delivery) Verify(v *crypto.Verifier) (common.Address, error) {
	if d.Signature == "" {
		return common.Address{}, fmt.Errorf("relay: delivery is unsigned: %w", domain.ErrUnauthorized)
	}
	payload, err := d.PayloadBytes()
	if err != nil {
		return common.Address{}, err
	}
	return v.Verify(payload, d.Amount, d.TransferID, d.Signature)
}
