// Package compose implements the bet-intent wire format carried alongside a
// cross-chain token transfer. The origin side encodes the tuple with the
// Solidity ABI; the destination side decodes the same 96 bytes strictly.
package compose

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// MessageSize is the encoded length of abi.encode(address,uint64,uint8).
const MessageSize = 96

// Outcome indexes.
const (
	OutcomeNo  uint8 = 0
	OutcomeYes uint8 = 1
)

// Message is a decoded bet intent. The amount is not part of the message; it
// travels with the custody transfer.
type Message struct {
	Sender   common.Address `json:"sender"`
	MarketID uint64         `json:"market_id"`
	Outcome  uint8          `json:"outcome"`
}

// SenderBytes returns the sender as a fixed 20-byte array, the form used as
// a position address seed.
func (m Message) SenderBytes() [20]byte {
	return [20]byte(m.Sender)
}

var messageArgs = mustArguments("address", "uint64", "uint8")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("compose: abi type %s: %v", t, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// Encode produces the origin-side bytes for msg. Any outcome value encodes;
// validity is enforced by the destination.
func Encode(msg Message) ([]byte, error) {
	out, err := messageArgs.Pack(msg.Sender, msg.MarketID, msg.Outcome)
	if err != nil {
		return nil, fmt.Errorf("compose: encode: %w", err)
	}
	return out, nil
}

// Decode parses the destination-side bytes. Every padding byte of the three
// 32-byte slots must be zero.
func Decode(b []byte) (Message, error) {
	var msg Message
	if len(b) != MessageSize {
		return msg, fmt.Errorf("compose: payload is %d bytes, want %d: %w", len(b), MessageSize, domain.ErrMalformedPayload)
	}
	if !allZero(b[0:12]) {
		return msg, fmt.Errorf("compose: dirty address padding: %w", domain.ErrMalformedPayload)
	}
	if !allZero(b[32:56]) {
		return msg, fmt.Errorf("compose: dirty market id padding: %w", domain.ErrMalformedPayload)
	}
	if !allZero(b[64:95]) {
		return msg, fmt.Errorf("compose: dirty outcome padding: %w", domain.ErrMalformedPayload)
	}

	copy(msg.Sender[:], b[12:32])
	msg.MarketID = binary.BigEndian.Uint64(b[56:64])
	msg.Outcome = b[95]
	if msg.Outcome != OutcomeNo && msg.Outcome != OutcomeYes {
		return msg, fmt.Errorf("compose: outcome %d: %w", msg.Outcome, domain.ErrInvalidOutcome)
	}
	return msg, nil
}

// DecodeABI unpacks b with the generic ABI decoder. It is looser than Decode
// about outcome values and is used to cross-check the two paths.
func DecodeABI(b []byte) (Message, error) {
	vals, err := messageArgs.Unpack(b)
	if err != nil {
		return Message{}, fmt.Errorf("compose: abi unpack: %w", err)
	}
	if len(vals) != 3 {
		return Message{}, fmt.Errorf("compose: abi unpack returned %d values", len(vals))
	}
	sender, ok1 := vals[0].(common.Address)
	marketID, ok2 := vals[1].(uint64)
	outcome, ok3 := vals[2].(uint8)
	if !ok1 || !ok2 || !ok3 {
		return Message{}, fmt.Errorf("compose: abi unpack: unexpected value types")
	}
	return Message{Sender: sender, MarketID: marketID, Outcome: outcome}, nil
}

// EncodeHex returns the 0x-prefixed hex form of Encode.
func EncodeHex(msg Message) (string, error) {
	b, err := Encode(msg)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}

// ParseHex decodes a hex payload with or without the 0x prefix. It does not
// validate the payload; pass the result to Decode.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("compose: payload hex: %w: %w", domain.ErrMalformedPayload, err)
	}
	return b, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
