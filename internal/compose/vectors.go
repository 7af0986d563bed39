package compose

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// Vector pairs a message with its canonical encoding.
type Vector struct {
	Name    string
	Message Message
	Hex     string
}

// Vectors are well-formed messages shared by encoder and decoder tests and
// by the composegen tool's self-check.
var Vectors = []Vector{
	{
		Name:    "market 42 yes",
		Message: Message{Sender: common.HexToAddress("0x1111111111111111111111111111111111111111"), MarketID: 42, Outcome: OutcomeYes},
		Hex:     "0x0000000000000000000000001111111111111111111111111111111111111111000000000000000000000000000000000000000000000000000000000000002a0000000000000000000000000000000000000000000000000000000000000001",
	},
	{
		Name:    "zero values",
		Message: Message{},
		Hex:     "0x000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000",
	},
	{
		Name:    "max market id",
		Message: Message{Sender: common.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff"), MarketID: ^uint64(0), Outcome: OutcomeNo},
		Hex:     "0x000000000000000000000000ffffffffffffffffffffffffffffffffffffffff000000000000000000000000000000000000000000000000ffffffffffffffff0000000000000000000000000000000000000000000000000000000000000000",
	},
	{
		Name:    "contract sender",
		Message: Message{Sender: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), MarketID: 7, Outcome: OutcomeYes},
		Hex:     "0x0000000000000000000000005fbdb2315678afecb367f032d93f642f64180aa300000000000000000000000000000000000000000000000000000000000000070000000000000000000000000000000000000000000000000000000000000001",
	},
}

// BadVector is a payload the destination must reject with Err.
type BadVector struct {
	Name string
	Hex  string
	Err  error
}

// BadVectors cover each rejection path of Decode.
var BadVectors = []BadVector{
	{
		Name: "empty",
		Hex:  "0x",
		Err:  domain.ErrMalformedPayload,
	},
	{
		Name: "95 bytes",
		Hex:  "0x0000000000000000000000001111111111111111111111111111111111111111000000000000000000000000000000000000000000000000000000000000002a00000000000000000000000000000000000000000000000000000000000000",
		Err:  domain.ErrMalformedPayload,
	},
	{
		Name: "97 bytes",
		Hex:  "0x0000000000000000000000001111111111111111111111111111111111111111000000000000000000000000000000000000000000000000000000000000002a000000000000000000000000000000000000000000000000000000000000000100",
		Err:  domain.ErrMalformedPayload,
	},
	{
		Name: "outcome 2",
		Hex:  "0x0000000000000000000000001111111111111111111111111111111111111111000000000000000000000000000000000000000000000000000000000000002a0000000000000000000000000000000000000000000000000000000000000002",
		Err:  domain.ErrInvalidOutcome,
	},
	{
		Name: "dirty address padding",
		Hex:  "0x0100000000000000000000001111111111111111111111111111111111111111000000000000000000000000000000000000000000000000000000000000002a0000000000000000000000000000000000000000000000000000000000000001",
		Err:  domain.ErrMalformedPayload,
	},
	{
		Name: "dirty market id padding",
		Hex:  "0x0000000000000000000000001111111111111111111111111111111111111111000000000000000001000000000000000000000000000000000000000000002a0000000000000000000000000000000000000000000000000000000000000001",
		Err:  domain.ErrMalformedPayload,
	},
	{
		Name: "dirty outcome padding",
		Hex:  "0x0000000000000000000000001111111111111111111111111111111111111111000000000000000000000000000000000000000000000000000000000000002a0000000000000000000000000000000001000000000000000000000000000001",
		Err:  domain.ErrMalformedPayload,
	},
}
