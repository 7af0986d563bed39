package compose

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// AdapterABI is the slice of the origin adapter contract the watcher needs.
const AdapterABI = `[
  {"type":"function","name":"encodeComposeMsg","stateMutability":"view",
   "inputs":[{"name":"sender","type":"address"},{"name":"marketId","type":"uint64"},{"name":"outcome","type":"uint8"}],
   "outputs":[{"name":"","type":"bytes"}]},
  {"type":"event","name":"CrossChainBetSent","anonymous":false,
   "inputs":[
     {"name":"dstChainId","type":"uint16","indexed":false},
     {"name":"to","type":"bytes32","indexed":false},
     {"name":"marketId","type":"uint64","indexed":false},
     {"name":"outcome","type":"uint8","indexed":false},
     {"name":"amount","type":"uint256","indexed":false},
     {"name":"composeMsg","type":"bytes","indexed":false}]}
]`

// TransferEventName is the custody-transfer event emitted by the adapter.
const TransferEventName = "CrossChainBetSent"

var adapterABI = mustParseABI(AdapterABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("compose: parse adapter abi: %v", err))
	}
	return parsed
}

// TransferTopic is the topic0 of CrossChainBetSent, used to filter logs.
func TransferTopic() common.Hash {
	return adapterABI.Events[TransferEventName].ID
}

// Transfer is one decoded CrossChainBetSent log.
type Transfer struct {
	DstChainID  uint16
	To          domain.PublicKey
	MarketID    uint64
	Outcome     uint8
	Amount      *big.Int
	ComposeMsg  []byte
	Emitter     common.Address
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
}

// ID is the transfer id used for replay protection: txHash:logIndex.
func (t Transfer) ID() string {
	return fmt.Sprintf("%s:%d", t.TxHash.Hex(), t.LogIndex)
}

// ParseTransferLog decodes a CrossChainBetSent log.
func ParseTransferLog(lg types.Log) (Transfer, error) {
	var t Transfer
	if len(lg.Topics) == 0 || lg.Topics[0] != TransferTopic() {
		return t, fmt.Errorf("compose: log is not %s", TransferEventName)
	}

	vals, err := adapterABI.Unpack(TransferEventName, lg.Data)
	if err != nil {
		return t, fmt.Errorf("compose: unpack %s: %w", TransferEventName, err)
	}
	if len(vals) != 6 {
		return t, fmt.Errorf("compose: unpack %s: got %d fields", TransferEventName, len(vals))
	}

	var ok [6]bool
	t.DstChainID, ok[0] = vals[0].(uint16)
	var to [32]byte
	to, ok[1] = vals[1].([32]byte)
	t.To = domain.PublicKey(to)
	t.MarketID, ok[2] = vals[2].(uint64)
	t.Outcome, ok[3] = vals[3].(uint8)
	t.Amount, ok[4] = vals[4].(*big.Int)
	t.ComposeMsg, ok[5] = vals[5].([]byte)
	for i, good := range ok {
		if !good {
			return t, fmt.Errorf("compose: unpack %s: field %d has type %T", TransferEventName, i, vals[i])
		}
	}

	t.Emitter = lg.Address
	t.TxHash = lg.TxHash
	t.LogIndex = lg.Index
	t.BlockNumber = lg.BlockNumber
	return t, nil
}

// Intent is a transfer reduced to what settlement consumes.
type Intent struct {
	Message    Message
	Payload    []byte
	Amount     uint64
	TransferID string
	Vault      domain.PublicKey
}

// Intent checks that the event fields agree with the compose bytes and that
// the amount fits the destination's 64-bit balance.
func (t Transfer) Intent() (Intent, error) {
	msg, err := Decode(t.ComposeMsg)
	if err != nil {
		return Intent{}, err
	}
	if msg.MarketID != t.MarketID || msg.Outcome != t.Outcome {
		return Intent{}, fmt.Errorf("compose: event says market %d outcome %d, payload says market %d outcome %d: %w",
			t.MarketID, t.Outcome, msg.MarketID, msg.Outcome, domain.ErrMalformedPayload)
	}
	if t.Amount == nil || t.Amount.Sign() < 0 || !t.Amount.IsUint64() {
		return Intent{}, fmt.Errorf("compose: transfer amount %v: %w", t.Amount, domain.ErrOverflow)
	}
	return Intent{
		Message:    msg,
		Payload:    bytes.Clone(t.ComposeMsg),
		Amount:     t.Amount.Uint64(),
		TransferID: t.ID(),
		Vault:      t.To,
	}, nil
}

// PackTransferData ABI-encodes the non-indexed event data. Used to build
// logs for tests and local replays.
func PackTransferData(t Transfer) ([]byte, error) {
	ev := adapterABI.Events[TransferEventName]
	amount := t.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	data, err := ev.Inputs.NonIndexed().Pack(t.DstChainID, [32]byte(t.To), t.MarketID, t.Outcome, amount, t.ComposeMsg)
	if err != nil {
		return nil, fmt.Errorf("compose: pack %s: %w", TransferEventName, err)
	}
	return data, nil
}
