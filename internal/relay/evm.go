package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/compose"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/metrics"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/settlement"
)

// ChainReader is the slice of ethclient.Client the watcher uses.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Resolver finds the accounts a delivery for (marketID, sender) must carry.
type Resolver interface {
	ResolveAccounts(ctx context.Context, marketID uint64, sender [20]byte) (settlement.Accounts, error)
}

// Checkpoint persists the last fully processed block.
type Checkpoint interface {
	Load(ctx context.Context) (block uint64, ok bool, err error)
	Save(ctx context.Context, block uint64) error
}

// MemoryCheckpoint keeps the cursor in process.
type MemoryCheckpoint struct {
	mu    sync.Mutex
	block uint64
	set   bool
}

// Load returns the saved block, if any.
func (c *MemoryCheckpoint) Load(context.Context) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, c.set, nil
}

// Save records block.
func (c *MemoryCheckpoint) Save(_ context.Context, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block, c.set = block, true
	return nil
}

// EVMConfig configures the origin-chain watcher.
type EVMConfig struct {
	Adapter       common.Address
	StartBlock    uint64
	Confirmations uint64
	PollInterval  time.Duration
	BatchSize     uint64
}

// EVMWatcher polls the adapter contract for CrossChainBetSent logs and
// settles each one.
type EVMWatcher struct {
	client     ChainReader
	resolver   Resolver
	proc       *Processor
	checkpoint Checkpoint
	cfg        EVMConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewEVMWatcher creates an EVMWatcher. A zero BatchSize defaults to 2000
// blocks and a zero PollInterval to 5s.
func NewEVMWatcher(client ChainReader, resolver Resolver, proc *Processor, cp Checkpoint, cfg EVMConfig, m *metrics.Metrics, logger *slog.Logger) *EVMWatcher {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cp == nil {
		cp = &MemoryCheckpoint{}
	}
	return &EVMWatcher{
		client:     client,
		resolver:   resolver,
		proc:       proc,
		checkpoint: cp,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With(slog.String("component", "relay_evm")),
	}
}

// Name identifies the source in metrics and logs.
func (w *EVMWatcher) Name() string { return "evm" }

// Run polls until ctx is done. Poll errors are logged and retried on the
// next tick.
func (w *EVMWatcher) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "relay: watching adapter",
		slog.String("adapter", w.cfg.Adapter.Hex()),
		slog.Uint64("confirmations", w.cfg.Confirmations),
	)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.WarnContext(ctx, "relay: poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll processes every confirmed block after the checkpoint and returns the
// new cursor. A transient settlement failure stops the pass just before the
// failing block so it is retried; already settled transfers in that block
// are then rejected as duplicates.
func (w *EVMWatcher) Poll(ctx context.Context) (uint64, error) {
	cursor, ok, err := w.checkpoint.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("relay: load checkpoint: %w", err)
	}
	from := w.cfg.StartBlock
	if ok {
		from = cursor + 1
	}

	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return cursor, fmt.Errorf("relay: block number: %w", err)
	}
	if head < w.cfg.Confirmations {
		return cursor, nil
	}
	safe := head - w.cfg.Confirmations

	for from <= safe {
		to := min(from+w.cfg.BatchSize-1, safe)
		logs, err := w.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{w.cfg.Adapter},
			Topics:    [][]common.Hash{{compose.TransferTopic()}},
		})
		if err != nil {
			return cursor, fmt.Errorf("relay: filter logs %d-%d: %w", from, to, err)
		}
		sort.Slice(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})

		for _, lg := range logs {
			if lg.Removed {
				continue
			}
			if err := w.handleLog(ctx, lg); err != nil {
				if lg.BlockNumber > from {
					if serr := w.save(ctx, lg.BlockNumber-1); serr != nil {
						return cursor, serr
					}
					cursor = lg.BlockNumber - 1
				}
				return cursor, err
			}
		}
		if err := w.save(ctx, to); err != nil {
			return cursor, err
		}
		cursor = to
		from = to + 1
	}
	return cursor, nil
}

func (w *EVMWatcher) save(ctx context.Context, block uint64) error {
	if err := w.checkpoint.Save(ctx, block); err != nil {
		return fmt.Errorf("relay: save checkpoint: %w", err)
	}
	w.metrics.SetEVMCursor(block)
	return nil
}

// handleLog returns an error only when the log should be retried.
func (w *EVMWatcher) handleLog(ctx context.Context, lg types.Log) error {
	attrs := []any{
		slog.String("tx", lg.TxHash.Hex()),
		slog.Uint64("log_index", uint64(lg.Index)),
		slog.Uint64("block", lg.BlockNumber),
	}
	skip := func(reason string, err error) error {
		w.metrics.ObserveDelivery(w.Name(), Term.String())
		w.logger.WarnContext(ctx, "relay: skipping transfer", append(attrs,
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)...)
		return nil
	}

	t, err := compose.ParseTransferLog(lg)
	if err != nil {
		return skip("unparseable log", err)
	}
	intent, err := t.Intent()
	if err != nil {
		return skip("inconsistent transfer", err)
	}

	accts, err := w.resolver.ResolveAccounts(ctx, intent.Message.MarketID, intent.Message.SenderBytes())
	if errors.Is(err, domain.ErrNotFound) {
		return skip("unknown market", err)
	}
	if err != nil {
		w.metrics.ObserveDelivery(w.Name(), Nak.String())
		return fmt.Errorf("relay: resolve accounts for market %d: %w", intent.Message.MarketID, err)
	}
	if accts.Vault != intent.Vault {
		return skip("foreign vault", fmt.Errorf("transfer to %s, market vault is %s: %w",
			intent.Vault.Hex(), accts.Vault.Hex(), domain.ErrAccountMismatch))
	}

	d := NewDelivery(intent.Payload, intent.Amount, accts, intent.TransferID)
	r, err := w.proc.ProcessTrusted(ctx, d)
	disp := Classify(err)
	w.metrics.ObserveDelivery(w.Name(), disp.String())

	switch disp {
	case Ack:
		if err != nil {
			w.logger.InfoContext(ctx, "relay: transfer rejected", append(attrs,
				slog.String("transfer_id", intent.TransferID),
				slog.String("kind", settlement.Kind(err)),
			)...)
		} else {
			w.logger.DebugContext(ctx, "relay: transfer settled", append(attrs,
				slog.String("receipt_id", r.ID),
				slog.String("transfer_id", intent.TransferID),
			)...)
		}
		return nil
	case Term:
		return skip("unsettleable", err)
	default:
		return fmt.Errorf("relay: settle %s: %w", intent.TransferID, err)
	}
}
