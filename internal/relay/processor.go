package relay

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/crypto"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/metrics"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/settlement"
)

// Settler applies a delivery. The settlement service implements it.
type Settler interface {
	Settle(ctx context.Context, d settlement.Delivery) (settlement.Receipt, error)
}

// Source is a stream of deliveries that runs until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context) error
}

// Disposition is what a source does with a message after processing.
type Disposition int

const (
	// Ack: settled, or rejected for good. Do not redeliver.
	Ack Disposition = iota
	// Nak: transient failure. Redeliver later.
	Nak
	// Term: the message can never be processed (bad signature, broken
	// derivation). Stop redelivery and keep it visible to operators.
	Term
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	case Term:
		return "term"
	default:
		return "unknown"
	}
}

// Classify maps a settlement error to a disposition.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return Ack
	case errors.Is(err, domain.ErrUnauthorized), settlement.IsFatal(err):
		return Term
	case settlement.IsRejection(err):
		return Ack
	default:
		// Conflicts, held locks and infrastructure errors.
		return Nak
	}
}

// Processor authenticates envelopes and hands them to the Settler.
type Processor struct {
	settler  Settler
	verifier *crypto.Verifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewProcessor creates a Processor. With a nil or empty verifier every
// envelope is accepted unsigned.
func NewProcessor(settler Settler, verifier *crypto.Verifier, m *metrics.Metrics, logger *slog.Logger) *Processor {
	return &Processor{
		settler:  settler,
		verifier: verifier,
		metrics:  m,
		logger:   logger.With(slog.String("component", "relay")),
	}
}

// RequiresSignature reports whether envelopes must carry a trusted
// attestation.
func (p *Processor) RequiresSignature() bool {
	return p.verifier.Enabled()
}

// Process verifies d when a trusted relay set is configured, then settles
// it.
func (p *Processor) Process(ctx context.Context, d Delivery) (settlement.Receipt, error) {
	if p.verifier.Enabled() {
		signer, err := d.Verify(p.verifier)
		if err != nil {
			return settlement.Receipt{}, err
		}
		p.logger.DebugContext(ctx, "relay: attestation verified",
			slog.String("signer", signer.Hex()),
			slog.String("transfer_id", d.TransferID),
		)
	}
	return p.ProcessTrusted(ctx, d)
}

// ProcessTrusted settles d without checking its signature. Only sources
// that built d themselves from chain data use it.
func (p *Processor) ProcessTrusted(ctx context.Context, d Delivery) (settlement.Receipt, error) {
	sd, err := d.Settlement()
	if err != nil {
		return settlement.Receipt{}, err
	}
	return p.settler.Settle(ctx, sd)
}

// HandleMessage decodes, processes and classifies one raw envelope.
func (p *Processor) HandleMessage(ctx context.Context, source string, data []byte) Disposition {
	d, err := DecodeDelivery(data)
	if err == nil {
		_, err = p.Process(ctx, d)
	}
	disp := Classify(err)
	p.metrics.ObserveDelivery(source, disp.String())
	if err != nil {
		level := slog.LevelWarn
		if disp == Term {
			level = slog.LevelError
		}
		p.logger.Log(ctx, level, "relay: delivery not applied",
			slog.String("source", source),
			slog.String("transfer_id", d.TransferID),
			slog.String("disposition", disp.String()),
			slog.String("kind", settlement.Kind(err)),
			slog.String("error", err.Error()),
		)
	}
	return disp
}
