package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig describes the delivery stream and the durable consumer.
type NATSConfig struct {
	URL        string
	Stream     string
	Subject    string // wildcard the stream captures, e.g. xbet.deliveries.>
	Durable    string
	AckWait    time.Duration
	MaxDeliver int
	NakDelay   time.Duration
	MaxAge     time.Duration
}

// DefaultNATSConfig matches the consumer settings the service is tuned for:
// explicit ack, 30s ack wait, five deliveries.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:        nats.DefaultURL,
		Stream:     "XBET_DELIVERIES",
		Subject:    "xbet.deliveries.>",
		Durable:    "xbet-settlement",
		AckWait:    30 * time.Second,
		MaxDeliver: 5,
		NakDelay:   2 * time.Second,
		MaxAge:     72 * time.Hour,
	}
}

// ConnectNATS dials with unlimited reconnects and returns a JetStream
// handle.
func ConnectNATS(url string, logger *slog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("xbetd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("relay: nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("relay: nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("relay: jetstream: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the delivery stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg NATSConfig) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    cfg.MaxAge,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("relay: ensure stream %s: %w", cfg.Stream, err)
	}
	return nil
}

// DeliverySubject is the subject a delivery for marketID is published on.
func DeliverySubject(cfg NATSConfig, marketID uint64) string {
	base := cfg.Subject
	if n := len(base); n >= 2 && base[n-2:] == ".>" {
		base = base[:n-2]
	}
	return fmt.Sprintf("%s.%d", base, marketID)
}

// PublishDelivery publishes an envelope and waits for the stream ack. The
// transfer id doubles as the JetStream message id so the stream drops
// duplicates inside its dedup window.
func PublishDelivery(ctx context.Context, js jetstream.JetStream, subject string, d Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("relay: marshal delivery: %w", err)
	}
	var opts []jetstream.PublishOpt
	if d.TransferID != "" {
		opts = append(opts, jetstream.WithMsgID(d.TransferID))
	}
	if _, err := js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("relay: publish %s: %w", subject, err)
	}
	return nil
}

// ackable is the part of jetstream.Msg the consumer needs.
type ackable interface {
	Data() []byte
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// NATSSource consumes delivery envelopes from a durable JetStream consumer.
type NATSSource struct {
	js     jetstream.JetStream
	cfg    NATSConfig
	proc   *Processor
	logger *slog.Logger
}

// NewNATSSource creates a NATSSource.
func NewNATSSource(js jetstream.JetStream, cfg NATSConfig, proc *Processor, logger *slog.Logger) *NATSSource {
	return &NATSSource{
		js:     js,
		cfg:    cfg,
		proc:   proc,
		logger: logger.With(slog.String("component", "relay_nats")),
	}
}

// Name identifies the source in metrics and logs.
func (s *NATSSource) Name() string { return "nats" }

// Run consumes until ctx is done.
func (s *NATSSource) Run(ctx context.Context) error {
	if err := EnsureStream(ctx, s.js, s.cfg); err != nil {
		return err
	}
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       s.cfg.Durable,
		FilterSubject: s.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.cfg.AckWait,
		MaxDeliver:    s.cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("relay: create consumer %s: %w", s.cfg.Durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.dispatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("relay: consume %s: %w", s.cfg.Durable, err)
	}
	s.logger.InfoContext(ctx, "relay: consuming deliveries",
		slog.String("stream", s.cfg.Stream),
		slog.String("subject", s.cfg.Subject),
		slog.String("durable", s.cfg.Durable),
	)

	<-ctx.Done()
	cc.Stop()
	s.logger.Info("relay: nats consumer stopped")
	return nil
}

func (s *NATSSource) dispatch(ctx context.Context, msg ackable) {
	if ctx.Err() != nil {
		_ = msg.NakWithDelay(s.cfg.NakDelay)
		return
	}

	var err error
	switch s.proc.HandleMessage(ctx, s.Name(), msg.Data()) {
	case Ack:
		err = msg.Ack()
	case Nak:
		err = msg.NakWithDelay(s.cfg.NakDelay)
	case Term:
		err = msg.Term()
	}
	if err != nil {
		s.logger.WarnContext(ctx, "relay: ack failed", slog.String("error", err.Error()))
	}
}
