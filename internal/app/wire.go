package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/nats-io/nats.go/jetstream"

	s3blob "github.com/mohtashimnawaz/cross-chain-prediction/internal/blob/s3"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/cache/redis"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/config"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/crypto"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/metrics"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/notify"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/relay"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/server/handler"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/store/memory"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional collaborators are nil when not configured.
type Dependencies struct {
	ProgramID domain.PublicKey

	// Stores
	Accounts domain.AccountStore
	Audit    domain.AuditStore

	// Caches and coordination
	MarketCache domain.MarketCache
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	Checkpoint  relay.Checkpoint

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Relay transports
	JetStream jetstream.JetStream
	Chain     relay.ChainReader

	// Attestor is the local relay identity; nil without relay.signing_key
	// or relay.key_file.
	Attestor *crypto.Attestor
	Verifier *crypto.Verifier
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Probes are the readiness checks reported by /api/health.
	Probes []handler.Probe
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	programID, err := cfg.ProgramID()
	if err != nil {
		return fail(fmt.Errorf("wire: program id: %w", err))
	}
	deps := &Dependencies{ProgramID: programID, Metrics: metrics.New()}

	// --- Account arena ---
	switch cfg.Ledger.Store {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Probes = append(deps.Probes, handler.Probe{Name: "postgres", Check: pgClient.Ping})
		pool := pgClient.Pool()
		deps.Accounts = postgres.NewAccountStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	default:
		logger.WarnContext(ctx, "wire: using in-memory ledger; records are lost on restart")
		deps.Accounts = memory.NewAccountStore()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Probes = append(deps.Probes, handler.Probe{Name: "redis", Check: redisClient.Ping})

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checkpoint = redis.NewCheckpoint(redisClient, "evm")
	} else {
		deps.SignalBus = memory.NewSignalBus(0)
		if cfg.Server.RateLimit > 0 && cfg.RunsServer() {
			logger.WarnContext(ctx, "wire: server.rate_limit needs redis; settlements are not rate limited")
		}
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		logger.InfoContext(ctx, "wire: s3 configured", slog.String("bucket", s3Client.Bucket()))
		deps.Probes = append(deps.Probes, handler.Probe{Name: "s3", Check: s3Client.Health})
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
	}

	// --- Relay transports (only for modes that consume deliveries) ---
	if cfg.RunsRelay() && cfg.NATS.Enabled {
		nc, js, err := relay.ConnectNATS(cfg.NATS.URL, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: nats: %w", err))
		}
		closers = append(closers, func() { _ = nc.Drain() })
		deps.JetStream = js
	}
	if cfg.RunsRelay() && cfg.EVM.Enabled {
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		client, err := ethclient.DialContext(dialCtx, cfg.EVM.RPCURL)
		cancel()
		if err != nil {
			return fail(fmt.Errorf("wire: evm rpc: %w", err))
		}
		closers = append(closers, client.Close)
		deps.Chain = client
	}

	// --- Relay attestations ---
	deps.Verifier, err = crypto.NewVerifier(cfg.Relay.TrustedSigners)
	if err != nil {
		return fail(fmt.Errorf("wire: trusted signers: %w", err))
	}
	if !deps.Verifier.Enabled() {
		logger.WarnContext(ctx, "wire: relay.trusted_signers is empty; delivery signatures are not checked")
	}
	if src := crypto.KeySourceFrom(cfg.Relay); src.Configured() {
		deps.Attestor, err = crypto.LoadAttestor(src)
		if err != nil {
			return fail(fmt.Errorf("wire: relay key: %w", err))
		}
		addr := deps.Attestor.Address()
		logger.InfoContext(ctx, "wire: relay key loaded", slog.String("address", addr.Hex()))
		if deps.Verifier.Enabled() && !deps.Verifier.Trusts(addr) {
			logger.WarnContext(ctx, "wire: relay key is not in relay.trusted_signers; its own deliveries will be rejected",
				slog.String("address", addr.Hex()))
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
