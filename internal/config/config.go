// Package config defines the service configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by XBET_* environment variables.
type Config struct {
	Program  ProgramConfig  `toml:"program"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	NATS     NATSConfig     `toml:"nats"`
	EVM      EVMConfig      `toml:"evm"`
	Relay    RelayConfig    `toml:"relay"`
	Server   ServerConfig   `toml:"server"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ProgramConfig identifies the destination program addresses derive under.
type ProgramConfig struct {
	ID string `toml:"id"`
}

// LedgerConfig selects the account arena backend and the per-market lock
// timings.
type LedgerConfig struct {
	Store    string   `toml:"store"` // memory | postgres
	LockTTL  duration `toml:"lock_ttl"`
	LockWait duration `toml:"lock_wait"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	MarketTTL  duration `toml:"market_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NATSConfig holds the JetStream delivery consumer parameters.
type NATSConfig struct {
	Enabled    bool     `toml:"enabled"`
	URL        string   `toml:"url"`
	Stream     string   `toml:"stream"`
	Subject    string   `toml:"subject"`
	Durable    string   `toml:"durable"`
	AckWait    duration `toml:"ack_wait"`
	MaxDeliver int      `toml:"max_deliver"`
	NakDelay   duration `toml:"nak_delay"`
}

// EVMConfig holds the origin-chain watcher parameters.
type EVMConfig struct {
	Enabled       bool     `toml:"enabled"`
	RPCURL        string   `toml:"rpc_url"`
	Adapter       string   `toml:"adapter"`
	StartBlock    uint64   `toml:"start_block"`
	Confirmations uint64   `toml:"confirmations"`
	PollInterval  duration `toml:"poll_interval"`
	BatchSize     uint64   `toml:"batch_size"`
}

// RelayConfig holds the local relay signing key (loaded by app.Wire and by
// composegen -sign) and the set of relays whose attestations are trusted.
type RelayConfig struct {
	SigningKey     string   `toml:"signing_key"`
	KeyFile        string   `toml:"key_file"`
	KeyPassword    string   `toml:"key_password"`
	TrustedSigners []string `toml:"trusted_signers"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKeys     []string `toml:"api_keys"`
	// RateLimit is the number of settlement POSTs per client per minute.
	// Zero disables limiting.
	RateLimit int `toml:"rate_limit"`
}

// SnapshotConfig holds the periodic snapshot export parameters.
type SnapshotConfig struct {
	Enabled    bool     `toml:"enabled"`
	Interval   duration `toml:"interval"`
	Retain     int      `toml:"retain"`
	PartSizeMB int      `toml:"part_size_mb"`
}

// NotifyConfig holds operator notification channels.
type NotifyConfig struct {
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	Events            []string `toml:"events"`
}

// duration is a time.Duration that decodes from TOML strings like "5m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs a single in-memory node serving the
// HTTP API.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			Store:    "memory",
			LockTTL:  duration{10 * time.Second},
			LockWait: duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "xbet",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "xbet",
			MarketTTL:  duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "xbet-snapshots",
			ForcePathStyle: true,
		},
		NATS: NATSConfig{
			URL:        "nats://127.0.0.1:4222",
			Stream:     "XBET_DELIVERIES",
			Subject:    "xbet.deliveries.>",
			Durable:    "xbet-settlement",
			AckWait:    duration{30 * time.Second},
			MaxDeliver: 5,
			NakDelay:   duration{2 * time.Second},
		},
		EVM: EVMConfig{
			Confirmations: 2,
			PollInterval:  duration{5 * time.Second},
			BatchSize:     2000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Snapshot: SnapshotConfig{
			Interval:   duration{time.Hour},
			Retain:     48,
			PartSizeMB: 8,
		},
		Notify: NotifyConfig{
			Events: []string{"settlement.rejected", "settlement.fatal", "market.initialized"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"relay":  true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStores = map[string]bool{
	"memory":   true,
	"postgres": true,
}

// ProgramID parses Program.ID.
func (c *Config) ProgramID() (domain.PublicKey, error) {
	return domain.ParsePublicKey(c.Program.ID)
}

// RunsServer reports whether the mode serves HTTP.
func (c *Config) RunsServer() bool {
	return c.Mode == "server" || c.Mode == "full"
}

// RunsRelay reports whether the mode consumes deliveries.
func (c *Config) RunsRelay() bool {
	return c.Mode == "relay" || c.Mode == "full"
}

// Validate checks Config and returns one error describing every problem
// found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, relay, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Program
	if _, err := c.ProgramID(); err != nil {
		errs = append(errs, fmt.Sprintf("program: id: %v", err))
	}

	// Ledger
	if !validStores[c.Ledger.Store] {
		errs = append(errs, fmt.Sprintf("ledger: unknown store %q (valid: memory, postgres)", c.Ledger.Store))
	}
	if c.Ledger.LockTTL.Duration <= 0 {
		errs = append(errs, "ledger: lock_ttl must be > 0")
	}
	if c.Ledger.LockWait.Duration < 0 {
		errs = append(errs, "ledger: lock_wait must be >= 0")
	}

	// Postgres
	if c.Ledger.Store == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Snapshot
	if c.Snapshot.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "snapshot: requires s3.enabled")
		}
		if c.Snapshot.Interval.Duration <= 0 {
			errs = append(errs, "snapshot: interval must be > 0")
		}
		if c.Snapshot.Retain < 0 {
			errs = append(errs, "snapshot: retain must be >= 0")
		}
	}

	// Relay sources
	if c.RunsRelay() && !c.NATS.Enabled && !c.EVM.Enabled {
		errs = append(errs, fmt.Sprintf("mode %s: enable nats or evm as a delivery source", c.Mode))
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" || c.NATS.Stream == "" || c.NATS.Subject == "" || c.NATS.Durable == "" {
			errs = append(errs, "nats: url, stream, subject and durable must be set")
		}
		if c.NATS.MaxDeliver < 1 {
			errs = append(errs, "nats: max_deliver must be >= 1")
		}
		if c.NATS.AckWait.Duration <= 0 {
			errs = append(errs, "nats: ack_wait must be > 0")
		}
	}
	if c.EVM.Enabled {
		if c.EVM.RPCURL == "" {
			errs = append(errs, "evm: rpc_url must not be empty")
		}
		if !common.IsHexAddress(c.EVM.Adapter) {
			errs = append(errs, fmt.Sprintf("evm: adapter %q is not an address", c.EVM.Adapter))
		}
		if c.EVM.PollInterval.Duration <= 0 {
			errs = append(errs, "evm: poll_interval must be > 0")
		}
	}

	// Relay keys
	if c.Relay.KeyFile != "" && c.Relay.KeyPassword == "" {
		errs = append(errs, "relay: key_password is required when key_file is set")
	}
	for _, s := range c.Relay.TrustedSigners {
		if !common.IsHexAddress(strings.TrimSpace(s)) {
			errs = append(errs, fmt.Sprintf("relay: trusted signer %q is not an address", s))
		}
	}

	// Server
	if c.RunsServer() && !c.Server.Enabled {
		errs = append(errs, fmt.Sprintf("mode %s: server.enabled must be true", c.Mode))
	}
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
