package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over the defaults, loads .env if present
// and applies XBET_* environment overrides. An empty path skips the file.
// The result is not validated; callers run Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose XBET_* variable is set and
// non-empty.
func applyEnvOverrides(cfg *Config) {
	// ── Program / ledger ──
	setStr(&cfg.Program.ID, "XBET_PROGRAM_ID")
	setStr(&cfg.Ledger.Store, "XBET_LEDGER_STORE")
	setDuration(&cfg.Ledger.LockTTL, "XBET_LEDGER_LOCK_TTL")
	setDuration(&cfg.Ledger.LockWait, "XBET_LEDGER_LOCK_WAIT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "XBET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "XBET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "XBET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "XBET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "XBET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "XBET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "XBET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "XBET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "XBET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "XBET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "XBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "XBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "XBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "XBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "XBET_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "XBET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "XBET_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "XBET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "XBET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "XBET_S3_REGION")
	setStr(&cfg.S3.Bucket, "XBET_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "XBET_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "XBET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "XBET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "XBET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "XBET_S3_FORCE_PATH_STYLE")

	// ── NATS ──
	setBool(&cfg.NATS.Enabled, "XBET_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "XBET_NATS_URL")
	setStr(&cfg.NATS.Stream, "XBET_NATS_STREAM")
	setStr(&cfg.NATS.Subject, "XBET_NATS_SUBJECT")
	setStr(&cfg.NATS.Durable, "XBET_NATS_DURABLE")
	setInt(&cfg.NATS.MaxDeliver, "XBET_NATS_MAX_DELIVER")

	// ── EVM ──
	setBool(&cfg.EVM.Enabled, "XBET_EVM_ENABLED")
	setStr(&cfg.EVM.RPCURL, "XBET_EVM_RPC_URL")
	setStr(&cfg.EVM.Adapter, "XBET_EVM_ADAPTER")
	setUint64(&cfg.EVM.StartBlock, "XBET_EVM_START_BLOCK")
	setUint64(&cfg.EVM.Confirmations, "XBET_EVM_CONFIRMATIONS")
	setDuration(&cfg.EVM.PollInterval, "XBET_EVM_POLL_INTERVAL")

	// ── Relay ──
	setStr(&cfg.Relay.SigningKey, "XBET_RELAY_SIGNING_KEY")
	setStr(&cfg.Relay.KeyFile, "XBET_RELAY_KEY_FILE")
	setStr(&cfg.Relay.KeyPassword, "XBET_RELAY_KEY_PASSWORD")
	setStringSlice(&cfg.Relay.TrustedSigners, "XBET_RELAY_TRUSTED_SIGNERS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "XBET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "XBET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "XBET_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "XBET_SERVER_API_KEYS")
	setInt(&cfg.Server.RateLimit, "XBET_SERVER_RATE_LIMIT")

	// ── Snapshot ──
	setBool(&cfg.Snapshot.Enabled, "XBET_SNAPSHOT_ENABLED")
	setDuration(&cfg.Snapshot.Interval, "XBET_SNAPSHOT_INTERVAL")
	setInt(&cfg.Snapshot.Retain, "XBET_SNAPSHOT_RETAIN")

	// ── Notify ──
	setStr(&cfg.Notify.WebhookURL, "XBET_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "XBET_NOTIFY_WEBHOOK_SECRET")
	setStr(&cfg.Notify.DiscordWebhookURL, "XBET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.TelegramToken, "XBET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "XBET_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "XBET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "XBET_MODE")
	setStr(&cfg.LogLevel, "XBET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
