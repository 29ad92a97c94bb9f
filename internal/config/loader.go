package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies STAKEPOOL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known STAKEPOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Pool ──
	setStr(&cfg.Pool.PrincipalAsset, "STAKEPOOL_POOL_PRINCIPAL_ASSET")
	setStr(&cfg.Pool.RewardAsset, "STAKEPOOL_POOL_REWARD_ASSET")
	setStr(&cfg.Pool.InitialRate, "STAKEPOOL_POOL_INITIAL_RATE")
	setStringSlice(&cfg.Pool.Admins, "STAKEPOOL_POOL_ADMINS")
	setDuration(&cfg.Pool.FlushInterval, "STAKEPOOL_POOL_FLUSH_INTERVAL")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "STAKEPOOL_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "STAKEPOOL_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "STAKEPOOL_OPERATOR_KEY_PASSWORD")

	// ── Chain ──
	setBool(&cfg.Chain.Enabled, "STAKEPOOL_CHAIN_ENABLED")
	setStr(&cfg.Chain.RPCURL, "STAKEPOOL_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "STAKEPOOL_CHAIN_CHAIN_ID")
	setUint64(&cfg.Chain.GasLimit, "STAKEPOOL_CHAIN_GAS_LIMIT")
	setDuration(&cfg.Chain.CallTimeout, "STAKEPOOL_CHAIN_CALL_TIMEOUT")
	setDuration(&cfg.Chain.ReceiptInterval, "STAKEPOOL_CHAIN_RECEIPT_INTERVAL")
	setDuration(&cfg.Chain.ReceiptTimeout, "STAKEPOOL_CHAIN_RECEIPT_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "STAKEPOOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "STAKEPOOL_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "STAKEPOOL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "STAKEPOOL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "STAKEPOOL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "STAKEPOOL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "STAKEPOOL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "STAKEPOOL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "STAKEPOOL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "STAKEPOOL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STAKEPOOL_POSTGRES_RUN_MIGRATIONS")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "STAKEPOOL_SQLITE_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "STAKEPOOL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "STAKEPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STAKEPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STAKEPOOL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STAKEPOOL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STAKEPOOL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STAKEPOOL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "STAKEPOOL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "STAKEPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STAKEPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "STAKEPOOL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STAKEPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STAKEPOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STAKEPOOL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STAKEPOOL_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "STAKEPOOL_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "STAKEPOOL_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "STAKEPOOL_ARCHIVE_CRON")
	setInt(&cfg.Archive.BatchSize, "STAKEPOOL_ARCHIVE_BATCH_SIZE")

	// ── Monitor ──
	setBool(&cfg.Monitor.Enabled, "STAKEPOOL_MONITOR_ENABLED")
	setDuration(&cfg.Monitor.Interval, "STAKEPOOL_MONITOR_INTERVAL")
	setInt(&cfg.Monitor.HorizonDays, "STAKEPOOL_MONITOR_HORIZON_DAYS")
	setInt(&cfg.Monitor.MinCoveragePct, "STAKEPOOL_MONITOR_MIN_COVERAGE_PCT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "STAKEPOOL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "STAKEPOOL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "STAKEPOOL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "STAKEPOOL_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "STAKEPOOL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "STAKEPOOL_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STAKEPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STAKEPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STAKEPOOL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STAKEPOOL_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "STAKEPOOL_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "STAKEPOOL_MODE")
	setStr(&cfg.LogLevel, "STAKEPOOL_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
