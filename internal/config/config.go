// Package config defines the top-level configuration for the staking pool
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by STAKEPOOL_* environment variables.
type Config struct {
	Pool     PoolConfig     `toml:"pool"`
	Operator OperatorConfig `toml:"operator"`
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PoolConfig identifies the two assets the pool deals in and the accrual
// parameters applied at boot.
type PoolConfig struct {
	// PrincipalAsset and RewardAsset identify the external asset ledgers.
	// With the chain adapter enabled these are ERC-20 contract addresses;
	// in paper mode any non-empty symbol works.
	PrincipalAsset string `toml:"principal_asset"`
	RewardAsset    string `toml:"reward_asset"`
	// InitialRate is the annual rate as a base-10 integer scaled by 1e18
	// ("100000000000000000" is 10% per year). Ignored once a pool record
	// exists in the store; the persisted rate wins.
	InitialRate string `toml:"initial_rate"`
	// Admins lists the caller identities allowed to change the rate, fund
	// the reward reserve, and sweep stray assets.
	Admins        []string `toml:"admins"`
	FlushInterval duration `toml:"flush_interval"`
}

// OperatorConfig holds the key that signs outgoing chain transactions.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds EVM connectivity for the on-chain asset ledgers.
type ChainConfig struct {
	Enabled         bool     `toml:"enabled"`
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	GasLimit        uint64   `toml:"gas_limit"`
	CallTimeout     duration `toml:"call_timeout"`
	ReceiptInterval duration `toml:"receipt_interval"`
	ReceiptTimeout  duration `toml:"receipt_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the file-backed store used in paper mode.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls cold-storage archival of old ledger events.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	// Cron uses six fields (seconds first), e.g. "0 0 3 1 * *" for 03:00
	// on the first of every month.
	Cron      string `toml:"cron"`
	BatchSize int    `toml:"batch_size"`
}

// MonitorConfig controls the reward reserve coverage monitor.
type MonitorConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	// HorizonDays is how far ahead projected reward liability is computed.
	HorizonDays int `toml:"horizon_days"`
	// MinCoveragePct alerts when reserve / projected liability drops below
	// this percentage.
	MinCoveragePct int `toml:"min_coverage_pct"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit caps mutating requests per caller per RateWindow; zero
	// disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// Cooldown is the minimum gap between two notifications of the same
	// event type. Zero disables throttling.
	Cooldown duration `toml:"cooldown"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Pool: PoolConfig{
			PrincipalAsset: "STK",
			RewardAsset:    "RWD",
			InitialRate:    "0",
			FlushInterval:  duration{30 * time.Second},
		},
		Chain: ChainConfig{
			Enabled:         false,
			ChainID:         1,
			GasLimit:        120_000,
			CallTimeout:     duration{10 * time.Second},
			ReceiptInterval: duration{2 * time.Second},
			ReceiptTimeout:  duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "stakepool",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "stakepool.db",
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "stakepool-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 0 3 1 * *",
			BatchSize:     5000,
		},
		Monitor: MonitorConfig{
			Enabled:        true,
			Interval:       duration{5 * time.Minute},
			HorizonDays:    30,
			MinCoveragePct: 120,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"rate_change", "reserve_deposit", "reserve_low", "persist_failure", "error"},
			Cooldown: duration{time.Minute},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"paper": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, paper)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Pool
	if c.Pool.PrincipalAsset == "" {
		errs = append(errs, "pool: principal_asset must not be empty")
	}
	if c.Pool.RewardAsset == "" {
		errs = append(errs, "pool: reward_asset must not be empty")
	}
	if _, ok := new(big.Int).SetString(c.Pool.InitialRate, 10); !ok {
		errs = append(errs, fmt.Sprintf("pool: initial_rate %q is not a base-10 integer", c.Pool.InitialRate))
	} else if strings.HasPrefix(strings.TrimSpace(c.Pool.InitialRate), "-") {
		errs = append(errs, "pool: initial_rate must not be negative")
	}
	if len(c.Pool.Admins) == 0 {
		errs = append(errs, "pool: at least one admin must be configured")
	}
	if c.Pool.FlushInterval.Duration <= 0 {
		errs = append(errs, "pool: flush_interval must be positive")
	}

	// Chain — the operator key is only needed when the chain adapter is on.
	if c.Chain.Enabled {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty when chain is enabled")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
			errs = append(errs, "operator: either private_key or encrypted_key_path must be set when chain is enabled")
		}
		if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
			errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
		}
		if !strings.HasPrefix(c.Pool.PrincipalAsset, "0x") {
			errs = append(errs, "pool: principal_asset must be a 0x contract address when chain is enabled")
		}
		if !strings.HasPrefix(c.Pool.RewardAsset, "0x") {
			errs = append(errs, "pool: reward_asset must be a 0x contract address when chain is enabled")
		}
	}

	// Postgres — required in serve mode.
	if strings.ToLower(c.Mode) == "serve" {
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// SQLite — required in paper mode.
	if strings.ToLower(c.Mode) == "paper" && c.SQLite.Path == "" {
		errs = append(errs, "sqlite: path must not be empty in paper mode")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3 to be enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty when enabled")
		}
		if c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: batch_size must be >= 1")
		}
	}

	// Monitor
	if c.Monitor.Enabled {
		if c.Monitor.Interval.Duration <= 0 {
			errs = append(errs, "monitor: interval must be positive")
		}
		if c.Monitor.HorizonDays < 1 {
			errs = append(errs, "monitor: horizon_days must be >= 1")
		}
		if c.Monitor.MinCoveragePct < 1 {
			errs = append(errs, "monitor: min_coverage_pct must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis to be enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// InitialRateBig returns the parsed initial annual rate. Call Validate first;
// an unparseable value returns zero.
func (c *Config) InitialRateBig() *big.Int {
	r, ok := new(big.Int).SetString(c.Pool.InitialRate, 10)
	if !ok || r.Sign() < 0 {
		return new(big.Int)
	}
	return r
}

// IsAdmin reports whether caller is in the configured admin list.
func (c *Config) IsAdmin(caller string) bool {
	for _, a := range c.Pool.Admins {
		if strings.EqualFold(a, caller) {
			return true
		}
	}
	return false
}
