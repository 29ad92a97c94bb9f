package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Pool.Admins = []string{"0xadmin"}
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("defaults plus an admin pass", func(t *testing.T) {
		cfg := validConfig()
		require.NoError(t, cfg.Validate())
	})

	t.Run("rejects unknown mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mode = "turbo"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown mode")
	})

	t.Run("requires an admin", func(t *testing.T) {
		cfg := validConfig()
		cfg.Pool.Admins = nil
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "admin")
	})

	t.Run("rejects a malformed rate", func(t *testing.T) {
		cfg := validConfig()
		cfg.Pool.InitialRate = "0.10"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "initial_rate")
	})

	t.Run("rejects a negative rate", func(t *testing.T) {
		cfg := validConfig()
		cfg.Pool.InitialRate = "-5"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "negative")
	})

	t.Run("chain mode demands hex assets and a key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Chain.Enabled = true
		cfg.Chain.RPCURL = "https://rpc.example.org"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "operator")
		assert.Contains(t, err.Error(), "contract address")
	})

	t.Run("archive requires s3", func(t *testing.T) {
		cfg := validConfig()
		cfg.Archive.Enabled = true
		cfg.S3.Enabled = false
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "requires s3")
	})

	t.Run("collects every problem at once", func(t *testing.T) {
		cfg := validConfig()
		cfg.Mode = "bogus"
		cfg.LogLevel = "chatty"
		cfg.Pool.PrincipalAsset = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown mode")
		assert.Contains(t, err.Error(), "log_level")
		assert.Contains(t, err.Error(), "principal_asset")
	})
}

func TestInitialRateBig(t *testing.T) {
	cfg := validConfig()
	cfg.Pool.InitialRate = "100000000000000000"
	assert.Equal(t, "100000000000000000", cfg.InitialRateBig().String())

	cfg.Pool.InitialRate = "garbage"
	assert.Equal(t, "0", cfg.InitialRateBig().String())
}

func TestIsAdmin(t *testing.T) {
	cfg := validConfig()
	cfg.Pool.Admins = []string{"0xAbCd", "ops"}
	assert.True(t, cfg.IsAdmin("0xabcd"), "case-insensitive match")
	assert.True(t, cfg.IsAdmin("ops"))
	assert.False(t, cfg.IsAdmin("0xother"))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STAKEPOOL_MODE", "serve")
	t.Setenv("STAKEPOOL_POOL_ADMINS", "0xa, 0xb")
	t.Setenv("STAKEPOOL_SERVER_PORT", "9100")
	t.Setenv("STAKEPOOL_REDIS_ENABLED", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, []string{"0xa", "0xb"}, cfg.Pool.Admins)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.False(t, cfg.Redis.Enabled)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Operator.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "sekrit"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Operator.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "deadbeef", cfg.Operator.PrivateKey, "original untouched")
}
