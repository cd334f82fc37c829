package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_PORT", "TURNGATE_MODE", "ORACLE_TIMEOUT_MS", "ACCESS_RESOLVER_MODE", "TURN_HISTORY_WINDOW"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.False(t, cfg.Mock)
	assert.Equal(t, 30*time.Second, cfg.OracleTimeout)
	assert.Equal(t, "oracle", cfg.AccessResolverMode)
	assert.Equal(t, 10, cfg.HistoryWindow)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("TURNGATE_MODE", "MOCK")
	t.Setenv("ORACLE_TIMEOUT_MS", "1500")
	t.Setenv("ACCESS_RESOLVER_MODE", "local")
	t.Setenv("TURN_CONCURRENCY", "not-a-number")
	t.Setenv("RPC_ADDR", ":9091")

	cfg := Load()
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.True(t, cfg.Mock)
	assert.Equal(t, 1500*time.Millisecond, cfg.OracleTimeout)
	assert.Equal(t, "local", cfg.AccessResolverMode)
	assert.Equal(t, 4, cfg.TurnConcurrency)
	assert.Equal(t, ":9091", cfg.RPCAddr)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
