package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, DefaultSymbols, cfg.Symbols)
	assert.Equal(t, 9000.0, cfg.InitialBalance)
	assert.Equal(t, 60000.0, cfg.InitialPrice)
	assert.Equal(t, 1000, cfg.TickIntervalMs)
	assert.Equal(t, 60, cfg.ScanIntervalSec)
	assert.Equal(t, 2500, cfg.Feed.TimeoutMs)
	assert.Equal(t, 0.0008, cfg.Feed.Volatility)
	assert.Equal(t, "kucoin", cfg.Feed.Provider)
	assert.Equal(t, "badger", cfg.Persistence.Backend)
	assert.Equal(t, "paper/positions", cfg.Persistence.Root)
	assert.Equal(t, 64, cfg.Server.StreamQueueSize)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"symbol": "ethusdt",
		"initial_balance": 1000,
		"feed": {"provider": "none", "seed_prices": {"ETHUSDT": 3000}},
		"persistence": {"backend": "memory"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("PAPERSIM_SCAN_INTERVAL_SEC", "5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, 1000.0, cfg.InitialBalance)
	assert.Equal(t, "none", cfg.Feed.Provider)
	assert.Equal(t, 3000.0, cfg.Feed.SeedPrices["ETHUSDT"])
	assert.Equal(t, "memory", cfg.Persistence.Backend)
	assert.Equal(t, 5, cfg.ScanIntervalSec)
}

func TestLoadConfigPortEnv(t *testing.T) {
	t.Setenv("PORT", "8081")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Server.Addr)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"symbol":"DOGEUSDT"}`), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow-list")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidateProvider(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	cfg.Feed.Provider = "bitstamp"
	assert.Error(t, Validate(cfg))

	cfg.Feed.Provider = "binance"
	cfg.Persistence.Backend = "mongo"
	assert.Error(t, Validate(cfg))
}
