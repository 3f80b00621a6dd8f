package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
chain:
  endpoints:
    - url: https://rpc-a.example
    - url: https://rpc-b.example
      requests_per_second: 5
pools:
  - address: "0x0000000000000000000000000000000000000abc"
    name: WETH-USDC
    version: v2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Chain.Endpoints, 2)
	assert.Equal(t, "https://rpc-a.example", cfg.Chain.Endpoints[0].URL)
	assert.Equal(t, 5.0, cfg.Chain.Endpoints[1].RequestsPerSecond)
	assert.Equal(t, uint64(2000), cfg.Chain.MaxBlockRange)
	assert.Equal(t, 15*time.Second, cfg.Chain.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Poller.Interval)
	assert.Equal(t, time.Hour, cfg.Reconciler.Granularity)
	assert.Contains(t, cfg.Chain.RateLimitMarkers, "limit exceeded")
	assert.Equal(t, []string{"traded_at", "timestamp", "created_at"}, cfg.Database.TradeTimeColumns)

	require.Len(t, cfg.Pools, 1)
	assert.Equal(t, 18, cfg.Pools[0].TokenDecimals())
	assert.NoError(t, cfg.Pools[0].Validate())
}

func TestLoadMergesPoolsFile(t *testing.T) {
	poolsPath := writeFile(t, "pools.yaml", `
pools:
  - address: "0x0000000000000000000000000000000000000def"
    name: WETH-USDC-500
    version: v3
    usd_token: 1
    usd_decimals: 6
`)
	path := writeFile(t, "config.yaml", `
pools_file: `+poolsPath+`
chain:
  endpoints:
    - url: https://rpc-a.example
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Pools, 1)

	pool := cfg.Pools[0]
	require.NotNil(t, pool.USDToken)
	assert.Equal(t, 1, *pool.USDToken)
	assert.Equal(t, 6, pool.StableDecimals())
	assert.NoError(t, pool.Validate())
}

func TestLoadRequiresEndpoints(t *testing.T) {
	path := writeFile(t, "config.yaml", "logging:\n  level: debug\n")

	_, err := Load(path)
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "chain.endpoints", cfgErr.Field)
}

func TestPoolValidate(t *testing.T) {
	one, two := 1, 2
	tests := []struct {
		name    string
		pool    PoolConfig
		wantErr string
	}{
		{"v2 ok", PoolConfig{Address: "0x0000000000000000000000000000000000000001", Version: "v2"}, ""},
		{"v3 upper case ok", PoolConfig{Address: "0x0000000000000000000000000000000000000001", Version: "V3"}, ""},
		{"unknown version", PoolConfig{Address: "0x0000000000000000000000000000000000000001", Version: "v4"}, "version"},
		{"bad address", PoolConfig{Address: "0x123", Version: "v2"}, "address"},
		{"usd token on v2", PoolConfig{Address: "0x0000000000000000000000000000000000000001", Version: "v2", USDToken: &one}, "usd_token"},
		{"usd token out of range", PoolConfig{Address: "0x0000000000000000000000000000000000000001", Version: "v3", USDToken: &two}, "usd_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pool.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.wantErr, cfgErr.Field)
		})
	}
}

func TestConnectionString(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5432, Name: "lp", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/lp?sslmode=disable", cfg.ConnectionString())
}
