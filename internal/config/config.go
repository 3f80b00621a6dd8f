package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	PoolVersionV2 = "v2"
	PoolVersionV3 = "v3"

	DefaultDecimals = 18
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Poller     PollerConfig     `mapstructure:"poller"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Pools      []PoolConfig     `mapstructure:"pools"`
	PoolsFile  string           `mapstructure:"pools_file"`
}

type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type ChainConfig struct {
	Name               string           `mapstructure:"name"`
	Endpoints          []EndpointConfig `mapstructure:"endpoints"`
	RequestTimeout     time.Duration    `mapstructure:"request_timeout"`
	MaxBlockRange      uint64           `mapstructure:"max_block_range"`
	RateLimitCooldown  time.Duration    `mapstructure:"rate_limit_cooldown"`
	RateLimitMarkers   []string         `mapstructure:"rate_limit_markers"`
	BlockTimeCacheSize int              `mapstructure:"block_time_cache_size"`
}

// EndpointConfig describes one RPC node. Endpoints are tried in the order listed.
type EndpointConfig struct {
	URL               string  `mapstructure:"url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	MaxConcurrent     int64   `mapstructure:"max_concurrent"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int32  `mapstructure:"max_connections"`
	// TradeTimeColumns lists candidate timestamp columns of the trades table, first match wins.
	TradeTimeColumns []string `mapstructure:"trade_time_columns"`
}

type PollerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	WindowBlocks  uint64        `mapstructure:"window_blocks"`
	OverlapBlocks uint64        `mapstructure:"overlap_blocks"`
	StartBlock    uint64        `mapstructure:"start_block"`
}

type ReconcilerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Interval          time.Duration `mapstructure:"interval"`
	Granularity       time.Duration `mapstructure:"granularity"`
	Lookback          time.Duration `mapstructure:"lookback"`
	BackfillBatchSize int           `mapstructure:"backfill_batch_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PoolConfig is a watched pool. USDToken, when set, names the pool side (0 or 1)
// holding a USD stable coin; swaps on such pools are also recorded as trades.
type PoolConfig struct {
	Address     string        `mapstructure:"address" yaml:"address"`
	Name        string        `mapstructure:"name" yaml:"name"`
	Version     string        `mapstructure:"version" yaml:"version"`
	Decimals    int           `mapstructure:"decimals" yaml:"decimals"`
	USDToken    *int          `mapstructure:"usd_token" yaml:"usd_token"`
	USDDecimals int           `mapstructure:"usd_decimals" yaml:"usd_decimals"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
}

// ConfigurationError reports an invalid setting. It is fatal for the pool it
// belongs to, or for the process when Pool is empty.
type ConfigurationError struct {
	Pool   string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Pool == "" {
		return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid configuration for pool %s: %s: %s", e.Pool, e.Field, e.Reason)
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("LPWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.PoolsFile != "" {
		pools, err := LoadPoolsFile(config.PoolsFile)
		if err != nil {
			return nil, err
		}
		config.Pools = append(config.Pools, pools...)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("chain.name", "ethereum")
	v.SetDefault("chain.request_timeout", "15s")
	v.SetDefault("chain.max_block_range", 2000)
	v.SetDefault("chain.rate_limit_cooldown", "30s")
	v.SetDefault("chain.rate_limit_markers", []string{"limit exceeded", "rate limit", "too many requests", "429"})
	v.SetDefault("chain.block_time_cache_size", 4096)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.trade_time_columns", []string{"traded_at", "timestamp", "created_at"})
	v.SetDefault("poller.interval", "30s")
	v.SetDefault("poller.window_blocks", 10000)
	v.SetDefault("poller.overlap_blocks", 20)
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", "5m")
	v.SetDefault("reconciler.granularity", "1h")
	v.SetDefault("reconciler.lookback", "48h")
	v.SetDefault("reconciler.backfill_batch_size", 500)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// LoadPoolsFile reads an additional list of pools from a standalone YAML file.
func LoadPoolsFile(path string) ([]PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pools file: %w", err)
	}

	var doc struct {
		Pools []PoolConfig `yaml:"pools"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse pools file %s: %w", path, err)
	}
	return doc.Pools, nil
}

// Validate checks process-wide settings. Pool entries are validated one by one
// by the scheduler so a bad pool does not take the others down.
func (c *Config) Validate() error {
	if len(c.Chain.Endpoints) == 0 {
		return &ConfigurationError{Field: "chain.endpoints", Reason: "at least one endpoint is required"}
	}
	for i, ep := range c.Chain.Endpoints {
		if ep.URL == "" {
			return &ConfigurationError{Field: fmt.Sprintf("chain.endpoints[%d].url", i), Reason: "must not be empty"}
		}
	}
	if c.Chain.MaxBlockRange == 0 {
		return &ConfigurationError{Field: "chain.max_block_range", Reason: "must be positive"}
	}
	if c.Reconciler.Enabled && c.Reconciler.Granularity <= 0 {
		return &ConfigurationError{Field: "reconciler.granularity", Reason: "must be positive"}
	}
	return nil
}

func (p PoolConfig) Validate() error {
	if !common.IsHexAddress(p.Address) {
		return &ConfigurationError{Pool: p.Label(), Field: "address", Reason: fmt.Sprintf("%q is not a hex address", p.Address)}
	}
	switch strings.ToLower(p.Version) {
	case PoolVersionV2, PoolVersionV3:
	default:
		return &ConfigurationError{Pool: p.Label(), Field: "version", Reason: fmt.Sprintf("unknown pool version %q", p.Version)}
	}
	if p.USDToken != nil {
		if p.NormalizedVersion() != PoolVersionV3 {
			return &ConfigurationError{Pool: p.Label(), Field: "usd_token", Reason: "only supported on v3 pools"}
		}
		if *p.USDToken != 0 && *p.USDToken != 1 {
			return &ConfigurationError{Pool: p.Label(), Field: "usd_token", Reason: "must be 0 or 1"}
		}
	}
	return nil
}

func (p PoolConfig) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Address
}

func (p PoolConfig) NormalizedVersion() string {
	return strings.ToLower(p.Version)
}

func (p PoolConfig) TokenDecimals() int {
	if p.Decimals <= 0 {
		return DefaultDecimals
	}
	return p.Decimals
}

func (p PoolConfig) StableDecimals() int {
	if p.USDDecimals <= 0 {
		return DefaultDecimals
	}
	return p.USDDecimals
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}
