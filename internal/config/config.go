package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the arbitrageur
type Config struct {
	RPC       RPCConfig
	Relay     RelayConfig
	Evaluator EvaluatorConfig
	Snapshot  SnapshotConfig
	Feed      FeedConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

// RPCConfig holds Ethereum RPC configuration
type RPCConfig struct {
	URL            string
	WSUrl          string
	RetryAttempts  int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// RelayConfig holds bundle relay settings. An empty URL selects dry-run
// submission.
type RelayConfig struct {
	URL               string
	RequestsPerSecond float64
	Burst             int
	Recipient         string
	Deadline          time.Duration
	FailureThreshold  int
	BreakerTimeout    time.Duration
}

// EvaluatorConfig holds path evaluation settings
type EvaluatorConfig struct {
	Threshold          string // arbitrage index that triggers optimization, e.g. "1.05"
	Precision          int32  // decimal digits kept when dividing
	OptimizerPrecision int32
	DefaultFeeNum      uint32
	DefaultFeeDen      uint32
}

// SnapshotConfig holds pool snapshot settings
type SnapshotConfig struct {
	Dir      string
	Format   string // "json" or "yaml"
	Keep     int
	SQLite   string // optional path of a SQLite pool store
	Interval time.Duration
}

// FeedConfig holds reserve feed settings
type FeedConfig struct {
	Pools           []string // pool addresses fetched on chain when no snapshot exists
	DEX             string   // "uniswap_v2" or "uniswap_v3" for fetched pools
	Router          string
	EnableUniswapV2 bool
	EnableUniswapV3 bool
	StreamURL       string // websocket endpoint of pending reserve frames
	ReconnectDelay  time.Duration
	StatsInterval   time.Duration
}

// MetricsConfig holds the prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "console"
}

// Load reads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("rpc.url", "https://eth-mainnet.g.alchemy.com/v2/YOUR_API_KEY")
	v.SetDefault("rpc.ws_url", "")
	v.SetDefault("rpc.retry_attempts", 3)
	v.SetDefault("rpc.retry_delay", "1s")
	v.SetDefault("rpc.request_timeout", "30s")

	v.SetDefault("relay.url", "")
	v.SetDefault("relay.requests_per_second", 5)
	v.SetDefault("relay.burst", 1)
	v.SetDefault("relay.recipient", "")
	v.SetDefault("relay.deadline", "2m")
	v.SetDefault("relay.failure_threshold", 5)
	v.SetDefault("relay.breaker_timeout", "30s")

	v.SetDefault("evaluator.threshold", "1.05")
	v.SetDefault("evaluator.precision", 32)
	v.SetDefault("evaluator.optimizer_precision", 32)
	v.SetDefault("evaluator.default_fee_num", 3)
	v.SetDefault("evaluator.default_fee_den", 1000)

	v.SetDefault("snapshot.dir", "snapshots")
	v.SetDefault("snapshot.format", "json")
	v.SetDefault("snapshot.keep", 5)
	v.SetDefault("snapshot.sqlite", "")
	v.SetDefault("snapshot.interval", "10m")

	v.SetDefault("feed.pools", []string{})
	v.SetDefault("feed.dex", "uniswap_v2")
	v.SetDefault("feed.router", "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	v.SetDefault("feed.enable_uniswap_v2", true)
	v.SetDefault("feed.enable_uniswap_v3", true)
	v.SetDefault("feed.stream_url", "")
	v.SetDefault("feed.reconnect_delay", "5s")
	v.SetDefault("feed.stats_interval", "1m")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Environment variable support
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file support
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.cyclearb")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		RPC: RPCConfig{
			URL:            v.GetString("rpc.url"),
			WSUrl:          v.GetString("rpc.ws_url"),
			RetryAttempts:  v.GetInt("rpc.retry_attempts"),
			RetryDelay:     v.GetDuration("rpc.retry_delay"),
			RequestTimeout: v.GetDuration("rpc.request_timeout"),
		},
		Relay: RelayConfig{
			URL:               v.GetString("relay.url"),
			RequestsPerSecond: v.GetFloat64("relay.requests_per_second"),
			Burst:             v.GetInt("relay.burst"),
			Recipient:         v.GetString("relay.recipient"),
			Deadline:          v.GetDuration("relay.deadline"),
			FailureThreshold:  v.GetInt("relay.failure_threshold"),
			BreakerTimeout:    v.GetDuration("relay.breaker_timeout"),
		},
		Evaluator: EvaluatorConfig{
			Threshold:          v.GetString("evaluator.threshold"),
			Precision:          v.GetInt32("evaluator.precision"),
			OptimizerPrecision: v.GetInt32("evaluator.optimizer_precision"),
			DefaultFeeNum:      v.GetUint32("evaluator.default_fee_num"),
			DefaultFeeDen:      v.GetUint32("evaluator.default_fee_den"),
		},
		Snapshot: SnapshotConfig{
			Dir:      v.GetString("snapshot.dir"),
			Format:   v.GetString("snapshot.format"),
			Keep:     v.GetInt("snapshot.keep"),
			SQLite:   v.GetString("snapshot.sqlite"),
			Interval: v.GetDuration("snapshot.interval"),
		},
		Feed: FeedConfig{
			Pools:           v.GetStringSlice("feed.pools"),
			DEX:             v.GetString("feed.dex"),
			Router:          v.GetString("feed.router"),
			EnableUniswapV2: v.GetBool("feed.enable_uniswap_v2"),
			EnableUniswapV3: v.GetBool("feed.enable_uniswap_v3"),
			StreamURL:       v.GetString("feed.stream_url"),
			ReconnectDelay:  v.GetDuration("feed.reconnect_delay"),
			StatsInterval:   v.GetDuration("feed.stats_interval"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Addr:    v.GetString("metrics.addr"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Evaluator.DefaultFeeDen == 0 || c.Evaluator.DefaultFeeNum >= c.Evaluator.DefaultFeeDen {
		return fmt.Errorf("invalid default fee %d/%d", c.Evaluator.DefaultFeeNum, c.Evaluator.DefaultFeeDen)
	}
	if c.Evaluator.Precision <= 0 {
		return fmt.Errorf("evaluator precision must be positive, got %d", c.Evaluator.Precision)
	}
	if c.Feed.StatsInterval <= 0 || c.Snapshot.Interval <= 0 {
		return fmt.Errorf("stats and snapshot intervals must be positive")
	}
	switch c.Snapshot.Format {
	case "json", "yaml":
	default:
		return fmt.Errorf("unknown snapshot format %q", c.Snapshot.Format)
	}
	return nil
}
