package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Env       string
	Exchange  string
	UserID    string
	Feed      FeedConfig
	Scanner   ScannerConfig
	Liquidity LiquidityConfig
	Redis     RedisConfig
}

// FeedConfig holds tunables for the streaming-connection layer. These apply
// to every exchange adapter; protocol-specific values (keep-alive cadence,
// wire symbol formats) live with the adapter that owns the protocol.
type FeedConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`

	// Backoff parameters for reconnection. Delay for attempt n is
	// min(BackoffInitial * 2^n, BackoffMax); after MaxReconnectAttempts
	// the connection is abandoned with a fatal error.
	BackoffInitial       time.Duration `mapstructure:"backoff_initial"`
	BackoffMax           time.Duration `mapstructure:"backoff_max"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`

	// Subscription batching: at most BatchSize streams per outgoing
	// request, BatchDelay between consecutive requests, and a trailing
	// flush after BatchFlush of quiet so a partial batch is never stranded.
	BatchSize  int           `mapstructure:"batch_size"`
	BatchDelay time.Duration `mapstructure:"batch_delay"`
	BatchFlush time.Duration `mapstructure:"batch_flush"`
}

// ScannerConfig holds the orchestrator tunables with documented defaults.
type ScannerConfig struct {
	BaseAsset      string        `mapstructure:"base_asset"`
	PositionSize   float64       `mapstructure:"position_size"`
	TakerFeeRate   float64       `mapstructure:"taker_fee_rate"`
	ProfitFloorPct float64       `mapstructure:"profit_floor_pct"`
	Debounce       time.Duration `mapstructure:"debounce"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	MaxBatch       int           `mapstructure:"max_batch"`
	StreamCap      int           `mapstructure:"stream_cap"`
	OpportunityTTL time.Duration `mapstructure:"opportunity_ttl"`
}

// LiquidityConfig holds the 24h quote-volume filter settings.
type LiquidityConfig struct {
	MinQuoteVolumeUSD float64       `mapstructure:"min_quote_volume_usd"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

// RedisConfig holds Redis connection settings for the opportunity store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Load reads configuration from environment variables prefixed with TRIGON_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRIGON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("env", "development")
	v.SetDefault("exchange", "binance")
	v.SetDefault("user_id", "local")

	// Feed defaults
	v.SetDefault("feed.handshake_timeout", 10*time.Second)
	v.SetDefault("feed.heartbeat_timeout", 60*time.Second)
	v.SetDefault("feed.backoff_initial", 500*time.Millisecond)
	v.SetDefault("feed.backoff_max", 30*time.Second)
	v.SetDefault("feed.max_reconnect_attempts", 10)
	v.SetDefault("feed.batch_size", 50)
	v.SetDefault("feed.batch_delay", 250*time.Millisecond)
	v.SetDefault("feed.batch_flush", 500*time.Millisecond)

	// Scanner defaults
	v.SetDefault("scanner.base_asset", "USDT")
	v.SetDefault("scanner.position_size", 1000.0)
	v.SetDefault("scanner.taker_fee_rate", 0.001)
	v.SetDefault("scanner.profit_floor_pct", 0.1)
	v.SetDefault("scanner.debounce", 300*time.Millisecond)
	v.SetDefault("scanner.cooldown", 5*time.Second)
	v.SetDefault("scanner.max_batch", 20)
	v.SetDefault("scanner.stream_cap", 290)
	v.SetDefault("scanner.opportunity_ttl", 30*time.Second)

	// Liquidity defaults
	v.SetDefault("liquidity.min_quote_volume_usd", 100000.0)
	v.SetDefault("liquidity.request_timeout", 10*time.Second)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	cfg := &Config{}

	cfg.Env = v.GetString("env")
	cfg.Exchange = v.GetString("exchange")
	cfg.UserID = v.GetString("user_id")

	cfg.Feed = FeedConfig{
		HandshakeTimeout:     v.GetDuration("feed.handshake_timeout"),
		HeartbeatTimeout:     v.GetDuration("feed.heartbeat_timeout"),
		BackoffInitial:       v.GetDuration("feed.backoff_initial"),
		BackoffMax:           v.GetDuration("feed.backoff_max"),
		MaxReconnectAttempts: v.GetInt("feed.max_reconnect_attempts"),
		BatchSize:            v.GetInt("feed.batch_size"),
		BatchDelay:           v.GetDuration("feed.batch_delay"),
		BatchFlush:           v.GetDuration("feed.batch_flush"),
	}

	cfg.Scanner = ScannerConfig{
		BaseAsset:      v.GetString("scanner.base_asset"),
		PositionSize:   v.GetFloat64("scanner.position_size"),
		TakerFeeRate:   v.GetFloat64("scanner.taker_fee_rate"),
		ProfitFloorPct: v.GetFloat64("scanner.profit_floor_pct"),
		Debounce:       v.GetDuration("scanner.debounce"),
		Cooldown:       v.GetDuration("scanner.cooldown"),
		MaxBatch:       v.GetInt("scanner.max_batch"),
		StreamCap:      v.GetInt("scanner.stream_cap"),
		OpportunityTTL: v.GetDuration("scanner.opportunity_ttl"),
	}

	cfg.Liquidity = LiquidityConfig{
		MinQuoteVolumeUSD: v.GetFloat64("liquidity.min_quote_volume_usd"),
		RequestTimeout:    v.GetDuration("liquidity.request_timeout"),
	}

	cfg.Redis = RedisConfig{
		Addr:     v.GetString("redis.addr"),
		Password: v.GetString("redis.password"),
		DB:       v.GetInt("redis.db"),
	}

	return cfg, nil
}
