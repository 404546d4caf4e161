// Package config loads the application configuration from yaml with
// environment-variable overrides (prefix LAPINEX_).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// HTTPServerConfig represents HTTP server configuration.
type HTTPServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// WSConfig represents the marketdata websocket hub configuration.
type WSConfig struct {
	ReadBufferSize  int   `mapstructure:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize int   `mapstructure:"write_buffer_size" yaml:"write_buffer_size"`
	SendQueueSize   int   `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	MaxMessageSize  int64 `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// DatabaseConfig represents the durable store configuration.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"` // seconds
}

// RedisConfig represents the optional last-price cache.
type RedisConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// KafkaConfig represents the optional trade tick feed. An empty broker list
// disables the producer.
type KafkaConfig struct {
	Brokers   []string `mapstructure:"brokers" yaml:"brokers"`
	TickTopic string   `mapstructure:"tick_topic" yaml:"tick_topic"`
}

// TradingConfig carries the market parameters. FeeRate is read once at
// startup and injected as an immutable money.Policy; nothing mutates it at
// runtime.
type TradingConfig struct {
	FeeRate           decimal.Decimal `mapstructure:"-" yaml:"-"`
	FeeRateStr        string          `mapstructure:"fee_rate" yaml:"fee_rate"`
	SnapshotMaxLevels int             `mapstructure:"snapshot_max_levels" yaml:"snapshot_max_levels"`
	SnapshotPerSide   int             `mapstructure:"snapshot_per_side" yaml:"snapshot_per_side"`
}

// Config represents the application configuration.
type Config struct {
	LogLevel string           `mapstructure:"log_level" yaml:"log_level"`
	Server   HTTPServerConfig `mapstructure:"server" yaml:"server"`
	WS       WSConfig         `mapstructure:"websocket" yaml:"websocket"`
	Database DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis    RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Kafka    KafkaConfig      `mapstructure:"kafka" yaml:"kafka"`
	Trading  TradingConfig    `mapstructure:"trading" yaml:"trading"`
}

// Load reads configuration from the given file (optional) and the
// environment, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LAPINEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	feeRate, err := decimal.NewFromString(cfg.Trading.FeeRateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trading.fee_rate %q: %w", cfg.Trading.FeeRateStr, err)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("trading.fee_rate must be in [0,1), got %s", feeRate)
	}
	cfg.Trading.FeeRate = feeRate

	if cfg.Trading.SnapshotPerSide <= 0 || cfg.Trading.SnapshotMaxLevels < cfg.Trading.SnapshotPerSide {
		return nil, fmt.Errorf("invalid snapshot level caps: per_side=%d max=%d",
			cfg.Trading.SnapshotPerSide, cfg.Trading.SnapshotMaxLevels)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 4096)
	v.SetDefault("websocket.send_queue_size", 256)
	v.SetDefault("websocket.max_message_size", 4096)

	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.tick_topic", "lapinex.price-ticks")

	v.SetDefault("trading.fee_rate", "0.001")
	v.SetDefault("trading.snapshot_max_levels", 20)
	v.SetDefault("trading.snapshot_per_side", 10)
}
