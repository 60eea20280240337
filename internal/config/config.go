package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Auction   AuctionConfig   `mapstructure:"auction"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type AuctionConfig struct {
	Currency     string `mapstructure:"currency"`
	MaxTxRetries int    `mapstructure:"max_tx_retries"`
}

// WorkersConfig holds cron specs (robfig/cron with seconds field) and batch
// sizes for the four background workers.
type WorkersConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	SchedulerTick   string `mapstructure:"scheduler_tick"`
	SettlementTick  string `mapstructure:"settlement_tick"`
	RefundTick      string `mapstructure:"refund_tick"`
	OutboxTick      string `mapstructure:"outbox_tick"`
	RefundBatchSize int    `mapstructure:"refund_batch_size"`
	OutboxBatchSize int    `mapstructure:"outbox_batch_size"`
}

type RateLimitConfig struct {
	Window  time.Duration `mapstructure:"window"`
	PerUser int           `mapstructure:"per_user"`
	Global  int           `mapstructure:"global"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("auction.currency", "CRD")
	v.SetDefault("auction.max_tx_retries", 3)
	v.SetDefault("workers.enabled", true)
	v.SetDefault("workers.scheduler_tick", "@every 1s")
	v.SetDefault("workers.settlement_tick", "@every 1s")
	v.SetDefault("workers.refund_tick", "@every 2s")
	v.SetDefault("workers.outbox_tick", "@every 1s")
	v.SetDefault("workers.refund_batch_size", 50)
	v.SetDefault("workers.outbox_batch_size", 100)
	v.SetDefault("rate_limit.window", "10s")
	v.SetDefault("rate_limit.per_user", 20)
	v.SetDefault("rate_limit.global", 500)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
