// Package config loads the SDK demo CLI and integration harness's
// tunables from the environment (SPEC_FULL.md §4.15). Grounded on the
// teacher's LoadConfig/Validate/Print (ws/config.go), adapted from
// server capacity/Kafka settings to client transport/backoff/retry
// settings.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every env-tunable setting the demo CLI and test harness
// need. Tags: env is the variable name, envDefault its fallback.
type Config struct {
	ServerAddr string `env:"SWIFTIM_SERVER_ADDR" envDefault:"tcp://127.0.0.1:7890"`
	UserID     string `env:"SWIFTIM_USER_ID"`
	Token      string `env:"SWIFTIM_TOKEN"`
	StorePath  string `env:"SWIFTIM_STORE_PATH" envDefault:"swiftim.db"`

	HeartbeatInterval time.Duration `env:"SWIFTIM_HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTimeout  time.Duration `env:"SWIFTIM_HEARTBEAT_TIMEOUT" envDefault:"10s"`

	ReconnectBase        time.Duration `env:"SWIFTIM_RECONNECT_BASE" envDefault:"1s"`
	ReconnectMaxAttempts int           `env:"SWIFTIM_RECONNECT_MAX_ATTEMPTS" envDefault:"0"`
	MaxReconnectRate     float64       `env:"SWIFTIM_MAX_RECONNECT_RATE" envDefault:"1"`

	QueueMaxRetry      int           `env:"SWIFTIM_QUEUE_MAX_RETRY" envDefault:"3"`
	QueueAckTimeout    time.Duration `env:"SWIFTIM_QUEUE_ACK_TIMEOUT" envDefault:"5s"`
	QueueCheckInterval time.Duration `env:"SWIFTIM_QUEUE_CHECK_INTERVAL" envDefault:"5s"`
	MaxSendRate        float64       `env:"SWIFTIM_MAX_SEND_RATE" envDefault:"50"`

	SyncBatchSize int32 `env:"SWIFTIM_SYNC_BATCH_SIZE" envDefault:"500"`

	TypingSendInterval time.Duration `env:"SWIFTIM_TYPING_SEND_INTERVAL" envDefault:"5s"`
	TypingStopDelay    time.Duration `env:"SWIFTIM_TYPING_STOP_DELAY" envDefault:"5s"`
	TypingRecvTimeout  time.Duration `env:"SWIFTIM_TYPING_RECV_TIMEOUT" envDefault:"8s"`

	DeviceMonitorInterval time.Duration `env:"SWIFTIM_DEVICE_MONITOR_INTERVAL" envDefault:"20s"`
	WorkerPoolSize        int           `env:"SWIFTIM_WORKER_POOL_SIZE" envDefault:"0"`

	MetricsAddr string `env:"SWIFTIM_METRICS_ADDR" envDefault:":9090"`

	LogLevel  string `env:"SWIFTIM_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"SWIFTIM_LOG_FORMAT" envDefault:"json"`
}

// Load reads .env (if present) then the environment, validates, and
// returns the parsed Config. logger may be nil during early startup,
// before a structured logger exists.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("config: no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants env.Parse can't enforce on its own.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("SWIFTIM_SERVER_ADDR is required")
	}
	if c.QueueMaxRetry < 1 {
		return fmt.Errorf("SWIFTIM_QUEUE_MAX_RETRY must be >= 1, got %d", c.QueueMaxRetry)
	}
	if c.SyncBatchSize < 1 {
		return fmt.Errorf("SWIFTIM_SYNC_BATCH_SIZE must be >= 1, got %d", c.SyncBatchSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("SWIFTIM_LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("SWIFTIM_LOG_FORMAT must be one of json/pretty, got %q", c.LogFormat)
	}
	return nil
}

// Log emits the loaded configuration via structured logging.
func (c *Config) Log(logger zerolog.Logger) {
	logger.Info().
		Str("server_addr", c.ServerAddr).
		Str("store_path", c.StorePath).
		Dur("heartbeat_interval", c.HeartbeatInterval).
		Dur("reconnect_base", c.ReconnectBase).
		Int("reconnect_max_attempts", c.ReconnectMaxAttempts).
		Int("queue_max_retry", c.QueueMaxRetry).
		Int32("sync_batch_size", c.SyncBatchSize).
		Str("metrics_addr", c.MetricsAddr).
		Str("log_level", c.LogLevel).
		Msg("config: loaded")
}
