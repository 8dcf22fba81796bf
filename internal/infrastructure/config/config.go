// Package config loads relay settings from RELAY_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"go-broadcast-relay/internal/infrastructure/logger"
)

const envPrefix = "RELAY"

const (
	DefaultListenAddr     = "0.0.0.0:6969"
	DefaultStatusAddr     = ":8080"
	DefaultReadBufferSize = 64
	DefaultQueueSize      = 1024
	DefaultWriteTimeout   = time.Second
)

type Config struct {
	ListenAddr     string
	StatusAddr     string // empty disables the status server
	SafeMode       bool
	ReadBufferSize int
	QueueSize      int
	WriteTimeout   time.Duration // zero means no write deadline

	Log *logger.Config
}

// Load reads the environment, applies defaults and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("status_addr", DefaultStatusAddr)
	v.SetDefault("safe_mode", true)
	v.SetDefault("read_buffer_size", DefaultReadBufferSize)
	v.SetDefault("queue_size", DefaultQueueSize)
	v.SetDefault("write_timeout", DefaultWriteTimeout)

	logCfg := logger.NewDefaultConfig()
	v.SetDefault("log_level", logCfg.Level.String())
	v.SetDefault("log_format", logCfg.Format)
	v.SetDefault("log_output", logCfg.Output)
	v.SetDefault("log_file", "")

	level, err := logger.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logCfg.Level = level
	logCfg.Format = v.GetString("log_format")
	logCfg.Output = v.GetString("log_output")
	logCfg.FilePath = v.GetString("log_file")

	cfg := &Config{
		ListenAddr:     v.GetString("listen_addr"),
		StatusAddr:     v.GetString("status_addr"),
		SafeMode:       v.GetBool("safe_mode"),
		ReadBufferSize: v.GetInt("read_buffer_size"),
		QueueSize:      v.GetInt("queue_size"),
		WriteTimeout:   v.GetDuration("write_timeout"),
		Log:            logCfg,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("config: read buffer size must be positive, got %d", c.ReadBufferSize)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("config: queue size must be positive, got %d", c.QueueSize)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("config: write timeout must not be negative, got %s", c.WriteTimeout)
	}
	return nil
}
