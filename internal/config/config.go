// Package config loads and validates the engine configuration from a TOML
// file with environment overrides.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Node    NodeConfig    `mapstructure:"node" validate:"required"`
	Queue   QueueConfig   `mapstructure:"queue" validate:"required"`
	Storage StorageConfig `mapstructure:"storage" validate:"required"`
	Drone   DroneConfig   `mapstructure:"drone" validate:"required"`
	Log     LogConfig     `mapstructure:"log" validate:"required"`
}

type NodeConfig struct {
	Host                string `mapstructure:"host" validate:"required"`
	Port                int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds" validate:"min=1,max=300"`
	KeepAlive           bool   `mapstructure:"keep_alive"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds" validate:"min=1,max=300"`
}

type QueueConfig struct {
	MaxRetries          int `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryTimeoutSeconds int `mapstructure:"retry_timeout_seconds" validate:"min=1,max=60"`
}

type StorageConfig struct {
	MediaDir    string `mapstructure:"media_dir" validate:"required"`
	DownloadDir string `mapstructure:"download_dir" validate:"required"`
	ExportDir   string `mapstructure:"export_dir" validate:"required"`
}

type DroneConfig struct {
	// MediaRoot is the directory the simulator media manager serves.
	MediaRoot string `mapstructure:"media_root" validate:"required"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// LoadFromFile reads filename, applies CRFLY_* environment overrides and
// validates the result. An empty filename yields the pure defaults.
func LoadFromFile(filename string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigType("toml")
	v.SetEnvPrefix("CRFLY")
	v.AutomaticEnv()

	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.host", "127.0.0.1")
	v.SetDefault("node.port", 8000)
	v.SetDefault("node.timeout_seconds", 15)
	v.SetDefault("node.keep_alive", true)
	v.SetDefault("node.poll_interval_seconds", 3)

	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_timeout_seconds", 2)

	v.SetDefault("storage.media_dir", "data/media")
	v.SetDefault("storage.download_dir", "data/download")
	v.SetDefault("storage.export_dir", "data/export")

	v.SetDefault("drone.media_root", "data/drone")

	v.SetDefault("log.level", "info")
}

func validateConfig(config *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(config)
}
