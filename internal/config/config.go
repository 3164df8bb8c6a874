package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// IngestConfig holds the local ingest API configuration
type IngestConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// StorageConfig holds local persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// RemoteConfig holds the backend datastore configuration
type RemoteConfig struct {
	RestURL        string        `mapstructure:"rest_url"`
	RealtimeURL    string        `mapstructure:"realtime_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	HeartbeatEvery time.Duration `mapstructure:"heartbeat_every"`
}

// SyncConfig holds sync reconciler configuration
type SyncConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Debounce      time.Duration `mapstructure:"debounce"`
	ConfigTable   string        `mapstructure:"config_table"`
	StakesTable   string        `mapstructure:"stakes_table"`
	MixBetsTable  string        `mapstructure:"mixbets_table"`
	ProfilesTable string        `mapstructure:"profiles_table"`
}

// TelegramConfig holds the optional Telegram notification sink configuration
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("STAKESYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("ingest.listen_addr", "127.0.0.1:8721")
	v.SetDefault("ingest.allowed_origins", []string{"*"})
	v.SetDefault("ingest.read_timeout", "10s")
	v.SetDefault("ingest.write_timeout", "10s")

	v.SetDefault("storage.db_path", "./data/stakesync.db")

	v.SetDefault("remote.timeout", "15s")
	v.SetDefault("remote.max_retries", 3)
	v.SetDefault("remote.retry_delay_base", "1s")
	v.SetDefault("remote.heartbeat_every", "30s")

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.debounce", "500ms")
	v.SetDefault("sync.config_table", "user_config")
	v.SetDefault("sync.stakes_table", "stake_usage")
	v.SetDefault("sync.mixbets_table", "mix_bet_combinations")
	v.SetDefault("sync.profiles_table", "profiles")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Ingest.ListenAddr == "" {
		return fmt.Errorf("ingest.listen_addr is required")
	}
	if c.Ingest.ReadTimeout <= 0 {
		return fmt.Errorf("ingest.read_timeout must be positive")
	}
	if c.Ingest.WriteTimeout <= 0 {
		return fmt.Errorf("ingest.write_timeout must be positive")
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	if c.Sync.Enabled {
		if c.Remote.RestURL == "" {
			return fmt.Errorf("remote.rest_url is required when sync is enabled")
		}
		if c.Remote.RealtimeURL == "" {
			return fmt.Errorf("remote.realtime_url is required when sync is enabled")
		}
		if c.Remote.APIKey == "" {
			return fmt.Errorf("remote.api_key is required when sync is enabled")
		}
		if c.Sync.Debounce < 50*time.Millisecond {
			return fmt.Errorf("sync.debounce must be at least 50ms")
		}
		if c.Sync.ConfigTable == "" || c.Sync.StakesTable == "" || c.Sync.MixBetsTable == "" {
			return fmt.Errorf("sync table names must not be empty")
		}
	}
	if c.Remote.MaxRetries < 1 {
		return fmt.Errorf("remote.max_retries must be at least 1")
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
