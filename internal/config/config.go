package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Game    GameConfig    `mapstructure:"game"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GameConfig holds gameplay timing and defaults.
type GameConfig struct {
	// GracePeriod is how long a disconnected player's seat is held.
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// RestartDelay is the pause between matches in a continuing session.
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	// DefaultTargetScore ends the session when a player reaches it.
	DefaultTargetScore int `mapstructure:"default_target_score"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file, falling back to defaults
// when the file does not exist. Environment variables prefixed KOZ_ override
// file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("game.grace_period", 35*time.Second)
	v.SetDefault("game.restart_delay", 3*time.Second)
	v.SetDefault("game.default_target_score", 15)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetEnvPrefix("KOZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) && !errors.As(err, &viper.ConfigFileNotFoundError{}) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}
	if c.Game.GracePeriod <= 0 {
		return errors.New("game.grace_period must be positive")
	}
	if c.Game.RestartDelay < 0 {
		return errors.New("game.restart_delay must not be negative")
	}
	if c.Game.DefaultTargetScore <= 0 {
		return errors.New("game.default_target_score must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}
