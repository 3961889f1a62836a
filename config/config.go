// Package config loads the whitelist daemon settings from WHITELIST_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Config holds every daemon setting.
type Config struct {
	DatabaseURL string `env:"WHITELIST_DATABASE_URL,required,notEmpty"`
	RedisURL    string `env:"WHITELIST_REDIS_URL"`

	DiscordToken   string `env:"WHITELIST_DISCORD_TOKEN"`
	DiscordGuildID string `env:"WHITELIST_DISCORD_GUILD_ID"`
	DiscordAPIURL  string `env:"WHITELIST_DISCORD_API_URL" envDefault:"https://discord.com/api/v10"`

	ListenAddr string `env:"WHITELIST_LISTEN_ADDR" envDefault:":8080"`
	AdminToken string `env:"WHITELIST_ADMIN_TOKEN"`
	// InsecureNoAuth serves the admin API without a token.
	InsecureNoAuth bool `env:"WHITELIST_INSECURE_NO_AUTH"`

	DefaultGroup       string   `env:"WHITELIST_DEFAULT_GROUP" envDefault:"Whitelist"`
	DefaultPermissions []string `env:"WHITELIST_DEFAULT_PERMISSIONS" envSeparator:"," envDefault:"reserve"`

	SyncConcurrency int           `env:"WHITELIST_SYNC_CONCURRENCY" envDefault:"1"`
	MemberTimeout   time.Duration `env:"WHITELIST_MEMBER_TIMEOUT" envDefault:"30s"`
	CacheTTL        time.Duration `env:"WHITELIST_CACHE_TTL" envDefault:"0s"`
	SyncSchedule    string        `env:"WHITELIST_SYNC_SCHEDULE" envDefault:"0 * * * *"`
	JobWorkers      int           `env:"WHITELIST_JOB_WORKERS" envDefault:"2"`

	LogLevel  string `env:"WHITELIST_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"WHITELIST_LOG_FORMAT" envDefault:"text"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates a Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	if c.AdminToken == "" && !c.InsecureNoAuth {
		return fmt.Errorf("WHITELIST_ADMIN_TOKEN is required unless WHITELIST_INSECURE_NO_AUTH is set")
	}
	if (c.DiscordToken == "") != (c.DiscordGuildID == "") {
		return fmt.Errorf("WHITELIST_DISCORD_TOKEN and WHITELIST_DISCORD_GUILD_ID must be set together")
	}
	if c.SyncConcurrency < 1 {
		return fmt.Errorf("WHITELIST_SYNC_CONCURRENCY must be at least 1, got %d", c.SyncConcurrency)
	}
	if c.MemberTimeout <= 0 {
		return fmt.Errorf("WHITELIST_MEMBER_TIMEOUT must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("WHITELIST_LOG_LEVEL: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("WHITELIST_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// SyncEnabled reports whether a Discord guild is configured.
func (c Config) SyncEnabled() bool { return c.DiscordToken != "" && c.DiscordGuildID != "" }

// Logger builds a logger with the configured level and formatter.
func (c Config) Logger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
