// Package config loads application configuration from a config file and
// environment variables. Environment variables win, so deployments can
// override a checked-in file without editing it.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/quillhall/scribe/internal/snowflake"
)

// Config holds all application configuration.
type Config struct {
	// gateway
	Token  string
	Guilds []int64

	// database
	DatabaseURL string

	// nats; empty disables event publishing
	NatsURL string

	// coordinator
	Workers   int
	QueueSize int

	// crawler
	CrawlRPS         float64
	CrawlBurst       int
	CrawlConcurrency int
	CrawlSchedule    string

	// logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from the named config file, with
// environment overrides applied on top.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config file path is required")
	}

	// .env is optional and only feeds the environment
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("scribe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("workers", 4)
	v.SetDefault("queue_size", 256)
	v.SetDefault("crawl.rps", 2.0)
	v.SetDefault("crawl.burst", 1)
	v.SetDefault("crawl.concurrency", 2)
	v.SetDefault("crawl.schedule", "@every 1h")
	v.SetDefault("log.level", "info")

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg := &Config{
		Token:            v.GetString("token"),
		DatabaseURL:      v.GetString("database_url"),
		NatsURL:          v.GetString("nats_url"),
		Workers:          v.GetInt("workers"),
		QueueSize:        v.GetInt("queue_size"),
		CrawlRPS:         v.GetFloat64("crawl.rps"),
		CrawlBurst:       v.GetInt("crawl.burst"),
		CrawlConcurrency: v.GetInt("crawl.concurrency"),
		CrawlSchedule:    v.GetString("crawl.schedule"),
		LogLevel:         v.GetString("log.level"),
		LogFile:          v.GetString("log.file"),
	}

	for _, raw := range v.GetStringSlice("guilds") {
		id, err := snowflake.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid guild id %q", raw)
		}
		cfg.Guilds = append(cfg.Guilds, id)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields without which the process cannot run.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("token is required")
	}
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.CrawlRPS <= 0 {
		return errors.New("crawl.rps must be positive")
	}
	return nil
}
