// Package config loads application configuration from an optional YAML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// AppName names the dot-directory holding the session file. It also
// prefixes every environment override, e.g. TWMD_WEB_BEARER_TOKEN.
const AppName = "twmd"

// Config holds all application configuration.
type Config struct {
	Web      WebConfig      `yaml:"web"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Download DownloadConfig `yaml:"download"`
	History  HistoryConfig  `yaml:"history"`
	Log      LogConfig      `yaml:"log"`
}

// WebConfig holds the controller HTTP server configuration.
type WebConfig struct {
	Host         string        `yaml:"host" envconfig:"TWMD_WEB_HOST"`
	Port         int           `yaml:"port" envconfig:"TWMD_WEB_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"TWMD_WEB_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"TWMD_WEB_WRITE_TIMEOUT"`
}

// ScraperConfig holds inventory engine configuration.
type ScraperConfig struct {
	// BearerToken overrides the built-in public web bearer.
	BearerToken string `yaml:"bearer_token" envconfig:"TWMD_WEB_BEARER_TOKEN"`
	Engine      string `yaml:"engine" envconfig:"TWMD_ENGINE"`
	MaxTweets   int    `yaml:"max_tweets" envconfig:"TWMD_MAX_TWEETS"`
}

// DownloadConfig holds downloader defaults; CLI flags override them
// per job.
type DownloadConfig struct {
	Concurrency     int           `yaml:"concurrency" envconfig:"TWMD_CONCURRENCY"`
	RetryCount      int           `yaml:"retry_count" envconfig:"TWMD_RETRY_COUNT"`
	UserRetryCount  int           `yaml:"user_retry_count" envconfig:"TWMD_USER_RETRY_COUNT"`
	UserDelay       time.Duration `yaml:"user_delay" envconfig:"TWMD_USER_DELAY"`
	PerRequestDelay time.Duration `yaml:"per_request_delay" envconfig:"TWMD_PER_REQUEST_DELAY"`
}

// HistoryConfig holds the job-history database configuration.
type HistoryConfig struct {
	// Path of the SQLite database; empty disables history.
	Path string `yaml:"path" envconfig:"TWMD_HISTORY_PATH"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"TWMD_LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"TWMD_LOG_FORMAT"`
}

// Defaults returns the built-in configuration. Load layers the YAML
// file and then the environment on top of it, so defaults live here
// rather than in struct tags: an envconfig default would be re-applied
// after the file pass and clobber file values.
func Defaults() *Config {
	return &Config{
		Web: WebConfig{
			Host:        "127.0.0.1",
			Port:        9457,
			ReadTimeout: 30 * time.Second,
			// No write timeout: the event stream is long-lived.
		},
		Scraper: ScraperConfig{
			Engine:    "graphql",
			MaxTweets: 200,
		},
		Download: DownloadConfig{
			Concurrency:    4,
			RetryCount:     2,
			UserRetryCount: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration as defaults, then the optional YAML file,
// then environment variables. Later layers win. The envconfig tags
// carry the full TWMD_ names and Process runs unprefixed, so each
// variable resolves exactly as written and an unset variable leaves
// the file value alone.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.Scraper.Engine {
	case "graphql", "playwright":
	default:
		return fmt.Errorf("unknown engine %q (want graphql or playwright)", c.Scraper.Engine)
	}
	if c.Download.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	return nil
}

// Address returns the controller address in host:port format.
func (c *WebConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
