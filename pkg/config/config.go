package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EngineHTTP1 = "http1"
	EngineHTTP2 = "http2"
)

// Config holds all configuration options for the exchange client
type Config struct {
	// HTTP session, cookies and downloads
	Session SessionConfig `yaml:"session" json:"session"`

	// Outbound request throttling
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Caller-side retry policy for network failures
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// JSON API server
	Server ServerConfig `yaml:"server" json:"server"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SessionConfig configures the session manager
type SessionConfig struct {
	DownloadFolder  string        `yaml:"download_folder" json:"download_folder" validate:"required"`
	Engine          string        `yaml:"engine" json:"engine" validate:"oneof=http1 http2"`
	BaseURL         string        `yaml:"base_url" json:"base_url" validate:"required,url"`
	ArchiveURL      string        `yaml:"archive_url" json:"archive_url" validate:"required,url"`
	BootstrapPath   string        `yaml:"bootstrap_path" json:"bootstrap_path" validate:"required,startswith=/"`
	UserAgent       string        `yaml:"user_agent" json:"user_agent" validate:"required"`
	Referer         string        `yaml:"referer" json:"referer"`
	CookieMaxAge    time.Duration `yaml:"cookie_max_age" json:"cookie_max_age" validate:"gt=0"`
	RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout" validate:"gt=0"`
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout" validate:"gt=0"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window" json:"requests_per_window" validate:"gt=0"`
	Window            time.Duration `yaml:"window" json:"window" validate:"gt=0"`
}

// RetryConfig holds the retry policy applied by callers of the session
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay" validate:"gtefield=BaseDelay"`
}

// ServerConfig holds settings for the JSON API server
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gt=0"`

	// API requests admitted per minute; 0 admits everything
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute" validate:"gte=0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn warning error disabled"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			DownloadFolder:  "./downloads",
			Engine:          EngineHTTP1,
			BaseURL:         "https://www.nseindia.com",
			ArchiveURL:      "https://nsearchives.nseindia.com",
			BootstrapPath:   "/option-chain",
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; rv:109.0) Gecko/20100101 Firefox/118.0",
			Referer:         "https://www.nseindia.com/get-quotes/equity?symbol=HDFCBANK",
			CookieMaxAge:    24 * time.Hour,
			RequestTimeout:  30 * time.Second,
			DownloadTimeout: 2 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 3,
			Window:            time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      2 * time.Minute,
			RequestsPerMinute: 120,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from NSE_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if folder := os.Getenv("NSE_DOWNLOAD_FOLDER"); folder != "" {
		c.Session.DownloadFolder = folder
	}
	if engine := os.Getenv("NSE_ENGINE"); engine != "" {
		c.Session.Engine = strings.ToLower(engine)
	}
	if baseURL := os.Getenv("NSE_BASE_URL"); baseURL != "" {
		c.Session.BaseURL = baseURL
	}
	if archiveURL := os.Getenv("NSE_ARCHIVE_URL"); archiveURL != "" {
		c.Session.ArchiveURL = archiveURL
	}
	if userAgent := os.Getenv("NSE_USER_AGENT"); userAgent != "" {
		c.Session.UserAgent = userAgent
	}
	if rps := os.Getenv("NSE_REQUESTS_PER_SECOND"); rps != "" {
		val, err := strconv.Atoi(rps)
		if err != nil {
			errs = append(errs, fmt.Errorf("NSE_REQUESTS_PER_SECOND: %w", err))
		} else {
			c.RateLimit.RequestsPerWindow = val
			c.RateLimit.Window = time.Second
		}
	}
	if timeout := os.Getenv("NSE_REQUEST_TIMEOUT"); timeout != "" {
		val, err := time.ParseDuration(timeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("NSE_REQUEST_TIMEOUT: %w", err))
		} else {
			c.Session.RequestTimeout = val
		}
	}
	if addr := os.Getenv("NSE_SERVER_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if logLevel := os.Getenv("NSE_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = strings.ToLower(logLevel)
	}
	if logFile := os.Getenv("NSE_LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".nse.yaml",
		".nse.yml",
		filepath.Join(home, ".config", "nse", "config.yaml"),
		filepath.Join(home, ".config", "nse", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, fmt.Errorf("%s: failed %q check (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	if c.Session.DownloadFolder != "" {
		if info, err := os.Stat(c.Session.DownloadFolder); err == nil && !info.IsDir() {
			errs = append(errs, fmt.Errorf("download folder %s must be a folder", c.Session.DownloadFolder))
		}
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only keys present with a non-zero value override.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if folder, ok := flags["folder"].(string); ok && folder != "" {
		c.Session.DownloadFolder = folder
	}
	if engine, ok := flags["engine"].(string); ok && engine != "" {
		c.Session.Engine = strings.ToLower(engine)
	}
	if rps, ok := flags["requests-per-second"].(int); ok && rps > 0 {
		c.RateLimit.RequestsPerWindow = rps
		c.RateLimit.Window = time.Second
	}
	if retries, ok := flags["max-retries"].(int); ok && retries > 0 {
		c.Retry.MaxAttempts = retries
	}
	if addr, ok := flags["addr"].(string); ok && addr != "" {
		c.Server.Addr = addr
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = strings.ToLower(logLevel)
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".nse.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
