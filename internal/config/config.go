// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/skydesk/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port            string          `yaml:"port"`
	FrontendURL     string          `yaml:"frontend_url"`
	DBPath          string          `yaml:"db_path"`
	APIURL          string          `yaml:"api_url"`
	APIToken        string          `yaml:"api_token"`
	RequestTimeout  time.Duration   `yaml:"request_timeout"`
	WorkspaceTTL    time.Duration   `yaml:"workspace_ttl"`
	DefaultPlatform string          `yaml:"default_platform"`
	HistorySync     bool            `yaml:"history_sync"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds how many commands one identity may issue per window.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Load reads configuration from environment variables. When SKYDESK_CONFIG
// names a YAML file, its values are applied first and environment variables
// that are set override them.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("SKYDESK_CONFIG"))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.FrontendURL = getEnv("FRONTEND_URL", cfg.FrontendURL)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.APIURL = getEnv("SKYDESK_API_URL", cfg.APIURL)
	cfg.APIToken = getEnv("SKYDESK_API_TOKEN", cfg.APIToken)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.WorkspaceTTL = getEnvDuration("WORKSPACE_TTL", cfg.WorkspaceTTL)
	cfg.DefaultPlatform = getEnv("DEFAULT_PLATFORM", cfg.DefaultPlatform)
	cfg.HistorySync = getEnvBool("HISTORY_SYNC", cfg.HistorySync)
	cfg.RateLimit.Requests = getEnvInt("RATE_LIMIT_REQUESTS", cfg.RateLimit.Requests)
	cfg.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:            "8090",
		DBPath:          "./data/skydesk.db",
		APIURL:          "http://localhost:8080/api/v1",
		RequestTimeout:  30 * time.Second,
		WorkspaceTTL:    60 * time.Minute,
		DefaultPlatform: "web",
		HistorySync:     true,
		RateLimit: RateLimitConfig{
			Requests: 30,
			Window:   time.Minute,
		},
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("SKYDESK_API_URL must be an absolute http(s) URL, got %q", c.APIURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	if c.WorkspaceTTL <= 0 {
		return fmt.Errorf("WORKSPACE_TTL must be > 0")
	}
	if !domain.Platform(c.DefaultPlatform).IsValid() {
		return fmt.Errorf("DEFAULT_PLATFORM %q is not one of web, mobile, whatsapp, telegram", c.DefaultPlatform)
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the origins CORS should accept.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
