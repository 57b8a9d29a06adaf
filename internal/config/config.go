package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/agentsh/linkguard/internal/threatfeed"
)

type Config struct {
	SafeBrowsing SafeBrowsingConfig `yaml:"safe_browsing"`
	Logging      LoggingConfig      `yaml:"logging"`
	Server       ServerConfig       `yaml:"server"`
	Scan         ScanConfig         `yaml:"scan"`
}

// SafeBrowsingConfig configures the threat list service and local database.
type SafeBrowsingConfig struct {
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	ClientID      string        `yaml:"client_id"`
	ClientVersion string        `yaml:"client_version"`
	Timeout       time.Duration `yaml:"timeout"`

	// ThreatTypes lists the threat lists to synchronize and match against.
	ThreatTypes []string `yaml:"threat_types"`

	MaxUpdateEntries   int    `yaml:"max_update_entries"`
	MaxDatabaseEntries int    `yaml:"max_database_entries"`
	Region             string `yaml:"region"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

type ServerConfig struct {
	Addr         string          `yaml:"addr"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds requests to the /api/v1 endpoints, which may reach
// the threat list service. Zero disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ScanConfig configures free-text scanning.
type ScanConfig struct {
	// Allowlist holds host glob patterns that are never checked.
	Allowlist []string `yaml:"allowlist"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration built from defaults and environment
// overrides, for use when no config file is given.
func Default() (*Config, error) {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	sb := &cfg.SafeBrowsing
	if sb.BaseURL == "" {
		sb.BaseURL = "https://safebrowsing.googleapis.com"
	}
	if sb.ClientID == "" {
		sb.ClientID = "linkguard"
	}
	if sb.ClientVersion == "" {
		sb.ClientVersion = "1.0.0"
	}
	if sb.Timeout == 0 {
		sb.Timeout = 30 * time.Second
	}
	if len(sb.ThreatTypes) == 0 {
		for _, t := range threatfeed.DefaultThreatTypes {
			sb.ThreatTypes = append(sb.ThreatTypes, string(t))
		}
	}
	if sb.MaxUpdateEntries == 0 {
		sb.MaxUpdateEntries = 50000
	}
	if sb.MaxDatabaseEntries == 0 {
		sb.MaxDatabaseEntries = 100000
	}
	if sb.Region == "" {
		sb.Region = "US"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.RateLimit.RequestsPerSecond > 0 && cfg.Server.RateLimit.Burst == 0 {
		cfg.Server.RateLimit.Burst = int(cfg.Server.RateLimit.RequestsPerSecond) + 1
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LINKGUARD_API_KEY"); v != "" {
		cfg.SafeBrowsing.APIKey = v
	}
	if v := os.Getenv("LINKGUARD_BASE_URL"); v != "" {
		cfg.SafeBrowsing.BaseURL = v
	}
	if v := os.Getenv("LINKGUARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LINKGUARD_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

func validateConfig(cfg *Config) error {
	if _, err := cfg.SafeBrowsing.Types(); err != nil {
		return err
	}
	if cfg.SafeBrowsing.MaxUpdateEntries < 0 {
		return fmt.Errorf("safe_browsing.max_update_entries must be >= 0")
	}
	if cfg.SafeBrowsing.MaxDatabaseEntries < 0 {
		return fmt.Errorf("safe_browsing.max_database_entries must be >= 0")
	}
	if cfg.SafeBrowsing.Timeout < 0 {
		return fmt.Errorf("safe_browsing.timeout must be >= 0")
	}
	if cfg.Server.RateLimit.RequestsPerSecond < 0 || cfg.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit values must be >= 0")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", cfg.Logging.Format)
	}
	for _, p := range cfg.Scan.Allowlist {
		if _, err := glob.Compile(p, '.'); err != nil {
			return fmt.Errorf("invalid scan.allowlist pattern %q: %w", p, err)
		}
	}
	return nil
}

// Types parses the configured threat type names.
func (c SafeBrowsingConfig) Types() ([]threatfeed.ThreatType, error) {
	out := make([]threatfeed.ThreatType, 0, len(c.ThreatTypes))
	for _, name := range c.ThreatTypes {
		t, err := threatfeed.ParseThreatType(name)
		if err != nil {
			return nil, fmt.Errorf("safe_browsing.threat_types: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// ClientConfig maps the settings onto a threat list service client.
func (c SafeBrowsingConfig) ClientConfig() threatfeed.ClientConfig {
	return threatfeed.ClientConfig{
		BaseURL:       c.BaseURL,
		APIKey:        c.APIKey,
		ClientID:      c.ClientID,
		ClientVersion: c.ClientVersion,
		Timeout:       c.Timeout,
	}
}

func (c SafeBrowsingConfig) SyncConfig() threatfeed.SyncConfig {
	return threatfeed.SyncConfig{
		MaxUpdateEntries:   c.MaxUpdateEntries,
		MaxDatabaseEntries: c.MaxDatabaseEntries,
		Region:             c.Region,
	}
}
