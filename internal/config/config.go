package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"trustaudit/internal/logging"
)

// Config holds all trustaudit configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Store      StoreConfig      `yaml:"store"`
	Collection CollectionConfig `yaml:"collection"`
	RateLimits RateLimitConfig  `yaml:"rate_limits"`
	Redis      RedisConfig      `yaml:"redis"`
	Audit      AuditConfig      `yaml:"audit"`
	Reasoning  ReasoningConfig  `yaml:"reasoning"`
	Sources    SourcesConfig    `yaml:"sources"`
	Search     SearchConfig     `yaml:"search"`
	Browser    BrowserConfig    `yaml:"browser"`

	Logging logging.Config `yaml:"logging"`
}

// StoreConfig selects the SQL backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres
	DSN    string `yaml:"dsn"`
}

// CollectionConfig configures the collection orchestrator.
type CollectionConfig struct {
	BatchSize            int     `yaml:"batch_size"`
	FetchTimeout         string  `yaml:"fetch_timeout"`
	DiscrepancyThreshold float64 `yaml:"discrepancy_threshold"`
	UserAgent            string  `yaml:"user_agent"`
}

// DomainRate is a token bucket definition for one domain.
type DomainRate struct {
	PerMinute float64 `yaml:"per_minute"`
	Burst     int     `yaml:"burst"`
}

// RateLimitConfig holds the default and per-domain buckets.
type RateLimitConfig struct {
	Default DomainRate            `yaml:"default"`
	Domains map[string]DomainRate `yaml:"domains"`
}

// RedisConfig enables the shared token bucket.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AuditConfig bounds the audit loop.
type AuditConfig struct {
	Version           string `yaml:"version"`
	MaxIterations     int    `yaml:"max_iterations"`
	MaxInvestigations int    `yaml:"max_investigations"`
	DigestBudget      int    `yaml:"digest_budget"`
	InvestigationTTL  string `yaml:"investigation_ttl"`
}

// ReasoningConfig configures the reasoning service.
type ReasoningConfig struct {
	Provider string `yaml:"provider"` // gemini, openai, scripted
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
	// Script is a YAML step file for the scripted provider.
	Script string `yaml:"script"`

	// Prices in USD per million tokens.
	InputPricePerMTok  float64 `yaml:"input_price_per_mtok"`
	OutputPricePerMTok float64 `yaml:"output_price_per_mtok"`
}

// SourcesConfig carries per-source credentials and switches.
type SourcesConfig struct {
	GooglePlacesAPIKey string   `yaml:"google_places_api_key"`
	Disabled           []string `yaml:"disabled"`
}

// SearchConfig configures the investigate capability's web search.
type SearchConfig struct {
	BaseURL string `yaml:"base_url"`
}

// BrowserConfig configures headless Chrome for custom scrapers.
type BrowserConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Headless bool   `yaml:"headless"`
	Bin      string `yaml:"bin"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "trustaudit",
		Version: "0.4.0",

		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "data/trustaudit.db",
		},

		Collection: CollectionConfig{
			BatchSize:            5,
			FetchTimeout:         "30s",
			DiscrepancyThreshold: 1.5,
			UserAgent:            "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		},

		RateLimits: RateLimitConfig{
			Default: DomainRate{PerMinute: 15, Burst: 3},
			Domains: map[string]DomainRate{
				"www.bbb.org":         {PerMinute: 5, Burst: 1},
				"www.yelp.com":        {PerMinute: 5, Burst: 1},
				"html.duckduckgo.com": {PerMinute: 10, Burst: 2},
			},
		},

		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "trustaudit:ratelimit:",
		},

		Audit: AuditConfig{
			Version:           "2.1.0",
			MaxIterations:     5,
			MaxInvestigations: 2,
			DigestBudget:      60000,
			InvestigationTTL:  "0s",
		},

		Reasoning: ReasoningConfig{
			Provider:           "gemini",
			Model:              "gemini-2.5-flash",
			Timeout:            "120s",
			InputPricePerMTok:  0.30,
			OutputPricePerMTok: 2.50,
		},

		Search: SearchConfig{
			BaseURL: "https://html.duckduckgo.com/html/",
		},

		Browser: BrowserConfig{
			Headless: true,
		},

		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if driver := os.Getenv("TRUSTAUDIT_DB_DRIVER"); driver != "" {
		c.Store.Driver = driver
	}
	if dsn := os.Getenv("TRUSTAUDIT_DB"); dsn != "" {
		c.Store.DSN = dsn
	}

	// Reasoning key: the provider follows whichever key is set, OpenAI last.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Reasoning.APIKey = key
		c.Reasoning.Provider = "gemini"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Reasoning.APIKey == "" {
		c.Reasoning.APIKey = key
		c.Reasoning.Provider = "openai"
		if strings.HasPrefix(c.Reasoning.Model, "gemini") {
			c.Reasoning.Model = "gpt-4o-mini"
		}
	}

	if key := os.Getenv("GOOGLE_PLACES_API_KEY"); key != "" {
		c.Sources.GooglePlacesAPIKey = key
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}
	if level := os.Getenv("TRUSTAUDIT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if n := os.Getenv("TRUSTAUDIT_MAX_ITERATIONS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			c.Audit.MaxIterations = v
		}
	}
}

// GetFetchTimeout returns the per-fetch timeout as a duration.
func (c *Config) GetFetchTimeout() time.Duration {
	d, err := time.ParseDuration(c.Collection.FetchTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetReasoningTimeout returns the reasoning call timeout as a duration.
func (c *Config) GetReasoningTimeout() time.Duration {
	d, err := time.ParseDuration(c.Reasoning.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// GetInvestigationTTL returns the TTL applied to ad hoc search evidence.
// Zero means the evidence is never considered fresh.
func (c *Config) GetInvestigationTTL() time.Duration {
	d, err := time.ParseDuration(c.Audit.InvestigationTTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// IsSourceDisabled reports whether name is listed in sources.disabled.
func (c *Config) IsSourceDisabled(name string) bool {
	for _, d := range c.Sources.Disabled {
		if d == name {
			return true
		}
	}
	return false
}

// RateFor returns the bucket for a domain, falling back to the default.
func (c *Config) RateFor(domain string) DomainRate {
	if r, ok := c.RateLimits.Domains[domain]; ok {
		return r
	}
	return c.RateLimits.Default
}

// ValidProviders lists all supported reasoning providers.
var ValidProviders = []string{"gemini", "openai", "scripted"}

// ValidDrivers lists the supported store drivers.
var ValidDrivers = []string{"sqlite", "postgres"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidDrivers, c.Store.Driver) {
		return fmt.Errorf("invalid store driver: %s (valid: %v)", c.Store.Driver, ValidDrivers)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store dsn not configured (set TRUSTAUDIT_DB)")
	}
	if !contains(ValidProviders, c.Reasoning.Provider) {
		return fmt.Errorf("invalid reasoning provider: %s (valid: %v)", c.Reasoning.Provider, ValidProviders)
	}
	if c.Reasoning.Provider != "scripted" && c.Reasoning.APIKey == "" {
		return fmt.Errorf("reasoning API key not configured (set GEMINI_API_KEY or OPENAI_API_KEY)")
	}
	if c.Collection.BatchSize < 1 {
		return fmt.Errorf("collection.batch_size must be at least 1, got %d", c.Collection.BatchSize)
	}
	if c.Collection.DiscrepancyThreshold <= 0 {
		return fmt.Errorf("collection.discrepancy_threshold must be positive")
	}
	if c.Audit.MaxIterations < 1 {
		return fmt.Errorf("audit.max_iterations must be at least 1, got %d", c.Audit.MaxIterations)
	}
	if c.Audit.MaxInvestigations < 0 {
		return fmt.Errorf("audit.max_investigations must not be negative")
	}
	if c.Audit.DigestBudget < 1000 {
		return fmt.Errorf("audit.digest_budget too small: %d", c.Audit.DigestBudget)
	}
	if c.RateLimits.Default.PerMinute <= 0 {
		return fmt.Errorf("rate_limits.default.per_minute must be positive")
	}
	for domain, r := range c.RateLimits.Domains {
		if r.PerMinute <= 0 {
			return fmt.Errorf("rate_limits.domains[%s].per_minute must be positive", domain)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
