package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TRUSTAUDIT_DB_DRIVER", "TRUSTAUDIT_DB", "GEMINI_API_KEY", "OPENAI_API_KEY",
		"GOOGLE_PLACES_API_KEY", "REDIS_ADDR", "TRUSTAUDIT_LOG_LEVEL", "TRUSTAUDIT_MAX_ITERATIONS",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Collection.BatchSize != 5 {
		t.Errorf("expected BatchSize=5, got %d", cfg.Collection.BatchSize)
	}
	if cfg.Audit.MaxIterations != 5 || cfg.Audit.MaxInvestigations != 2 {
		t.Errorf("unexpected audit caps: %+v", cfg.Audit)
	}
	if cfg.Audit.DigestBudget != 60000 {
		t.Errorf("expected DigestBudget=60000, got %d", cfg.Audit.DigestBudget)
	}
	if cfg.Collection.DiscrepancyThreshold != 1.5 {
		t.Errorf("expected threshold 1.5, got %v", cfg.Collection.DiscrepancyThreshold)
	}
	if cfg.GetInvestigationTTL() != 0 {
		t.Errorf("ad hoc evidence should default to zero TTL")
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "trustaudit.yaml")

	cfg := DefaultConfig()
	cfg.Reasoning.Provider = "openai"
	cfg.Reasoning.APIKey = "sk-test"
	cfg.RateLimits.Domains["www.angi.com"] = DomainRate{PerMinute: 7, Burst: 2}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Reasoning.Provider != "openai" || loaded.Reasoning.APIKey != "sk-test" {
		t.Errorf("reasoning not round-tripped: %+v", loaded.Reasoning)
	}
	if got := loaded.RateFor("www.angi.com"); got.PerMinute != 7 || got.Burst != 2 {
		t.Errorf("RateFor(angi) = %+v", got)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("expected sqlite default, got %s", cfg.Store.Driver)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("store: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRUSTAUDIT_DB_DRIVER", "postgres")
	t.Setenv("TRUSTAUDIT_DB", "postgres://localhost/trust?sslmode=disable")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("TRUSTAUDIT_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Driver != "postgres" {
		t.Errorf("driver = %s", cfg.Store.Driver)
	}
	if cfg.Reasoning.Provider != "openai" || cfg.Reasoning.APIKey != "sk-env" {
		t.Errorf("reasoning = %+v", cfg.Reasoning)
	}
	if cfg.Reasoning.Model != "gpt-4o-mini" {
		t.Errorf("model should switch away from gemini default, got %s", cfg.Reasoning.Model)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
}

func TestConfig_GeminiKeyWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "o-key")

	cfg, _ := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg.Reasoning.Provider != "gemini" || cfg.Reasoning.APIKey != "g-key" {
		t.Errorf("reasoning = %+v", cfg.Reasoning)
	}
}

func TestDurationGetters_Fallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Collection.FetchTimeout = "soon"
	cfg.Reasoning.Timeout = ""
	cfg.Audit.InvestigationTTL = "-5m"

	if got := cfg.GetFetchTimeout(); got != 30*time.Second {
		t.Errorf("GetFetchTimeout = %v", got)
	}
	if got := cfg.GetReasoningTimeout(); got != 120*time.Second {
		t.Errorf("GetReasoningTimeout = %v", got)
	}
	if got := cfg.GetInvestigationTTL(); got != 0 {
		t.Errorf("GetInvestigationTTL = %v", got)
	}

	cfg.Audit.InvestigationTTL = "15m"
	if got := cfg.GetInvestigationTTL(); got != 15*time.Minute {
		t.Errorf("GetInvestigationTTL = %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"scripted needs no key", func(c *Config) { c.Reasoning.Provider = "scripted" }, false},
		{"gemini without key", func(c *Config) {}, true},
		{"gemini with key", func(c *Config) { c.Reasoning.APIKey = "k" }, false},
		{"bad provider", func(c *Config) { c.Reasoning.Provider = "oracle"; c.Reasoning.APIKey = "k" }, true},
		{"bad driver", func(c *Config) { c.Reasoning.APIKey = "k"; c.Store.Driver = "mysql" }, true},
		{"zero batch", func(c *Config) { c.Reasoning.APIKey = "k"; c.Collection.BatchSize = 0 }, true},
		{"zero iterations", func(c *Config) { c.Reasoning.APIKey = "k"; c.Audit.MaxIterations = 0 }, true},
		{"bad domain rate", func(c *Config) {
			c.Reasoning.APIKey = "k"
			c.RateLimits.Domains["x.com"] = DomainRate{}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsSourceDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sources.Disabled = []string{"facebook"}
	if !cfg.IsSourceDisabled("facebook") || cfg.IsSourceDisabled("bbb") {
		t.Error("IsSourceDisabled mismatch")
	}
}
