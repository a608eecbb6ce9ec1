package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TRUSTAUDIT_DB", "")
	t.Setenv("REDIS_ADDR", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "trustaudit.yaml")
	yaml := `store:
  driver: sqlite
  dsn: ` + filepath.Join(dir, "trustaudit.db") + `
reasoning:
  provider: scripted
sources:
  disabled: [facebook]
logging:
  level: error
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestSubjectAddAndList(t *testing.T) {
	cfgPath := setupConfig(t)

	out := run(t, "--config", cfgPath, "subject", "add", "Acme", "Roofing", "LLC", "--id", "acme", "--city", "Denver", "--state", "CO")
	if !strings.Contains(out, "acme\tAcme Roofing LLC") {
		t.Fatalf("unexpected add output: %s", out)
	}

	out = run(t, "--config", cfgPath, "subject", "list")
	if !strings.Contains(out, "acme\tAcme Roofing LLC\tDenver, CO\t-") {
		t.Fatalf("unexpected list output: %s", out)
	}
}

func TestAuditSkipCollectionAndShow(t *testing.T) {
	cfgPath := setupConfig(t)
	run(t, "--config", cfgPath, "subject", "add", "Acme Roofing LLC", "--id", "acme")

	out := run(t, "--config", cfgPath, "audit", "acme", "--skip-collection", "--plain")
	if !strings.Contains(out, "**Score:** 50/100") || !strings.Contains(out, "Forced result") {
		t.Fatalf("expected a forced result, got: %s", out)
	}

	out = run(t, "--config", cfgPath, "audit", "show", "acme", "--plain")
	if strings.Contains(out, "WARNING") {
		t.Fatalf("stored audit failed verification: %s", out)
	}
	if !strings.Contains(out, "# Trust audit: acme") {
		t.Fatalf("unexpected show output: %s", out)
	}

	out = run(t, "--config", cfgPath, "usage", "acme")
	if !strings.Contains(out, "No paid calls recorded.") {
		t.Fatalf("unexpected usage output: %s", out)
	}
}

func TestCoverage(t *testing.T) {
	cfgPath := setupConfig(t)
	run(t, "--config", cfgPath, "subject", "add", "Acme Roofing LLC", "--id", "acme")

	out := run(t, "--config", cfgPath, "coverage", "acme")
	if !strings.Contains(out, "need collection") {
		t.Fatalf("unexpected coverage output: %s", out)
	}
}

func TestSourcesHonorsDisabled(t *testing.T) {
	cfgPath := setupConfig(t)

	out := run(t, "--config", cfgPath, "sources")
	if !strings.Contains(out, "bbb") || !strings.Contains(out, "ad_hoc_search:<audit>:<n>") {
		t.Fatalf("unexpected sources output: %s", out)
	}
	if strings.Contains(out, "facebook") {
		t.Fatalf("disabled source listed: %s", out)
	}
}
