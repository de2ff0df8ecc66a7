package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

func TestDefaultsSafetyDefaults(t *testing.T) {
	c := Defaults()
	if err := Validate(c); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if c.Proxy.MaxRequestBytes <= 0 {
		t.Fatalf("expected max_request_bytes > 0")
	}
	if !c.Defaults.RealTimeScanning {
		t.Fatalf("expected real time scanning on by default")
	}
	if c.Defaults.DarkWebScanning {
		t.Fatalf("expected dark web scanning off by default")
	}
	if c.Defaults.AlertLevel != model.SeverityMedium {
		t.Fatalf("unexpected default alert level %q", c.Defaults.AlertLevel)
	}
	if c.Reputation.Timeout != 5*time.Second {
		t.Fatalf("unexpected reputation timeout %s", c.Reputation.Timeout)
	}
	if c.Breach.SweepInterval != 24*time.Hour {
		t.Fatalf("unexpected sweep interval %s", c.Breach.SweepInterval)
	}
	if len(c.Proxy.ScannedHeaders) == 0 {
		t.Fatalf("expected default scanned headers")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
agent:
  data_dir: ` + dir + `
storage:
  backend: sqlite
guard:
  decision_timeout: 30s
defaults:
  alert_level: high
  dark_web_scanning: true
detection:
  custom_patterns:
    - name: employee_id
      regex: "EMP[0-9]{6}"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Storage.Backend != "sqlite" {
		t.Fatalf("backend = %q", c.Storage.Backend)
	}
	if c.Guard.DecisionTimeout != 30*time.Second {
		t.Fatalf("decision timeout = %s", c.Guard.DecisionTimeout)
	}
	if c.Defaults.AlertLevel != model.SeverityHigh || !c.Defaults.DarkWebScanning {
		t.Fatalf("unexpected defaults: %+v", c.Defaults)
	}
	if len(c.Detection.CustomPatterns) != 1 || c.Detection.CustomPatterns[0].Name != "employee_id" {
		t.Fatalf("unexpected custom patterns: %+v", c.Detection.CustomPatterns)
	}
	if c.Agent.LogFile != filepath.Join(dir, "logs", "darkpatent.log") {
		t.Fatalf("unexpected log file %q", c.Agent.LogFile)
	}
	// Untouched sections keep their defaults.
	if c.Proxy.Listen != "127.0.0.1:8787" {
		t.Fatalf("proxy listen = %q", c.Proxy.Listen)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("api:\n  listen: 127.0.0.1:9000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DARKPATENT_API_LISTEN", "127.0.0.1:9100")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.API.Listen != "127.0.0.1:9100" {
		t.Fatalf("expected env override, got %q", c.API.Listen)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"alert level", func(c *Config) { c.Defaults.AlertLevel = "severe" }},
		{"decision timeout", func(c *Config) { c.Guard.DecisionTimeout = 0 }},
		{"pattern regex", func(c *Config) {
			c.Detection.CustomPatterns = []Pattern{{Name: "bad", Regex: "[unclosed"}}
		}},
		{"pattern name", func(c *Config) {
			c.Detection.CustomPatterns = []Pattern{{Regex: "x"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(&c)
			if err := Validate(c); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
