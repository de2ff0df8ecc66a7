package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

const (
	DefaultMaxBodyBytes    = 1 << 20
	DefaultMaxRequestBytes = 8 << 20
)

// DefaultScannedHeaders are always inspected; any header whose name contains
// one of DefaultHeaderHints is inspected as well.
var DefaultScannedHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"X-Api-Key",
	"X-Auth-Token",
}

var DefaultHeaderHints = []string{"token", "key", "secret", "auth", "password", "session"}

type Config struct {
	Agent      AgentConfig      `mapstructure:"agent"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	API        APIConfig        `mapstructure:"api"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Detection  Detection        `mapstructure:"detection"`
	Reputation ReputationConfig `mapstructure:"reputation"`
	Breach     BreachConfig     `mapstructure:"breach"`
	Guard      GuardConfig      `mapstructure:"guard"`
	Defaults   model.Settings   `mapstructure:"defaults"`
}

type AgentConfig struct {
	DataDir       string `mapstructure:"data_dir"`
	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSize    int    `mapstructure:"log_max_size"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAge     int    `mapstructure:"log_max_age"`
	LogCompress   bool   `mapstructure:"log_compress"`
	LogStdout     bool   `mapstructure:"log_stdout"`
}

type ProxyConfig struct {
	Enable          bool     `mapstructure:"enable"`
	Listen          string   `mapstructure:"listen"`
	MaxBodyBytes    int64    `mapstructure:"max_body_bytes"`
	MaxRequestBytes int64    `mapstructure:"max_request_bytes"`
	ScannedHeaders  []string `mapstructure:"scanned_headers"`
	HeaderHints     []string `mapstructure:"header_hints"`
	Retention       string   `mapstructure:"retention"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

type StorageConfig struct {
	// Backend is "file" (one JSON document per record) or "sqlite".
	Backend         string        `mapstructure:"backend"`
	FileName        string        `mapstructure:"file_name"`
	LogLevel        string        `mapstructure:"log_level"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	JournalMode     string        `mapstructure:"journal_mode"`
	Synchronous     string        `mapstructure:"synchronous"`
}

type Pattern struct {
	Name     string `mapstructure:"name" json:"name"`
	Regex    string `mapstructure:"regex" json:"regex"`
	Category string `mapstructure:"category" json:"category,omitempty"`
}

type Detection struct {
	CustomPatterns []Pattern `mapstructure:"custom_patterns"`
}

type ReputationConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	ClientID string        `mapstructure:"client_id"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type BreachConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	APIKey        string        `mapstructure:"api_key"`
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type GuardConfig struct {
	DecisionTimeout time.Duration `mapstructure:"decision_timeout"`
}

func Validate(c Config) error {
	if c.Proxy.MaxBodyBytes <= 0 {
		return errors.New("proxy.max_body_bytes must be > 0")
	}
	if c.Proxy.MaxRequestBytes <= 0 {
		return errors.New("proxy.max_request_bytes must be > 0")
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be one of: file, sqlite (got %q)", c.Storage.Backend)
	}
	if c.Reputation.Timeout <= 0 {
		return errors.New("reputation.timeout must be > 0")
	}
	if c.Breach.Timeout <= 0 {
		return errors.New("breach.timeout must be > 0")
	}
	if c.Breach.SweepInterval < 0 {
		return errors.New("breach.sweep_interval must be >= 0")
	}
	if c.Guard.DecisionTimeout <= 0 {
		return errors.New("guard.decision_timeout must be > 0")
	}
	if !c.Defaults.AlertLevel.Valid() {
		return fmt.Errorf("defaults.alert_level must be one of: low, medium, high, critical (got %q)", c.Defaults.AlertLevel)
	}
	for _, p := range c.Detection.CustomPatterns {
		if p.Name == "" {
			return errors.New("custom pattern name is required")
		}
		if p.Regex == "" {
			return fmt.Errorf("custom pattern %q regex is required", p.Name)
		}
		if _, err := regexp.Compile(p.Regex); err != nil {
			return fmt.Errorf("custom pattern %q: %w", p.Name, err)
		}
	}
	return nil
}
