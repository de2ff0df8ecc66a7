package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "DARKPATENT"

// DefaultDataDir is ~/.darkpatent, falling back to a relative directory when
// the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".darkpatent"
	}
	return filepath.Join(home, ".darkpatent")
}

// Load reads configuration from path, or searches the data directory and
// the working directory for config.yaml when path is empty. A missing
// config file is not an error: defaults and environment overrides apply.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDataDir())
		v.AddConfigPath(".")
	}

	// DARKPATENT_PROXY_LISTEN overrides proxy.listen.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	finalize(&c)
	if err := Validate(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Defaults returns the configuration used when no file or environment
// overrides are present.
func Defaults() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	finalize(&c)
	return c
}

func finalize(c *Config) {
	if c.Agent.LogFile == "" && c.Agent.DataDir != "" {
		c.Agent.LogFile = filepath.Join(c.Agent.DataDir, "logs", "darkpatent.log")
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.data_dir", DefaultDataDir())
	v.SetDefault("agent.log_level", "info")
	v.SetDefault("agent.log_max_size", 50)
	v.SetDefault("agent.log_max_backups", 5)
	v.SetDefault("agent.log_max_age", 30)
	v.SetDefault("agent.log_compress", true)
	v.SetDefault("agent.log_stdout", false)

	v.SetDefault("proxy.enable", true)
	v.SetDefault("proxy.listen", "127.0.0.1:8787")
	v.SetDefault("proxy.max_body_bytes", DefaultMaxBodyBytes)
	v.SetDefault("proxy.max_request_bytes", DefaultMaxRequestBytes)
	v.SetDefault("proxy.scanned_headers", DefaultScannedHeaders)
	v.SetDefault("proxy.header_hints", DefaultHeaderHints)
	v.SetDefault("proxy.retention", "7d")

	v.SetDefault("api.listen", "127.0.0.1:8788")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.file_name", "darkpatent.db")
	v.SetDefault("storage.log_level", "warn")
	v.SetDefault("storage.max_open_conns", 1)
	v.SetDefault("storage.max_idle_conns", 1)
	v.SetDefault("storage.conn_max_lifetime", "1h")
	v.SetDefault("storage.journal_mode", "WAL")
	v.SetDefault("storage.synchronous", "NORMAL")

	v.SetDefault("reputation.endpoint", "https://safebrowsing.googleapis.com/v4/threatMatches:find")
	v.SetDefault("reputation.client_id", "darkpatent")
	v.SetDefault("reputation.timeout", "5s")

	v.SetDefault("breach.endpoint", "https://haveibeenpwned.com/api/v3")
	v.SetDefault("breach.user_agent", "darkpatent")
	v.SetDefault("breach.timeout", "10s")
	v.SetDefault("breach.sweep_interval", "24h")

	v.SetDefault("guard.decision_timeout", "2m")

	v.SetDefault("defaults.real_time_scanning", true)
	v.SetDefault("defaults.dark_web_scanning", false)
	v.SetDefault("defaults.auto_block", false)
	v.SetDefault("defaults.notifications", true)
	v.SetDefault("defaults.alert_level", "medium")
}

// ConfigPath is where `rules add` writes when no --config is given.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

// SavePatterns replaces detection.custom_patterns in the config file at
// path, keeping every other key. The file is created when missing.
func SavePatterns(path string, patterns []Pattern) error {
	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}

	out := make([]map[string]any, 0, len(patterns))
	for _, p := range patterns {
		m := map[string]any{"name": p.Name, "regex": p.Regex}
		if p.Category != "" {
			m["category"] = p.Category
		}
		out = append(out, m)
	}
	v.Set("detection.custom_patterns", out)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
