// Package store persists engine state. Every record (settings, alerts,
// whitelist, watch-list, breach snapshots) is read and written as a whole
// unit, never field by field.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/util"
)

const (
	KeySettings        = "settings"
	KeyAlerts          = "alerts"
	KeyWhitelist       = "whitelist"
	KeyWatchlist       = "watchlist"
	KeyBreachSnapshots = "breach_snapshots"
)

var ErrNotFound = errors.New("record not found")

// Records saves and loads named records. Save replaces the previous value.
type Records interface {
	Load(key string, v any) error
	Save(key string, v any) error
	Close() error
}

// Open returns the backend selected by cfg.Backend rooted at dataDir.
func Open(dataDir string, cfg config.StorageConfig) (Records, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return NewFileRecords(util.StateDir(dataDir))
	case "sqlite":
		return OpenSQLite(dataDir, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it over path, so readers never see a partial file.
func writeFileAtomic(path, pattern string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		_ = tmp.Close()
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("set temp mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	success = true
	return nil
}
