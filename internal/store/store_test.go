package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

type sample struct {
	Name  string   `json:"name"`
	Hosts []string `json:"hosts"`
}

func backends(t *testing.T) map[string]Records {
	t.Helper()
	logger.SetOutput(os.Stderr, "error")

	file, err := NewFileRecords(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("NewFileRecords: %v", err)
	}
	cfg := config.Defaults().Storage
	cfg.Backend = "sqlite"
	cfg.LogLevel = "silent"
	db, err := OpenSQLite(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return map[string]Records{"file": file, "sqlite": db}
}

func TestRecordsRoundTripAndReplace(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var missing sample
			if err := s.Load(KeyWhitelist, &missing); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			if err := s.Save(KeyWhitelist, sample{Name: "one", Hosts: []string{"a.example", "b.example"}}); err != nil {
				t.Fatalf("Save: %v", err)
			}
			// A second save replaces the whole record.
			if err := s.Save(KeyWhitelist, sample{Name: "two", Hosts: []string{"c.example"}}); err != nil {
				t.Fatalf("Save: %v", err)
			}

			var got sample
			if err := s.Load(KeyWhitelist, &got); err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got.Name != "two" || len(got.Hosts) != 1 || got.Hosts[0] != "c.example" {
				t.Fatalf("unexpected record: %+v", got)
			}
		})
	}
}

func TestRecordsSettings(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			in := model.Settings{RealTimeScanning: true, AutoBlock: true, AlertLevel: model.SeverityHigh}
			if err := s.Save(KeySettings, in); err != nil {
				t.Fatalf("Save: %v", err)
			}
			var out model.Settings
			if err := s.Load(KeySettings, &out); err != nil {
				t.Fatalf("Load: %v", err)
			}
			if out != in {
				t.Fatalf("got %+v, want %+v", out, in)
			}
		})
	}
}

func TestFileRecordsRejectsBadKey(t *testing.T) {
	s, err := NewFileRecords(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRecords: %v", err)
	}
	if err := s.Save("../escape", sample{}); err == nil {
		t.Fatalf("expected invalid key error")
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := config.Defaults().Storage
	cfg.Backend = "postgres"
	if _, err := Open(t.TempDir(), cfg); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
