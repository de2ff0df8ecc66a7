package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetOutputFiltersByLevel(t *testing.T) {
	orig := L()
	t.Cleanup(func() { current.Store(orig) })

	var buf bytes.Buffer
	SetOutput(&buf, "warn")
	Info("hidden", "k", 1)
	Warn("shown", "k", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "k=2") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestSetupWritesRotatingFile(t *testing.T) {
	orig := L()
	t.Cleanup(func() { current.Store(orig) })

	path := filepath.Join(t.TempDir(), "logs", "darkpatent.log")
	closer, err := Setup(Options{Level: "info", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	Info("engine started", "listen", "127.0.0.1:8787")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"engine started"`) {
		t.Fatalf("unexpected log contents: %s", b)
	}
}
