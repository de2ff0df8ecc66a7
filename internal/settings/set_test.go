package settings

import (
	"testing"
)

func TestWhitelistContains(t *testing.T) {
	w, err := LoadWhitelist(newMemRecords())
	if err != nil {
		t.Fatalf("LoadWhitelist: %v", err)
	}
	if _, err := w.Add("https://Example.com:8443/login"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tests := []struct {
		host string
		want bool
	}{
		{"example.com", true},
		{"EXAMPLE.COM", true},
		{"api.example.com", true},
		{"example.com:443", true},
		{"notexample.com", false},
		{"example.org", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := w.Contains(tt.host); got != tt.want {
				t.Fatalf("Contains(%q)=%v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestWhitelistAddRemovePersist(t *testing.T) {
	rec := newMemRecords()
	w, _ := LoadWhitelist(rec)

	added, err := w.Add("bank.example")
	if err != nil || !added {
		t.Fatalf("Add: added=%v err=%v", added, err)
	}
	if added, _ := w.Add("bank.example"); added {
		t.Fatalf("duplicate add should report false")
	}

	reloaded, _ := LoadWhitelist(rec)
	if !reloaded.Contains("bank.example") {
		t.Fatalf("whitelist not persisted")
	}

	removed, err := w.Remove("bank.example")
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	if removed, err := w.Remove("bank.example"); removed || err != nil {
		t.Fatalf("second remove should be a no-op, got %v %v", removed, err)
	}
	if w.Len() != 0 {
		t.Fatalf("expected empty whitelist, got %v", w.List())
	}
}

func TestWhitelistRollbackOnPersistFailure(t *testing.T) {
	rec := newMemRecords()
	w, _ := LoadWhitelist(rec)
	rec.failSave = true

	if _, err := w.Add("a.example"); err == nil {
		t.Fatalf("expected persistence error")
	}
	if w.Contains("a.example") {
		t.Fatalf("failed add left host in memory")
	}
}

func TestWatchlistNormalizesEmails(t *testing.T) {
	wl, err := LoadWatchlist(newMemRecords())
	if err != nil {
		t.Fatalf("LoadWatchlist: %v", err)
	}
	if _, err := wl.Add("Alice <Alice@Example.COM>"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !wl.Has("alice@example.com") {
		t.Fatalf("expected normalized email, got %v", wl.List())
	}
	if _, err := wl.Add("not an email"); err == nil {
		t.Fatalf("expected invalid email error")
	}
}

func TestNormalizeHost(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"example.com", "example.com", false},
		{"Example.COM.", "example.com", false},
		{"http://a.b.example/x?y", "a.b.example", false},
		{"10.0.0.1:8080", "10.0.0.1", false},
		{"[::1]:443", "::1", false},
		{"", "", true},
		{"bad host", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeHost(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("NormalizeHost(%q)=%q,%v", tt.in, got, err)
		}
	}
}
