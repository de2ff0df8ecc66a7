package settings

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/store"
)

// memRecords is an in-memory store.Records whose writes can be made to fail.
type memRecords struct {
	mu       sync.Mutex
	data     map[string][]byte
	failSave bool
}

func newMemRecords() *memRecords {
	logger.SetOutput(io.Discard, "error")
	return &memRecords{data: map[string][]byte{}}
}

func (m *memRecords) Load(key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return store.ErrNotFound
	}
	return json.Unmarshal(b, v)
}

func (m *memRecords) Save(key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errors.New("disk full")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = b
	return nil
}

func (m *memRecords) Close() error { return nil }

func defaults() model.Settings {
	return model.Settings{RealTimeScanning: true, Notifications: true, AlertLevel: model.SeverityMedium}
}

func boolPtr(b bool) *bool { return &b }

func TestLoadUsesDefaultsWhenUnsaved(t *testing.T) {
	m, err := Load(newMemRecords(), defaults())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != defaults() {
		t.Fatalf("got %+v", m.Get())
	}
}

func TestUpdateMergesAndPersists(t *testing.T) {
	rec := newMemRecords()
	m, err := Load(rec, defaults())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	level := model.SeverityHigh
	got, err := m.Update(model.SettingsPatch{AutoBlock: boolPtr(true), AlertLevel: &level})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !got.AutoBlock || got.AlertLevel != model.SeverityHigh || !got.RealTimeScanning {
		t.Fatalf("unexpected merge result %+v", got)
	}

	reloaded, err := Load(rec, defaults())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Get() != got {
		t.Fatalf("persisted %+v, want %+v", reloaded.Get(), got)
	}
}

func TestUpdatePersistFailureSurfaces(t *testing.T) {
	rec := newMemRecords()
	m, _ := Load(rec, defaults())
	rec.failSave = true

	if _, err := m.Update(model.SettingsPatch{RealTimeScanning: boolPtr(false)}); err == nil {
		t.Fatalf("expected persistence error")
	}
	if !m.Get().RealTimeScanning {
		t.Fatalf("in-memory settings changed despite failed write")
	}
}

func TestUpdateRejectsInvalidLevel(t *testing.T) {
	m, _ := Load(newMemRecords(), defaults())
	bad := model.Severity("extreme")
	if _, err := m.Update(model.SettingsPatch{AlertLevel: &bad}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
