// Package settings owns the process-wide Settings record and the user
// maintained host and email lists. Every mutation replaces and re-persists the
// whole record; a failed write leaves the in-memory copy untouched.
package settings

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/store"
)

var ErrInvalid = errors.New("invalid settings")

type Manager struct {
	mu      sync.RWMutex
	current model.Settings
	records store.Records
}

// Load reads the persisted settings, falling back to defaults when none
// have been saved yet.
func Load(records store.Records, defaults model.Settings) (*Manager, error) {
	m := &Manager{current: defaults, records: records}
	var saved model.Settings
	err := records.Load(store.KeySettings, &saved)
	switch {
	case err == nil:
		if !saved.AlertLevel.Valid() {
			saved.AlertLevel = defaults.AlertLevel
		}
		m.current = saved
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return m, nil
}

func (m *Manager) Get() model.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update merges patch over the current settings and persists the result.
func (m *Manager) Update(patch model.SettingsPatch) (model.Settings, error) {
	if patch.AlertLevel != nil && !patch.AlertLevel.Valid() {
		return model.Settings{}, fmt.Errorf("%w: alert_level %q", ErrInvalid, *patch.AlertLevel)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := patch.Apply(m.current)
	if err := m.records.Save(store.KeySettings, next); err != nil {
		return m.current, fmt.Errorf("persist settings: %w", err)
	}
	m.current = next
	logger.Info("settings updated",
		"real_time_scanning", next.RealTimeScanning,
		"dark_web_scanning", next.DarkWebScanning,
		"auto_block", next.AutoBlock,
		"notifications", next.Notifications,
		"alert_level", next.AlertLevel,
	)
	return next, nil
}
