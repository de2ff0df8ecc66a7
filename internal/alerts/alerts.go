// Package alerts owns the alert queue: creation with unique ids, whole-queue
// persistence, dismissal and the badge projection.
package alerts

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/store"
)

const idPrefix = "alert-"

// Notifier receives every created alert when notifications are enabled.
type Notifier interface {
	Notify(a model.Alert)
}

// SettingsSource is the read side of the settings manager.
type SettingsSource interface {
	Get() model.Settings
}

type Badge struct {
	Count int    `json:"count"`
	Text  string `json:"text"`
}

type Options struct {
	Records  store.Records
	Settings SettingsSource
	Notifier Notifier
	// OnBadge is called with every recomputed badge, in mutation order.
	OnBadge func(Badge)
	Now     func() time.Time
}

type Store struct {
	mu      sync.Mutex
	alerts  []model.Alert
	seq     uint64
	opts    Options
	nowFunc func() time.Time
}

// Open loads the persisted queue. The id counter resumes above the highest
// id already issued.
func Open(opts Options) (*Store, error) {
	if opts.Records == nil {
		return nil, errors.New("alerts: records are required")
	}
	s := &Store{opts: opts, nowFunc: opts.Now}
	if s.nowFunc == nil {
		s.nowFunc = func() time.Time { return time.Now().UTC() }
	}

	var saved []model.Alert
	if err := opts.Records.Load(store.KeyAlerts, &saved); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	s.alerts = saved
	for _, a := range saved {
		if n, ok := idSequence(a.ID); ok && n > s.seq {
			s.seq = n
		}
	}
	return s, nil
}

// CreateAlert assigns an id and timestamp to draft, appends it and persists
// the queue. On a failed write the alert is not kept.
func (s *Store) CreateAlert(draft model.AlertDraft) (model.Alert, error) {
	suffix, err := randomSuffix()
	if err != nil {
		return model.Alert{}, fmt.Errorf("generate alert id: %w", err)
	}

	s.mu.Lock()
	s.seq++
	a := model.Alert{
		ID:          idPrefix + strconv.FormatUint(s.seq, 10) + "-" + suffix,
		Kind:        draft.Kind,
		Severity:    draft.Severity,
		Title:       draft.Title,
		Message:     draft.Message,
		URL:         draft.URL,
		Findings:    draft.Findings,
		CreatedAt:   s.nowFunc(),
		SourceTabID: draft.SourceTabID,
	}
	if !a.Severity.Valid() {
		a.Severity = model.SeverityMedium
	}
	s.alerts = append(s.alerts, a)
	if err := s.persistLocked(); err != nil {
		s.alerts = s.alerts[:len(s.alerts)-1]
		s.mu.Unlock()
		return model.Alert{}, err
	}
	s.publishBadgeLocked()
	s.mu.Unlock()

	logger.Info("alert created", "id", a.ID, "kind", a.Kind, "severity", a.Severity, "url", a.URL, "findings", len(a.Findings))
	if s.opts.Notifier != nil && s.notificationsEnabled() {
		s.opts.Notifier.Notify(a)
	}
	return a, nil
}

// Dismiss removes the alert with id. An unknown id is not an error.
func (s *Store) Dismiss(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, a := range s.alerts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	prev := s.alerts
	next := make([]model.Alert, 0, len(prev)-1)
	next = append(next, prev[:idx]...)
	next = append(next, prev[idx+1:]...)
	s.alerts = next
	if err := s.persistLocked(); err != nil {
		s.alerts = prev
		return err
	}
	s.publishBadgeLocked()
	logger.Info("alert dismissed", "id", id)
	return nil
}

func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.alerts
	s.alerts = nil
	if err := s.persistLocked(); err != nil {
		s.alerts = prev
		return err
	}
	s.publishBadgeLocked()
	logger.Info("alerts cleared", "count", len(prev))
	return nil
}

// List returns a copy of the queue, oldest first.
func (s *Store) List() []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

func (s *Store) Badge() Badge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return badgeFor(len(s.alerts))
}

// Flush re-persists the current queue.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	alerts := s.alerts
	if alerts == nil {
		alerts = []model.Alert{}
	}
	if err := s.opts.Records.Save(store.KeyAlerts, alerts); err != nil {
		return fmt.Errorf("persist alerts: %w", err)
	}
	return nil
}

func (s *Store) publishBadgeLocked() {
	if s.opts.OnBadge != nil {
		s.opts.OnBadge(badgeFor(len(s.alerts)))
	}
}

func (s *Store) notificationsEnabled() bool {
	if s.opts.Settings == nil {
		return true
	}
	return s.opts.Settings.Get().Notifications
}

func badgeFor(n int) Badge {
	b := Badge{Count: n}
	switch {
	case n == 0:
	case n > 99:
		b.Text = "99+"
	default:
		b.Text = strconv.Itoa(n)
	}
	return b
}

func idSequence(id string) (uint64, bool) {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok {
		return 0, false
	}
	num, _, _ := strings.Cut(rest, "-")
	n, err := strconv.ParseUint(num, 10, 64)
	return n, err == nil
}

func randomSuffix() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
