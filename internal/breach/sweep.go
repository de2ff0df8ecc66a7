package breach

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/store"
)

type Checker interface {
	Check(ctx context.Context, email string) model.BreachResult
}

type AlertCreator interface {
	CreateAlert(draft model.AlertDraft) (model.Alert, error)
}

// Watchlist is the set of emails to sweep.
type Watchlist interface {
	List() []string
}

// Sweeper checks every watch-list entry and raises one BreachDetected alert
// per breach not seen before for that entry. Entries are checked under a
// per-entry lock, so overlapping sweeps cannot alert twice for one breach.
type Sweeper struct {
	checker   Checker
	alerts    AlertCreator
	watchlist Watchlist
	records   store.Records

	mu        sync.Mutex
	snapshots map[string][]string
	entryMu   map[string]*sync.Mutex
}

func NewSweeper(checker Checker, alerts AlertCreator, watchlist Watchlist, records store.Records) (*Sweeper, error) {
	s := &Sweeper{
		checker:   checker,
		alerts:    alerts,
		watchlist: watchlist,
		records:   records,
		snapshots: make(map[string][]string),
		entryMu:   make(map[string]*sync.Mutex),
	}
	if err := records.Load(store.KeyBreachSnapshots, &s.snapshots); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load breach snapshots: %w", err)
	}
	if s.snapshots == nil {
		s.snapshots = make(map[string][]string)
	}
	return s, nil
}

// Run sweeps immediately and then every interval until ctx is done. A zero
// interval disables the periodic job.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Error("breach sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce checks each entry and returns the number of alerts raised.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	var raised int
	var errs []error
	for _, email := range s.watchlist.List() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := s.checkEntry(ctx, email)
		raised += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	if raised > 0 {
		logger.Info("breach sweep raised alerts", "count", raised)
	}
	return raised, errors.Join(errs...)
}

func (s *Sweeper) checkEntry(ctx context.Context, email string) (int, error) {
	lock := s.lockFor(email)
	lock.Lock()
	defer lock.Unlock()

	res := s.checker.Check(ctx, email)
	if !res.Checked || res.Error || !res.Breached {
		return 0, nil
	}

	seen := s.seen(email)
	var raised int
	var newlySeen []string
	for _, b := range res.Breaches {
		if _, ok := seen[b.Name]; ok {
			continue
		}
		_, err := s.alerts.CreateAlert(model.AlertDraft{
			Kind:     model.AlertBreachDetected,
			Severity: model.SeverityHigh,
			Title:    "Email found in data breach",
			Message:  fmt.Sprintf("%s appeared in the %s breach", email, b.Name),
		})
		if err != nil {
			// Unrecorded breaches are retried on the next sweep.
			if perr := s.remember(email, newlySeen); perr != nil {
				return raised, errors.Join(err, perr)
			}
			return raised, fmt.Errorf("alert for %s: %w", b.Name, err)
		}
		seen[b.Name] = struct{}{}
		newlySeen = append(newlySeen, b.Name)
		raised++
	}
	return raised, s.remember(email, newlySeen)
}

func (s *Sweeper) lockFor(email string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.entryMu[email]
	if !ok {
		l = &sync.Mutex{}
		s.entryMu[email] = l
	}
	return l
}

func (s *Sweeper) seen(email string) map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.snapshots[email]))
	for _, name := range s.snapshots[email] {
		out[name] = struct{}{}
	}
	return out
}

func (s *Sweeper) remember(email string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[email] = append(s.snapshots[email], names...)
	if err := s.records.Save(store.KeyBreachSnapshots, s.snapshots); err != nil {
		return fmt.Errorf("persist breach snapshots: %w", err)
	}
	return nil
}
