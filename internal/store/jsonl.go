package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

// EventLog appends one JSON line per intercepted request.
type EventLog struct {
	path string
	mu   sync.Mutex
}

func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

func (s *EventLog) Path() string { return s.path }

func (s *EventLog) Append(e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(e); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// ReadEvents returns every event in the log. A missing log is empty.
func ReadEvents(path string) ([]model.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	var out []model.Event
	for {
		var e model.Event
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return out, fmt.Errorf("decode events: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// TailEvents returns at most n of the newest events, oldest first.
func TailEvents(path string, n int) ([]model.Event, error) {
	events, err := ReadEvents(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// PruneEvents drops events older than cutoff. Events without a timestamp
// are kept.
func PruneEvents(path string, cutoff time.Time) (kept int, removed int, err error) {
	events, err := ReadEvents(path)
	if err != nil {
		return 0, 0, err
	}
	if len(events) == 0 {
		return 0, 0, nil
	}

	filtered := make([]model.Event, 0, len(events))
	for _, e := range events {
		if e.Timestamp.IsZero() || !e.Timestamp.Before(cutoff) {
			filtered = append(filtered, e)
			continue
		}
		removed++
	}
	if removed == 0 {
		return len(events), 0, nil
	}

	err = writeFileAtomic(path, "events-prune-*.jsonl", func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, e := range filtered {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("write pruned event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return len(filtered), removed, nil
}
