package settings

import (
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/Thianeswaran-G/DarkPatent/internal/store"
)

// StringSet is a persisted set of normalized strings stored under one
// record key.
type StringSet struct {
	mu        sync.RWMutex
	key       string
	items     map[string]struct{}
	records   store.Records
	normalize func(string) (string, error)
}

func loadSet(records store.Records, key string, normalize func(string) (string, error)) (*StringSet, error) {
	s := &StringSet{
		key:       key,
		items:     make(map[string]struct{}),
		records:   records,
		normalize: normalize,
	}
	var saved []string
	if err := records.Load(key, &saved); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	for _, item := range saved {
		if n, err := normalize(item); err == nil {
			s.items[n] = struct{}{}
		}
	}
	return s, nil
}

// Add inserts item and persists the set. It reports false when item was
// already present.
func (s *StringSet) Add(item string) (bool, error) {
	n, err := s.normalize(item)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[n]; ok {
		return false, nil
	}
	s.items[n] = struct{}{}
	if err := s.persistLocked(); err != nil {
		delete(s.items, n)
		return false, err
	}
	return true, nil
}

// Remove deletes item and persists the set. Removing an absent item is a
// no-op and reports false.
func (s *StringSet) Remove(item string) (bool, error) {
	n, err := s.normalize(item)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[n]; !ok {
		return false, nil
	}
	delete(s.items, n)
	if err := s.persistLocked(); err != nil {
		s.items[n] = struct{}{}
		return false, err
	}
	return true, nil
}

func (s *StringSet) Has(item string) bool {
	n, err := s.normalize(item)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[n]
	return ok
}

// List returns the items in sorted order.
func (s *StringSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func (s *StringSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *StringSet) sortedLocked() []string {
	out := make([]string, 0, len(s.items))
	for k := range s.items {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (s *StringSet) persistLocked() error {
	if err := s.records.Save(s.key, s.sortedLocked()); err != nil {
		return fmt.Errorf("persist %s: %w", s.key, err)
	}
	return nil
}

// Whitelist holds hostnames exempt from interception. A listed host also
// exempts its subdomains.
type Whitelist struct {
	*StringSet
}

func LoadWhitelist(records store.Records) (*Whitelist, error) {
	s, err := loadSet(records, store.KeyWhitelist, NormalizeHost)
	if err != nil {
		return nil, err
	}
	return &Whitelist{StringSet: s}, nil
}

// Contains reports whether host or any parent domain of host is listed.
func (w *Whitelist) Contains(host string) bool {
	n, err := NormalizeHost(host)
	if err != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	for {
		if _, ok := w.items[n]; ok {
			return true
		}
		i := strings.IndexByte(n, '.')
		if i < 0 {
			return false
		}
		n = n[i+1:]
	}
}

// LoadWatchlist returns the set of email addresses swept for breaches.
func LoadWatchlist(records store.Records) (*StringSet, error) {
	return loadSet(records, store.KeyWatchlist, NormalizeEmail)
}

// NormalizeHost accepts a bare hostname, host:port or a URL and returns the
// lower-cased hostname.
func NormalizeHost(raw string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: host %q", ErrInvalid, raw)
		}
		s = u.Hostname()
	} else if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	s = strings.TrimSuffix(strings.Trim(s, "[]"), ".")
	if s == "" || strings.ContainsAny(s, " /?#@") {
		return "", fmt.Errorf("%w: host %q", ErrInvalid, raw)
	}
	return s, nil
}

func NormalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || !strings.Contains(addr.Address, "@") {
		return "", fmt.Errorf("%w: email %q", ErrInvalid, raw)
	}
	return strings.ToLower(addr.Address), nil
}
