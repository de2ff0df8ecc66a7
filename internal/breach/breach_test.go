package breach

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/store"
)

type staticSettings model.Settings

func (s staticSettings) Get() model.Settings { return model.Settings(s) }

func newClient(endpoint string, darkWeb bool) *Client {
	logger.SetOutput(io.Discard, "error")
	return New(config.BreachConfig{
		Endpoint:  endpoint,
		APIKey:    "secret",
		UserAgent: "darkpatent-test",
		Timeout:   time.Second,
	}, staticSettings{DarkWebScanning: darkWeb})
}

func TestCheckDisabledMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	res := newClient(srv.URL, false).Check(context.Background(), "a@example.com")
	if res.Checked || res.Breached || res.Error {
		t.Fatalf("unexpected result %+v", res)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no outbound call, got %d", calls.Load())
	}
}

func TestCheckResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("hibp-api-key") != "secret" || r.Header.Get("User-Agent") != "darkpatent-test" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		switch r.URL.Path {
		case "/breachedaccount/pwned@example.com":
			_, _ = w.Write([]byte(`[{"Name":"Adobe"},{"Name":"LinkedIn"}]`))
		case "/breachedaccount/clean@example.com":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()
	c := newClient(srv.URL, true)

	res := c.Check(context.Background(), "pwned@example.com")
	if !res.Checked || !res.Breached || res.Count != 2 || res.Breaches[1].Name != "LinkedIn" {
		t.Fatalf("unexpected breached result %+v", res)
	}

	res = c.Check(context.Background(), "clean@example.com")
	if !res.Checked || res.Breached || res.Count != 0 || res.Error {
		t.Fatalf("unexpected clean result %+v", res)
	}

	res = c.Check(context.Background(), "limited@example.com")
	if !res.Error || res.Breached {
		t.Fatalf("expected soft error, got %+v", res)
	}
}

func TestCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := newClient(url, true).Check(context.Background(), "a@example.com")
	if !res.Error {
		t.Fatalf("expected soft error, got %+v", res)
	}
}

func TestRedactEmail(t *testing.T) {
	if got := redactEmail("alice@example.com"); got != "a***@example.com" {
		t.Fatalf("got %q", got)
	}
	if got := redactEmail("nope"); got != "***" {
		t.Fatalf("got %q", got)
	}
}

// --- sweeper ---

type memRecords struct {
	mu   sync.Mutex
	data map[string][]byte
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
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = b
	return nil
}

func (m *memRecords) Close() error { return nil }

type fakeChecker struct {
	delay    time.Duration
	breaches map[string][]string
	calls    atomic.Int32
}

func (f *fakeChecker) Check(ctx context.Context, email string) model.BreachResult {
	f.calls.Add(1)
	time.Sleep(f.delay)
	var bs []model.Breach
	for _, n := range f.breaches[email] {
		bs = append(bs, model.Breach{Name: n})
	}
	return model.BreachResult{Checked: true, Breached: len(bs) > 0, Breaches: bs, Count: len(bs)}
}

type fakeAlerts struct {
	mu     sync.Mutex
	drafts []model.AlertDraft
	fail   bool
}

func (f *fakeAlerts) CreateAlert(d model.AlertDraft) (model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return model.Alert{}, errors.New("persist failed")
	}
	f.drafts = append(f.drafts, d)
	return model.Alert{ID: "x"}, nil
}

func (f *fakeAlerts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.drafts)
}

type staticList []string

func (l staticList) List() []string { return l }

func TestSweepAlertsOncePerBreach(t *testing.T) {
	logger.SetOutput(io.Discard, "error")
	checker := &fakeChecker{breaches: map[string][]string{"a@example.com": {"Adobe", "Canva"}}}
	alerts := &fakeAlerts{}
	rec := &memRecords{data: map[string][]byte{}}
	s, err := NewSweeper(checker, alerts, staticList{"a@example.com", "b@example.com"}, rec)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}

	n, err := s.SweepOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("first sweep n=%d err=%v", n, err)
	}
	if alerts.drafts[0].Kind != model.AlertBreachDetected {
		t.Fatalf("unexpected alert kind %s", alerts.drafts[0].Kind)
	}

	n, _ = s.SweepOnce(context.Background())
	if n != 0 {
		t.Fatalf("second sweep re-alerted %d times", n)
	}

	// A new breach for the same entry alerts exactly once.
	checker.breaches["a@example.com"] = append(checker.breaches["a@example.com"], "Dropbox")
	n, _ = s.SweepOnce(context.Background())
	if n != 1 || alerts.count() != 3 {
		t.Fatalf("expected one new alert, got n=%d total=%d", n, alerts.count())
	}

	// Snapshots survive a restart.
	restarted, err := NewSweeper(checker, alerts, staticList{"a@example.com"}, rec)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	if n, _ := restarted.SweepOnce(context.Background()); n != 0 {
		t.Fatalf("restarted sweeper re-alerted %d times", n)
	}
}

func TestOverlappingSweepsDoNotDoubleAlert(t *testing.T) {
	logger.SetOutput(io.Discard, "error")
	checker := &fakeChecker{delay: 20 * time.Millisecond, breaches: map[string][]string{"a@example.com": {"Adobe"}}}
	alerts := &fakeAlerts{}
	s, _ := NewSweeper(checker, alerts, staticList{"a@example.com"}, &memRecords{data: map[string][]byte{}})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.SweepOnce(context.Background())
		}()
	}
	wg.Wait()
	if alerts.count() != 1 {
		t.Fatalf("expected exactly one alert, got %d", alerts.count())
	}
}

func TestSweepRetriesAfterAlertFailure(t *testing.T) {
	logger.SetOutput(io.Discard, "error")
	checker := &fakeChecker{breaches: map[string][]string{"a@example.com": {"Adobe"}}}
	alerts := &fakeAlerts{fail: true}
	s, _ := NewSweeper(checker, alerts, staticList{"a@example.com"}, &memRecords{data: map[string][]byte{}})

	if _, err := s.SweepOnce(context.Background()); err == nil {
		t.Fatalf("expected error from failed alert")
	}
	alerts.fail = false
	if n, err := s.SweepOnce(context.Background()); n != 1 || err != nil {
		t.Fatalf("retry sweep n=%d err=%v", n, err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	logger.SetOutput(io.Discard, "error")
	checker := &fakeChecker{}
	s, _ := NewSweeper(checker, &fakeAlerts{}, staticList{"a@example.com"}, &memRecords{data: map[string][]byte{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, time.Hour) }()

	deadline := time.Now().Add(time.Second)
	for checker.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
	if checker.calls.Load() != 1 {
		t.Fatalf("expected immediate sweep, got %d checks", checker.calls.Load())
	}
}
