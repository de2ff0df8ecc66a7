package api

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/alerts"
	"github.com/Thianeswaran-G/DarkPatent/internal/breach"
	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/detect"
	"github.com/Thianeswaran-G/DarkPatent/internal/guard"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/scan"
	"github.com/Thianeswaran-G/DarkPatent/internal/settings"
	"github.com/Thianeswaran-G/DarkPatent/internal/store"
)

type testEnv struct {
	srv         *httptest.Server
	alerts      *alerts.Store
	settings    *settings.Manager
	feed        *alerts.Fanout
	breachCalls *atomic.Int32
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	logger.SetOutput(io.Discard, "error")

	records, err := store.NewFileRecords(t.TempDir())
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	mgr, err := settings.Load(records, model.Settings{RealTimeScanning: true, Notifications: true, AlertLevel: model.SeverityMedium})
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	feed := alerts.NewFanout(nil)
	al, err := alerts.Open(alerts.Options{Records: records, Settings: mgr, Notifier: feed})
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	wl, err := settings.LoadWhitelist(records)
	if err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	watch, err := settings.LoadWatchlist(records)
	if err != nil {
		t.Fatalf("watchlist: %v", err)
	}

	calls := &atomic.Int32{}
	hibp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `[{"Name":"Adobe"},{"Name":"LinkedIn"}]`)
	}))
	t.Cleanup(hibp.Close)

	scanner := scan.New(detect.Default(), nil, al, mgr)
	g := guard.New(guard.Options{Scanner: scanner, Settings: mgr, Whitelist: wl, Timeout: 5 * time.Second})

	srv := httptest.NewServer(NewRouter(Deps{
		Scanner:   scanner,
		Alerts:    al,
		Feed:      feed,
		Settings:  mgr,
		Whitelist: wl,
		Watchlist: watch,
		Breach:    breach.New(config.BreachConfig{Endpoint: hibp.URL, Timeout: time.Second}, mgr),
		Guard:     g,
		Events: func(n int) ([]model.Event, error) {
			return []model.Event{{Host: "shop.example", State: model.StateNoFinding}}, nil
		},
	}))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, alerts: al, settings: mgr, feed: feed, breachCalls: calls}
}

func (e *testEnv) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestScanCreatesAlertAndBadge(t *testing.T) {
	env := newEnv(t)

	var res model.ScanResult
	code := env.do(t, http.MethodPost, "/v1/scan", `{"payload":"my card 4111 1111 1111 1111","trigger":"paste","url":"https://shop.example/"}`, &res)
	if code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(res.Findings) != 1 || res.Findings[0].Category != model.CategoryCreditCard || res.AlertID == "" {
		t.Fatalf("unexpected scan result %+v", res)
	}

	var list []model.Alert
	env.do(t, http.MethodGet, "/v1/alerts", "", &list)
	if len(list) != 1 || list[0].Kind != model.AlertPasteWarning {
		t.Fatalf("unexpected alerts %+v", list)
	}
	var badge alerts.Badge
	env.do(t, http.MethodGet, "/v1/badge", "", &badge)
	if badge.Count != 1 || badge.Text != "1" {
		t.Fatalf("unexpected badge %+v", badge)
	}

	env.do(t, http.MethodDelete, "/v1/alerts/does-not-exist", "", &badge)
	if badge.Count != 1 {
		t.Fatalf("dismissing unknown id changed badge: %+v", badge)
	}
	env.do(t, http.MethodDelete, "/v1/alerts", "", &badge)
	if badge.Count != 0 || badge.Text != "" {
		t.Fatalf("clear all left badge %+v", badge)
	}
}

func TestScanRejectsUnknownTrigger(t *testing.T) {
	env := newEnv(t)
	var body map[string]string
	if code := env.do(t, http.MethodPost, "/v1/scan", `{"payload":"x","trigger":"telepathy"}`, &body); code != http.StatusBadRequest {
		t.Fatalf("status=%d", code)
	}
	if !strings.Contains(body["error"], "telepathy") {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestSettingsPatchAndBreachGate(t *testing.T) {
	env := newEnv(t)

	var s model.Settings
	if code := env.do(t, http.MethodPatch, "/v1/settings", `{"dark_web_scanning":true}`, &s); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if !s.DarkWebScanning || !s.RealTimeScanning {
		t.Fatalf("patch did not merge: %+v", s)
	}

	var res model.BreachResult
	env.do(t, http.MethodPost, "/v1/breach-check", `{"email":"Bob@Example.com"}`, &res)
	if !res.Checked || !res.Breached || res.Count != 2 {
		t.Fatalf("unexpected breach result %+v", res)
	}

	env.do(t, http.MethodPut, "/v1/settings", `{"dark_web_scanning":false}`, &s)
	before := env.breachCalls.Load()
	res = model.BreachResult{}
	env.do(t, http.MethodPost, "/v1/breach-check", `{"email":"bob@example.com"}`, &res)
	if res.Checked {
		t.Fatalf("expected checked=false, got %+v", res)
	}
	if env.breachCalls.Load() != before {
		t.Fatalf("breach service was called with dark web scanning off")
	}

	var errBody map[string]string
	if code := env.do(t, http.MethodPatch, "/v1/settings", `{"alert_level":"extreme"}`, &errBody); code != http.StatusBadRequest {
		t.Fatalf("invalid alert level status=%d", code)
	}
	if code := env.do(t, http.MethodPost, "/v1/breach-check", `{"email":"not-an-email"}`, &errBody); code != http.StatusBadRequest {
		t.Fatalf("invalid email status=%d", code)
	}
}

func TestWhitelistAndWatchlist(t *testing.T) {
	env := newEnv(t)

	var out struct {
		Added   bool     `json:"added"`
		Removed bool     `json:"removed"`
		Items   []string `json:"items"`
	}
	if code := env.do(t, http.MethodPost, "/v1/whitelist", `{"host":"https://Bank.Example:443/login"}`, &out); code != http.StatusCreated {
		t.Fatalf("status=%d", code)
	}
	if !out.Added || len(out.Items) != 1 || out.Items[0] != "bank.example" {
		t.Fatalf("unexpected add result %+v", out)
	}
	if code := env.do(t, http.MethodPost, "/v1/whitelist", `{"host":"bank.example"}`, &out); code != http.StatusOK || out.Added {
		t.Fatalf("duplicate add: status=%d %+v", code, out)
	}
	env.do(t, http.MethodDelete, "/v1/whitelist/bank.example", "", &out)
	if !out.Removed || len(out.Items) != 0 {
		t.Fatalf("unexpected remove result %+v", out)
	}

	var items []string
	env.do(t, http.MethodPost, "/v1/watchlist", `{"email":"Alice@Example.com"}`, nil)
	env.do(t, http.MethodGet, "/v1/watchlist", "", &items)
	if len(items) != 1 || items[0] != "alice@example.com" {
		t.Fatalf("unexpected watchlist %v", items)
	}
}

func TestSubmissionDecisionFlow(t *testing.T) {
	env := newEnv(t)

	done := make(chan guard.Result, 1)
	go func() {
		var res guard.Result
		resp, err := http.Post(env.srv.URL+"/v1/submissions", "application/json",
			strings.NewReader(`{"form_id":"login","payload":"password: hunter2","url":"https://shop.example/login"}`))
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&res)
			resp.Body.Close()
		}
		done <- res
	}()

	var pending []guard.PendingView
	deadline := time.Now().Add(5 * time.Second)
	for len(pending) == 0 && time.Now().Before(deadline) {
		env.do(t, http.MethodGet, "/v1/submissions/pending", "", &pending)
		if len(pending) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending submission")
	}

	var errBody map[string]string
	if code := env.do(t, http.MethodPost, "/v1/submissions/"+pending[0].ID+"/decision", `{"action":"maybe"}`, &errBody); code != http.StatusBadRequest {
		t.Fatalf("invalid action status=%d", code)
	}
	if code := env.do(t, http.MethodPost, "/v1/submissions/"+pending[0].ID+"/decision", `{"action":"block"}`, nil); code != http.StatusOK {
		t.Fatalf("decision status=%d", code)
	}

	res := <-done
	if res.State != guard.StateBlocked || res.Dispatched {
		t.Fatalf("unexpected outcome %+v", res)
	}
	if len(env.alerts.List()) != 1 {
		t.Fatalf("expected one alert for the blocked submission")
	}
	if code := env.do(t, http.MethodPost, "/v1/submissions/"+pending[0].ID+"/decision", `{"action":"continue"}`, &errBody); code != http.StatusNotFound {
		t.Fatalf("late decision status=%d", code)
	}
}

func TestCleanSubmissionIsDispatched(t *testing.T) {
	env := newEnv(t)
	var res guard.Result
	env.do(t, http.MethodPost, "/v1/submissions", `{"form_id":"search","payload":"q: cheap flights"}`, &res)
	if res.State != guard.StateAllowed || !res.Dispatched {
		t.Fatalf("unexpected outcome %+v", res)
	}
	var errBody map[string]string
	if code := env.do(t, http.MethodPost, "/v1/submissions", `{"payload":"x"}`, &errBody); code != http.StatusBadRequest {
		t.Fatalf("missing form_id status=%d", code)
	}
}

func TestEventsLimit(t *testing.T) {
	env := newEnv(t)
	var events []model.Event
	if code := env.do(t, http.MethodGet, "/v1/events?limit=5", "", &events); code != http.StatusOK || len(events) != 1 {
		t.Fatalf("status=%d events=%v", code, events)
	}
	var errBody map[string]string
	if code := env.do(t, http.MethodGet, "/v1/events?limit=-1", "", &errBody); code != http.StatusBadRequest {
		t.Fatalf("negative limit status=%d", code)
	}
}

func TestAlertStream(t *testing.T) {
	env := newEnv(t)

	resp, err := http.Get(env.srv.URL + "/v1/alerts/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	reader := bufio.NewReader(resp.Body)
	if line, _ := reader.ReadString('\n'); !strings.HasPrefix(line, ": connected") {
		t.Fatalf("unexpected preamble %q", line)
	}

	if _, err := env.alerts.CreateAlert(model.AlertDraft{Kind: model.AlertScanResult, Severity: model.SeverityHigh, Title: "t"}); err != nil {
		t.Fatalf("create alert: %v", err)
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			var a model.Alert
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &a); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if a.Title != "t" {
				t.Fatalf("unexpected alert %+v", a)
			}
			return
		}
	}
}
