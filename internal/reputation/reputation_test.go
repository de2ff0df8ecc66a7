package reputation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
)

func newClient(endpoint string, timeout time.Duration) *Client {
	logger.SetOutput(io.Discard, "error")
	return New(config.ReputationConfig{Endpoint: endpoint, APIKey: "k1", ClientID: "test", Timeout: timeout})
}

func TestCheckURLMalicious(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Query().Get("key") != "k1" {
			t.Errorf("expected api key in query, got %q", r.URL.RawQuery)
		}
		var req lookupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.ThreatInfo.ThreatEntries) != 1 || req.ThreatInfo.ThreatEntries[0].URL != "http://evil.example/" {
			t.Errorf("unexpected entries: %+v", req.ThreatInfo.ThreatEntries)
		}
		_, _ = w.Write([]byte(`{"matches":[{"threatType":"MALWARE","threat":{"url":"http://evil.example/"}}]}`))
	}))
	defer srv.Close()

	v := newClient(srv.URL, time.Second).CheckURL(context.Background(), "http://evil.example/")
	if !v.Malicious || len(v.Evidence) != 1 || v.Error != "" {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestCheckURLClean(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	v := newClient(srv.URL, time.Second).CheckURL(context.Background(), "https://ok.example/")
	if v.Malicious || v.Error != "" {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestCheckURLSoftFailures(t *testing.T) {
	t.Run("non-2xx without retry", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		v := newClient(srv.URL, time.Second).CheckURL(context.Background(), "https://a.example/")
		if v.Malicious || v.Error == "" {
			t.Fatalf("expected soft failure, got %+v", v)
		}
		if calls.Load() != 1 {
			t.Fatalf("expected exactly one call, got %d", calls.Load())
		}
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		start := time.Now()
		v := newClient(srv.URL, 100*time.Millisecond).CheckURL(context.Background(), "https://a.example/")
		if v.Malicious || v.Error == "" {
			t.Fatalf("expected soft failure, got %+v", v)
		}
		if time.Since(start) > time.Second {
			t.Fatalf("lookup did not honour timeout")
		}
	})

	t.Run("garbage body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		v := newClient(srv.URL, time.Second).CheckURL(context.Background(), "https://a.example/")
		if v.Malicious || v.Error == "" {
			t.Fatalf("expected soft failure, got %+v", v)
		}
	})

	t.Run("unconfigured", func(t *testing.T) {
		v := newClient("", time.Second).CheckURL(context.Background(), "https://a.example/")
		if v.Malicious || v.Error == "" {
			t.Fatalf("expected soft failure, got %+v", v)
		}
	})
}
