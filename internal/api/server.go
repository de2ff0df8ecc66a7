// Package api is the loopback JSON API used by page-level helpers and the
// dashboard.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Thianeswaran-G/DarkPatent/internal/alerts"
	"github.com/Thianeswaran-G/DarkPatent/internal/guard"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/scan"
)

type Scanner interface {
	Scan(ctx context.Context, req scan.Request) (model.ScanResult, error)
}

type AlertStore interface {
	List() []model.Alert
	Dismiss(id string) error
	ClearAll() error
	Badge() alerts.Badge
}

type AlertFeed interface {
	Subscribe(buffer int) (<-chan model.Alert, func())
}

type SettingsStore interface {
	Get() model.Settings
	Update(patch model.SettingsPatch) (model.Settings, error)
}

// Set is a persisted string set such as the whitelist or watch-list.
type Set interface {
	Add(item string) (bool, error)
	Remove(item string) (bool, error)
	List() []string
}

type BreachChecker interface {
	Check(ctx context.Context, email string) model.BreachResult
}

type Guard interface {
	Submit(ctx context.Context, sub guard.Submission, dispatch guard.DispatchFunc) (guard.Result, error)
	Resolve(id string, action guard.Action) error
	Pending() []guard.PendingView
}

// EventSource returns the newest n interception events.
type EventSource func(n int) ([]model.Event, error)

type Deps struct {
	Scanner   Scanner
	Alerts    AlertStore
	Feed      AlertFeed
	Settings  SettingsStore
	Whitelist Set
	Watchlist Set
	Breach    BreachChecker
	Guard     Guard
	Events    EventSource
}

type handlers struct {
	d Deps
}

// NewRouter mounts every route under /v1.
func NewRouter(d Deps) http.Handler {
	h := &handlers{d: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/scan", h.scan)

		r.Get("/settings", h.getSettings)
		r.Put("/settings", h.updateSettings)
		r.Patch("/settings", h.updateSettings)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.listAlerts)
			r.Delete("/", h.clearAlerts)
			r.Get("/stream", h.streamAlerts)
			r.Delete("/{id}", h.dismissAlert)
		})
		r.Get("/badge", h.badge)

		r.Post("/breach-check", h.breachCheck)

		r.Route("/whitelist", func(r chi.Router) {
			r.Get("/", h.listSet(h.d.Whitelist))
			r.Post("/", h.addToSet(h.d.Whitelist, "host"))
			r.Delete("/{item}", h.removeFromSet(h.d.Whitelist))
		})
		r.Route("/watchlist", func(r chi.Router) {
			r.Get("/", h.listSet(h.d.Watchlist))
			r.Post("/", h.addToSet(h.d.Watchlist, "email"))
			r.Delete("/{item}", h.removeFromSet(h.d.Watchlist))
		})

		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", h.submit)
			r.Get("/pending", h.pendingSubmissions)
			r.Post("/{id}/decision", h.decide)
		})

		r.Get("/events", h.events)
	})
	return r
}

// Serve runs the API on listen until ctx is done.
func Serve(ctx context.Context, listen string, handler http.Handler) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listen, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	logger.Info("api listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
