package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/Thianeswaran-G/DarkPatent/internal/extract"
	"github.com/Thianeswaran-G/DarkPatent/internal/guard"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/scan"
	"github.com/Thianeswaran-G/DarkPatent/internal/settings"
)

const (
	maxEventsLimit     = 1000
	defaultEventsLimit = 100
)

type scanRequest struct {
	Payload string          `json:"payload"`
	Fields  []extract.Field `json:"fields,omitempty"`
	HTML    string          `json:"html,omitempty"`
	URL     string          `json:"url,omitempty"`
	Trigger string          `json:"trigger,omitempty"`
	TabID   *int            `json:"tab_id,omitempty"`
}

type decisionRequest struct {
	Action guard.Action `json:"action"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (h *handlers) scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid json")
		return
	}
	trigger, ok := model.ParseTrigger(req.Trigger)
	if !ok {
		badRequest(w, r, fmt.Sprintf("unknown trigger %q", req.Trigger))
		return
	}
	res, err := h.d.Scanner.Scan(r.Context(), scan.Request{
		Payload: req.Payload,
		Fields:  req.Fields,
		HTML:    req.HTML,
		URL:     req.URL,
		Trigger: trigger,
		TabID:   req.TabID,
	})
	if err != nil {
		serverError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (h *handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.d.Settings.Get())
}

func (h *handlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch model.SettingsPatch
	if err := render.DecodeJSON(r.Body, &patch); err != nil {
		badRequest(w, r, "invalid json")
		return
	}
	s, err := h.d.Settings.Update(patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, s)
}

func (h *handlers) listAlerts(w http.ResponseWriter, r *http.Request) {
	list := h.d.Alerts.List()
	if list == nil {
		list = []model.Alert{}
	}
	render.JSON(w, r, list)
}

func (h *handlers) dismissAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Alerts.Dismiss(chi.URLParam(r, "id")); err != nil {
		serverError(w, r, err)
		return
	}
	render.JSON(w, r, h.d.Alerts.Badge())
}

func (h *handlers) clearAlerts(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Alerts.ClearAll(); err != nil {
		serverError(w, r, err)
		return
	}
	render.JSON(w, r, h.d.Alerts.Badge())
}

func (h *handlers) badge(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.d.Alerts.Badge())
}

func (h *handlers) breachCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid json")
		return
	}
	email, err := settings.NormalizeEmail(req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, h.d.Breach.Check(r.Context(), email))
}

func (h *handlers) listSet(set Set) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := set.List()
		if items == nil {
			items = []string{}
		}
		render.JSON(w, r, items)
	}
}

// addToSet accepts {"<field>": "..."} and reports whether the item is new.
func (h *handlers) addToSet(set Set, field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := render.DecodeJSON(r.Body, &body); err != nil {
			badRequest(w, r, "invalid json")
			return
		}
		added, err := set.Add(body[field])
		if err != nil {
			writeError(w, r, err)
			return
		}
		if added {
			render.Status(r, http.StatusCreated)
		}
		render.JSON(w, r, map[string]any{"added": added, "items": set.List()})
	}
}

func (h *handlers) removeFromSet(set Set) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := set.Remove(chi.URLParam(r, "item"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		render.JSON(w, r, map[string]any{"removed": removed, "items": set.List()})
	}
}

// submit holds the request open until the guard has an outcome. A
// "dispatched" result tells the caller to release the original submission.
func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	var sub guard.Submission
	if err := render.DecodeJSON(r.Body, &sub); err != nil {
		badRequest(w, r, "invalid json")
		return
	}
	if sub.FormID == "" {
		badRequest(w, r, "form_id is required")
		return
	}
	res, err := h.d.Guard.Submit(r.Context(), sub, func(context.Context) error { return nil })
	if err != nil {
		serverError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (h *handlers) pendingSubmissions(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.d.Guard.Pending())
}

func (h *handlers) decide(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid json")
		return
	}
	if err := h.d.Guard.Resolve(chi.URLParam(r, "id"), req.Action); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"id": chi.URLParam(r, "id"), "action": string(req.Action)})
}

func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	if h.d.Events == nil {
		render.JSON(w, r, []model.Event{})
		return
	}
	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, r, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventsLimit)
	}
	events, err := h.d.Events(limit)
	if err != nil {
		serverError(w, r, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	render.JSON(w, r, events)
}

// streamAlerts pushes newly created alerts as server-sent events.
func (h *handlers) streamAlerts(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok || h.d.Feed == nil {
		render.Status(r, http.StatusNotImplemented)
		render.JSON(w, r, map[string]string{"error": "streaming unsupported"})
		return
	}
	ch, cancel := h.d.Feed.Subscribe(16)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case a, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(a)
			if err != nil {
				logger.Error("encode alert event", "id", a.ID, "err", err)
				continue
			}
			_, _ = fmt.Fprintf(w, "event: alert\nid: %s\ndata: %s\n\n", a.ID, data)
			flusher.Flush()
		}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, settings.ErrInvalid), errors.Is(err, guard.ErrInvalidAction):
		badRequest(w, r, err.Error())
	case errors.Is(err, guard.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, map[string]string{"error": err.Error()})
	case errors.Is(err, guard.ErrAlreadyResolved):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, map[string]string{"error": err.Error()})
	default:
		serverError(w, r, err)
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, map[string]string{"error": msg})
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	logger.Error("api request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, map[string]string{"error": err.Error()})
}
