// Package guard holds a form submission until it has been scanned and, when
// the scan finds something, until the user has decided to block or continue.
// Every path that does not end in an explicit "continue" blocks.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/extract"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/scan"
)

var (
	ErrAlreadyResolved = errors.New("guard: decision already resolved")
	ErrNotFound        = errors.New("guard: no pending decision with that id")
	ErrInvalidAction   = errors.New("guard: action must be block or continue")
)

const DefaultDecisionTimeout = 2 * time.Minute

type Scanner interface {
	Scan(ctx context.Context, req scan.Request) (model.ScanResult, error)
}

type SettingsSource interface {
	Get() model.Settings
}

type Whitelist interface {
	Contains(host string) bool
}

// Decider obtains a decision for a pending submission, for example by
// prompting on a terminal. Without a Decider, decisions arrive through
// Guard.Resolve.
type Decider interface {
	Decide(ctx context.Context, p PendingView) (Action, error)
}

type DeciderFunc func(ctx context.Context, p PendingView) (Action, error)

func (f DeciderFunc) Decide(ctx context.Context, p PendingView) (Action, error) { return f(ctx, p) }

// DispatchFunc releases the original submission. It is called at most once
// per Submit.
type DispatchFunc func(ctx context.Context) error

type Submission struct {
	FormID  string          `json:"form_id"`
	Payload string          `json:"payload,omitempty"`
	Fields  []extract.Field `json:"fields,omitempty"`
	URL     string          `json:"url,omitempty"`
	TabID   *int            `json:"tab_id,omitempty"`
}

type Result struct {
	ID         string           `json:"id,omitempty"`
	State      State            `json:"state"`
	Reason     Reason           `json:"reason"`
	Dispatched bool             `json:"dispatched"`
	Scan       model.ScanResult `json:"scan"`
}

type Options struct {
	Scanner   Scanner
	Settings  SettingsSource
	Whitelist Whitelist
	Decider   Decider
	Timeout   time.Duration
	// OnPending is told about every submission that starts waiting.
	OnPending func(PendingView)
	Now       func() time.Time
}

type Guard struct {
	opts Options

	mu      sync.Mutex
	pending map[string]*Pending // by id
	byForm  map[string]*Pending
}

// dispatchKey marks the context handed to a DispatchFunc with the form it
// is releasing.
type dispatchKey struct{}

func New(opts Options) *Guard {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDecisionTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Guard{
		opts:    opts,
		pending: map[string]*Pending{},
		byForm:  map[string]*Pending{},
	}
}

// Submit runs one guarded submission to completion. The returned error is
// non-nil only when dispatch itself failed; blocking is not an error.
func (g *Guard) Submit(ctx context.Context, sub Submission, dispatch DispatchFunc) (Result, error) {
	if reentered(ctx, sub.FormID) {
		logger.Debug("guard re-entry passed through", "form", sub.FormID)
		return Result{State: StateAllowed, Reason: ReasonReentry, Scan: emptyScan()}, nil
	}
	g.supersede(sub.FormID)

	settings := g.opts.Settings.Get()
	switch {
	case !settings.RealTimeScanning:
		return g.release(ctx, sub, Result{Reason: ReasonDisabled, Scan: emptyScan()}, dispatch)
	case g.whitelisted(sub.URL):
		return g.release(ctx, sub, Result{Reason: ReasonWhitelisted, Scan: emptyScan()}, dispatch)
	}

	res, err := g.opts.Scanner.Scan(ctx, scan.Request{
		Payload: sub.Payload,
		Fields:  sub.Fields,
		URL:     sub.URL,
		Trigger: model.TriggerFormSubmit,
		TabID:   sub.TabID,
	})
	if err != nil {
		// The alert ledger failed, not the scan; the findings still stand.
		logger.Error("guard scan alert not persisted", "form", sub.FormID, "err", err)
	}
	if !res.HasFindings() && !res.Malicious() {
		return g.release(ctx, sub, Result{Reason: ReasonClean, Scan: res}, dispatch)
	}
	if settings.AutoBlock {
		logger.Info("submission auto-blocked", "form", sub.FormID, "url", sub.URL)
		return Result{State: StateBlocked, Reason: ReasonAutoBlock, Scan: res}, nil
	}

	p, err := g.open(sub, res)
	if err != nil {
		logger.Error("open pending decision", "form", sub.FormID, "err", err)
		return Result{State: StateBlocked, Reason: ReasonDecisionError, Scan: res}, nil
	}
	defer g.close(p)

	action, reason := g.await(ctx, p)
	out := Result{ID: p.id, Reason: reason, Scan: res}
	if action != ActionContinue {
		out.State = StateBlocked
		logger.Info("submission blocked", "form", sub.FormID, "id", p.id, "reason", reason)
		return out, nil
	}
	return g.release(ctx, sub, out, dispatch)
}

// Resolve records the user's decision for a pending submission.
func (g *Guard) Resolve(id string, action Action) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	g.mu.Lock()
	p, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return p.resolve(action, ReasonUserChoice)
}

// Pending lists submissions waiting for a decision, oldest first.
func (g *Guard) Pending() []PendingView {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingView, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CancelAll blocks every pending submission. Used on shutdown.
func (g *Guard) CancelAll() {
	g.mu.Lock()
	all := make([]*Pending, 0, len(g.pending))
	for _, p := range g.pending {
		all = append(all, p)
	}
	g.mu.Unlock()
	for _, p := range all {
		_ = p.resolve(ActionBlock, ReasonCancelled)
	}
}

func (g *Guard) await(ctx context.Context, p *Pending) (Action, Reason) {
	timer := time.NewTimer(g.opts.Timeout)
	defer timer.Stop()

	if g.opts.Decider != nil {
		dctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			action, err := g.opts.Decider.Decide(dctx, p.view())
			if err != nil {
				logger.Warn("decider failed", "id", p.id, "err", err)
				_ = p.resolve(ActionBlock, ReasonDecisionError)
				return
			}
			if !action.Valid() {
				_ = p.resolve(ActionBlock, ReasonDismissed)
				return
			}
			_ = p.resolve(action, ReasonUserChoice)
		}()
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		_ = p.resolve(ActionBlock, ReasonCancelled)
	case <-timer.C:
		_ = p.resolve(ActionBlock, ReasonTimeout)
	}
	return p.outcome()
}

func (g *Guard) release(ctx context.Context, sub Submission, out Result, dispatch DispatchFunc) (Result, error) {
	out.State = StateAllowed
	if dispatch == nil {
		return out, nil
	}
	out.Dispatched = true
	if err := dispatch(context.WithValue(ctx, dispatchKey{}, sub.FormID)); err != nil {
		return out, fmt.Errorf("dispatch submission: %w", err)
	}
	return out, nil
}

// reentered reports whether ctx belongs to the dispatch of formID, i.e. the
// released submission fired the submit handler again.
func reentered(ctx context.Context, formID string) bool {
	id, ok := ctx.Value(dispatchKey{}).(string)
	return ok && id == formID
}

// supersede blocks and forgets the pending decision on formID, if any.
func (g *Guard) supersede(formID string) {
	g.mu.Lock()
	prev := g.byForm[formID]
	if prev != nil {
		delete(g.byForm, formID)
		delete(g.pending, prev.id)
	}
	g.mu.Unlock()
	if prev != nil && prev.resolve(ActionBlock, ReasonSuperseded) == nil {
		logger.Info("pending submission superseded", "form", formID, "old", prev.id)
	}
}

// open registers a pending decision, superseding any earlier one on the
// same form.
func (g *Guard) open(sub Submission, res model.ScanResult) (*Pending, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	p := newPending(id, sub, res, g.opts.Now().UTC())

	g.mu.Lock()
	prev := g.byForm[sub.FormID]
	g.pending[id] = p
	g.byForm[sub.FormID] = p
	g.mu.Unlock()

	if prev != nil {
		_ = prev.resolve(ActionBlock, ReasonSuperseded)
		logger.Info("pending submission superseded", "form", sub.FormID, "old", prev.id, "new", id)
	}
	if g.opts.OnPending != nil {
		g.opts.OnPending(p.view())
	}
	return p, nil
}

func (g *Guard) close(p *Pending) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, p.id)
	if g.byForm[p.formID] == p {
		delete(g.byForm, p.formID)
	}
}

func (g *Guard) whitelisted(raw string) bool {
	if g.opts.Whitelist == nil || raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	return g.opts.Whitelist.Contains(u.Hostname())
}

func emptyScan() model.ScanResult {
	return model.ScanResult{Findings: []model.Finding{}}
}
