// Package intercept classifies traffic the proxy has already forwarded.
// Each request walks Observed -> Whitelisted | Disabled | Extracted, and
// Extracted -> Classified -> NoFinding | AlertCreated. The body and every
// flagged header raise their own alert.
package intercept

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/extract"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/scan"
)

const defaultWorkers = 8

type Scanner interface {
	Scan(ctx context.Context, req scan.Request) (model.ScanResult, error)
}

type SettingsSource interface {
	Get() model.Settings
}

type Whitelist interface {
	Contains(host string) bool
}

type EventSink interface {
	Append(e model.Event) error
}

// Request is an intercepted outbound request. Body holds at most the
// configured scan limit; BodyBytes is the size actually forwarded.
type Request struct {
	Time      time.Time
	Method    string
	URL       string
	Host      string
	Header    http.Header
	Body      []byte
	BodyBytes int
	Truncated bool
	TLS       bool
}

type Options struct {
	Scanner   Scanner
	Settings  SettingsSource
	Whitelist Whitelist
	Events    EventSink
	// ScannedHeaders are always inspected; HeaderHints match header names
	// by case-insensitive substring.
	ScannedHeaders []string
	HeaderHints    []string
	Workers        int
	// OnEvent observes every terminal event, after it is written.
	OnEvent func(model.Event)
}

type Pipeline struct {
	opts    Options
	headers map[string]struct{}
	hints   []string
	sem     chan struct{}
	wg      sync.WaitGroup
	// mu orders wg.Add in Submit against the final Wait in Close.
	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Pipeline {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	headers := make(map[string]struct{}, len(opts.ScannedHeaders))
	for _, h := range opts.ScannedHeaders {
		headers[http.CanonicalHeaderKey(strings.TrimSpace(h))] = struct{}{}
	}
	hints := make([]string, 0, len(opts.HeaderHints))
	for _, h := range opts.HeaderHints {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hints = append(hints, h)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		opts:    opts,
		headers: headers,
		hints:   hints,
		sem:     make(chan struct{}, workers),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit queues req for classification and returns immediately.
func (p *Pipeline) Submit(req Request) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		logger.Debug("pipeline closed, request not classified", "host", req.Host)
		return
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			return
		}
		defer func() { <-p.sem }()
		p.Process(p.ctx, req)
	}()
}

// Wait blocks until every submitted request has been processed.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close stops accepting requests and drains the ones in flight.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}

// Process runs req through the state machine synchronously and returns its
// terminal event.
func (p *Pipeline) Process(ctx context.Context, req Request) model.Event {
	ev := model.Event{
		Timestamp: req.Time,
		Host:      req.Host,
		Method:    req.Method,
		URL:       req.URL,
		State:     model.StateObserved,
		BodyBytes: req.BodyBytes,
		Truncated: req.Truncated,
		TLS:       req.TLS,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	switch {
	case !p.opts.Settings.Get().RealTimeScanning:
		ev.State = model.StateDisabled
		return p.finish(ev)
	case p.opts.Whitelist != nil && p.opts.Whitelist.Contains(req.Host):
		ev.State = model.StateWhitelisted
		return p.finish(ev)
	}

	body := extract.FromRequestBody(extract.Body{
		Raw:             req.Body,
		ContentType:     req.Header.Get("Content-Type"),
		ContentEncoding: req.Header.Get("Content-Encoding"),
	})
	headers := p.flaggedHeaders(req.Header)
	ev.State = model.StateExtracted

	var errs []error
	record := func(res model.ScanResult, err error) {
		ev.Findings = append(ev.Findings, findingsForEvent(res.Findings)...)
		if res.AlertID != "" {
			ev.Alerts = append(ev.Alerts, res.AlertID)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if body != "" {
		record(p.opts.Scanner.Scan(ctx, scan.Request{Payload: body, URL: req.URL, Trigger: model.TriggerRequestBody}))
	}
	for _, h := range headers {
		record(p.opts.Scanner.Scan(ctx, scan.Request{Payload: h, URL: req.URL, Trigger: model.TriggerRequestHeader}))
	}
	ev.State = model.StateClassified

	if err := errors.Join(errs...); err != nil {
		ev.Error = err.Error()
		logger.Error("intercept alert failed", "host", req.Host, "err", err)
	}
	if len(ev.Alerts) > 0 {
		ev.State = model.StateAlertCreated
	} else {
		ev.State = model.StateNoFinding
	}
	return p.finish(ev)
}

func (p *Pipeline) finish(ev model.Event) model.Event {
	if p.opts.Events != nil {
		if err := p.opts.Events.Append(ev); err != nil {
			logger.Error("append event failed", "err", err)
		}
	}
	if p.opts.OnEvent != nil {
		p.opts.OnEvent(ev)
	}
	return ev
}

// flaggedHeaders renders each inspected header as a "name: value " token,
// in name order.
func (p *Pipeline) flaggedHeaders(h http.Header) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		if p.inspectHeader(name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		fields := make([]extract.Field, 0, len(h[name]))
		for _, v := range h[name] {
			fields = append(fields, extract.Field{Name: strings.ToLower(name), Value: extract.FromHeader(v)})
		}
		if s := extract.FromFormFields(fields); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *Pipeline) inspectHeader(name string) bool {
	if _, ok := p.headers[http.CanonicalHeaderKey(name)]; ok {
		return true
	}
	lower := strings.ToLower(name)
	for _, hint := range p.hints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// findingsForEvent drops matched text so the event log never stores the
// sensitive value itself.
func findingsForEvent(in []model.Finding) []model.Finding {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Finding, len(in))
	for i, f := range in {
		out[i] = model.Finding{Category: f.Category, DetectorID: f.DetectorID}
	}
	return out
}
