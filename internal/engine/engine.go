// Package engine wires the detection components into one process: the
// shared settings, alert queue and lists, the scan coordinator, the
// interception pipeline behind the proxy, the submission guard and the
// loopback API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thianeswaran-G/DarkPatent/internal/alerts"
	"github.com/Thianeswaran-G/DarkPatent/internal/api"
	"github.com/Thianeswaran-G/DarkPatent/internal/breach"
	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/detect"
	"github.com/Thianeswaran-G/DarkPatent/internal/guard"
	"github.com/Thianeswaran-G/DarkPatent/internal/intercept"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/proxy"
	"github.com/Thianeswaran-G/DarkPatent/internal/reputation"
	"github.com/Thianeswaran-G/DarkPatent/internal/scan"
	"github.com/Thianeswaran-G/DarkPatent/internal/settings"
	"github.com/Thianeswaran-G/DarkPatent/internal/store"
	"github.com/Thianeswaran-G/DarkPatent/internal/util"
)

type Options struct {
	// Decider prompts for pending submissions; nil leaves decisions to the API.
	Decider guard.Decider
	// OnEvent observes every classified interception event.
	OnEvent func(model.Event)
	// OnAlert observes every alert delivered while notifications are on.
	OnAlert func(model.Alert)
}

type Engine struct {
	Config     config.Config
	Records    store.Records
	Settings   *settings.Manager
	Alerts     *alerts.Store
	Feed       *alerts.Fanout
	Whitelist  *settings.Whitelist
	Watchlist  *settings.StringSet
	Classifier *detect.Classifier
	Scanner    *scan.Coordinator
	Breach     *breach.Client
	Sweeper    *breach.Sweeper
	Pipeline   *intercept.Pipeline
	Guard      *guard.Guard

	eventsPath string
	closeOnce  sync.Once
}

type notifyFunc func(model.Alert)

func (f notifyFunc) Notify(a model.Alert) { f(a) }

// Open builds every component over the data directory in cfg. Nothing is
// listening until Serve is called.
func Open(cfg config.Config, opts Options) (*Engine, error) {
	dir := cfg.Agent.DataDir
	if dir == "" {
		dir = config.DefaultDataDir()
		cfg.Agent.DataDir = dir
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	records, err := store.Open(dir, cfg.Storage)
	if err != nil {
		return nil, err
	}
	e := &Engine{Config: cfg, Records: records, eventsPath: util.EventsPath(dir)}
	if err := e.build(opts); err != nil {
		_ = records.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) build(opts Options) error {
	cfg := e.Config

	classifier, err := detect.New(cfg.Detection)
	if err != nil {
		return fmt.Errorf("detection patterns: %w", err)
	}
	e.Classifier = classifier

	if e.Settings, err = settings.Load(e.Records, cfg.Defaults); err != nil {
		return err
	}
	if e.Whitelist, err = settings.LoadWhitelist(e.Records); err != nil {
		return err
	}
	if e.Watchlist, err = settings.LoadWatchlist(e.Records); err != nil {
		return err
	}

	var next alerts.Notifier = alerts.LogNotifier{}
	if opts.OnAlert != nil {
		log := alerts.LogNotifier{}
		next = notifyFunc(func(a model.Alert) {
			log.Notify(a)
			opts.OnAlert(a)
		})
	}
	e.Feed = alerts.NewFanout(next)
	if e.Alerts, err = alerts.Open(alerts.Options{
		Records:  e.Records,
		Settings: e.Settings,
		Notifier: e.Feed,
		OnBadge: func(b alerts.Badge) {
			logger.Debug("badge updated", "count", b.Count, "text", b.Text)
		},
	}); err != nil {
		return err
	}

	var rep scan.ReputationChecker
	if cfg.Reputation.APIKey != "" {
		rep = reputation.New(cfg.Reputation)
	}
	e.Scanner = scan.New(classifier, rep, e.Alerts, e.Settings)

	e.Breach = breach.New(cfg.Breach, e.Settings)
	if e.Sweeper, err = breach.NewSweeper(e.Breach, e.Alerts, e.Watchlist, e.Records); err != nil {
		return err
	}

	e.Pipeline = intercept.New(intercept.Options{
		Scanner:        e.Scanner,
		Settings:       e.Settings,
		Whitelist:      e.Whitelist,
		Events:         store.NewEventLog(e.eventsPath),
		ScannedHeaders: cfg.Proxy.ScannedHeaders,
		HeaderHints:    cfg.Proxy.HeaderHints,
		OnEvent:        opts.OnEvent,
	})

	e.Guard = guard.New(guard.Options{
		Scanner:   e.Scanner,
		Settings:  e.Settings,
		Whitelist: e.Whitelist,
		Decider:   opts.Decider,
		Timeout:   cfg.Guard.DecisionTimeout,
		OnPending: func(p guard.PendingView) {
			logger.Info("submission awaiting decision", "id", p.ID, "form", p.FormID, "url", p.URL)
		},
	})
	return nil
}

// APIDeps exposes the engine through the loopback API.
func (e *Engine) APIDeps() api.Deps {
	return api.Deps{
		Scanner:   e.Scanner,
		Alerts:    e.Alerts,
		Feed:      e.Feed,
		Settings:  e.Settings,
		Whitelist: e.Whitelist,
		Watchlist: e.Watchlist,
		Breach:    e.Breach,
		Guard:     e.Guard,
		Events: func(n int) ([]model.Event, error) {
			return store.TailEvents(e.eventsPath, n)
		},
	}
}

// EventsPath is the interception event log.
func (e *Engine) EventsPath() string { return e.eventsPath }

// Prune drops events older than the retention window. A zero window keeps
// everything.
func (e *Engine) Prune(retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	_, removed, err := store.PruneEvents(e.eventsPath, time.Now().Add(-retention))
	return removed, err
}

// Serve runs the proxy (when enabled), the API and the breach sweeper until
// ctx is done or one of them fails.
func (e *Engine) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type task struct {
		name string
		run  func(context.Context) error
	}
	tasks := []task{
		{"api", func(ctx context.Context) error {
			return api.Serve(ctx, e.Config.API.Listen, api.NewRouter(e.APIDeps()))
		}},
		{"breach sweeper", func(ctx context.Context) error {
			return e.Sweeper.Run(ctx, e.Config.Breach.SweepInterval)
		}},
	}
	if e.Config.Proxy.Enable {
		srv, err := proxy.NewServer(proxy.Options{
			Listen:          e.Config.Proxy.Listen,
			DataDir:         e.Config.Agent.DataDir,
			MaxBodyBytes:    e.Config.Proxy.MaxBodyBytes,
			MaxRequestBytes: e.Config.Proxy.MaxRequestBytes,
			Pipeline:        e.Pipeline,
			Tunnel:          e.Whitelist.Contains,
		})
		if err != nil {
			return err
		}
		tasks = append(tasks, task{"proxy", srv.Run})
	}

	errCh := make(chan error, len(tasks))
	var wg sync.WaitGroup
	for _, t := range tasks {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := t.run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", t.name, err)
				cancel()
			}
		}()
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

// Close blocks pending submissions, drains the pipeline and releases the
// store. It is safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.Guard.CancelAll()
		e.Pipeline.Close()
		if ferr := e.Alerts.Flush(); ferr != nil {
			logger.Error("flush alerts", "err", ferr)
		}
		err = e.Records.Close()
	})
	return err
}
