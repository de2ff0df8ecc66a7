package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thianeswaran-G/DarkPatent/internal/engine"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/util"
	"github.com/Thianeswaran-G/DarkPatent/internal/version"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		tail      bool
		prompt    bool
		noProxy   bool
		noBanner  bool
		retention string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the intercepting proxy, the loopback API and the breach sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if util.RunningAsRoot() {
				return errors.New("refusing to run as root; start darkpatent as an unprivileged user")
			}
			if noProxy {
				c.cfg.Proxy.Enable = false
			}
			if c.cfg.Proxy.Enable {
				if err := validateLoopbackListen(c.cfg.Proxy.Listen); err != nil {
					return fmt.Errorf("proxy.listen: %w", err)
				}
			}
			if err := validateLoopbackListen(c.cfg.API.Listen); err != nil {
				return fmt.Errorf("api.listen: %w", err)
			}
			if !cmd.Flags().Changed("retention") {
				retention = c.cfg.Proxy.Retention
			}
			retentionDur, err := parseSince(retention)
			if err != nil {
				return fmt.Errorf("invalid --retention: %w", err)
			}
			if err := c.ensureDir(); err != nil {
				return err
			}

			a := c.cfg.Agent
			closer, err := logger.Setup(logger.Options{
				Level:      a.LogLevel,
				File:       a.LogFile,
				MaxSizeMB:  a.LogMaxSize,
				MaxBackups: a.LogMaxBackups,
				MaxAgeDays: a.LogMaxAge,
				Compress:   a.LogCompress,
				Stdout:     a.LogStdout,
			})
			if err != nil {
				return fmt.Errorf("set up logging: %w", err)
			}
			defer closer.Close()

			var outMu sync.Mutex
			opts := engine.Options{}
			if tail {
				opts.OnEvent = func(e model.Event) {
					outMu.Lock()
					defer outMu.Unlock()
					printEventLine(c.out, e)
				}
			}
			if prompt {
				opts.Decider = newPromptDecider(c.in, c.out, &outMu)
			}

			e, err := c.openEngine(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			removed, err := e.Prune(retentionDur)
			if err != nil {
				return fmt.Errorf("prune events: %w", err)
			}

			if !noBanner {
				printBanner(c.out)
			}
			fmt.Fprintln(c.out, version.String())
			fmt.Fprintln(c.out, "startup:")
			fmt.Fprintf(c.out, "  data dir: %s\n", c.dir())
			if c.cfg.Proxy.Enable {
				fmt.Fprintf(c.out, "  proxy endpoint: http://%s\n", c.cfg.Proxy.Listen)
			} else {
				fmt.Fprintln(c.out, "  proxy: disabled")
			}
			fmt.Fprintf(c.out, "  api: http://%s/v1\n", c.cfg.API.Listen)
			fmt.Fprintf(c.out, "  events: %s\n", e.EventsPath())
			fmt.Fprintf(c.out, "  retention: %s\n", retention)
			if removed > 0 {
				fmt.Fprintf(c.out, "  pruned: %d events\n", removed)
			}
			fmt.Fprintf(c.out, "  watch-list: %d entries, whitelist: %d hosts\n", e.Watchlist.Len(), e.Whitelist.Len())
			fmt.Fprintf(c.out, "  decisions: %s\n", decisionMode(prompt))

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := e.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				if strings.Contains(err.Error(), "load ca") {
					return fmt.Errorf("%w\nrun `darkpatent setup-ca --dir %s` first, or serve with --no-proxy", err, c.dir())
				}
				return err
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&tail, "tail", true, "print interception events as they are classified")
	f.BoolVar(&prompt, "prompt", false, "ask on this terminal whether to block or continue held submissions")
	f.BoolVar(&noProxy, "no-proxy", false, "run without the intercepting proxy")
	f.BoolVar(&noBanner, "no-banner", false, "skip the startup banner")
	f.StringVar(&retention, "retention", "7d", "event retention window, e.g. 24h, 7d, 0 (keep everything)")
	return cmd
}

func decisionMode(prompt bool) string {
	if prompt {
		return "terminal prompt"
	}
	return "POST /v1/submissions/{id}/decision"
}

func validateLoopbackListen(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("host cannot be empty; use 127.0.0.1 or localhost")
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("host %q is not loopback", host)
	}
	return nil
}
