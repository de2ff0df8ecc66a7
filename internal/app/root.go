// Package app is the darkpatent command line.
package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/engine"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/util"
)

const maxTailEventLineBytes = 16 << 20

type cli struct {
	configPath string
	dataDir    string
	logLevel   string

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg config.Config
}

// Run executes the command line and returns the process exit code.
func Run(args []string) int {
	root := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", colorRed.Sprint("error:"), err)
		return 1
	}
	return 0
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "darkpatent",
		Short:         "Detect sensitive data leaving the browser",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.loadConfig()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "config file (default: <data dir>/config.yaml, then ./config.yaml)")
	pf.StringVar(&c.dataDir, "dir", "", "data directory (overrides agent.data_dir)")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		c.serveCmd(),
		c.setupCACmd(),
		c.caCmd(),
		c.scanCmd(),
		c.alertsCmd(),
		c.settingsCmd(),
		c.whitelistCmd(),
		c.watchCmd(),
		c.breachCmd(),
		c.eventsCmd(),
		c.reportCmd(),
		c.rulesCmd(),
		c.cryptoCmd(),
		c.versionCmd(),
	)
	return root
}

func (c *cli) loadConfig() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.dataDir != "" {
		derivedLog := filepath.Join(cfg.Agent.DataDir, "logs", "darkpatent.log")
		if cfg.Agent.LogFile == derivedLog {
			cfg.Agent.LogFile = filepath.Join(c.dataDir, "logs", "darkpatent.log")
		}
		cfg.Agent.DataDir = c.dataDir
	}
	if c.logLevel != "" {
		cfg.Agent.LogLevel = c.logLevel
	}
	c.cfg = cfg

	// One-shot commands log to stderr; serve replaces this with the
	// configured sinks.
	level := "error"
	if c.logLevel != "" {
		level = c.logLevel
	}
	logger.SetOutput(c.errOut, level)
	return nil
}

// openEngine opens the persisted state without starting any listener.
func (c *cli) openEngine(opts engine.Options) (*engine.Engine, error) {
	return engine.Open(c.cfg, opts)
}

func (c *cli) dir() string {
	return c.cfg.Agent.DataDir
}

func (c *cli) ensureDir() error {
	if err := util.EnsureDir(c.dir()); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	return nil
}

// parseSince accepts time.ParseDuration input plus a day suffix ("7d").
func parseSince(input string) (time.Duration, error) {
	input = strings.TrimSpace(input)
	if input == "0" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(input, "d"); ok {
		v, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(v * float64(24*time.Hour)), nil
	}
	return time.ParseDuration(input)
}
