package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thianeswaran-G/DarkPatent/internal/engine"
	"github.com/Thianeswaran-G/DarkPatent/internal/extract"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/scan"
	"github.com/Thianeswaran-G/DarkPatent/internal/settings"
)

// The commands in this file work on the persisted state directly. A running
// `serve` keeps its own copy in memory and does not see these edits until it
// restarts; use the API against a running instance.

// withEngine opens the state, runs fn and closes it again.
func (c *cli) withEngine(fn func(e *engine.Engine) error) error {
	e, err := c.openEngine(engine.Options{})
	if err != nil {
		return err
	}
	runErr := fn(e)
	if err := e.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) scanCmd() *cobra.Command {
	var (
		file    string
		target  string
		trigger string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "scan [text...]",
		Short: "Classify text, a file, or stdin and raise an alert on findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := model.ParseTrigger(trigger)
			if !ok {
				return fmt.Errorf("unknown trigger %q", trigger)
			}
			payload, err := c.scanInput(file, args)
			if err != nil {
				return err
			}
			return c.withEngine(func(e *engine.Engine) error {
				res, err := e.Scanner.Scan(cmd.Context(), scan.Request{Payload: payload, URL: target, Trigger: t})
				if err != nil {
					return err
				}
				if asJSON {
					return c.printJSON(res)
				}
				printScanResult(c.out, res)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "read the payload from a file (text, HTML, PDF); - for stdin")
	f.StringVar(&target, "url", "", "page URL the payload belongs to")
	f.StringVar(&trigger, "trigger", string(model.TriggerManual), "scan trigger, e.g. manual, paste, form_submit")
	f.BoolVar(&asJSON, "json", false, "print the scan result as JSON")
	return cmd
}

func (c *cli) scanInput(file string, args []string) (string, error) {
	switch {
	case file == "-":
		raw, err := io.ReadAll(c.in)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return extract.FromBuffers(raw), nil
	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return extract.FromBuffers(raw), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		return "", errors.New("nothing to scan: pass text, --file PATH or --file -")
	}
}

func (c *cli) alertsCmd() *cobra.Command {
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest last",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(func(e *engine.Engine) error {
				alerts := e.Alerts.List()
				if asJSON {
					return c.printJSON(alerts)
				}
				if len(alerts) == 0 {
					fmt.Fprintln(c.out, "no alerts")
					return nil
				}
				for _, a := range alerts {
					printAlert(c.out, a)
				}
				fmt.Fprintf(c.out, "badge: %s\n", e.Alerts.Badge().Text)
				return nil
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print alerts as JSON")

	cmd := &cobra.Command{Use: "alerts", Short: "Manage the alert queue"}
	cmd.AddCommand(
		list,
		&cobra.Command{
			Use:   "dismiss ID...",
			Short: "Dismiss alerts by id",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withEngine(func(e *engine.Engine) error {
					for _, id := range args {
						if err := e.Alerts.Dismiss(id); err != nil {
							return err
						}
					}
					fmt.Fprintf(c.out, "remaining: %d\n", e.Alerts.Badge().Count)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Dismiss every alert",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withEngine(func(e *engine.Engine) error {
					if err := e.Alerts.ClearAll(); err != nil {
						return err
					}
					fmt.Fprintln(c.out, "alerts cleared")
					return nil
				})
			},
		},
	)
	return cmd
}

func (c *cli) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "Show or change user settings"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the current settings",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withEngine(func(e *engine.Engine) error {
					return c.printJSON(e.Settings.Get())
				})
			},
		},
		&cobra.Command{
			Use:   "set KEY=VALUE...",
			Short: "Change settings, e.g. auto_block=true alert_level=high",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				patch, err := parseSettingsPatch(args)
				if err != nil {
					return err
				}
				return c.withEngine(func(e *engine.Engine) error {
					s, err := e.Settings.Update(patch)
					if err != nil {
						return err
					}
					return c.printJSON(s)
				})
			},
		},
	)
	return cmd
}

func parseSettingsPatch(args []string) (model.SettingsPatch, error) {
	var p model.SettingsPatch
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return p, fmt.Errorf("%w: expected KEY=VALUE, got %q", settings.ErrInvalid, arg)
		}
		key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
		value = strings.TrimSpace(value)

		if key == "alert_level" {
			sev := model.Severity(strings.ToLower(value))
			p.AlertLevel = &sev
			continue
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return p, fmt.Errorf("%w: %s must be true or false", settings.ErrInvalid, key)
		}
		switch key {
		case "real_time_scanning":
			p.RealTimeScanning = &b
		case "dark_web_scanning":
			p.DarkWebScanning = &b
		case "auto_block":
			p.AutoBlock = &b
		case "notifications":
			p.Notifications = &b
		default:
			return p, fmt.Errorf("%w: unknown setting %q", settings.ErrInvalid, key)
		}
	}
	return p, nil
}

// setCommands builds add/remove/list for a persisted string set.
func (c *cli) setCommands(use, short, noun string, pick func(e *engine.Engine) *settings.StringSet) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add " + strings.ToUpper(noun) + "...",
			Short: "Add entries",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withEngine(func(e *engine.Engine) error {
					set := pick(e)
					for _, item := range args {
						added, err := set.Add(item)
						if err != nil {
							return err
						}
						if !added {
							fmt.Fprintf(c.out, "%s already listed\n", item)
						}
					}
					fmt.Fprintf(c.out, "%d %s(s) listed\n", set.Len(), noun)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove " + strings.ToUpper(noun) + "...",
			Short: "Remove entries",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withEngine(func(e *engine.Engine) error {
					set := pick(e)
					for _, item := range args {
						removed, err := set.Remove(item)
						if err != nil {
							return err
						}
						if !removed {
							fmt.Fprintf(c.out, "%s was not listed\n", item)
						}
					}
					fmt.Fprintf(c.out, "%d %s(s) listed\n", set.Len(), noun)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List entries",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withEngine(func(e *engine.Engine) error {
					for _, item := range pick(e).List() {
						fmt.Fprintln(c.out, item)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func (c *cli) whitelistCmd() *cobra.Command {
	return c.setCommands("whitelist", "Hosts that are never scanned or decrypted", "host",
		func(e *engine.Engine) *settings.StringSet { return e.Whitelist.StringSet })
}

func (c *cli) watchCmd() *cobra.Command {
	return c.setCommands("watch", "Email addresses swept for new breaches", "email",
		func(e *engine.Engine) *settings.StringSet { return e.Watchlist })
}

func (c *cli) breachCmd() *cobra.Command {
	var asJSON bool
	check := &cobra.Command{
		Use:   "check EMAIL",
		Short: "Look up one email in the breach service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := settings.NormalizeEmail(args[0])
			if err != nil {
				return err
			}
			return c.withEngine(func(e *engine.Engine) error {
				res := e.Breach.Check(cmd.Context(), email)
				if asJSON {
					return c.printJSON(res)
				}
				switch {
				case !res.Checked:
					fmt.Fprintln(c.out, "dark web scanning is off; enable it with `darkpatent settings set dark_web_scanning=true`")
				case res.Error:
					return errors.New("breach service unavailable")
				case !res.Breached:
					fmt.Fprintln(c.out, colorGreen.Sprint("no known breaches"))
				default:
					fmt.Fprintf(c.out, "%s found in %d breach(es)\n", colorRed.Sprint(email), res.Count)
					for _, b := range res.Breaches {
						fmt.Fprintf(c.out, "  - %s\n", b.Name)
					}
				}
				return nil
			})
		},
	}
	check.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	cmd := &cobra.Command{Use: "breach", Short: "Breach lookups for the watch-list"}
	cmd.AddCommand(
		check,
		&cobra.Command{
			Use:   "sweep",
			Short: "Check every watch-list entry once and alert on new breaches",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withEngine(func(e *engine.Engine) error {
					n, err := e.Sweeper.SweepOnce(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(c.out, "sweep: %d entries, %d new alert(s)\n", e.Watchlist.Len(), n)
					return nil
				})
			},
		},
	)
	return cmd
}
