package app

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/store"
	"github.com/Thianeswaran-G/DarkPatent/internal/util"
)

type report struct {
	window     time.Duration
	total      int
	alerted    int
	whitelist  int
	disabled   int
	truncated  int
	hosts      map[string]int
	categories map[string]int
}

func (c *cli) reportCmd() *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize interception events over a time window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dur, err := parseSince(since)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			events, err := store.ReadEvents(util.EventsPath(c.dir()))
			if err != nil {
				return fmt.Errorf("read events: %w", err)
			}
			buildReport(events, dur, time.Now()).print(c.out)
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "24h", "lookback duration (e.g. 1h, 24h, 7d)")
	return cmd
}

// buildReport counts events newer than now-window. A zero window counts all.
func buildReport(events []model.Event, window time.Duration, now time.Time) report {
	r := report{window: window, hosts: map[string]int{}, categories: map[string]int{}}
	cutoff := now.Add(-window)
	for _, e := range events {
		if window > 0 && e.Timestamp.Before(cutoff) {
			continue
		}
		r.total++
		switch e.State {
		case model.StateAlertCreated:
			r.alerted++
			r.hosts[e.Host]++
		case model.StateWhitelisted:
			r.whitelist++
		case model.StateDisabled:
			r.disabled++
		}
		if e.Truncated {
			r.truncated++
		}
		for _, f := range e.Findings {
			r.categories[string(f.Category)]++
		}
	}
	return r
}

func (r report) print(w io.Writer) {
	fmt.Fprintln(w, "report:")
	if r.window > 0 {
		fmt.Fprintf(w, "  window: %s\n", r.window)
	} else {
		fmt.Fprintln(w, "  window: all")
	}
	fmt.Fprintf(w, "  total: %d\n", r.total)
	fmt.Fprintf(w, "  alerted: %d\n", r.alerted)
	fmt.Fprintf(w, "  whitelisted: %d\n", r.whitelist)
	fmt.Fprintf(w, "  scanning disabled: %d\n", r.disabled)
	fmt.Fprintf(w, "  truncated bodies: %d\n", r.truncated)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "hosts with alerts:")
	printSortedMap(w, r.hosts)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "findings:")
	printSortedMap(w, r.categories)
}

func printSortedMap(w io.Writer, m map[string]int) {
	if len(m) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	type kv struct {
		k string
		v int
	}
	pairs := make([]kv, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, kv{k: k, v: v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].v == pairs[j].v {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v > pairs[j].v
	})
	for _, p := range pairs {
		fmt.Fprintf(w, "  %s: %d\n", p.k, p.v)
	}
}
