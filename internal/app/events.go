package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thianeswaran-G/DarkPatent/internal/model"
	"github.com/Thianeswaran-G/DarkPatent/internal/store"
	"github.com/Thianeswaran-G/DarkPatent/internal/util"
)

func (c *cli) eventsCmd() *cobra.Command {
	var (
		limit     int
		follow    bool
		olderThan string
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print recent interception events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := util.EventsPath(c.dir())
			events, err := store.TailEvents(path, limit)
			if err != nil {
				return fmt.Errorf("read events: %w", err)
			}
			for _, e := range events {
				printEventLine(c.out, e)
			}
			if !follow {
				return nil
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return c.followEvents(ctx, path)
		},
	}
	tail.Flags().IntVarP(&limit, "limit", "n", 20, "number of recent events to print")
	tail.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing as new events arrive")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove old interception events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dur, err := parseSince(olderThan)
			if err != nil {
				return fmt.Errorf("invalid --older-than: %w", err)
			}
			if dur <= 0 {
				return errors.New("--older-than must be > 0")
			}
			kept, removed, err := store.PruneEvents(util.EventsPath(c.dir()), time.Now().Add(-dur))
			if err != nil {
				return fmt.Errorf("prune events: %w", err)
			}
			fmt.Fprintf(c.out, "events prune: removed=%d kept=%d\n", removed, kept)
			return nil
		},
	}
	prune.Flags().StringVar(&olderThan, "older-than", "7d", "remove events older than this duration")

	cmd := &cobra.Command{Use: "events", Short: "Inspect the interception event log"}
	cmd.AddCommand(tail, prune)
	return cmd
}

// followEvents polls the log once a second and prints appended lines until
// ctx is done.
func (c *cli) followEvents(ctx context.Context, path string) error {
	var offset int64
	if st, err := os.Stat(path); err == nil {
		offset = st.Size()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		st, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(c.errOut, "tail stat error: %v\n", err)
			}
			continue
		}
		if st.Size() < offset {
			// Pruned or truncated; start over.
			offset = 0
		}
		if st.Size() == offset {
			continue
		}
		offset, err = c.printFrom(path, offset)
		if err != nil {
			fmt.Fprintf(c.errOut, "tail error: %v\n", err)
		}
	}
}

func (c *cli) printFrom(path string, offset int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, err
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), maxTailEventLineBytes)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		var e model.Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		printEventLine(c.out, e)
	}
	if err := s.Err(); err != nil {
		return offset, err
	}
	return f.Seek(0, io.SeekEnd)
}
