package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Thianeswaran-G/DarkPatent/internal/guard"
)

// promptDecider asks on the terminal whether a held submission may go
// through. One question is shown at a time; answers other than block or
// continue dismiss the prompt, which blocks.
type promptDecider struct {
	ask   sync.Mutex
	outMu *sync.Mutex
	out   io.Writer
	lines <-chan string
}

func newPromptDecider(in io.Reader, out io.Writer, outMu *sync.Mutex) *promptDecider {
	lines := make(chan string)
	go func() {
		defer close(lines)
		s := bufio.NewScanner(in)
		for s.Scan() {
			lines <- s.Text()
		}
	}()
	if outMu == nil {
		outMu = &sync.Mutex{}
	}
	return &promptDecider{outMu: outMu, out: out, lines: lines}
}

func (d *promptDecider) Decide(ctx context.Context, p guard.PendingView) (guard.Action, error) {
	d.ask.Lock()
	defer d.ask.Unlock()

	d.outMu.Lock()
	target := p.URL
	if target == "" {
		target = "(unknown page)"
	}
	fmt.Fprintf(d.out, "\n%s form %q on %s\n", colorYellow.Sprint("HOLD"), p.FormID, target)
	if len(p.Scan.Findings) > 0 {
		fmt.Fprintf(d.out, "  findings: %s\n", findingsSummary(p.Scan.Findings))
	}
	if p.Scan.Malicious() {
		fmt.Fprintf(d.out, "  %s\n", colorRed.Sprint("site is flagged as malicious"))
	}
	for _, r := range p.Scan.Recommendations {
		fmt.Fprintf(d.out, "  - %s\n", r)
	}
	fmt.Fprintf(d.out, "  block or continue %s? [b/c] ", p.ID)
	d.outMu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-d.lines:
		if !ok {
			return "", io.EOF
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "c", "continue":
			return guard.ActionContinue, nil
		case "b", "block":
			return guard.ActionBlock, nil
		default:
			return "", nil
		}
	}
}
