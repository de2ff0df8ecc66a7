package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/fatih/color"

	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

// color.NoColor already honours NO_COLOR and non-terminal stdout.
var (
	colorRed    = color.New(color.FgRed, color.Bold)
	colorYellow = color.New(color.FgYellow)
	colorGreen  = color.New(color.FgGreen)
	colorCyan   = color.New(color.FgCyan)
	colorFaint  = color.New(color.Faint)
)

func printBanner(w io.Writer) {
	fig := figure.NewFigure("DARKPATENT", "doom", true)
	_, _ = colorRed.Fprintln(w, fig.String())
	_, _ = colorCyan.Fprintln(w, "════════════════════════════════════════════════")
	_, _ = colorGreen.Fprintln(w, "    sensitive data leak detection | loopback only")
	_, _ = colorCyan.Fprintln(w, "════════════════════════════════════════════════")
}

func printEventLine(w io.Writer, e model.Event) {
	ts := "unknown-time"
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp.Local().Format(time.RFC3339)
	}
	target := strings.TrimSpace(e.URL)
	if target == "" {
		target = e.Host
	}
	fmt.Fprintf(w, "[%s] %s %s | state=%s bytes=%d", ts, e.Method, target, colorizeState(e.State), e.BodyBytes)
	if e.Truncated {
		fmt.Fprint(w, " truncated")
	}
	fmt.Fprintln(w)
	if len(e.Findings) > 0 {
		fmt.Fprintf(w, "  findings: %s\n", findingsSummary(e.Findings))
	}
	if len(e.Alerts) > 0 {
		fmt.Fprintf(w, "  alerts: %s\n", strings.Join(e.Alerts, ", "))
	}
	if e.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", e.Error)
	}
}

func printAlert(w io.Writer, a model.Alert) {
	fmt.Fprintf(w, "%s %s %s %s\n",
		colorFaint.Sprint(a.CreatedAt.Local().Format(time.RFC3339)),
		colorizeSeverity(a.Severity),
		a.ID,
		a.Title,
	)
	if a.Message != "" {
		fmt.Fprintf(w, "  %s\n", a.Message)
	}
	if a.URL != "" {
		fmt.Fprintf(w, "  url: %s\n", a.URL)
	}
	if len(a.Findings) > 0 {
		fmt.Fprintf(w, "  findings: %s\n", findingsSummary(a.Findings))
	}
}

func printScanResult(w io.Writer, res model.ScanResult) {
	if !res.HasFindings() {
		fmt.Fprintln(w, colorGreen.Sprint("no sensitive data found"))
	}
	for _, f := range res.Findings {
		sev := model.CategorySeverity(f.Category)
		fmt.Fprintf(w, "%s %s", colorizeSeverity(sev), f.Category)
		if f.MatchedText != "" {
			fmt.Fprintf(w, "  %s", colorFaint.Sprint(maskSample(f.MatchedText)))
		}
		fmt.Fprintln(w)
	}
	if res.Reputation != nil {
		switch {
		case res.Reputation.Malicious:
			fmt.Fprintln(w, colorRed.Sprint("site is flagged as malicious"))
		case res.Reputation.Error != "":
			fmt.Fprintf(w, "reputation unknown: %s\n", res.Reputation.Error)
		}
	}
	for _, r := range res.Recommendations {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	if res.AlertID != "" {
		fmt.Fprintf(w, "alert: %s\n", res.AlertID)
	}
}

// findingsSummary renders "credit_card(x1), password(x2)" in first-seen order.
func findingsSummary(findings []model.Finding) string {
	counts := map[model.Category]int{}
	var order []model.Category
	for _, f := range findings {
		if counts[f.Category] == 0 {
			order = append(order, f.Category)
		}
		counts[f.Category]++
	}
	parts := make([]string, 0, len(order))
	for _, c := range order {
		label := fmt.Sprintf("%s(x%d)", c, counts[c])
		parts = append(parts, severityColor(model.CategorySeverity(c)).Sprint(label))
	}
	return strings.Join(parts, ", ")
}

// maskSample keeps the first and last two characters of a matched value.
func maskSample(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:2]) + strings.Repeat("*", len(r)-4) + string(r[len(r)-2:])
}

func severityColor(s model.Severity) *color.Color {
	switch s {
	case model.SeverityCritical, model.SeverityHigh:
		return colorRed
	case model.SeverityMedium:
		return colorYellow
	default:
		return colorGreen
	}
}

func colorizeSeverity(s model.Severity) string {
	return severityColor(s).Sprint(strings.ToUpper(string(s)))
}

func colorizeState(s model.PipelineState) string {
	switch s {
	case model.StateAlertCreated:
		return colorRed.Sprint(string(s))
	case model.StateWhitelisted, model.StateDisabled:
		return colorCyan.Sprint(string(s))
	case model.StateNoFinding:
		return colorGreen.Sprint(string(s))
	default:
		return string(s)
	}
}
