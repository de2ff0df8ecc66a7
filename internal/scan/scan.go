// Package scan is the single funnel every trigger goes through: extract,
// classify, optionally consult reputation, build recommendations and raise
// at most one alert.
package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/Thianeswaran-G/DarkPatent/internal/detect"
	"github.com/Thianeswaran-G/DarkPatent/internal/extract"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

const (
	recMalicious = "This site is flagged as malicious. Do not enter any personal or payment information."
	recLowRisk   = "Low-risk data detected (%s). Check that you meant to share it."
	recCaution   = "No sensitive data detected. Stay cautious when sharing personal information online."
)

type Classifier interface {
	Classify(text string) []model.Finding
}

type ReputationChecker interface {
	CheckURL(ctx context.Context, url string) model.ReputationVerdict
}

type AlertCreator interface {
	CreateAlert(draft model.AlertDraft) (model.Alert, error)
}

type SettingsSource interface {
	Get() model.Settings
}

// Request is one scan. Payload, Fields and HTML are all optional and are
// concatenated when more than one is given.
type Request struct {
	Payload string
	Fields  []extract.Field
	HTML    string
	URL     string
	Trigger model.Trigger
	TabID   *int
}

type Coordinator struct {
	classifier Classifier
	reputation ReputationChecker
	alerts     AlertCreator
	settings   SettingsSource
}

// New wires a coordinator. reputation may be nil, in which case no scan
// consults it.
func New(classifier Classifier, reputation ReputationChecker, alerts AlertCreator, settings SettingsSource) *Coordinator {
	return &Coordinator{
		classifier: classifier,
		reputation: reputation,
		alerts:     alerts,
		settings:   settings,
	}
}

// Scan runs req through the pipeline. The result is always returned; the
// error is non-nil only when the raised alert could not be persisted.
func (c *Coordinator) Scan(ctx context.Context, req Request) (model.ScanResult, error) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = model.TriggerManual
	}
	settings := c.settings.Get()

	text := assemble(req)
	findings := c.classifier.Classify(text)
	res := model.ScanResult{Findings: findings}
	if res.Findings == nil {
		res.Findings = []model.Finding{}
	}

	if c.reputation != nil && req.URL != "" && trigger.ChecksReputation() {
		v := c.reputation.CheckURL(ctx, req.URL)
		res.Reputation = &v
	}
	res.Recommendations = recommendations(res, settings.AlertLevel)

	draft, ok := alertFor(res, req, trigger)
	if !ok {
		logger.Debug("scan clean", "trigger", trigger, "url", req.URL, "bytes", len(text))
		return res, nil
	}
	a, err := c.alerts.CreateAlert(draft)
	if err != nil {
		return res, fmt.Errorf("raise alert: %w", err)
	}
	res.AlertID = a.ID
	return res, nil
}

func assemble(req Request) string {
	parts := make([]string, 0, 3)
	if req.Payload != "" {
		parts = append(parts, req.Payload)
	}
	if s := extract.FromFormFields(req.Fields); s != "" {
		parts = append(parts, s)
	}
	if req.HTML != "" {
		if s := extract.FromHTML(strings.NewReader(req.HTML)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, extract.Separator)
}

// recommendations yields one findings line, worded by whether the findings
// reach level, one line for a malicious verdict, or the generic caution line
// when there is nothing to report.
func recommendations(res model.ScanResult, level model.Severity) []string {
	var out []string
	switch {
	case !res.HasFindings():
	case model.FindingsSeverity(res.Findings).AtLeast(level):
		out = append(out, fmt.Sprintf("Sensitive data detected (%s). Remove it or make sure you trust this site before sending.", categoryList(res.Findings)))
	default:
		out = append(out, fmt.Sprintf(recLowRisk, categoryList(res.Findings)))
	}
	if res.Malicious() {
		out = append(out, recMalicious)
	}
	if len(out) == 0 {
		out = append(out, recCaution)
	}
	return out
}

func alertFor(res model.ScanResult, req Request, trigger model.Trigger) (model.AlertDraft, bool) {
	draft := model.AlertDraft{
		URL:         req.URL,
		Findings:    res.Findings,
		SourceTabID: req.TabID,
	}
	switch {
	case res.Malicious():
		draft.Kind = model.AlertMaliciousSite
		draft.Severity = model.SeverityCritical
		draft.Title = titleFor(model.AlertMaliciousSite)
		draft.Message = "The reputation service flagged " + req.URL
		if res.HasFindings() {
			draft.Message += "; detected " + categoryList(res.Findings)
		}
	case res.HasFindings():
		draft.Kind = trigger.AlertKind()
		draft.Severity = model.FindingsSeverity(res.Findings)
		draft.Title = titleFor(draft.Kind)
		draft.Message = "Detected " + categoryList(res.Findings)
	default:
		return model.AlertDraft{}, false
	}
	return draft, true
}

func titleFor(kind model.AlertKind) string {
	switch kind {
	case model.AlertDataTransmission:
		return "Sensitive data sent in a request"
	case model.AlertHeaderLeak:
		return "Sensitive data sent in a request header"
	case model.AlertBreachDetected:
		return "Email found in data breach"
	case model.AlertPasteWarning:
		return "Sensitive data pasted"
	case model.AlertCopyWarning:
		return "Sensitive data copied"
	case model.AlertScanResult:
		return "Sensitive data detected"
	case model.AlertMaliciousSite:
		return "Malicious site detected"
	default:
		return "Sensitive data detected"
	}
}

func categoryList(findings []model.Finding) string {
	cats := detect.Categories(findings)
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
