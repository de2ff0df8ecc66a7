package model

import (
	"encoding/json"
	"strings"
	"time"
)

type Category string

const (
	CategoryCreditCard Category = "credit_card"
	CategorySSN        Category = "ssn"
	CategoryEmail      Category = "email"
	CategoryIPAddress  Category = "ip_address"
	CategoryPassword   Category = "password"
	CategoryAPIKey     Category = "api_key"
	CategoryUnknown    Category = "unknown"
)

// ParseCategory maps raw onto one of the known categories, case-insensitively.
// Anything else is CategoryUnknown.
func ParseCategory(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	switch c {
	case CategoryCreditCard, CategorySSN, CategoryEmail, CategoryIPAddress, CategoryPassword, CategoryAPIKey:
		return c
	default:
		return CategoryUnknown
	}
}

// Severity is ordered Low < Medium < High < Critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal of s, or 0 for an unrecognised value.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

// AtLeast reports whether s is the same as or more severe than min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// CategorySeverity is the default severity of one finding category.
func CategorySeverity(c Category) Severity {
	switch c {
	case CategoryCreditCard, CategorySSN:
		return SeverityCritical
	case CategoryPassword, CategoryAPIKey:
		return SeverityHigh
	case CategoryUnknown:
		return SeverityMedium
	case CategoryEmail, CategoryIPAddress:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Finding captures one detector hit.
type Finding struct {
	Category    Category `json:"category"`
	MatchedText string   `json:"matched_text"`
	DetectorID  int      `json:"detector_id"`
}

// FindingsSeverity is the highest category severity in findings, or "" when empty.
func FindingsSeverity(findings []Finding) Severity {
	var sev Severity
	for _, f := range findings {
		sev = MaxSeverity(sev, CategorySeverity(f.Category))
	}
	return sev
}

// ReputationVerdict is the reduced answer of the URL reputation oracle.
// Evidence entries are passed through from the oracle untouched.
type ReputationVerdict struct {
	Malicious bool              `json:"malicious"`
	Evidence  []json.RawMessage `json:"evidence,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type ScanResult struct {
	Findings        []Finding          `json:"findings"`
	Reputation      *ReputationVerdict `json:"reputation,omitempty"`
	Recommendations []string           `json:"recommendations"`
	// AlertID names the alert the scan raised, if any.
	AlertID string `json:"alert_id,omitempty"`
}

func (r ScanResult) HasFindings() bool { return len(r.Findings) > 0 }

func (r ScanResult) Malicious() bool { return r.Reputation != nil && r.Reputation.Malicious }

type AlertKind string

const (
	AlertDataTransmission AlertKind = "data_transmission"
	AlertHeaderLeak       AlertKind = "header_leak"
	AlertBreachDetected   AlertKind = "breach_detected"
	AlertPasteWarning     AlertKind = "paste_warning"
	AlertCopyWarning      AlertKind = "copy_warning"
	AlertScanResult       AlertKind = "scan_result"
	AlertMaliciousSite    AlertKind = "malicious_site"
)

// Alert is a persisted, user-dismissible record of a detected risk event.
type Alert struct {
	ID          string    `json:"id"`
	Kind        AlertKind `json:"kind"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Message     string    `json:"message,omitempty"`
	URL         string    `json:"url,omitempty"`
	Findings    []Finding `json:"findings,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SourceTabID *int      `json:"source_tab_id,omitempty"`
}

// AlertDraft carries everything an alert needs except its identity and timestamp.
type AlertDraft struct {
	Kind        AlertKind
	Severity    Severity
	Title       string
	Message     string
	URL         string
	Findings    []Finding
	SourceTabID *int
}

type Settings struct {
	RealTimeScanning bool     `json:"real_time_scanning" mapstructure:"real_time_scanning"`
	DarkWebScanning  bool     `json:"dark_web_scanning" mapstructure:"dark_web_scanning"`
	AutoBlock        bool     `json:"auto_block" mapstructure:"auto_block"`
	Notifications    bool     `json:"notifications" mapstructure:"notifications"`
	AlertLevel       Severity `json:"alert_level" mapstructure:"alert_level"`
}

// SettingsPatch is a partial settings update; nil fields keep their current value.
type SettingsPatch struct {
	RealTimeScanning *bool     `json:"real_time_scanning,omitempty"`
	DarkWebScanning  *bool     `json:"dark_web_scanning,omitempty"`
	AutoBlock        *bool     `json:"auto_block,omitempty"`
	Notifications    *bool     `json:"notifications,omitempty"`
	AlertLevel       *Severity `json:"alert_level,omitempty"`
}

// Apply returns s with every non-nil field of p merged over it.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.RealTimeScanning != nil {
		s.RealTimeScanning = *p.RealTimeScanning
	}
	if p.DarkWebScanning != nil {
		s.DarkWebScanning = *p.DarkWebScanning
	}
	if p.AutoBlock != nil {
		s.AutoBlock = *p.AutoBlock
	}
	if p.Notifications != nil {
		s.Notifications = *p.Notifications
	}
	if p.AlertLevel != nil {
		s.AlertLevel = *p.AlertLevel
	}
	return s
}

type Breach struct {
	Name string `json:"name"`
}

// BreachResult is the answer to a breach check. Checked is false when dark
// web scanning is disabled and no lookup was made.
type BreachResult struct {
	Checked  bool     `json:"checked"`
	Breached bool     `json:"breached"`
	Breaches []Breach `json:"breaches,omitempty"`
	Count    int      `json:"count"`
	Error    bool     `json:"error,omitempty"`
}

type PipelineState string

const (
	StateObserved     PipelineState = "observed"
	StateWhitelisted  PipelineState = "whitelisted"
	StateDisabled     PipelineState = "disabled"
	StateExtracted    PipelineState = "extracted"
	StateClassified   PipelineState = "classified"
	StateNoFinding    PipelineState = "no_finding"
	StateAlertCreated PipelineState = "alert_created"
)

// Event represents one intercepted outbound request and where it ended up
// in the interception pipeline.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	Host      string        `json:"host"`
	Method    string        `json:"method"`
	URL       string        `json:"url"`
	State     PipelineState `json:"state"`
	Findings  []Finding     `json:"findings,omitempty"`
	Alerts    []string      `json:"alerts,omitempty"`
	BodyBytes int           `json:"body_bytes"`
	Truncated bool          `json:"truncated"`
	TLS       bool          `json:"tls"`
	Error     string        `json:"error,omitempty"`
}
