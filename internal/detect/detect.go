package detect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

type detector struct {
	id       int
	name     string
	category model.Category
	re       *regexp.Regexp
}

// Built-in detectors in priority order. The order is part of the contract:
// findings come back in this order on every call.
var builtins = []struct {
	name     string
	category model.Category
	re       *regexp.Regexp
}{
	{"credit_card", model.CategoryCreditCard, regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`)},
	{"ssn", model.CategorySSN, regexp.MustCompile(`\b\d{3}[ -]?\d{2}[ -]?\d{4}\b`)},
	{"email", model.CategoryEmail, regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	// Octets are not range checked; 999.999.999.999 matches.
	{"ip_address", model.CategoryIPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{"password", model.CategoryPassword, regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`)},
	{"api_key", model.CategoryAPIKey, regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*\S+`)},
}

// Classifier matches text against an ordered set of detectors. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct {
	detectors []detector
}

// New builds a classifier from the built-in detectors followed by any
// custom patterns in rules.
func New(rules config.Detection) (*Classifier, error) {
	detectors := make([]detector, 0, len(builtins)+len(rules.CustomPatterns))
	for i, b := range builtins {
		detectors = append(detectors, detector{id: i + 1, name: b.name, category: b.category, re: b.re})
	}
	for _, p := range rules.CustomPatterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p.Name, err)
		}
		detectors = append(detectors, detector{
			id:       len(detectors) + 1,
			name:     p.Name,
			category: model.ParseCategory(p.Category),
			re:       re,
		})
	}
	return &Classifier{detectors: detectors}, nil
}

// Default returns a classifier with only the built-in detectors.
func Default() *Classifier {
	c, _ := New(config.Detection{})
	return c
}

// Classify returns at most one finding per detector: the first match.
func (c *Classifier) Classify(text string) []model.Finding {
	if text == "" {
		return nil
	}
	var findings []model.Finding
	for _, d := range c.detectors {
		m := d.re.FindString(text)
		if m == "" {
			continue
		}
		findings = append(findings, model.Finding{
			Category:    d.category,
			MatchedText: strings.TrimSpace(m),
			DetectorID:  d.id,
		})
	}
	return findings
}

// DetectorName returns the configured name for a detector id.
func (c *Classifier) DetectorName(id int) string {
	if id < 1 || id > len(c.detectors) {
		return ""
	}
	return c.detectors[id-1].name
}

// Redact replaces every matched sample in text with a category token.
func Redact(text string, findings []model.Finding) string {
	out := text
	for _, f := range findings {
		sample := strings.TrimSpace(f.MatchedText)
		if sample == "" {
			continue
		}
		out = strings.ReplaceAll(out, sample, "[REDACTED:"+string(f.Category)+"]")
	}
	return out
}

// Categories lists the distinct categories of findings in order of first appearance.
func Categories(findings []model.Finding) []model.Category {
	seen := make(map[model.Category]struct{}, len(findings))
	out := make([]model.Category, 0, len(findings))
	for _, f := range findings {
		if _, ok := seen[f.Category]; ok {
			continue
		}
		seen[f.Category] = struct{}{}
		out = append(out, f.Category)
	}
	return out
}
