package detect

import (
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

func TestClassifyNoSensitiveData(t *testing.T) {
	c := Default()
	inputs := []string{
		"",
		"hello world",
		"the meeting is at 10:30 in room 4",
		"password protected area",
	}
	for _, in := range inputs {
		if got := c.Classify(in); len(got) != 0 {
			t.Errorf("Classify(%q) = %+v, want no findings", in, got)
		}
	}
}

func TestClassifyEmailOnly(t *testing.T) {
	got := Default().Classify("please reach me at alice.smith@example.co.uk tomorrow")
	if len(got) != 1 {
		t.Fatalf("expected one finding, got %+v", got)
	}
	if got[0].Category != model.CategoryEmail {
		t.Fatalf("expected email finding, got %q", got[0].Category)
	}
	if got[0].MatchedText != "alice.smith@example.co.uk" {
		t.Fatalf("unexpected match %q", got[0].MatchedText)
	}
}

func TestClassifyDetectors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want model.Category
	}{
		{"card spaced", "card 4111 1111 1111 1111 exp 12/29", model.CategoryCreditCard},
		{"card dashed", "4111-1111-1111-1111", model.CategoryCreditCard},
		{"card plain", "4111111111111111", model.CategoryCreditCard},
		{"ssn dashed", "ssn 123-45-6789", model.CategorySSN},
		{"ssn plain", "ssn 123456789", model.CategorySSN},
		{"ip", "host 10.0.0.12 is down", model.CategoryIPAddress},
		{"ip out of range", "999.999.999.999", model.CategoryIPAddress},
		{"password colon", "password: hunter2", model.CategoryPassword},
		{"password equals", "PASSWORD=hunter2", model.CategoryPassword},
		{"api key underscore", "api_key=abc123", model.CategoryAPIKey},
		{"api key dash", "api-key: abc123", model.CategoryAPIKey},
		{"apikey", "apikey=abc123", model.CategoryAPIKey},
	}
	c := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.in)
			if len(got) != 1 {
				t.Fatalf("Classify(%q) = %+v, want exactly one finding", tt.in, got)
			}
			if got[0].Category != tt.want {
				t.Fatalf("Classify(%q) category = %q, want %q", tt.in, got[0].Category, tt.want)
			}
		})
	}
}

func TestClassifyFirstMatchPerDetectorInPriorityOrder(t *testing.T) {
	in := "api_key=k1 password=p1 bob@example.com alice@example.com 4111 1111 1111 1111 10.1.1.1"
	got := Default().Classify(in)

	want := []model.Category{
		model.CategoryCreditCard,
		model.CategoryEmail,
		model.CategoryIPAddress,
		model.CategoryPassword,
		model.CategoryAPIKey,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d findings, want %d: %+v", len(got), len(want), got)
	}
	for i, f := range got {
		if f.Category != want[i] {
			t.Fatalf("finding %d category %q, want %q", i, f.Category, want[i])
		}
	}
	if got[1].MatchedText != "bob@example.com" {
		t.Fatalf("expected first email occurrence, got %q", got[1].MatchedText)
	}
	if got[0].DetectorID != 1 || got[4].DetectorID != 6 {
		t.Fatalf("unexpected detector ids: %+v", got)
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := Default()
	in := "password: hunter2 and ssn 123-45-6789"
	first := c.Classify(in)
	second := c.Classify(in)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("classification not idempotent: %+v vs %+v", first, second)
	}
}

func TestClassifyConcurrentUse(t *testing.T) {
	c := Default()
	want := c.Classify("password: hunter2")
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := c.Classify("password: hunter2"); !reflect.DeepEqual(got, want) {
				t.Errorf("concurrent classify mismatch: %+v", got)
			}
		}()
	}
	wg.Wait()
}

func TestCustomPatterns(t *testing.T) {
	c, err := New(config.Detection{CustomPatterns: []config.Pattern{
		{Name: "employee_id", Regex: `EMP[0-9]{6}`},
		{Name: "iban", Regex: `\bDE\d{20}\b`, Category: "credit_card"},
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.Classify("badge EMP123456")
	if len(got) != 1 || got[0].Category != model.CategoryUnknown || got[0].DetectorID != 7 {
		t.Fatalf("unexpected custom finding: %+v", got)
	}
	if name := c.DetectorName(7); name != "employee_id" {
		t.Fatalf("DetectorName(7) = %q", name)
	}
	got = c.Classify("DE89370400440532013000")
	if len(got) != 1 || got[0].Category != model.CategoryCreditCard {
		t.Fatalf("expected custom category override, got %+v", got)
	}
}

func TestCustomPatternCategoryOutsideEnum(t *testing.T) {
	c, err := New(config.Detection{CustomPatterns: []config.Pattern{
		{Name: "tok", Regex: `tok_[a-z]+`, Category: "Secret Token"},
		{Name: "mail_alias", Regex: `alias:[a-z]+`, Category: " EMAIL "},
	}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.Classify("tok_abc alias:bob")
	if len(got) != 2 {
		t.Fatalf("expected two findings, got %+v", got)
	}
	if got[0].Category != model.CategoryUnknown {
		t.Fatalf("unlisted category should map to unknown, got %q", got[0].Category)
	}
	if got[1].Category != model.CategoryEmail {
		t.Fatalf("known category should be normalized, got %q", got[1].Category)
	}
}

func TestNewRejectsInvalidPattern(t *testing.T) {
	if _, err := New(config.Detection{CustomPatterns: []config.Pattern{{Name: "bad", Regex: "[unclosed"}}}); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestRedact(t *testing.T) {
	in := "login password: hunter2 now"
	findings := Default().Classify(in)
	out := Redact(in, findings)
	if strings.Contains(out, "hunter2") {
		t.Fatalf("expected secret to be redacted, got %q", out)
	}
	if !strings.Contains(out, "[REDACTED:password]") {
		t.Fatalf("missing redaction token: %q", out)
	}
}

func TestCategories(t *testing.T) {
	got := Categories([]model.Finding{
		{Category: model.CategoryEmail},
		{Category: model.CategoryPassword},
		{Category: model.CategoryEmail},
	})
	if len(got) != 2 || got[0] != model.CategoryEmail || got[1] != model.CategoryPassword {
		t.Fatalf("unexpected categories: %v", got)
	}
}
