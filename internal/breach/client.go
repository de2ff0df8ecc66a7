// Package breach looks up email addresses in a Have-I-Been-Pwned-style
// breach service and periodically sweeps the watch-list for new breaches.
package breach

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Thianeswaran-G/DarkPatent/internal/config"
	"github.com/Thianeswaran-G/DarkPatent/internal/httpclient"
	"github.com/Thianeswaran-G/DarkPatent/internal/logger"
	"github.com/Thianeswaran-G/DarkPatent/internal/model"
)

const maxResponseBytes = 4 << 20

// SettingsSource is the read side of the settings manager.
type SettingsSource interface {
	Get() model.Settings
}

type Client struct {
	endpoint string
	settings SettingsSource
	http     *http.Client
}

func New(cfg config.BreachConfig, settings SettingsSource) *Client {
	headers := http.Header{}
	if cfg.UserAgent != "" {
		headers.Set("User-Agent", cfg.UserAgent)
	}
	if cfg.APIKey != "" {
		headers.Set("hibp-api-key", cfg.APIKey)
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		settings: settings,
		http:     httpclient.New(httpclient.Config{Timeout: cfg.Timeout, Headers: headers}),
	}
}

type breachEntry struct {
	Name string `json:"Name"`
}

// Check looks email up. With dark web scanning disabled it returns
// Checked=false without any outbound call. Service failures are reported
// as Error=true, never as a Go error.
func (c *Client) Check(ctx context.Context, email string) model.BreachResult {
	if !c.settings.Get().DarkWebScanning {
		return model.BreachResult{Checked: false}
	}
	email = strings.TrimSpace(email)
	if email == "" || c.endpoint == "" {
		return model.BreachResult{Checked: true, Error: true}
	}

	u := c.endpoint + "/breachedaccount/" + url.PathEscape(email) + "?truncateResponse=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return failed(email, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return failed(email, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return model.BreachResult{Checked: true, Breached: false, Count: 0}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return failed(email, fmt.Errorf("breach service returned %s", resp.Status))
	}

	var entries []breachEntry
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&entries); err != nil {
		return failed(email, fmt.Errorf("decode response: %w", err))
	}
	breaches := make([]model.Breach, 0, len(entries))
	for _, e := range entries {
		if e.Name != "" {
			breaches = append(breaches, model.Breach{Name: e.Name})
		}
	}
	return model.BreachResult{
		Checked:  true,
		Breached: len(breaches) > 0,
		Breaches: breaches,
		Count:    len(breaches),
	}
}

func failed(email string, err error) model.BreachResult {
	logger.Warn("breach check failed", "email", redactEmail(email), "err", err)
	return model.BreachResult{Checked: true, Error: true}
}

// redactEmail keeps the domain and first character of the local part.
func redactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
