// Package reputation asks a Safe-Browsing-style lookup service whether a URL
// is known to be malicious. Lookups are advisory: every failure reduces to a
// non-malicious verdict carrying an error marker.
package reputation

import (
	"bytes"
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
	"github.com/Thianeswaran-G/DarkPatent/internal/version"
)

const maxResponseBytes = 1 << 20

var (
	threatTypes   = []string{"MALWARE", "SOCIAL_ENGINEERING", "UNWANTED_SOFTWARE", "POTENTIALLY_HARMFUL_APPLICATION"}
	platformTypes = []string{"ANY_PLATFORM"}
)

type Client struct {
	endpoint string
	apiKey   string
	clientID string
	http     *http.Client
}

func New(cfg config.ReputationConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		clientID: cfg.ClientID,
		// One attempt only: a soft failure must not turn into repeated calls.
		http: httpclient.New(httpclient.Config{Timeout: cfg.Timeout}),
	}
}

type lookupRequest struct {
	Client struct {
		ClientID      string `json:"clientId"`
		ClientVersion string `json:"clientVersion"`
	} `json:"client"`
	ThreatInfo struct {
		ThreatTypes      []string      `json:"threatTypes"`
		PlatformTypes    []string      `json:"platformTypes"`
		ThreatEntryTypes []string      `json:"threatEntryTypes"`
		ThreatEntries    []threatEntry `json:"threatEntries"`
	} `json:"threatInfo"`
}

type threatEntry struct {
	URL string `json:"url"`
}

type lookupResponse struct {
	Matches []json.RawMessage `json:"matches"`
}

// CheckURL performs a single lookup for target.
func (c *Client) CheckURL(ctx context.Context, target string) model.ReputationVerdict {
	if c.endpoint == "" {
		return model.ReputationVerdict{Error: "reputation lookup not configured"}
	}
	if target == "" {
		return model.ReputationVerdict{Error: "empty url"}
	}

	var body lookupRequest
	body.Client.ClientID = c.clientID
	body.Client.ClientVersion = version.Version
	body.ThreatInfo.ThreatTypes = threatTypes
	body.ThreatInfo.PlatformTypes = platformTypes
	body.ThreatInfo.ThreatEntryTypes = []string{"URL"}
	body.ThreatInfo.ThreatEntries = []threatEntry{{URL: target}}

	payload, err := json.Marshal(body)
	if err != nil {
		return soft(target, fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.lookupURL(), bytes.NewReader(payload))
	if err != nil {
		return soft(target, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return soft(target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return soft(target, fmt.Errorf("lookup returned %s", resp.Status))
	}

	var out lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil && err != io.EOF {
		return soft(target, fmt.Errorf("decode response: %w", err))
	}
	return model.ReputationVerdict{
		Malicious: len(out.Matches) > 0,
		Evidence:  out.Matches,
	}
}

func (c *Client) lookupURL() string {
	if c.apiKey == "" {
		return c.endpoint
	}
	sep := "?"
	if strings.Contains(c.endpoint, "?") {
		sep = "&"
	}
	return c.endpoint + sep + "key=" + url.QueryEscape(c.apiKey)
}

func soft(target string, err error) model.ReputationVerdict {
	logger.Warn("reputation lookup failed", "url", target, "err", err)
	return model.ReputationVerdict{Error: err.Error()}
}
