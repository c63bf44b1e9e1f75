// Package client talks to the correlation service HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the service answers 404.
var ErrNotFound = errors.New("not found")

type CorrelationClient struct {
	baseURL string
	client  *http.Client
}

// Correlation is a stored correlation record.
type Correlation struct {
	ID               string    `json:"id"`
	RuleID           string    `json:"rule_id"`
	RuleName         string    `json:"rule_name"`
	ScanIDs          []string  `json:"scan_ids"`
	AggregationValue string    `json:"aggregation_value"`
	Headline         string    `json:"headline"`
	Risk             string    `json:"risk"`
	EventIDs         []string  `json:"event_ids"`
	CreatedAt        time.Time `json:"created_at"`
	Events           []*Event  `json:"events,omitempty"`
}

// Event is a scan event as returned with an enriched correlation.
type Event struct {
	ID       string    `json:"id"`
	ScanID   string    `json:"scan_id"`
	Type     string    `json:"type"`
	Data     string    `json:"data"`
	Module   string    `json:"module"`
	Created  time.Time `json:"created"`
	Sources  []*Event  `json:"sources,omitempty"`
	Entities []*Event  `json:"entities,omitempty"`
	Children []*Event  `json:"children,omitempty"`
}

type RuleMeta struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Risk        string `json:"risk"`
	Scope       string `json:"scope"`
	Type        string `json:"type"`
}

type RuleResult struct {
	RuleID              string   `json:"rule_id"`
	Meta                RuleMeta `json:"meta"`
	Matched             bool     `json:"matched"`
	CorrelationsCreated int      `json:"correlations_created"`
	CorrelationIDs      []string `json:"correlation_ids,omitempty"`
}

// RunSummary is the response of a correlation run.
type RunSummary struct {
	RunID               string                `json:"run_id"`
	ScanIDs             []string              `json:"scan_ids"`
	StartedAt           time.Time             `json:"started_at"`
	DurationMS          int64                 `json:"duration_ms"`
	RulesEvaluated      int                   `json:"rules_evaluated"`
	RulesMatched        int                   `json:"rules_matched"`
	RulesFailed         []string              `json:"rules_failed,omitempty"`
	CorrelationsCreated int                   `json:"correlations_created"`
	ByRisk              map[string]int        `json:"by_risk"`
	Results             map[string]RuleResult `json:"results"`
	Error               string                `json:"error,omitempty"`
}

type Rule struct {
	ID          string   `json:"id"`
	Version     int      `json:"version,omitempty"`
	Meta        RuleMeta `json:"meta"`
	Enabled     bool     `json:"enabled"`
	Source      string   `json:"source"`
	Aggregation string   `json:"aggregation,omitempty"`
}

// LoadError is a rule document the service rejected.
type LoadError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// ListOptions filters ListCorrelations.
type ListOptions struct {
	ScanID string
	RuleID string
	Limit  int
	Offset int
}

type CorrelationList struct {
	Correlations []Correlation `json:"correlations"`
	Total        int           `json:"total"`
	Limit        int           `json:"limit"`
	Offset       int           `json:"offset"`
}

func NewCorrelationClient(baseURL string) *CorrelationClient {
	return &CorrelationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

func (c *CorrelationClient) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.client.Do(req)
}

// decode reads a JSON body into dst when the status is one of ok, and turns
// {"error": "..."} bodies into errors otherwise.
func decode(resp *http.Response, dst interface{}, ok ...int) error {
	defer resp.Body.Close()

	for _, code := range ok {
		if resp.StatusCode == code {
			if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	var errResp struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(bodyBytes))
	if err := json.Unmarshal(bodyBytes, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return fmt.Errorf("request failed (%d): %s", resp.StatusCode, msg)
}

// Run starts a correlation run and waits for its summary. A run that hit the
// service timeout returns the partial summary together with an error.
func (c *CorrelationClient) Run(ctx context.Context, scanIDs, ruleIDs []string) (*RunSummary, error) {
	payload := map[string]interface{}{"scan_ids": scanIDs}
	if len(ruleIDs) > 0 {
		payload["rule_ids"] = ruleIDs
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/correlations/run", payload)
	if err != nil {
		return nil, err
	}

	var summary RunSummary
	if err := decode(resp, &summary, http.StatusOK, http.StatusGatewayTimeout); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusGatewayTimeout {
		return &summary, fmt.Errorf("run did not finish: %s", summary.Error)
	}
	return &summary, nil
}

func (c *CorrelationClient) ListCorrelations(ctx context.Context, opts ListOptions) (*CorrelationList, error) {
	q := url.Values{}
	if opts.ScanID != "" {
		q.Set("scan_id", opts.ScanID)
	}
	if opts.RuleID != "" {
		q.Set("rule_id", opts.RuleID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/v1/correlations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var list CorrelationList
	if err := decode(resp, &list, http.StatusOK); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetCorrelation fetches one correlation; enrich asks for its events with
// provenance attached.
func (c *CorrelationClient) GetCorrelation(ctx context.Context, id string, enrich bool) (*Correlation, error) {
	path := "/api/v1/correlations/" + url.PathEscape(id)
	if enrich {
		path += "?enrich=true"
	}
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var corr Correlation
	if err := decode(resp, &corr, http.StatusOK); err != nil {
		return nil, err
	}
	return &corr, nil
}

func (c *CorrelationClient) ListRules(ctx context.Context) ([]Rule, []LoadError, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/rules", nil)
	if err != nil {
		return nil, nil, err
	}
	var body struct {
		Rules  []Rule      `json:"rules"`
		Errors []LoadError `json:"errors"`
	}
	if err := decode(resp, &body, http.StatusOK); err != nil {
		return nil, nil, err
	}
	return body.Rules, body.Errors, nil
}

func (c *CorrelationClient) ReloadRules(ctx context.Context) (int, []LoadError, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/rules/reload", nil)
	if err != nil {
		return 0, nil, err
	}
	var body struct {
		Loaded int         `json:"loaded"`
		Errors []LoadError `json:"errors"`
	}
	if err := decode(resp, &body, http.StatusOK); err != nil {
		return 0, nil, err
	}
	return body.Loaded, body.Errors, nil
}
