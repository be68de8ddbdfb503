package cmd

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const requestTimeout = 30 * time.Second

// Client calls the secmon API on behalf of one tenant.
type Client struct {
	baseURL  string
	tenantID string
	http     *http.Client
	trace    io.Writer // request/response lines for --verbose, or nil
}

func NewClient(baseURL, tenantID string, trace io.Writer) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tenantID: tenantID,
		http:     &http.Client{Timeout: requestTimeout},
		trace:    trace,
	}
}

func (c *Client) tracef(format string, args ...any) {
	if c.trace != nil {
		fmt.Fprintf(c.trace, format, args...)
	}
}

// Do sends body as JSON and returns the raw response. Statuses of 400 and
// above come back as *APIError together with the body and status.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tenantID != "" {
		req.Header.Set("X-Tenant-ID", c.tenantID)
	}

	c.tracef("> %s %s\n", method, req.URL)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	c.tracef("< %s\n", resp.Status)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return data, resp.StatusCode, parseAPIError(resp.StatusCode, data)
	}
	return data, resp.StatusCode, nil
}

func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	data, _, err := c.Do(ctx, http.MethodGet, path, nil)
	return data, err
}

func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	data, _, err := c.Do(ctx, http.MethodPost, path, body)
	return data, err
}

// APIError is a non-2xx answer. Code and Message come from the server's
// error body when it has one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string { return e.Message }

// statusHints replace an empty server message for common statuses.
var statusHints = map[int]string{
	http.StatusBadRequest:      "bad request: check the tenant id",
	http.StatusNotFound:        "resource not found",
	http.StatusTooManyRequests: "rate limited: try again later",
}

func parseAPIError(status int, body []byte) error {
	e := &APIError{StatusCode: status}
	var parsed struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		e.Code, e.Message = parsed.Code, parsed.Message
	}
	if e.Message == "" {
		e.Message = cmp.Or(statusHints[status], fmt.Sprintf("API error: %d %s", status, http.StatusText(status)))
	}
	return e
}

// Response types matching the server handler structs.

type StartScanResponse struct {
	ScanID    string `json:"scan_id" yaml:"scan_id"`
	Kind      string `json:"kind" yaml:"kind"`
	State     string `json:"state" yaml:"state"`
	Coalesced bool   `json:"coalesced" yaml:"coalesced"`
}

type ScanResult struct {
	AssetsDiscovered int `json:"assets_discovered" yaml:"assets_discovered"`
	AssetsCreated    int `json:"assets_created" yaml:"assets_created"`
	AssetsScanned    int `json:"assets_scanned" yaml:"assets_scanned"`
	Findings         int `json:"findings" yaml:"findings"`
	Vulnerabilities  int `json:"vulnerabilities" yaml:"vulnerabilities"`
	Alerts           int `json:"alerts" yaml:"alerts"`
	Failed           int `json:"failed" yaml:"failed"`
}

type ScanResponse struct {
	ID         string      `json:"id" yaml:"id"`
	Kind       string      `json:"kind" yaml:"kind"`
	State      string      `json:"state" yaml:"state"`
	CreatedAt  string      `json:"created_at" yaml:"created_at"`
	StartedAt  *string     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt *string     `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Duration   string      `json:"duration,omitempty" yaml:"duration,omitempty"`
	Result     *ScanResult `json:"result,omitempty" yaml:"result,omitempty"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// Terminal reports whether the scan has completed or failed.
func (s ScanResponse) Terminal() bool {
	return s.State == "completed" || s.State == "failed"
}

type ScanListResponse struct {
	Data  []ScanResponse `json:"data" yaml:"data"`
	Total int            `json:"total" yaml:"total"`
}

type ScoreResponse struct {
	TenantID          string `json:"tenant_id" yaml:"tenant_id"`
	Score             int    `json:"score" yaml:"score"`
	TotalAssets       int64  `json:"total_assets" yaml:"total_assets"`
	VulnerableAssets  int64  `json:"vulnerable_assets" yaml:"vulnerable_assets"`
	CriticalOpenVulns int64  `json:"critical_open_vulns" yaml:"critical_open_vulns"`
	ActiveAlerts      int64  `json:"active_alerts" yaml:"active_alerts"`
	MFAEnabledUsers   int64  `json:"mfa_enabled_users" yaml:"mfa_enabled_users"`
	TotalUsers        int64  `json:"total_users" yaml:"total_users"`
	Stale             bool   `json:"stale" yaml:"stale"`
	Timestamp         string `json:"timestamp" yaml:"timestamp"`
}

type CheckResult struct {
	Status   string `json:"status" yaml:"status"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

type ReadyResponse struct {
	Status    string                 `json:"status" yaml:"status"`
	Timestamp string                 `json:"timestamp" yaml:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty" yaml:"checks,omitempty"`
}
