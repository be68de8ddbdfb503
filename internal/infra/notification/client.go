// Package notification forwards security alerts to chat and webhook endpoints.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Message is a provider-neutral alert notification.
type Message struct {
	Title     string
	Body      string
	Severity  shared.Severity
	TenantID  string
	AlertID   string
	Fields    map[string]string
	Timestamp time.Time
}

// Client sends messages to one external channel.
type Client interface {
	Send(ctx context.Context, msg Message) error
	Provider() string
}

// Provider represents a notification provider.
type Provider string

const (
	ProviderSlack   Provider = "slack"
	ProviderWebhook Provider = "webhook"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseBody = 1 << 20
)

// NewClient creates the client selected by cfg.Provider.
func NewClient(cfg *config.AlertForwardConfig) (Client, error) {
	switch Provider(cfg.Provider) {
	case ProviderSlack:
		return NewSlackClient(cfg.WebhookURL)
	case ProviderWebhook:
		return NewWebhookClient(cfg.WebhookURL, cfg.Secret)
	default:
		return nil, fmt.Errorf("unsupported notification provider: %s", cfg.Provider)
	}
}

// postJSON posts body and treats any non-2xx answer as an error.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func severityColor(s shared.Severity) string {
	switch s {
	case shared.SeverityCritical:
		return "#dc2626"
	case shared.SeverityHigh:
		return "#ea580c"
	case shared.SeverityMedium:
		return "#ca8a04"
	case shared.SeverityLow:
		return "#2563eb"
	default:
		return "#6b7280"
	}
}

func severityEmoji(s shared.Severity) string {
	switch s {
	case shared.SeverityCritical:
		return "\U0001F6A8"
	case shared.SeverityHigh:
		return "\U000026A0"
	case shared.SeverityMedium:
		return "\U0001F7E1"
	default:
		return "\U0001F535"
	}
}
