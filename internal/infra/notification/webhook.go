package notification

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Secmon-Signature"

// WebhookClient posts alerts as JSON to an arbitrary endpoint.
type WebhookClient struct {
	webhookURL string
	secret     []byte
	httpClient *http.Client
}

// NewWebhookClient creates a generic webhook client. secret may be empty.
func NewWebhookClient(webhookURL, secret string) (*WebhookClient, error) {
	if webhookURL == "" {
		return nil, errors.New("webhook URL is required")
	}
	return &WebhookClient{
		webhookURL: webhookURL,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Provider returns the provider name.
func (c *WebhookClient) Provider() string {
	return string(ProviderWebhook)
}

// WebhookPayload is the JSON body sent to the webhook.
type WebhookPayload struct {
	EventType string            `json:"event_type"`
	Timestamp string            `json:"timestamp"`
	TenantID  string            `json:"tenant_id"`
	AlertID   string            `json:"alert_id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Severity  string            `json:"severity"`
	Color     string            `json:"color"`
	Fields    map[string]string `json:"fields,omitempty"`
	Source    string            `json:"source"`
}

// Send posts msg to the webhook.
func (c *WebhookClient) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(WebhookPayload{
		EventType: "security-alert",
		Timestamp: msg.Timestamp.UTC().Format(time.RFC3339),
		TenantID:  msg.TenantID,
		AlertID:   msg.AlertID,
		Title:     msg.Title,
		Body:      msg.Body,
		Severity:  msg.Severity.String(),
		Color:     severityColor(msg.Severity),
		Fields:    msg.Fields,
		Source:    "secmon",
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	headers := map[string]string{"User-Agent": "secmon-alert-forwarder/1.0"}
	if len(c.secret) > 0 {
		headers[SignatureHeader] = "sha256=" + Sign(c.secret, body)
	}

	if err := postJSON(ctx, c.httpClient, c.webhookURL, body, headers); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
