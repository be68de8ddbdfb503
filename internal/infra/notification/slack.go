package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
)

// SlackClient posts alerts to a Slack incoming webhook.
type SlackClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackClient creates a Slack client.
func NewSlackClient(webhookURL string) (*SlackClient, error) {
	if webhookURL == "" {
		return nil, errors.New("slack webhook URL is required")
	}
	return &SlackClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Provider returns the provider name.
func (c *SlackClient) Provider() string {
	return string(ProviderSlack)
}

type slackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

// Send posts msg to Slack.
func (c *SlackClient) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(buildSlackMessage(msg))
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}
	if err := postJSON(ctx, c.httpClient, c.webhookURL, payload, nil); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

func buildSlackMessage(msg Message) slackMessage {
	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  fmt.Sprintf("%s %s", severityEmoji(msg.Severity), msg.Title),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: msg.Body},
		},
	}

	if len(msg.Fields) > 0 {
		// Slack renders fields in the order given; keep it stable.
		keys := slices.Sorted(maps.Keys(msg.Fields))
		fields := make([]slackText, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, slackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("*%s:*\n%s", k, msg.Fields[k]),
			})
		}
		blocks = append(blocks, slackBlock{Type: "section", Fields: fields})
	}

	blocks = append(blocks, slackBlock{
		Type: "context",
		Elements: []slackText{{
			Type: "mrkdwn",
			Text: fmt.Sprintf("tenant %s | alert %s", msg.TenantID, msg.AlertID),
		}},
	})

	return slackMessage{
		Text: msg.Title,
		Attachments: []slackAttachment{{
			Color:  severityColor(msg.Severity),
			Blocks: blocks,
		}},
	}
}
