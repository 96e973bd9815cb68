package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/types"
)

// chatMessage is a Slack-compatible webhook payload
type chatMessage struct {
	Channel     string           `json:"channel,omitempty"`
	Username    string           `json:"username,omitempty"`
	Text        string           `json:"text"`
	Attachments []chatAttachment `json:"attachments,omitempty"`
}

type chatAttachment struct {
	Color  string      `json:"color"`
	Title  string      `json:"title"`
	Text   string      `json:"text"`
	Fields []chatField `json:"fields,omitempty"`
	Ts     int64       `json:"ts"`
}

type chatField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// ChatTransport posts alert notifications to a Slack-compatible webhook
type ChatTransport struct {
	config types.ChatConfig
	client *http.Client
}

// NewChatTransport creates a chat transport
func NewChatTransport(config types.ChatConfig) (*ChatTransport, error) {
	if config.WebhookURL == "" {
		return nil, errors.NewConfigurationError("chat transport requires a webhook url")
	}
	return &ChatTransport{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Type returns the transport kind
func (t *ChatTransport) Type() types.ActionType {
	return types.ActionChat
}

// Send posts the alert with a severity-colored attachment
func (t *ChatTransport) Send(ctx context.Context, instance *types.AlertInstance, entry *types.ErrorLogEntry) error {
	attachment := chatAttachment{
		Color: "#439FE0",
		Title: instance.RuleName,
		Ts:    instance.TriggeredAt.Unix(),
	}
	if entry != nil {
		attachment.Color = severityColor(entry.Level)
		attachment.Text = entry.Message
		attachment.Fields = []chatField{
			{Title: "Level", Value: string(entry.Level), Short: true},
			{Title: "Category", Value: string(entry.Category), Short: true},
			{Title: "Source", Value: entry.Source, Short: true},
			{Title: "Occurrences", Value: fmt.Sprintf("%d", entry.OccurrenceCount), Short: true},
		}
	}

	msg := chatMessage{
		Channel:     t.config.Channel,
		Username:    t.config.Username,
		Text:        fmt.Sprintf(":rotating_light: Alert fired: %s", instance.RuleName),
		Attachments: []chatAttachment{attachment},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return errors.NewInternalError("failed to encode chat payload").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.NewInternalError("failed to build chat request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.NewExternalError("chat", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewExternalError("chat", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

func severityColor(level types.Level) string {
	switch level {
	case types.LevelCritical:
		return "#E01E5A"
	case types.LevelWarning:
		return "#ECB22E"
	default:
		return "#439FE0"
	}
}
