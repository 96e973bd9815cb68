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

// webhookPayload is the JSON body posted to webhook endpoints
type webhookPayload struct {
	AlertID     string               `json:"alert_id"`
	Rule        string               `json:"rule"`
	TriggeredAt time.Time            `json:"triggered_at"`
	Status      types.AlertStatus    `json:"status"`
	Error       *types.ErrorLogEntry `json:"error,omitempty"`
}

// WebhookTransport posts alert notifications to a configured HTTP endpoint
type WebhookTransport struct {
	config types.WebhookConfig
	client *http.Client
}

// NewWebhookTransport creates a webhook transport. The configuration must
// carry a URL.
func NewWebhookTransport(config types.WebhookConfig) (*WebhookTransport, error) {
	if config.URL == "" {
		return nil, errors.NewConfigurationError("webhook transport requires a url")
	}
	return &WebhookTransport{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Type returns the transport kind
func (t *WebhookTransport) Type() types.ActionType {
	return types.ActionWebhook
}

// Send posts the alert as JSON. Any non-2xx response is a failure.
func (t *WebhookTransport) Send(ctx context.Context, instance *types.AlertInstance, entry *types.ErrorLogEntry) error {
	payload := webhookPayload{
		AlertID:     instance.ID.String(),
		Rule:        instance.RuleName,
		TriggeredAt: instance.TriggeredAt,
		Status:      instance.Status,
		Error:       entry,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.NewInternalError("failed to encode webhook payload").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return errors.NewInternalError("failed to build webhook request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.NewExternalError("webhook", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.NewExternalError("webhook", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return nil
}
