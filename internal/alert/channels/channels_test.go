package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayops/sentinel/pkg/types"
)

func testInstance() *types.AlertInstance {
	return &types.AlertInstance{
		ID:          uuid.New(),
		RuleID:      uuid.New(),
		RuleName:    "critical email failures",
		TriggeredAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Status:      types.AlertActive,
	}
}

func testEntry() *types.ErrorLogEntry {
	return &types.ErrorLogEntry{
		ID:              uuid.New(),
		Level:           types.LevelCritical,
		Category:        types.CategoryEmailDelivery,
		Source:          "resend_client",
		Message:         "connection refused",
		OccurrenceCount: 3,
		Context:         types.ErrorContext{CorrelationID: "corr-1"},
	}
}

func TestWebhookTransport_Send(t *testing.T) {
	var received webhookPayload
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Token")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, err := NewWebhookTransport(types.WebhookConfig{
		URL:     server.URL,
		Headers: map[string]string{"X-Token": "secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.ActionWebhook, transport.Type())

	inst := testInstance()
	require.NoError(t, transport.Send(context.Background(), inst, testEntry()))

	assert.Equal(t, "secret", gotHeader)
	assert.Equal(t, inst.ID.String(), received.AlertID)
	assert.Equal(t, "critical email failures", received.Rule)
	require.NotNil(t, received.Error)
	assert.Equal(t, "connection refused", received.Error.Message)
}

func TestWebhookTransport_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	transport, err := NewWebhookTransport(types.WebhookConfig{URL: server.URL})
	require.NoError(t, err)

	err = transport.Send(context.Background(), testInstance(), testEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookTransport_RequiresURL(t *testing.T) {
	_, err := NewWebhookTransport(types.WebhookConfig{})
	assert.Error(t, err)
}

func TestEmailTransport_Send(t *testing.T) {
	transport, err := NewEmailTransport(types.EmailConfig{
		SMTPHost: "smtp.example.com",
		From:     "alerts@example.com",
		To:       []string{"oncall@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.ActionEmail, transport.Type())

	var gotAddr, gotFrom, gotMsg string
	var gotTo []string
	transport.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	require.NoError(t, transport.Send(context.Background(), testInstance(), testEntry()))

	assert.Equal(t, "smtp.example.com:587", gotAddr, "port defaults to 587")
	assert.Equal(t, "alerts@example.com", gotFrom)
	assert.Equal(t, []string{"oncall@example.com"}, gotTo)
	assert.True(t, strings.Contains(gotMsg, "Subject: [ALERT] critical email failures"))
	assert.True(t, strings.Contains(gotMsg, "connection refused"))
	assert.True(t, strings.Contains(gotMsg, "Correlation ID: corr-1"))
}

func TestEmailTransport_RequiresConfig(t *testing.T) {
	_, err := NewEmailTransport(types.EmailConfig{SMTPHost: "smtp.example.com"})
	assert.Error(t, err, "missing from and recipients must be rejected")
}

func TestChatTransport_Send(t *testing.T) {
	var received chatMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, err := NewChatTransport(types.ChatConfig{
		WebhookURL: server.URL,
		Channel:    "#alerts",
		Username:   "sentinel",
	})
	require.NoError(t, err)
	assert.Equal(t, types.ActionChat, transport.Type())

	require.NoError(t, transport.Send(context.Background(), testInstance(), testEntry()))

	assert.Equal(t, "#alerts", received.Channel)
	require.Len(t, received.Attachments, 1)
	assert.Equal(t, "#E01E5A", received.Attachments[0].Color, "critical maps to the red attachment color")
	assert.Equal(t, "connection refused", received.Attachments[0].Text)
}

func TestChatTransport_SeverityColors(t *testing.T) {
	assert.Equal(t, "#E01E5A", severityColor(types.LevelCritical))
	assert.Equal(t, "#ECB22E", severityColor(types.LevelWarning))
	assert.Equal(t, "#439FE0", severityColor(types.LevelInfo))
}

func TestConsoleTransport_Send(t *testing.T) {
	transport := NewConsoleTransport()
	assert.Equal(t, types.ActionConsole, transport.Type())
	assert.NoError(t, transport.Send(context.Background(), testInstance(), testEntry()))
	assert.NoError(t, transport.Send(context.Background(), testInstance(), nil))
}
