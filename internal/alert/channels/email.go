package channels

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/types"
)

// EmailTransport sends alert notifications over SMTP
type EmailTransport struct {
	config types.EmailConfig
	send   func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailTransport creates an email transport. Host, sender, and at least
// one recipient are required.
func NewEmailTransport(config types.EmailConfig) (*EmailTransport, error) {
	if config.SMTPHost == "" || config.From == "" || len(config.To) == 0 {
		return nil, errors.NewConfigurationError("email transport requires smtp host, from, and recipients")
	}
	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	return &EmailTransport{config: config, send: smtp.SendMail}, nil
}

// Type returns the transport kind
func (t *EmailTransport) Type() types.ActionType {
	return types.ActionEmail
}

// Send delivers the alert as a plain-text email
func (t *EmailTransport) Send(ctx context.Context, instance *types.AlertInstance, entry *types.ErrorLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("[ALERT] %s", instance.RuleName)
	var body strings.Builder
	fmt.Fprintf(&body, "Alert rule %q fired at %s.\r\n", instance.RuleName, instance.TriggeredAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&body, "Alert ID: %s\r\n", instance.ID)
	if entry != nil {
		fmt.Fprintf(&body, "\r\nError: %s\r\n", entry.Message)
		fmt.Fprintf(&body, "Level: %s\r\nCategory: %s\r\nSource: %s\r\n", entry.Level, entry.Category, entry.Source)
		fmt.Fprintf(&body, "Occurrences: %d (first %s)\r\n", entry.OccurrenceCount, entry.FirstOccurrence.Format("2006-01-02 15:04:05 MST"))
		if entry.Context.CorrelationID != "" {
			fmt.Fprintf(&body, "Correlation ID: %s\r\n", entry.Context.CorrelationID)
		}
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		t.config.From, strings.Join(t.config.To, ", "), subject, body.String())

	var auth smtp.Auth
	if t.config.Username != "" {
		auth = smtp.PlainAuth("", t.config.Username, t.config.Password, t.config.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", t.config.SMTPHost, t.config.SMTPPort)

	if err := t.send(addr, auth, t.config.From, t.config.To, []byte(msg)); err != nil {
		return errors.NewExternalError("smtp", err.Error())
	}
	return nil
}
