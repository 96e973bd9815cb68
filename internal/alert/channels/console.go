// Package channels provides the built-in notification transports for the
// alert engine: console, webhook, email, and chat.
package channels

import (
	"context"

	"github.com/relayops/sentinel/pkg/logging"
	"github.com/relayops/sentinel/pkg/types"
)

// ConsoleTransport writes alert notifications to the structured log
type ConsoleTransport struct {
	logger *logging.Logger
}

// NewConsoleTransport creates a console transport
func NewConsoleTransport() *ConsoleTransport {
	return &ConsoleTransport{logger: logging.GetLogger()}
}

// Type returns the transport kind
func (t *ConsoleTransport) Type() types.ActionType {
	return types.ActionConsole
}

// Send logs the alert at error level
func (t *ConsoleTransport) Send(ctx context.Context, instance *types.AlertInstance, entry *types.ErrorLogEntry) error {
	fields := logging.Fields{
		"alert_id":     instance.ID.String(),
		"rule":         instance.RuleName,
		"triggered_at": instance.TriggeredAt,
	}
	if entry != nil {
		fields["error_id"] = entry.ID.String()
		fields["level"] = string(entry.Level)
		fields["category"] = string(entry.Category)
		fields["source"] = entry.Source
		fields["message"] = entry.Message
		fields["occurrences"] = entry.OccurrenceCount
	}
	t.logger.WithFields(fields).Error("ALERT: " + instance.RuleName)
	return nil
}
