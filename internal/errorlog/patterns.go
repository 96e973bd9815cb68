package errorlog

import (
	"regexp"

	"github.com/relayops/sentinel/pkg/types"
)

// PatternDetector matches known failure shapes against error messages.
// Detectors marked AutoResolve hand the entry to the recovery orchestrator.
type PatternDetector struct {
	Name        string
	Pattern     *regexp.Regexp
	AutoResolve bool
}

// Matches reports whether the detector applies to an entry
func (d *PatternDetector) Matches(entry *types.ErrorLogEntry) bool {
	if d.Pattern == nil {
		return false
	}
	return d.Pattern.MatchString(entry.Message)
}

// DefaultDetectors covers the transient failure shapes of the outbound
// delivery path. Auto-resolve is reserved for failures that are safe to
// retry; whether the matched plan actually runs is still gated on the plan
// declaring itself idempotent.
func DefaultDetectors() []PatternDetector {
	return []PatternDetector{
		{
			Name:        "connection_refused",
			Pattern:     regexp.MustCompile(`(?i)connection (refused|reset)`),
			AutoResolve: true,
		},
		{
			Name:        "timeout",
			Pattern:     regexp.MustCompile(`(?i)(timed? ?out|deadline exceeded)`),
			AutoResolve: true,
		},
		{
			Name:        "rate_limited",
			Pattern:     regexp.MustCompile(`(?i)(rate limit|too many requests|429)`),
			AutoResolve: true,
		},
		{
			Name:        "provider_unavailable",
			Pattern:     regexp.MustCompile(`(?i)(service unavailable|502|503)`),
			AutoResolve: true,
		},
		{
			Name:        "auth_failure",
			Pattern:     regexp.MustCompile(`(?i)(invalid (api )?key|unauthorized|401|403)`),
			AutoResolve: false,
		},
		{
			Name:        "invalid_recipient",
			Pattern:     regexp.MustCompile(`(?i)(invalid (recipient|address)|bounce)`),
			AutoResolve: false,
		},
	}
}
