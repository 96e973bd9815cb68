package types

import (
	"time"

	"github.com/google/uuid"
)

// Level represents the severity level of a logged error
type Level string

const (
	LevelCritical Level = "critical"
	LevelWarning  Level = "warning"
	LevelInfo     Level = "info"
	LevelDebug    Level = "debug"
)

// Category classifies the subsystem an error originated from
type Category string

const (
	CategoryEmailDelivery Category = "email_delivery"
	CategorySMSDelivery   Category = "sms_delivery"
	CategoryPushDelivery  Category = "push_delivery"
	CategoryWebhook       Category = "webhook"
	CategoryDatabase      Category = "database"
	CategoryProvider      Category = "provider"
	CategoryInternal      Category = "internal"
)

// ErrorContext carries structured context captured with an error
type ErrorContext struct {
	Operation     string            `json:"operation,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	MessageID     string            `json:"message_id,omitempty"`
	Recipient     string            `json:"recipient,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// ErrorLogEntry is one classified, deduplicated error record
type ErrorLogEntry struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	Timestamp       time.Time    `json:"timestamp" db:"timestamp"`
	Level           Level        `json:"level" db:"level"`
	Category        Category     `json:"category" db:"category"`
	Source          string       `json:"source" db:"source"`
	Message         string       `json:"message" db:"message"`
	ErrorCode       string       `json:"error_code,omitempty" db:"error_code"`
	StackTrace      string       `json:"stack_trace,omitempty" db:"stack_trace"`
	Context         ErrorContext `json:"context" db:"context"`
	Resolved        bool         `json:"resolved" db:"resolved"`
	ResolutionNote  string       `json:"resolution_note,omitempty" db:"resolution_note"`
	FirstOccurrence time.Time    `json:"first_occurrence" db:"first_occurrence"`
	LastOccurrence  time.Time    `json:"last_occurrence" db:"last_occurrence"`
	OccurrenceCount int          `json:"occurrence_count" db:"occurrence_count"`
	RelatedErrorIDs []uuid.UUID  `json:"related_error_ids,omitempty" db:"-"`
}

// Signature returns the dedup key for an entry. Entries sharing a signature
// within the process lifetime increment the first stored entry instead of
// creating duplicates.
func (e *ErrorLogEntry) Signature() string {
	return string(e.Level) + "|" + string(e.Category) + "|" + e.Source + "|" + e.Message
}

// ErrorFilter narrows error queries
type ErrorFilter struct {
	Level    Level     `json:"level,omitempty"`
	Category Category  `json:"category,omitempty"`
	Source   string    `json:"source,omitempty"`
	Resolved *bool     `json:"resolved,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Until    time.Time `json:"until,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// ErrorSummary aggregates errors over a window
type ErrorSummary struct {
	WindowHours int              `json:"window_hours"`
	Total       int              `json:"total"`
	ByLevel     map[Level]int    `json:"by_level"`
	ByCategory  map[Category]int `json:"by_category"`
	BySource    map[string]int   `json:"by_source"`
	Unresolved  int              `json:"unresolved"`
}

// ErrorMetrics reports rate and trend aggregates over a window
type ErrorMetrics struct {
	WindowHours     int     `json:"window_hours"`
	Total           int     `json:"total"`
	CriticalCount   int     `json:"critical_count"`
	ErrorsPerMinute float64 `json:"errors_per_minute"`
	TrendRising     bool    `json:"trend_rising"`
}

// ConditionType identifies how an alert condition is evaluated
type ConditionType string

const (
	ConditionThreshold ConditionType = "threshold"
	ConditionPattern   ConditionType = "pattern"
	ConditionCount     ConditionType = "count"
)

// AlertCondition is one predicate of an alert rule. All conditions on a rule
// must match (logical AND) for the rule to fire.
type AlertCondition struct {
	Type              ConditionType `json:"type"`
	Level             Level         `json:"level,omitempty"`
	Category          Category      `json:"category,omitempty"`
	Source            string        `json:"source,omitempty"`
	Pattern           string        `json:"pattern,omitempty"`
	MetricName        string        `json:"metric_name,omitempty"`
	Operator          string        `json:"operator,omitempty"` // >, <, >=, <=, ==
	Threshold         float64       `json:"threshold,omitempty"`
	TimeWindowMinutes int           `json:"time_window_minutes,omitempty"`
}

// ActionType identifies a notification transport kind
type ActionType string

const (
	ActionConsole ActionType = "console"
	ActionWebhook ActionType = "webhook"
	ActionEmail   ActionType = "email"
	ActionChat    ActionType = "chat"
)

// AlertAction binds a transport kind to its validated configuration
type AlertAction struct {
	Type    ActionType     `json:"type"`
	Enabled bool           `json:"enabled"`
	Webhook *WebhookConfig `json:"webhook,omitempty"`
	Email   *EmailConfig   `json:"email,omitempty"`
	Chat    *ChatConfig    `json:"chat,omitempty"`
}

// WebhookConfig configures a webhook notification action
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// EmailConfig configures an email notification action
type EmailConfig struct {
	SMTPHost string   `json:"smtp_host"`
	SMTPPort int      `json:"smtp_port"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

// ChatConfig configures a chat (Slack-compatible webhook) notification action
type ChatConfig struct {
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel,omitempty"`
	Username   string `json:"username,omitempty"`
}

// AlertRule describes when and how to raise an alert
type AlertRule struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	Name            string           `json:"name" db:"name"`
	Enabled         bool             `json:"enabled" db:"enabled"`
	Severity        Level            `json:"severity" db:"severity"`
	Conditions      []AlertCondition `json:"conditions" db:"-"`
	Actions         []AlertAction    `json:"actions" db:"-"`
	ThrottleMinutes int              `json:"throttle_minutes" db:"throttle_minutes"`
	LastTriggered   time.Time        `json:"last_triggered" db:"last_triggered"`
	TriggerCount    int              `json:"trigger_count" db:"trigger_count"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// AlertStatus is the lifecycle state of a fired alert
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertEscalated    AlertStatus = "escalated"
)

// ActionResult records the outcome of one executed notification action
type ActionResult struct {
	Type       ActionType    `json:"type"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// AlertInstance is one concrete firing of an alert rule
type AlertInstance struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	RuleID          uuid.UUID      `json:"rule_id" db:"rule_id"`
	RuleName        string         `json:"rule_name" db:"rule_name"`
	TriggeredAt     time.Time      `json:"triggered_at" db:"triggered_at"`
	Status          AlertStatus    `json:"status" db:"status"`
	AcknowledgedBy  string         `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt  *time.Time     `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	EscalationLevel int            `json:"escalation_level" db:"escalation_level"`
	TriggeringError uuid.UUID      `json:"triggering_error" db:"triggering_error"`
	ExecutedActions []ActionResult `json:"executed_actions" db:"-"`
}

// RetryType identifies a retry delay strategy
type RetryType string

const (
	RetryImmediate   RetryType = "immediate"
	RetryExponential RetryType = "exponential_backoff"
	RetryLinear      RetryType = "linear_backoff"
	RetryFibonacci   RetryType = "fibonacci"
	RetryCustom      RetryType = "custom"
)

// RetryStrategy configures the retry phase of a recovery plan
type RetryStrategy struct {
	Type              RetryType     `json:"type"`
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	Jitter            bool          `json:"jitter"`
	// CustomDelay supplies delays for RetryCustom; attempt is 1-based.
	CustomDelay func(attempt int) time.Duration `json:"-"`
}

// FallbackType identifies a fallback strategy kind
type FallbackType string

const (
	FallbackAlternateProvider  FallbackType = "alternate_provider"
	FallbackCachedResponse     FallbackType = "cached_response"
	FallbackDegradedMode       FallbackType = "degraded_mode"
	FallbackQueueForLater      FallbackType = "queue_for_later"
	FallbackManualIntervention FallbackType = "manual_intervention"
)

// FallbackStrategy is one ranked fallback option of a recovery plan.
// Lower priority values are tried first.
type FallbackStrategy struct {
	Type     FallbackType  `json:"type"`
	Enabled  bool          `json:"enabled"`
	Priority int           `json:"priority"`
	Timeout  time.Duration `json:"timeout"`
}

// RecoveryPlan is the policy associated with a class of error
type RecoveryPlan struct {
	ID                  uuid.UUID          `json:"id"`
	Name                string             `json:"name"`
	SignaturePattern    string             `json:"signature_pattern"` // exact signature or regex against message
	IsRegex             bool               `json:"is_regex"`
	Retry               RetryStrategy      `json:"retry"`
	Fallbacks           []FallbackStrategy `json:"fallbacks"`
	EscalationThreshold int                `json:"escalation_threshold"`
	EstimatedRecovery   time.Duration      `json:"estimated_recovery"`
	SuccessRate         float64            `json:"success_rate"`
	// Idempotent declares that the recovery action is safe to invoke more than
	// once. Pattern-detector auto-recovery only fires for idempotent plans.
	Idempotent bool `json:"idempotent"`
}

// ExecutionStatus is the lifecycle state of a recovery execution
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionSucceeded  ExecutionStatus = "succeeded"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionCancelled  ExecutionStatus = "cancelled"
)

// RetryAttempt records a single retry or fallback attempt
type RetryAttempt struct {
	Timestamp time.Time     `json:"timestamp"`
	Strategy  string        `json:"strategy"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// RecoveryExecution tracks one run of a recovery plan against an error
type RecoveryExecution struct {
	ID                uuid.UUID       `json:"id"`
	ErrorID           uuid.UUID       `json:"error_id"`
	PlanID            uuid.UUID       `json:"plan_id"`
	Status            ExecutionStatus `json:"status"`
	Attempts          int             `json:"attempts"`
	RetryHistory      []RetryAttempt  `json:"retry_history"`
	FallbacksExecuted []FallbackType  `json:"fallbacks_executed"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	FinalError        string          `json:"final_error,omitempty"`
}

// ProviderRateLimit configures the optional token bucket of a fallback provider
type ProviderRateLimit struct {
	Capacity   int     `json:"capacity"`
	RefillRate float64 `json:"refill_rate"` // tokens per second
}

// FallbackProvider is a ranked alternate provider for a capability
type FallbackProvider struct {
	ID               string             `json:"id"`
	Capability       string             `json:"capability"`
	Priority         int                `json:"priority"`
	Enabled          bool               `json:"enabled"`
	Healthy          bool               `json:"healthy"`
	FailureCount     int                `json:"failure_count"`
	FailureThreshold int                `json:"failure_threshold"`
	RateLimit        *ProviderRateLimit `json:"rate_limit,omitempty"`
	LastProbe        time.Time          `json:"last_probe"`
}

// DegradedLevel orders degraded-mode severity
type DegradedLevel string

const (
	DegradedMinimal   DegradedLevel = "minimal"
	DegradedReduced   DegradedLevel = "reduced"
	DegradedEmergency DegradedLevel = "emergency"
)

// DegradedModeConfig is the single process-wide degraded-mode state
type DegradedModeConfig struct {
	Level           DegradedLevel   `json:"level"`
	Reason          string          `json:"reason"`
	Features        map[string]bool `json:"features"`
	MaxActionsPerHr int             `json:"max_actions_per_hour"`
	MaxFanOut       int             `json:"max_fan_out"`
	CacheStrategy   string          `json:"cache_strategy"`
	EnteredAt       time.Time       `json:"entered_at"`
}
