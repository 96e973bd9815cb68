// Package alert evaluates alert rules against classified errors and periodic
// metrics, and dispatches notifications through pluggable transports. Action
// execution runs off a single ordered queue so a slow transport can never
// block error ingestion.
package alert

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/logging"
	"github.com/relayops/sentinel/pkg/metrics"
	"github.com/relayops/sentinel/pkg/types"
)

// Transport delivers one alert notification. Implementations are
// fire-and-forget sinks; a failure is recorded on the instance and logged,
// never treated as fatal.
type Transport interface {
	Send(ctx context.Context, instance *types.AlertInstance, entry *types.ErrorLogEntry) error
	Type() types.ActionType
}

// TransportFactory builds a transport from a rule action's own configuration,
// so each rule controls where its notifications are delivered.
type TransportFactory func(action types.AlertAction) (Transport, error)

// RuleStore mirrors alert rules to the persistent log store
type RuleStore interface {
	SaveRule(ctx context.Context, rule *types.AlertRule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
}

// Config holds alert engine configuration
type Config struct {
	// QueueSize bounds the action queue; enqueue drops (with a diagnostic)
	// when full rather than blocking evaluation
	QueueSize int
	// ActionTimeout bounds one transport invocation
	ActionTimeout time.Duration
	// ActionRetries is how many times a failed action is retried
	ActionRetries int
}

// DefaultConfig returns default alert engine configuration
func DefaultConfig() Config {
	return Config{
		QueueSize:     1000,
		ActionTimeout: 10 * time.Second,
		ActionRetries: 2,
	}
}

type actionTask struct {
	instanceID uuid.UUID
	action     types.AlertAction
	entry      *types.ErrorLogEntry
}

// Engine is the alert rule engine
type Engine struct {
	config     Config
	store      RuleStore
	transports map[types.ActionType]Transport
	factories  map[types.ActionType]TransportFactory
	metrics    *metrics.Metrics
	logger     *logging.Logger

	mu          sync.RWMutex
	rules       map[uuid.UUID]*types.AlertRule
	instances   map[uuid.UUID]*types.AlertInstance
	ruleMatches map[uuid.UUID][]time.Time // qualifying entry times per rule, for count conditions

	queue  chan actionTask
	stopCh chan struct{}
	doneCh chan struct{}
	now    func() time.Time
}

// NewEngine creates an alert engine. store and m may be nil.
func NewEngine(config Config, store RuleStore, m *metrics.Metrics) *Engine {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.ActionTimeout <= 0 {
		config.ActionTimeout = 10 * time.Second
	}

	return &Engine{
		config:      config,
		store:       store,
		transports:  make(map[types.ActionType]Transport),
		factories:   make(map[types.ActionType]TransportFactory),
		metrics:     m,
		logger:      logging.GetLogger(),
		rules:       make(map[uuid.UUID]*types.AlertRule),
		instances:   make(map[uuid.UUID]*types.AlertInstance),
		ruleMatches: make(map[uuid.UUID][]time.Time),
		queue:       make(chan actionTask, config.QueueSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		now:         time.Now,
	}
}

// RegisterTransport adds a notification transport shared by every action of
// its kind
func (e *Engine) RegisterTransport(t Transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transports[t.Type()] = t
	e.logger.Info("Notification transport registered", "transport", string(t.Type()))
}

// RegisterTransportFactory adds a per-action transport builder. A factory
// takes precedence over a static transport of the same kind; the action's own
// validated config decides the destination.
func (e *Engine) RegisterTransportFactory(kind types.ActionType, factory TransportFactory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factories[kind] = factory
	e.logger.Info("Notification transport factory registered", "transport", string(kind))
}

// CreateRule validates and adds a rule
func (e *Engine) CreateRule(ctx context.Context, rule *types.AlertRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	rule.CreatedAt = e.now()
	rule.UpdatedAt = rule.CreatedAt

	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveRule(ctx, rule); err != nil {
			return errors.NewInternalError("failed to persist alert rule").WithCause(err)
		}
	}
	return nil
}

// SeedRule loads a persisted rule into memory without writing it back to the
// store. Used at startup to restore rules.
func (e *Engine) SeedRule(rule *types.AlertRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[rule.ID] = rule
	return nil
}

// UpdateRule validates and replaces a rule
func (e *Engine) UpdateRule(ctx context.Context, rule *types.AlertRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	e.mu.Lock()
	existing, ok := e.rules[rule.ID]
	if !ok {
		e.mu.Unlock()
		return errors.NewNotFoundError("alert rule")
	}
	rule.CreatedAt = existing.CreatedAt
	rule.TriggerCount = existing.TriggerCount
	rule.LastTriggered = existing.LastTriggered
	rule.UpdatedAt = e.now()
	e.rules[rule.ID] = rule
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveRule(ctx, rule); err != nil {
			return errors.NewInternalError("failed to persist alert rule").WithCause(err)
		}
	}
	return nil
}

// DeleteRule removes a rule
func (e *Engine) DeleteRule(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	_, ok := e.rules[id]
	delete(e.rules, id)
	delete(e.ruleMatches, id)
	e.mu.Unlock()

	if !ok {
		return errors.NewNotFoundError("alert rule")
	}
	if e.store != nil {
		if err := e.store.DeleteRule(ctx, id); err != nil {
			return errors.NewInternalError("failed to delete alert rule").WithCause(err)
		}
	}
	return nil
}

// GetRule returns a rule by id
func (e *Engine) GetRule(id uuid.UUID) (*types.AlertRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[id]
	if !ok {
		return nil, false
	}
	copied := *rule
	return &copied, true
}

// ListRules returns all rules
func (e *Engine) ListRules() []*types.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*types.AlertRule, 0, len(e.rules))
	for _, rule := range e.rules {
		copied := *rule
		rules = append(rules, &copied)
	}
	return rules
}

// EvaluateEntry checks every enabled, unthrottled rule against one entry and
// fires matching rules. Evaluation itself is synchronous in-memory work;
// actions are enqueued for the worker loop.
func (e *Engine) EvaluateEntry(ctx context.Context, entry *types.ErrorLogEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		if !e.ruleMatchesEntryLocked(rule, entry, now) {
			continue
		}
		if e.throttledLocked(rule, now) {
			if e.metrics != nil {
				e.metrics.AlertsThrottled.WithLabelValues(rule.Name).Inc()
			}
			continue
		}
		e.fireLocked(rule, entry, now)
	}
}

// EvaluateMetrics checks threshold-type conditions against periodic
// aggregate metrics. This path exists because rate and count-over-window
// conditions cannot be decided from one entry alone.
func (e *Engine) EvaluateMetrics(ctx context.Context, m *types.ErrorMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		matched := false
		for _, cond := range rule.Conditions {
			if cond.Type != types.ConditionThreshold {
				matched = false
				break
			}
			if !thresholdMet(cond, m) {
				matched = false
				break
			}
			matched = true
		}
		if !matched {
			continue
		}
		if e.throttledLocked(rule, now) {
			if e.metrics != nil {
				e.metrics.AlertsThrottled.WithLabelValues(rule.Name).Inc()
			}
			continue
		}
		e.fireLocked(rule, nil, now)
	}
}

// TestRule evaluates a rule's conditions against a sample entry without
// firing actions or touching throttle state.
func (e *Engine) TestRule(id uuid.UUID, sample *types.ErrorLogEntry) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[id]
	if !ok {
		return false, errors.NewNotFoundError("alert rule")
	}
	for _, cond := range rule.Conditions {
		if cond.Type == types.ConditionThreshold {
			continue // metric conditions are not decidable from a sample entry
		}
		if !conditionMatchesEntry(cond, sample) {
			return false, nil
		}
	}
	return true, nil
}

// GetActiveAlerts returns instances that are not resolved
func (e *Engine) GetActiveAlerts() []*types.AlertInstance {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var active []*types.AlertInstance
	for _, inst := range e.instances {
		if inst.Status == types.AlertResolved {
			continue
		}
		copied := *inst
		copied.ExecutedActions = append([]types.ActionResult(nil), inst.ExecutedActions...)
		active = append(active, &copied)
	}
	return active
}

// GetInstance returns one alert instance
func (e *Engine) GetInstance(id uuid.UUID) (*types.AlertInstance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	inst, ok := e.instances[id]
	if !ok {
		return nil, false
	}
	copied := *inst
	copied.ExecutedActions = append([]types.ActionResult(nil), inst.ExecutedActions...)
	return &copied, true
}

// AcknowledgeAlert marks an active alert acknowledged. It does not cancel
// in-flight action execution.
func (e *Engine) AcknowledgeAlert(id uuid.UUID, who string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[id]
	if !ok {
		return errors.NewNotFoundError("alert instance")
	}
	now := e.now()
	inst.Status = types.AlertAcknowledged
	inst.AcknowledgedBy = who
	inst.AcknowledgedAt = &now
	return nil
}

// ResolveAlert marks an alert resolved
func (e *Engine) ResolveAlert(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[id]
	if !ok {
		return errors.NewNotFoundError("alert instance")
	}
	now := e.now()
	inst.Status = types.AlertResolved
	inst.ResolvedAt = &now
	return nil
}

// EscalateAlert bumps the escalation level. Escalation is a manual,
// administrative action; it is never applied automatically.
func (e *Engine) EscalateAlert(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[id]
	if !ok {
		return errors.NewNotFoundError("alert instance")
	}
	inst.Status = types.AlertEscalated
	inst.EscalationLevel++
	return nil
}

// Run drains the action queue until ctx is cancelled or Stop is called
func (e *Engine) Run(ctx context.Context) {
	defer close(e.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			e.drain(ctx)
			return
		case task := <-e.queue:
			e.execute(ctx, task)
		}
	}
}

// Stop halts the worker after draining queued actions
func (e *Engine) Stop() {
	close(e.stopCh)
	select {
	case <-e.doneCh:
	case <-time.After(5 * time.Second):
	}
}

func (e *Engine) drain(ctx context.Context) {
	for {
		select {
		case task := <-e.queue:
			e.execute(ctx, task)
		default:
			return
		}
	}
}

// fireLocked creates an alert instance and enqueues its enabled actions in
// rule order. Callers must hold the mutex.
func (e *Engine) fireLocked(rule *types.AlertRule, entry *types.ErrorLogEntry, now time.Time) {
	rule.LastTriggered = now
	rule.TriggerCount++

	inst := &types.AlertInstance{
		ID:          uuid.New(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		TriggeredAt: now,
		Status:      types.AlertActive,
	}
	if entry != nil {
		inst.TriggeringError = entry.ID
	}
	e.instances[inst.ID] = inst

	e.logger.Warn("Alert rule fired",
		"rule", rule.Name,
		"severity", string(rule.Severity),
		"instance_id", inst.ID.String(),
	)
	if e.metrics != nil {
		e.metrics.AlertsFired.WithLabelValues(rule.Name, string(rule.Severity)).Inc()
	}

	for _, action := range rule.Actions {
		if !action.Enabled {
			continue
		}
		task := actionTask{instanceID: inst.ID, action: action, entry: entry}
		select {
		case e.queue <- task:
			if e.metrics != nil {
				e.metrics.ActionQueueDepth.Set(float64(len(e.queue)))
			}
		default:
			e.logger.Error("Alert action queue full, dropping action",
				"rule", rule.Name,
				"transport", string(action.Type),
			)
		}
	}
}

// execute runs one action with bounded retries and records the outcome
func (e *Engine) execute(ctx context.Context, task actionTask) {
	e.mu.RLock()
	factory := e.factories[task.action.Type]
	transport, ok := e.transports[task.action.Type]
	inst := e.instances[task.instanceID]
	e.mu.RUnlock()

	if e.metrics != nil {
		e.metrics.ActionQueueDepth.Set(float64(len(e.queue)))
	}
	if inst == nil {
		return
	}
	if factory != nil {
		built, err := factory(task.action)
		if err != nil {
			e.recordResult(task.instanceID, types.ActionResult{
				Type:       task.action.Type,
				Success:    false,
				Error:      err.Error(),
				ExecutedAt: e.now(),
			})
			return
		}
		transport = built
		ok = true
	}
	if !ok {
		e.recordResult(task.instanceID, types.ActionResult{
			Type:       task.action.Type,
			Success:    false,
			Error:      "no transport registered",
			ExecutedAt: e.now(),
		})
		return
	}

	snapshot, _ := e.GetInstance(task.instanceID)

	var lastErr error
	start := e.now()
	for attempt := 0; attempt <= e.config.ActionRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.ActionTimeout)
		lastErr = transport.Send(attemptCtx, snapshot, task.entry)
		cancel()
		if lastErr == nil {
			break
		}
	}
	duration := e.now().Sub(start)

	result := types.ActionResult{
		Type:       task.action.Type,
		Success:    lastErr == nil,
		Duration:   duration,
		ExecutedAt: e.now(),
	}
	outcome := "success"
	if lastErr != nil {
		result.Error = lastErr.Error()
		outcome = "error"
		e.logger.Warn("Alert action failed",
			"transport", string(task.action.Type),
			"instance_id", task.instanceID.String(),
			"error", lastErr.Error(),
		)
	}
	e.recordResult(task.instanceID, result)

	if e.metrics != nil {
		e.metrics.ActionExecutions.WithLabelValues(string(task.action.Type), outcome).Inc()
		e.metrics.ActionDuration.WithLabelValues(string(task.action.Type)).Observe(duration.Seconds())
	}
}

func (e *Engine) recordResult(instanceID uuid.UUID, result types.ActionResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if inst, ok := e.instances[instanceID]; ok {
		inst.ExecutedActions = append(inst.ExecutedActions, result)
	}
}

// ruleMatchesEntryLocked evaluates all conditions (logical AND) for an entry
// and maintains the count-condition window. Callers must hold the mutex.
func (e *Engine) ruleMatchesEntryLocked(rule *types.AlertRule, entry *types.ErrorLogEntry, now time.Time) bool {
	qualifies := true
	countCond := (*types.AlertCondition)(nil)

	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		switch cond.Type {
		case types.ConditionThreshold:
			// Metric conditions are decided on the EvaluateMetrics path.
			return false
		case types.ConditionCount:
			if !conditionMatchesEntry(*cond, entry) {
				qualifies = false
			}
			countCond = cond
		default:
			if !conditionMatchesEntry(*cond, entry) {
				qualifies = false
			}
		}
		if !qualifies {
			return false
		}
	}

	if countCond == nil {
		return true
	}

	// Record the qualifying occurrence, prune the window, then compare.
	window := time.Duration(countCond.TimeWindowMinutes) * time.Minute
	times := append(e.ruleMatches[rule.ID], now)
	pruned := times[:0]
	for _, t := range times {
		if window <= 0 || now.Sub(t) <= window {
			pruned = append(pruned, t)
		}
	}
	e.ruleMatches[rule.ID] = pruned

	if float64(len(pruned)) >= countCond.Threshold {
		return true
	}
	// A deduplicated entry carries its cumulative occurrence count, so a
	// recurring error keeps qualifying after the throttle window expires even
	// when the engine-side window has drained.
	return float64(entry.OccurrenceCount) >= countCond.Threshold
}

func (e *Engine) throttledLocked(rule *types.AlertRule, now time.Time) bool {
	if rule.ThrottleMinutes <= 0 || rule.LastTriggered.IsZero() {
		return false
	}
	return now.Sub(rule.LastTriggered) < time.Duration(rule.ThrottleMinutes)*time.Minute
}

// conditionMatchesEntry checks the entry-addressable fields of a condition.
// A malformed pattern or missing field means "condition not met", never a
// crash.
func conditionMatchesEntry(cond types.AlertCondition, entry *types.ErrorLogEntry) bool {
	if entry == nil {
		return false
	}
	if cond.Level != "" && entry.Level != cond.Level {
		return false
	}
	if cond.Category != "" && entry.Category != cond.Category {
		return false
	}
	if cond.Source != "" && entry.Source != cond.Source {
		return false
	}
	if cond.Pattern != "" {
		re, err := regexp.Compile(cond.Pattern)
		if err != nil {
			return false
		}
		if !re.MatchString(entry.Message) {
			return false
		}
	}
	return true
}

func thresholdMet(cond types.AlertCondition, m *types.ErrorMetrics) bool {
	if m == nil {
		return false
	}
	var value float64
	switch cond.MetricName {
	case "errors_per_minute":
		value = m.ErrorsPerMinute
	case "critical_count":
		value = float64(m.CriticalCount)
	case "total":
		value = float64(m.Total)
	default:
		return false
	}

	switch cond.Operator {
	case ">":
		return value > cond.Threshold
	case ">=":
		return value >= cond.Threshold
	case "<":
		return value < cond.Threshold
	case "<=":
		return value <= cond.Threshold
	case "==":
		return value == cond.Threshold
	default:
		return false
	}
}

// validateRule checks rule shape and per-kind action configuration up front,
// so dispatch never sees an unconfigured action.
func validateRule(rule *types.AlertRule) error {
	if rule == nil {
		return errors.NewValidationError("rule is required")
	}
	if rule.Name == "" {
		return errors.NewValidationError("rule name is required")
	}
	if len(rule.Conditions) == 0 {
		return errors.NewValidationError("rule must have at least one condition")
	}
	if len(rule.Actions) == 0 {
		return errors.NewValidationError("rule must have at least one action")
	}
	hasThreshold := false
	hasEntry := false
	for _, cond := range rule.Conditions {
		if cond.Type == types.ConditionThreshold {
			hasThreshold = true
		} else {
			hasEntry = true
		}
		if cond.Pattern != "" {
			if _, err := regexp.Compile(cond.Pattern); err != nil {
				return errors.NewValidationError("invalid condition pattern: " + cond.Pattern)
			}
		}
	}
	// Threshold conditions are decided against periodic metrics, the rest
	// against single entries; a rule mixing the two could never fire on either
	// path.
	if hasThreshold && hasEntry {
		return errors.NewValidationError("threshold conditions cannot be combined with entry conditions in one rule")
	}
	for _, action := range rule.Actions {
		if err := validateAction(action); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(action types.AlertAction) error {
	switch action.Type {
	case types.ActionConsole:
		return nil
	case types.ActionWebhook:
		if action.Webhook == nil || action.Webhook.URL == "" {
			return errors.NewValidationError("webhook action requires a url")
		}
	case types.ActionEmail:
		if action.Email == nil || action.Email.SMTPHost == "" || action.Email.From == "" || len(action.Email.To) == 0 {
			return errors.NewValidationError("email action requires smtp host, from, and recipients")
		}
	case types.ActionChat:
		if action.Chat == nil || action.Chat.WebhookURL == "" {
			return errors.NewValidationError("chat action requires a webhook url")
		}
	default:
		return errors.NewValidationError("unknown action type: " + string(action.Type))
	}
	return nil
}
