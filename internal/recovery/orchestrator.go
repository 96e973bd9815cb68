// Package recovery executes recovery plans against classified errors: a
// retry phase driven by the plan's backoff strategy, then ranked fallback
// strategies until one succeeds.
package recovery

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/logging"
	"github.com/relayops/sentinel/pkg/metrics"
	"github.com/relayops/sentinel/pkg/types"
)

// Action is the operation a recovery plan retries
type Action func(ctx context.Context, entry *types.ErrorLogEntry) error

// FallbackExecutor runs one fallback strategy for an entry. Implemented by
// the fallback manager.
type FallbackExecutor interface {
	ExecuteFallback(ctx context.Context, strategy types.FallbackStrategy, entry *types.ErrorLogEntry) error
}

// EntryLookup resolves error ids to entries. Implemented by the error intake
// service.
type EntryLookup interface {
	GetEntry(id uuid.UUID) (*types.ErrorLogEntry, bool)
}

type registeredPlan struct {
	plan    *types.RecoveryPlan
	action  Action
	pattern *regexp.Regexp

	// Rolling success-rate inputs. Cancelled executions count toward neither.
	completed int
	succeeded int
}

type execution struct {
	record    *types.RecoveryExecution
	cancelled bool
	cancelCh  chan struct{}
}

// Orchestrator matches errors to recovery plans and drives their execution
type Orchestrator struct {
	entries   EntryLookup
	fallbacks FallbackExecutor
	metrics   *metrics.Metrics
	logger    *logging.Logger

	mu          sync.Mutex
	plans       map[uuid.UUID]*registeredPlan
	bySignature map[string]uuid.UUID
	defaultPlan uuid.UUID
	executions  map[uuid.UUID]*execution
	inProgress  map[uuid.UUID]uuid.UUID // error id -> execution id

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration, cancelCh <-chan struct{}) error
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithFallbackExecutor wires the fallback manager
func WithFallbackExecutor(f FallbackExecutor) Option {
	return func(o *Orchestrator) { o.fallbacks = f }
}

// WithMetrics wires Prometheus metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates a recovery orchestrator
func NewOrchestrator(entries EntryLookup, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		entries:     entries,
		logger:      logging.GetLogger(),
		plans:       make(map[uuid.UUID]*registeredPlan),
		bySignature: make(map[string]uuid.UUID),
		executions:  make(map[uuid.UUID]*execution),
		inProgress:  make(map[uuid.UUID]uuid.UUID),
		now:         time.Now,
		sleep:       waitInterruptible,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func waitInterruptible(ctx context.Context, d time.Duration, cancelCh <-chan struct{}) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-cancelCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddPlan registers a plan with the action its retry phase invokes. Plans
// with a non-regex signature pattern are indexed for exact matching.
func (o *Orchestrator) AddPlan(plan *types.RecoveryPlan, action Action) error {
	if plan == nil || plan.Name == "" {
		return errors.NewValidationError("plan name is required")
	}
	if action == nil {
		return errors.NewValidationError("plan action is required")
	}
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}

	reg := &registeredPlan{plan: plan, action: action}
	if plan.IsRegex {
		pattern, err := regexp.Compile(plan.SignaturePattern)
		if err != nil {
			return errors.NewValidationError("invalid plan pattern: " + plan.SignaturePattern)
		}
		reg.pattern = pattern
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.plans[plan.ID] = reg
	if !plan.IsRegex && plan.SignaturePattern != "" {
		o.bySignature[plan.SignaturePattern] = plan.ID
	}
	return nil
}

// RemovePlan unregisters a plan
func (o *Orchestrator) RemovePlan(id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	reg, ok := o.plans[id]
	if !ok {
		return errors.NewNotFoundError("recovery plan")
	}
	delete(o.plans, id)
	if !reg.plan.IsRegex {
		delete(o.bySignature, reg.plan.SignaturePattern)
	}
	if o.defaultPlan == id {
		o.defaultPlan = uuid.Nil
	}
	return nil
}

// SetDefaultPlan marks the plan used when nothing else matches
func (o *Orchestrator) SetDefaultPlan(id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.plans[id]; !ok {
		return errors.NewNotFoundError("recovery plan")
	}
	o.defaultPlan = id
	return nil
}

// ListPlans returns all registered plans
func (o *Orchestrator) ListPlans() []*types.RecoveryPlan {
	o.mu.Lock()
	defer o.mu.Unlock()

	plans := make([]*types.RecoveryPlan, 0, len(o.plans))
	for _, reg := range o.plans {
		copied := *reg.plan
		plans = append(plans, &copied)
	}
	return plans
}

// ExecuteRecovery starts recovery for an error. If a recovery is already in
// progress for the same error its execution id is returned instead of
// starting a duplicate. manualAction, when non-nil, replaces the plan's
// registered action for this execution.
func (o *Orchestrator) ExecuteRecovery(ctx context.Context, errorID uuid.UUID, manualAction Action) (uuid.UUID, error) {
	entry, ok := o.entries.GetEntry(errorID)
	if !ok {
		return uuid.Nil, errors.NewNotFoundError("error log entry")
	}
	return o.start(ctx, entry, manualAction, false)
}

// AutoRecover starts recovery for an entry matched by a pattern detector.
// Only plans declared idempotent are eligible; anything else is skipped,
// since an automatic trigger cannot judge whether re-running the action is
// safe.
func (o *Orchestrator) AutoRecover(ctx context.Context, entry *types.ErrorLogEntry) {
	if _, err := o.start(ctx, entry, nil, true); err != nil {
		o.logger.Debug("Auto-recovery skipped",
			"error_id", entry.ID.String(),
			"reason", err.Error(),
		)
	}
}

func (o *Orchestrator) start(ctx context.Context, entry *types.ErrorLogEntry, manualAction Action, auto bool) (uuid.UUID, error) {
	o.mu.Lock()

	if execID, running := o.inProgress[entry.ID]; running {
		o.mu.Unlock()
		return execID, nil
	}

	reg := o.resolvePlanLocked(entry)
	if reg == nil {
		o.mu.Unlock()
		return uuid.Nil, errors.NewNotFoundError("recovery plan")
	}
	if auto && !reg.plan.Idempotent {
		o.mu.Unlock()
		return uuid.Nil, errors.NewConflictError("plan is not idempotent")
	}

	action := reg.action
	if manualAction != nil {
		action = manualAction
	}

	exec := &execution{
		record: &types.RecoveryExecution{
			ID:        uuid.New(),
			ErrorID:   entry.ID,
			PlanID:    reg.plan.ID,
			Status:    types.ExecutionPending,
			StartedAt: o.now(),
		},
		cancelCh: make(chan struct{}),
	}
	o.executions[exec.record.ID] = exec
	o.inProgress[entry.ID] = exec.record.ID
	plan := *reg.plan
	o.mu.Unlock()

	o.logger.Info("Recovery execution started",
		"execution_id", exec.record.ID.String(),
		"error_id", entry.ID.String(),
		"plan", plan.Name,
	)

	// The execution outlives the triggering call. An HTTP request context or
	// an intake request context dies as soon as its caller returns; only
	// Cancel stops a running execution.
	go o.run(context.WithoutCancel(ctx), exec, &plan, action, entry)
	return exec.record.ID, nil
}

// resolvePlanLocked picks a plan: exact signature, then regex against the
// message, then the default
func (o *Orchestrator) resolvePlanLocked(entry *types.ErrorLogEntry) *registeredPlan {
	if id, ok := o.bySignature[entry.Signature()]; ok {
		return o.plans[id]
	}
	for _, reg := range o.plans {
		if reg.pattern != nil && reg.pattern.MatchString(entry.Message) {
			return reg
		}
	}
	if o.defaultPlan != uuid.Nil {
		return o.plans[o.defaultPlan]
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, exec *execution, plan *types.RecoveryPlan, action Action, entry *types.ErrorLogEntry) {
	o.setStatus(exec, types.ExecutionInProgress)
	start := o.now()

	status, finalErr := o.runPhases(ctx, exec, plan, action, entry)

	o.mu.Lock()
	exec.record.Status = status
	exec.record.FinalError = finalErr
	completed := o.now()
	exec.record.CompletedAt = &completed
	delete(o.inProgress, exec.record.ErrorID)
	if reg, ok := o.plans[plan.ID]; ok && status != types.ExecutionCancelled {
		reg.completed++
		if status == types.ExecutionSucceeded {
			reg.succeeded++
		}
		reg.plan.SuccessRate = float64(reg.succeeded) / float64(reg.completed)
	}
	o.mu.Unlock()

	o.logger.Info("Recovery execution finished",
		"execution_id", exec.record.ID.String(),
		"plan", plan.Name,
		"status", string(status),
		"attempts", exec.record.Attempts,
	)
	if o.metrics != nil {
		o.metrics.RecoveryExecutions.WithLabelValues(string(status)).Inc()
		o.metrics.RecoveryDuration.WithLabelValues(string(status)).Observe(o.now().Sub(start).Seconds())
	}
}

func (o *Orchestrator) runPhases(ctx context.Context, exec *execution, plan *types.RecoveryPlan, action Action, entry *types.ErrorLogEntry) (types.ExecutionStatus, string) {
	var lastErr string

	maxAttempts := plan.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if o.isCancelled(exec) {
			return types.ExecutionCancelled, lastErr
		}
		if err := o.sleep(ctx, Delay(plan.Retry, attempt), exec.cancelCh); err != nil {
			return types.ExecutionCancelled, lastErr
		}
		if o.isCancelled(exec) {
			return types.ExecutionCancelled, lastErr
		}

		attemptStart := o.now()
		err := action(ctx, entry)
		duration := o.now().Sub(attemptStart)

		// A cancel that lands mid-attempt discards the attempt's result.
		if o.isCancelled(exec) {
			return types.ExecutionCancelled, lastErr
		}

		o.recordAttempt(exec, string(plan.Retry.Type), err, duration)
		if err == nil {
			return types.ExecutionSucceeded, ""
		}
		lastErr = err.Error()
	}

	// Retry phase exhausted, walk the fallback ladder.
	fallbacks := enabledFallbacks(plan.Fallbacks)
	for _, strategy := range fallbacks {
		if o.isCancelled(exec) {
			return types.ExecutionCancelled, lastErr
		}

		err := o.runFallback(ctx, strategy, entry)

		if o.isCancelled(exec) {
			return types.ExecutionCancelled, lastErr
		}

		o.mu.Lock()
		exec.record.FallbacksExecuted = append(exec.record.FallbacksExecuted, strategy.Type)
		o.mu.Unlock()
		o.recordAttempt(exec, string(strategy.Type), err, 0)

		if err == nil {
			return types.ExecutionSucceeded, ""
		}
		lastErr = err.Error()
	}

	return types.ExecutionFailed, lastErr
}

func (o *Orchestrator) runFallback(ctx context.Context, strategy types.FallbackStrategy, entry *types.ErrorLogEntry) error {
	if o.fallbacks == nil {
		return errors.NewConfigurationError("no fallback executor configured")
	}
	if strategy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, strategy.Timeout)
		defer cancel()
	}
	return o.fallbacks.ExecuteFallback(ctx, strategy, entry)
}

func enabledFallbacks(strategies []types.FallbackStrategy) []types.FallbackStrategy {
	var enabled []types.FallbackStrategy
	for _, s := range strategies {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})
	return enabled
}

func (o *Orchestrator) recordAttempt(exec *execution, strategy string, err error, duration time.Duration) {
	attempt := types.RetryAttempt{
		Timestamp: o.now(),
		Strategy:  strategy,
		Success:   err == nil,
		Duration:  duration,
	}
	outcome := "success"
	if err != nil {
		attempt.Error = err.Error()
		outcome = "error"
	}

	o.mu.Lock()
	exec.record.Attempts++
	exec.record.RetryHistory = append(exec.record.RetryHistory, attempt)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecoveryAttempts.WithLabelValues(strategy, outcome).Inc()
	}
}

func (o *Orchestrator) setStatus(exec *execution, status types.ExecutionStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if exec.record.Status != types.ExecutionCancelled {
		exec.record.Status = status
	}
}

func (o *Orchestrator) isCancelled(exec *execution) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return exec.cancelled
}

// Cancel stops an in-progress execution between attempts. An attempt already
// in flight finishes but its result is discarded.
func (o *Orchestrator) Cancel(execID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	exec, ok := o.executions[execID]
	if !ok {
		return errors.NewNotFoundError("recovery execution")
	}
	if exec.record.Status != types.ExecutionPending && exec.record.Status != types.ExecutionInProgress {
		return errors.NewConflictError("execution already completed")
	}
	if !exec.cancelled {
		exec.cancelled = true
		close(exec.cancelCh)
	}
	return nil
}

// GetStatus returns a snapshot of an execution
func (o *Orchestrator) GetStatus(execID uuid.UUID) (*types.RecoveryExecution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	exec, ok := o.executions[execID]
	if !ok {
		return nil, false
	}
	copied := *exec.record
	copied.RetryHistory = append([]types.RetryAttempt(nil), exec.record.RetryHistory...)
	copied.FallbacksExecuted = append([]types.FallbackType(nil), exec.record.FallbacksExecuted...)
	return &copied, true
}

// ListExecutions returns snapshots of all executions
func (o *Orchestrator) ListExecutions() []*types.RecoveryExecution {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := make([]*types.RecoveryExecution, 0, len(o.executions))
	for _, exec := range o.executions {
		copied := *exec.record
		copied.RetryHistory = append([]types.RetryAttempt(nil), exec.record.RetryHistory...)
		copied.FallbacksExecuted = append([]types.FallbackType(nil), exec.record.FallbacksExecuted...)
		result = append(result, &copied)
	}
	return result
}
