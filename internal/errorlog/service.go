// Package errorlog normalizes raw failures from the outbound-messaging
// pipeline into structured, deduplicated log entries and fans them out to the
// circuit breaker registry, the alert engine, and the recovery orchestrator.
package errorlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/logging"
	"github.com/relayops/sentinel/pkg/metrics"
	"github.com/relayops/sentinel/pkg/types"
)

// FailureRecorder receives per-source failure signals (the breaker registry)
type FailureRecorder interface {
	RecordFailure(source string)
}

// EntryEvaluator evaluates alert rules against a single classified entry
type EntryEvaluator interface {
	EvaluateEntry(ctx context.Context, entry *types.ErrorLogEntry)
}

// AutoRecoverer starts automated recovery for an entry matched by an
// auto-resolvable pattern detector
type AutoRecoverer interface {
	AutoRecover(ctx context.Context, entry *types.ErrorLogEntry)
}

// Config holds intake configuration
type Config struct {
	// EnabledLevels restricts accepted levels; empty means all
	EnabledLevels []types.Level
	// EnabledCategories restricts accepted categories; empty means all
	EnabledCategories []types.Category
	// DisabledSources silently drops entries from these sources
	DisabledSources []string
	// BatchSize triggers an immediate flush when the pending buffer reaches it
	BatchSize int
	// FlushInterval is the periodic flush cadence
	FlushInterval time.Duration
	// RequeueLimit bounds how many entries a failed flush puts back
	RequeueLimit int
}

// DefaultConfig returns default intake configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:     50,
		FlushInterval: 5 * time.Second,
		RequeueLimit:  10,
	}
}

// Service is the error intake and classification service. LogError never
// returns an error and never panics; persistence failures are absorbed by a
// bounded in-memory requeue.
type Service struct {
	config    Config
	store     Store
	breaker   FailureRecorder
	alerts    EntryEvaluator
	recovery  AutoRecoverer
	detectors []PatternDetector
	metrics   *metrics.Metrics
	logger    *logging.Logger

	mu            sync.Mutex
	bySignature   map[string]*types.ErrorLogEntry
	byID          map[uuid.UUID]*types.ErrorLogEntry
	byCorrelation map[string][]uuid.UUID
	pending       []*types.ErrorLogEntry

	flushMu sync.Mutex

	stopCh  chan struct{}
	doneCh  chan struct{}
	runOnce sync.Once
	now     func() time.Time
}

// Option configures optional service collaborators
type Option func(*Service)

// WithBreaker wires the circuit breaker registry
func WithBreaker(b FailureRecorder) Option {
	return func(s *Service) { s.breaker = b }
}

// WithAlertEvaluator wires the alert rule engine
func WithAlertEvaluator(e EntryEvaluator) Option {
	return func(s *Service) { s.alerts = e }
}

// WithAutoRecoverer wires the recovery orchestrator
func WithAutoRecoverer(r AutoRecoverer) Option {
	return func(s *Service) { s.recovery = r }
}

// WithDetectors replaces the default pattern detectors
func WithDetectors(detectors []PatternDetector) Option {
	return func(s *Service) { s.detectors = detectors }
}

// WithMetrics wires Prometheus metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// SetAutoRecoverer wires the recovery orchestrator after construction. The
// orchestrator looks entries up through the service, so it cannot exist yet
// when the service is built.
func (s *Service) SetAutoRecoverer(r AutoRecoverer) {
	s.recovery = r
}

// NewService creates an intake service writing to the given store
func NewService(config Config, store Store, opts ...Option) *Service {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.RequeueLimit < 0 {
		config.RequeueLimit = 10
	}

	s := &Service{
		config:      config,
		store:       store,
		detectors:   DefaultDetectors(),
		logger:      logging.GetLogger(),
		bySignature:   make(map[string]*types.ErrorLogEntry),
		byID:          make(map[uuid.UUID]*types.ErrorLogEntry),
		byCorrelation: make(map[string][]uuid.UUID),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogError ingests one failure. It returns the id of the stored (or
// incremented) entry, or uuid.Nil when the entry was filtered out. It is the
// sole ingestion entry point and never raises to its caller.
func (s *Service) LogError(ctx context.Context, level types.Level, category types.Category, source, message string, errCtx types.ErrorContext, cause error) uuid.UUID {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in error intake", "panic", r)
		}
	}()

	if !s.accepts(level, category, source) {
		if s.metrics != nil {
			s.metrics.ErrorsFiltered.Inc()
		}
		return uuid.Nil
	}

	errCtx.CorrelationID = s.correlationID(ctx, source, errCtx)

	entry := &types.ErrorLogEntry{
		ID:        uuid.New(),
		Timestamp: s.now(),
		Level:     level,
		Category:  category,
		Source:    source,
		Message:   message,
		Context:   errCtx,
	}
	if cause != nil {
		entry.StackTrace = cause.Error()
		if appErr, ok := cause.(*apperrors.AppError); ok {
			entry.ErrorCode = appErr.Code
		}
	}

	entry = s.classify(entry)

	s.runDetectors(ctx, entry)

	if s.alerts != nil {
		s.alerts.EvaluateEntry(ctx, entry)
	}

	if level == types.LevelCritical && s.breaker != nil {
		s.breaker.RecordFailure(source)
	}

	if level == types.LevelCritical || s.pendingLen() >= s.config.BatchSize {
		s.Flush(ctx)
	}

	if s.metrics != nil {
		s.metrics.ErrorsIngested.WithLabelValues(string(level), string(category), source).Inc()
	}
	return entry.ID
}

// LogCritical logs a critical-level error
func (s *Service) LogCritical(ctx context.Context, category types.Category, source, message string, errCtx types.ErrorContext, cause error) uuid.UUID {
	return s.LogError(ctx, types.LevelCritical, category, source, message, errCtx, cause)
}

// LogWarning logs a warning-level error
func (s *Service) LogWarning(ctx context.Context, category types.Category, source, message string, errCtx types.ErrorContext, cause error) uuid.UUID {
	return s.LogError(ctx, types.LevelWarning, category, source, message, errCtx, cause)
}

// LogInfo logs an info-level error
func (s *Service) LogInfo(ctx context.Context, category types.Category, source, message string, errCtx types.ErrorContext, cause error) uuid.UUID {
	return s.LogError(ctx, types.LevelInfo, category, source, message, errCtx, cause)
}

// LogDebug logs a debug-level error
func (s *Service) LogDebug(ctx context.Context, category types.Category, source, message string, errCtx types.ErrorContext, cause error) uuid.UUID {
	return s.LogError(ctx, types.LevelDebug, category, source, message, errCtx, cause)
}

// classify deduplicates by signature: a repeat increments the first stored
// entry and preserves its firstOccurrence. Returns the authoritative entry.
func (s *Service) classify(entry *types.ErrorLogEntry) *types.ErrorLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := entry.Signature()
	if existing, ok := s.bySignature[sig]; ok {
		existing.OccurrenceCount++
		existing.LastOccurrence = entry.Timestamp
		if entry.Context.CorrelationID != "" {
			existing.Context.CorrelationID = entry.Context.CorrelationID
		}
		s.enqueueLocked(existing)
		if s.metrics != nil {
			s.metrics.ErrorsDeduplicated.WithLabelValues(string(entry.Level), string(entry.Category)).Inc()
		}
		return existing
	}

	entry.FirstOccurrence = entry.Timestamp
	entry.LastOccurrence = entry.Timestamp
	entry.OccurrenceCount = 1
	s.bySignature[sig] = entry
	s.byID[entry.ID] = entry

	// Distinct errors sharing a correlation id belong to the same failing
	// operation; link the new entry to its predecessors.
	if cid := entry.Context.CorrelationID; cid != "" {
		entry.RelatedErrorIDs = append([]uuid.UUID(nil), s.byCorrelation[cid]...)
		s.byCorrelation[cid] = append(s.byCorrelation[cid], entry.ID)
	}

	s.enqueueLocked(entry)
	return entry
}

func (s *Service) enqueueLocked(entry *types.ErrorLogEntry) {
	s.pending = append(s.pending, entry)
	if s.metrics != nil {
		s.metrics.PendingBufferSize.Set(float64(len(s.pending)))
	}
}

func (s *Service) pendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush writes the pending buffer to the store in classification order. On
// failure up to RequeueLimit entries are put back at the front; the rest are
// dropped with a diagnostic.
func (s *Service) Flush(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	snapshot := make([]*types.ErrorLogEntry, 0, len(batch))
	seen := make(map[uuid.UUID]bool, len(batch))
	s.mu.Lock()
	for _, entry := range batch {
		if seen[entry.ID] {
			continue
		}
		seen[entry.ID] = true
		copied := *entry
		snapshot = append(snapshot, &copied)
	}
	s.mu.Unlock()

	if err := s.store.SaveEntries(ctx, snapshot); err != nil {
		requeue := batch
		dropped := 0
		if len(requeue) > s.config.RequeueLimit {
			dropped = len(requeue) - s.config.RequeueLimit
			requeue = requeue[:s.config.RequeueLimit]
		}

		s.mu.Lock()
		s.pending = append(requeue, s.pending...)
		if s.metrics != nil {
			s.metrics.PendingBufferSize.Set(float64(len(s.pending)))
		}
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.FlushBatches.WithLabelValues("error").Inc()
			s.metrics.ErrorsDropped.Add(float64(dropped))
		}
		s.logger.Error("Log store flush failed, requeued entries",
			"error", err.Error(),
			"requeued", len(requeue),
			"dropped", dropped,
		)
		return
	}

	if s.metrics != nil {
		s.metrics.FlushBatches.WithLabelValues("success").Inc()
		s.metrics.PendingBufferSize.Set(float64(s.pendingLen()))
	}
}

// Run starts the periodic flush loop. It returns when ctx is cancelled or
// Stop is called.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()
	defer close(s.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.safeFlush(ctx)
		}
	}
}

// safeFlush wraps a tick so a panic never kills the flush loop
func (s *Service) safeFlush(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic in flush tick", "panic", r)
		}
	}()
	s.Flush(ctx)
}

// Stop halts the flush loop and performs a final flush so already-accepted
// entries are not lost.
func (s *Service) Stop(ctx context.Context) {
	s.runOnce.Do(func() {
		close(s.stopCh)
		select {
		case <-s.doneCh:
		case <-time.After(time.Second):
		}
	})
	s.Flush(ctx)
}

// GetEntry returns the in-memory authoritative entry for an id
func (s *Service) GetEntry(id uuid.UUID) (*types.ErrorLogEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	copied := *entry
	return &copied, true
}

// GetErrors queries the log store
func (s *Service) GetErrors(ctx context.Context, filter types.ErrorFilter) ([]*types.ErrorLogEntry, error) {
	return s.store.GetErrors(ctx, filter)
}

// GetErrorSummary aggregates errors over the window
func (s *Service) GetErrorSummary(ctx context.Context, windowHours int) (*types.ErrorSummary, error) {
	return s.store.GetSummary(ctx, windowHours)
}

// GetErrorMetrics reports rate and trend aggregates over the window
func (s *Service) GetErrorMetrics(ctx context.Context, windowHours int) (*types.ErrorMetrics, error) {
	return s.store.GetMetrics(ctx, windowHours)
}

// MarkResolved flags an entry as resolved in memory and in the store
func (s *Service) MarkResolved(ctx context.Context, id uuid.UUID, note string) error {
	s.mu.Lock()
	if entry, ok := s.byID[id]; ok {
		entry.Resolved = true
		entry.ResolutionNote = note
	}
	s.mu.Unlock()

	return s.store.MarkResolved(ctx, id, note)
}

// accepts applies the enabled-set filter. A rejection is a deliberate no-op,
// not an error condition.
func (s *Service) accepts(level types.Level, category types.Category, source string) bool {
	if len(s.config.EnabledLevels) > 0 && !containsLevel(s.config.EnabledLevels, level) {
		return false
	}
	if len(s.config.EnabledCategories) > 0 && !containsCategory(s.config.EnabledCategories, category) {
		return false
	}
	for _, disabled := range s.config.DisabledSources {
		if disabled == source {
			return false
		}
	}
	return true
}

// correlationID reuses a supplied id, derives one deterministically from
// identifying context fields, or generates a fresh one.
func (s *Service) correlationID(ctx context.Context, source string, errCtx types.ErrorContext) string {
	if errCtx.CorrelationID != "" {
		return errCtx.CorrelationID
	}
	if id := logging.GetCorrelationID(ctx); id != "" {
		return id
	}
	if errCtx.MessageID != "" || errCtx.Operation != "" {
		seed := source + "|" + errCtx.Operation + "|" + errCtx.MessageID
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
	}
	return logging.NewCorrelationID()
}

func (s *Service) runDetectors(ctx context.Context, entry *types.ErrorLogEntry) {
	for i := range s.detectors {
		d := &s.detectors[i]
		if !d.Matches(entry) {
			continue
		}
		s.logger.Debug("Pattern detector matched",
			"detector", d.Name,
			"error_id", entry.ID.String(),
			"source", entry.Source,
		)
		if d.AutoResolve && s.recovery != nil {
			s.recovery.AutoRecover(ctx, entry)
		}
	}
}

func containsLevel(levels []types.Level, level types.Level) bool {
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

func containsCategory(categories []types.Category, category types.Category) bool {
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}
