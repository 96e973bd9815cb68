package errorlog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/types"
)

type recordingBreaker struct {
	mu       sync.Mutex
	failures []string
}

func (b *recordingBreaker) RecordFailure(source string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, source)
}

type recordingEvaluator struct {
	mu      sync.Mutex
	entries []*types.ErrorLogEntry
}

func (e *recordingEvaluator) EvaluateEntry(ctx context.Context, entry *types.ErrorLogEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
}

type recordingRecoverer struct {
	mu      sync.Mutex
	entries []*types.ErrorLogEntry
}

func (r *recordingRecoverer) AutoRecover(ctx context.Context, entry *types.ErrorLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

type failingStore struct {
	mu       sync.Mutex
	failures int
	saved    [][]*types.ErrorLogEntry
}

func (f *failingStore) SaveEntries(ctx context.Context, entries []*types.ErrorLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.NewInternalError("store unavailable")
	}
	f.saved = append(f.saved, entries)
	return nil
}

func (f *failingStore) GetErrors(ctx context.Context, filter types.ErrorFilter) ([]*types.ErrorLogEntry, error) {
	return nil, nil
}

func (f *failingStore) GetSummary(ctx context.Context, windowHours int) (*types.ErrorSummary, error) {
	return &types.ErrorSummary{}, nil
}

func (f *failingStore) GetMetrics(ctx context.Context, windowHours int) (*types.ErrorMetrics, error) {
	return &types.ErrorMetrics{}, nil
}

func (f *failingStore) MarkResolved(ctx context.Context, id uuid.UUID, note string) error {
	return nil
}

func TestService_Deduplication(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(DefaultConfig(), store)
	ctx := context.Background()

	first := svc.LogWarning(ctx, types.CategoryEmailDelivery, "resend_client", "connection refused", types.ErrorContext{}, nil)
	second := svc.LogWarning(ctx, types.CategoryEmailDelivery, "resend_client", "connection refused", types.ErrorContext{}, nil)

	require.NotEqual(t, uuid.Nil, first)
	assert.Equal(t, first, second, "repeat signature should return the original entry id")

	entry, ok := svc.GetEntry(first)
	require.True(t, ok)
	assert.Equal(t, 2, entry.OccurrenceCount)
	assert.True(t, !entry.LastOccurrence.Before(entry.FirstOccurrence))

	svc.Flush(ctx)
	stored, err := store.GetErrors(ctx, types.ErrorFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1, "dedup must leave exactly one stored entry")
	assert.Equal(t, 2, stored[0].OccurrenceCount)
}

func TestService_DedupPreservesFirstOccurrence(t *testing.T) {
	svc := NewService(DefaultConfig(), NewMemoryStore())
	base := time.Now()
	svc.now = func() time.Time { return base }
	ctx := context.Background()

	id := svc.LogWarning(ctx, types.CategoryWebhook, "hook", "timeout", types.ErrorContext{}, nil)

	svc.now = func() time.Time { return base.Add(time.Minute) }
	svc.LogWarning(ctx, types.CategoryWebhook, "hook", "timeout", types.ErrorContext{}, nil)

	entry, ok := svc.GetEntry(id)
	require.True(t, ok)
	assert.Equal(t, base, entry.FirstOccurrence)
	assert.Equal(t, base.Add(time.Minute), entry.LastOccurrence)
}

func TestService_EnabledSetFilter(t *testing.T) {
	svc := NewService(Config{
		EnabledLevels:   []types.Level{types.LevelCritical},
		DisabledSources: []string{"noisy_source"},
	}, NewMemoryStore())
	ctx := context.Background()

	assert.Equal(t, uuid.Nil, svc.LogDebug(ctx, types.CategoryInternal, "x", "dropped", types.ErrorContext{}, nil))
	assert.Equal(t, uuid.Nil, svc.LogCritical(ctx, types.CategoryInternal, "noisy_source", "dropped", types.ErrorContext{}, nil))
	assert.NotEqual(t, uuid.Nil, svc.LogCritical(ctx, types.CategoryInternal, "ok_source", "kept", types.ErrorContext{}, nil))
}

func TestService_CorrelationID(t *testing.T) {
	svc := NewService(DefaultConfig(), NewMemoryStore())
	ctx := context.Background()

	// Supplied id wins.
	id := svc.LogWarning(ctx, types.CategoryEmailDelivery, "s1", "m1",
		types.ErrorContext{CorrelationID: "supplied"}, nil)
	entry, _ := svc.GetEntry(id)
	assert.Equal(t, "supplied", entry.Context.CorrelationID)

	// Identifying fields derive deterministically.
	a := svc.LogWarning(ctx, types.CategoryEmailDelivery, "s2", "m2",
		types.ErrorContext{MessageID: "msg-1", Operation: "send"}, nil)
	b := svc.LogWarning(ctx, types.CategoryEmailDelivery, "s2", "m3",
		types.ErrorContext{MessageID: "msg-1", Operation: "send"}, nil)
	ea, _ := svc.GetEntry(a)
	eb, _ := svc.GetEntry(b)
	assert.Equal(t, ea.Context.CorrelationID, eb.Context.CorrelationID)

	// Nothing identifying generates a fresh one.
	c := svc.LogWarning(ctx, types.CategoryEmailDelivery, "s3", "m4", types.ErrorContext{}, nil)
	ec, _ := svc.GetEntry(c)
	assert.NotEmpty(t, ec.Context.CorrelationID)
	assert.NotEqual(t, ea.Context.CorrelationID, ec.Context.CorrelationID)
}

func TestService_ErrorCodeFromCause(t *testing.T) {
	svc := NewService(DefaultConfig(), NewMemoryStore())
	ctx := context.Background()

	id := svc.LogWarning(ctx, types.CategoryEmailDelivery, "resend_client", "send rejected",
		types.ErrorContext{}, errors.NewRateLimitError("provider throttled"))
	entry, ok := svc.GetEntry(id)
	require.True(t, ok)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", entry.ErrorCode)
	assert.Equal(t, "provider throttled", entry.StackTrace)

	// A plain error carries no code.
	plain := svc.LogWarning(ctx, types.CategoryEmailDelivery, "resend_client", "other failure",
		types.ErrorContext{}, fmt.Errorf("dial tcp: timeout"))
	entry, ok = svc.GetEntry(plain)
	require.True(t, ok)
	assert.Empty(t, entry.ErrorCode)
}

func TestService_RelatedErrorsShareCorrelationID(t *testing.T) {
	svc := NewService(DefaultConfig(), NewMemoryStore())
	ctx := context.Background()
	corr := types.ErrorContext{CorrelationID: "req-42"}

	first := svc.LogWarning(ctx, types.CategoryEmailDelivery, "resend_client", "connection refused", corr, nil)
	second := svc.LogWarning(ctx, types.CategoryWebhook, "delivery_hook", "callback failed", corr, nil)
	unrelated := svc.LogWarning(ctx, types.CategoryEmailDelivery, "resend_client", "quota exceeded",
		types.ErrorContext{CorrelationID: "req-99"}, nil)

	entry, ok := svc.GetEntry(second)
	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{first}, entry.RelatedErrorIDs,
		"a later error links back to earlier ones from the same operation")

	entry, ok = svc.GetEntry(first)
	require.True(t, ok)
	assert.Empty(t, entry.RelatedErrorIDs)

	entry, ok = svc.GetEntry(unrelated)
	require.True(t, ok)
	assert.Empty(t, entry.RelatedErrorIDs)
}

func TestService_CriticalUpdatesBreaker(t *testing.T) {
	br := &recordingBreaker{}
	svc := NewService(DefaultConfig(), NewMemoryStore(), WithBreaker(br))
	ctx := context.Background()

	svc.LogCritical(ctx, types.CategoryEmailDelivery, "resend_client", "boom", types.ErrorContext{}, nil)
	svc.LogWarning(ctx, types.CategoryEmailDelivery, "resend_client", "meh", types.ErrorContext{}, nil)

	assert.Equal(t, []string{"resend_client"}, br.failures, "only critical errors update the breaker")
}

func TestService_AlertEvaluationHook(t *testing.T) {
	eval := &recordingEvaluator{}
	svc := NewService(DefaultConfig(), NewMemoryStore(), WithAlertEvaluator(eval))
	ctx := context.Background()

	svc.LogWarning(ctx, types.CategoryWebhook, "hook", "timeout", types.ErrorContext{}, nil)
	svc.LogWarning(ctx, types.CategoryWebhook, "hook", "timeout", types.ErrorContext{}, nil)

	assert.Len(t, eval.entries, 2, "every ingested occurrence is evaluated")
}

func TestService_AutoRecoveryOnPatternMatch(t *testing.T) {
	rec := &recordingRecoverer{}
	svc := NewService(DefaultConfig(), NewMemoryStore(), WithAutoRecoverer(rec))
	ctx := context.Background()

	svc.LogCritical(ctx, types.CategoryEmailDelivery, "resend_client", "connection refused by upstream", types.ErrorContext{}, nil)
	svc.LogCritical(ctx, types.CategoryEmailDelivery, "resend_client", "invalid api key", types.ErrorContext{}, nil)

	assert.Len(t, rec.entries, 1, "only auto-resolvable patterns trigger recovery")
	assert.Contains(t, rec.entries[0].Message, "connection refused")
}

func TestService_CriticalFlushesImmediately(t *testing.T) {
	store := &failingStore{}
	svc := NewService(DefaultConfig(), store)
	ctx := context.Background()

	svc.LogCritical(ctx, types.CategoryDatabase, "pg", "disk full", types.ErrorContext{}, nil)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.saved, 1)
	assert.Equal(t, "disk full", store.saved[0][0].Message)
}

func TestService_FlushFailureRequeuesBounded(t *testing.T) {
	store := &failingStore{failures: 1}
	svc := NewService(Config{BatchSize: 100, RequeueLimit: 2, FlushInterval: time.Hour}, store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.LogWarning(ctx, types.CategoryWebhook, "hook", "timeout "+string(rune('a'+i)), types.ErrorContext{}, nil)
	}

	svc.Flush(ctx) // fails, requeues first 2, drops 3
	assert.Equal(t, 2, svc.pendingLen())

	svc.Flush(ctx) // succeeds
	assert.Equal(t, 0, svc.pendingLen())

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.saved, 1)
	assert.Len(t, store.saved[0], 2)
}

func TestService_StopFlushesRemaining(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(Config{BatchSize: 100, FlushInterval: time.Hour}, store)
	ctx := context.Background()

	go svc.Run(ctx)
	svc.LogWarning(ctx, types.CategoryWebhook, "hook", "pending entry", types.ErrorContext{}, nil)
	svc.Stop(ctx)

	stored, err := store.GetErrors(ctx, types.ErrorFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestService_MarkResolved(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(DefaultConfig(), store)
	ctx := context.Background()

	id := svc.LogWarning(ctx, types.CategoryWebhook, "hook", "flappy", types.ErrorContext{}, nil)
	svc.Flush(ctx)

	require.NoError(t, svc.MarkResolved(ctx, id, "fixed upstream"))

	entry, ok := svc.GetEntry(id)
	require.True(t, ok)
	assert.True(t, entry.Resolved)
	assert.Equal(t, "fixed upstream", entry.ResolutionNote)

	resolved := true
	stored, err := store.GetErrors(ctx, types.ErrorFilter{Resolved: &resolved})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestService_NeverPanicsOnNilStore(t *testing.T) {
	svc := NewService(DefaultConfig(), nil)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		svc.LogCritical(ctx, types.CategoryInternal, "x", "boom", types.ErrorContext{}, nil)
	})
}
