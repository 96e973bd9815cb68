package fallback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/types"
)

func testEntry() *types.ErrorLogEntry {
	return &types.ErrorLogEntry{
		ID:       uuid.New(),
		Level:    types.LevelCritical,
		Category: types.CategoryEmailDelivery,
		Source:   "resend_client",
		Message:  "connection refused",
		Context:  types.ErrorContext{Operation: "send"},
	}
}

func newTestManager() *Manager {
	return NewManager(DefaultConfig(), NewMemoryStore(), NewMemoryStore(), NewDegradedController(), nil)
}

func TestManager_AlternateProviderPriorityOrder(t *testing.T) {
	m := newTestManager()

	var mu sync.Mutex
	var called []string
	record := func(id string, fail bool) ProviderFunc {
		return func(ctx context.Context, entry *types.ErrorLogEntry) error {
			mu.Lock()
			defer mu.Unlock()
			called = append(called, id)
			if fail {
				return errors.NewProviderError(id, "down")
			}
			return nil
		}
	}

	require.NoError(t, m.RegisterProvider(types.FallbackProvider{
		ID: "sendgrid", Capability: "email_delivery", Priority: 2,
	}, record("sendgrid", false), nil))
	require.NoError(t, m.RegisterProvider(types.FallbackProvider{
		ID: "mailgun", Capability: "email_delivery", Priority: 1,
	}, record("mailgun", true), nil))
	require.NoError(t, m.RegisterProvider(types.FallbackProvider{
		ID: "twilio", Capability: "sms_delivery", Priority: 0,
	}, record("twilio", false), nil))

	err := m.ExecuteFallback(context.Background(), types.FallbackStrategy{
		Type: types.FallbackAlternateProvider, Enabled: true,
	}, testEntry())
	require.NoError(t, err)

	assert.Equal(t, []string{"mailgun", "sendgrid"}, called,
		"lower priority first, capability-mismatched providers skipped")
}

func TestManager_ProviderDisabledAtThreshold(t *testing.T) {
	m := newTestManager()

	failing := func(ctx context.Context, entry *types.ErrorLogEntry) error {
		return errors.NewProviderError("backup", "down")
	}
	require.NoError(t, m.RegisterProvider(types.FallbackProvider{
		ID: "backup", Capability: "email_delivery", Priority: 1, FailureThreshold: 2,
	}, failing, nil))

	strategy := types.FallbackStrategy{Type: types.FallbackAlternateProvider, Enabled: true}
	assert.Error(t, m.ExecuteFallback(context.Background(), strategy, testEntry()))
	assert.Error(t, m.ExecuteFallback(context.Background(), strategy, testEntry()))

	providers := m.Providers()
	require.Len(t, providers, 1)
	assert.False(t, providers[0].Enabled, "provider disables once failureCount reaches the threshold")
	assert.Equal(t, 2, providers[0].FailureCount)

	// A successful health update re-enables it and resets the count.
	require.NoError(t, m.UpdateProviderHealth("backup", true))
	providers = m.Providers()
	assert.True(t, providers[0].Enabled)
	assert.Zero(t, providers[0].FailureCount)
}

func TestManager_ProviderRateLimit(t *testing.T) {
	m := newTestManager()

	var calls int
	require.NoError(t, m.RegisterProvider(types.FallbackProvider{
		ID: "limited", Capability: "email_delivery", Priority: 1,
		RateLimit: &types.ProviderRateLimit{Capacity: 2, RefillRate: 0.001},
	}, func(ctx context.Context, entry *types.ErrorLogEntry) error {
		calls++
		return nil
	}, nil))

	strategy := types.FallbackStrategy{Type: types.FallbackAlternateProvider, Enabled: true}
	require.NoError(t, m.ExecuteFallback(context.Background(), strategy, testEntry()))
	require.NoError(t, m.ExecuteFallback(context.Background(), strategy, testEntry()))

	err := m.ExecuteFallback(context.Background(), strategy, testEntry())
	require.Error(t, err, "bucket exhausted")
	assert.Equal(t, 2, calls)
}

func TestManager_CachedResponse(t *testing.T) {
	cache := NewMemoryStore()
	m := NewManager(DefaultConfig(), cache, NewMemoryStore(), NewDegradedController(), nil)
	entry := testEntry()

	strategy := types.FallbackStrategy{Type: types.FallbackCachedResponse, Enabled: true}
	assert.Error(t, m.ExecuteFallback(context.Background(), strategy, entry), "nothing cached yet")

	require.NoError(t, cache.Set(context.Background(), CacheKey(entry), `{"status":"sent"}`, time.Minute))
	assert.NoError(t, m.ExecuteFallback(context.Background(), strategy, entry))
}

func TestManager_QueueForLater(t *testing.T) {
	queue := NewMemoryStore()
	m := NewManager(DefaultConfig(), NewMemoryStore(), queue, NewDegradedController(), nil)
	entry := testEntry()

	strategy := types.FallbackStrategy{Type: types.FallbackQueueForLater, Enabled: true}
	require.NoError(t, m.ExecuteFallback(context.Background(), strategy, entry))

	n, err := queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	parked, ok, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry.ID, parked.ID)
}

func TestManager_DegradedModeStrategy(t *testing.T) {
	m := newTestManager()

	strategy := types.FallbackStrategy{Type: types.FallbackDegradedMode, Enabled: true}
	require.NoError(t, m.ExecuteFallback(context.Background(), strategy, testEntry()))

	cfg, active := m.Degraded().Current()
	require.True(t, active)
	assert.Equal(t, types.DegradedReduced, cfg.Level)
	assert.False(t, m.Degraded().IsFeatureAvailable("analytics"))
}

func TestManager_ManualInterventionAlwaysSucceeds(t *testing.T) {
	m := newTestManager()
	strategy := types.FallbackStrategy{Type: types.FallbackManualIntervention, Enabled: true}
	assert.NoError(t, m.ExecuteFallback(context.Background(), strategy, testEntry()))
}

func TestManager_HealthProbes(t *testing.T) {
	m := newTestManager()

	var healthyProbes, failingProbes int
	require.NoError(t, m.RegisterProvider(types.FallbackProvider{
		ID: "good", Capability: "email_delivery", Priority: 1, FailureThreshold: 1,
	}, func(ctx context.Context, e *types.ErrorLogEntry) error { return nil },
		func(ctx context.Context) error { healthyProbes++; return nil }))
	require.NoError(t, m.RegisterProvider(types.FallbackProvider{
		ID: "bad", Capability: "email_delivery", Priority: 2, FailureThreshold: 1,
	}, func(ctx context.Context, e *types.ErrorLogEntry) error { return nil },
		func(ctx context.Context) error { failingProbes++; return errors.NewTimeoutError("probe") }))

	m.CheckProviders(context.Background())

	assert.Equal(t, 1, healthyProbes)
	assert.Equal(t, 1, failingProbes)

	for _, p := range m.Providers() {
		switch p.ID {
		case "good":
			assert.True(t, p.Healthy)
			assert.True(t, p.Enabled)
		case "bad":
			assert.False(t, p.Healthy)
			assert.False(t, p.Enabled, "threshold 1 disables after one failed probe")
		}
		assert.False(t, p.LastProbe.IsZero())
	}
}

func TestManager_RegisterValidation(t *testing.T) {
	m := newTestManager()

	assert.Error(t, m.RegisterProvider(types.FallbackProvider{ID: "x"}, nil, nil))
	assert.Error(t, m.RegisterProvider(types.FallbackProvider{Capability: "email_delivery"},
		func(ctx context.Context, e *types.ErrorLogEntry) error { return nil }, nil))

	ok := types.FallbackProvider{ID: "x", Capability: "email_delivery"}
	require.NoError(t, m.RegisterProvider(ok, func(ctx context.Context, e *types.ErrorLogEntry) error { return nil }, nil))
	assert.Error(t, m.RegisterProvider(ok, func(ctx context.Context, e *types.ErrorLogEntry) error { return nil }, nil),
		"duplicate registration rejected")

	require.NoError(t, m.UnregisterProvider("x"))
	assert.Error(t, m.UnregisterProvider("x"))
}

func TestDegradedController_AtMostOneActiveConfig(t *testing.T) {
	c := NewDegradedController()
	assert.False(t, c.Active())
	assert.True(t, c.IsFeatureAvailable("analytics"), "everything available outside degraded mode")

	c.Enter(types.DegradedReduced, "provider flapping", types.DegradedModeConfig{
		Features:        map[string]bool{"analytics": true, "bulk_send": false},
		MaxActionsPerHr: 100,
	})
	c.Enter(types.DegradedEmergency, "total outage", types.DegradedModeConfig{
		Features:  map[string]bool{"analytics": false},
		MaxFanOut: 1,
	})

	cfg, active := c.Current()
	require.True(t, active)
	assert.Equal(t, types.DegradedEmergency, cfg.Level, "entering a new level replaces the prior config")
	assert.Equal(t, "total outage", cfg.Reason)
	assert.False(t, c.IsFeatureAvailable("analytics"), "only the latest config's flags apply")
	assert.True(t, c.IsFeatureAvailable("bulk_send"), "features the latest config does not mention stay available")

	c.Exit()
	assert.False(t, c.Active())
	assert.True(t, c.IsFeatureAvailable("analytics"))
}

func TestMemoryStore_CacheTTL(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	s.now = func() time.Time { return base }
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	_, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "expired values are not served")
}
