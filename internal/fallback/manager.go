// Package fallback keeps the system delivering when primary providers fail:
// a registry of ranked alternate providers with health checking, a cached
// response path, a park-for-later queue, and the degraded-mode controller.
package fallback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relayops/sentinel/internal/ratelimit"
	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/logging"
	"github.com/relayops/sentinel/pkg/metrics"
	"github.com/relayops/sentinel/pkg/types"
)

// ProviderFunc invokes an alternate provider for an entry
type ProviderFunc func(ctx context.Context, entry *types.ErrorLogEntry) error

// ProbeFunc health-checks a provider
type ProbeFunc func(ctx context.Context) error

// Config holds fallback manager configuration
type Config struct {
	HealthCheckInterval time.Duration
	ProbeTimeout        time.Duration
	// FailureThreshold is the default for providers registered without one
	FailureThreshold int
}

// DefaultConfig returns default fallback configuration
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 60 * time.Second,
		ProbeTimeout:        5 * time.Second,
		FailureThreshold:    3,
	}
}

type provider struct {
	info   types.FallbackProvider
	fn     ProviderFunc
	probe  ProbeFunc
	bucket *ratelimit.TokenBucket
}

// Manager is the fallback provider registry and strategy executor
type Manager struct {
	config   Config
	cache    ResponseCache
	queue    RetryQueue
	degraded *DegradedController
	metrics  *metrics.Metrics
	logger   *logging.Logger

	mu        sync.Mutex
	providers map[string]*provider

	stopCh chan struct{}
	doneCh chan struct{}
	now    func() time.Time
}

// NewManager creates a fallback manager. cache and queue may be nil when the
// corresponding strategies are unused; degraded must be non-nil.
func NewManager(config Config, cache ResponseCache, queue RetryQueue, degraded *DegradedController, m *metrics.Metrics) *Manager {
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = 60 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}

	return &Manager{
		config:    config,
		cache:     cache,
		queue:     queue,
		degraded:  degraded,
		metrics:   m,
		logger:    logging.GetLogger(),
		providers: make(map[string]*provider),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		now:       time.Now,
	}
}

// RegisterProvider adds an alternate provider for a capability. probe may be
// nil, in which case the health-check loop leaves the provider's health
// untouched.
func (m *Manager) RegisterProvider(info types.FallbackProvider, fn ProviderFunc, probe ProbeFunc) error {
	if info.ID == "" || info.Capability == "" {
		return errors.NewValidationError("provider id and capability are required")
	}
	if fn == nil {
		return errors.NewValidationError("provider function is required")
	}
	if info.FailureThreshold <= 0 {
		info.FailureThreshold = m.config.FailureThreshold
	}
	info.Enabled = true
	info.Healthy = true
	info.FailureCount = 0

	p := &provider{info: info, fn: fn, probe: probe}
	if info.RateLimit != nil {
		p.bucket = ratelimit.NewTokenBucket(info.RateLimit.Capacity, info.RateLimit.RefillRate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.providers[info.ID]; exists {
		return errors.NewConflictError("provider already registered: " + info.ID)
	}
	m.providers[info.ID] = p

	m.logger.Info("Fallback provider registered",
		"provider", info.ID,
		"capability", info.Capability,
		"priority", info.Priority,
	)
	return nil
}

// UnregisterProvider removes a provider
func (m *Manager) UnregisterProvider(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.providers[id]; !ok {
		return errors.NewNotFoundError("fallback provider")
	}
	delete(m.providers, id)
	return nil
}

// UpdateProviderHealth records a success or failure for a provider. A
// provider whose failure count reaches its threshold is disabled; a success
// re-enables it and resets the count.
func (m *Manager) UpdateProviderHealth(id string, healthy bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[id]
	if !ok {
		return errors.NewNotFoundError("fallback provider")
	}
	m.updateHealthLocked(p, healthy)
	return nil
}

func (m *Manager) updateHealthLocked(p *provider, healthy bool) {
	p.info.Healthy = healthy
	if healthy {
		p.info.FailureCount = 0
		if !p.info.Enabled {
			p.info.Enabled = true
			m.logger.Info("Fallback provider re-enabled", "provider", p.info.ID)
		}
		return
	}

	p.info.FailureCount++
	if p.info.Enabled && p.info.FailureCount >= p.info.FailureThreshold {
		p.info.Enabled = false
		m.logger.Warn("Fallback provider disabled after repeated failures",
			"provider", p.info.ID,
			"failure_count", p.info.FailureCount,
		)
	}
}

// Providers returns a snapshot of all registered providers
func (m *Manager) Providers() []types.FallbackProvider {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]types.FallbackProvider, 0, len(m.providers))
	for _, p := range m.providers {
		result = append(result, p.info)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Capability != result[j].Capability {
			return result[i].Capability < result[j].Capability
		}
		return result[i].Priority < result[j].Priority
	})
	return result
}

// Degraded returns the degraded-mode controller
func (m *Manager) Degraded() *DegradedController {
	return m.degraded
}

// ExecuteFallback runs one fallback strategy for an entry. Called by the
// recovery orchestrator during the fallback phase.
func (m *Manager) ExecuteFallback(ctx context.Context, strategy types.FallbackStrategy, entry *types.ErrorLogEntry) error {
	var err error
	switch strategy.Type {
	case types.FallbackAlternateProvider:
		err = m.tryAlternateProviders(ctx, entry)
	case types.FallbackCachedResponse:
		err = m.serveCachedResponse(ctx, entry)
	case types.FallbackQueueForLater:
		err = m.queueForLater(ctx, entry)
	case types.FallbackDegradedMode:
		m.enterDegradedMode(entry)
	case types.FallbackManualIntervention:
		// Handing off to a human resolves the automated flow.
		m.logger.Warn("Error flagged for manual intervention",
			"error_id", entry.ID.String(),
			"source", entry.Source,
			"message", entry.Message,
		)
	default:
		err = errors.NewValidationError("unknown fallback strategy: " + string(strategy.Type))
	}

	if m.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		m.metrics.FallbackCalls.WithLabelValues(string(entry.Category), string(strategy.Type), outcome).Inc()
	}
	return err
}

// tryAlternateProviders walks the enabled, healthy providers for the entry's
// capability in ascending priority order
func (m *Manager) tryAlternateProviders(ctx context.Context, entry *types.ErrorLogEntry) error {
	capability := string(entry.Category)

	m.mu.Lock()
	var candidates []*provider
	for _, p := range m.providers {
		if p.info.Capability == capability && p.info.Enabled && p.info.Healthy {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].info.Priority < candidates[j].info.Priority
	})
	m.mu.Unlock()

	if len(candidates) == 0 {
		return errors.NewProviderError(capability, "no healthy alternate provider available")
	}

	var lastErr error
	for _, p := range candidates {
		if p.bucket != nil && !p.bucket.TryConsume() {
			lastErr = errors.NewRateLimitError("provider rate limited: " + p.info.ID)
			continue
		}

		err := p.fn(ctx, entry)

		m.mu.Lock()
		m.updateHealthLocked(p, err == nil)
		m.mu.Unlock()

		if err == nil {
			m.logger.Info("Alternate provider handled delivery",
				"provider", p.info.ID,
				"error_id", entry.ID.String(),
			)
			return nil
		}
		lastErr = err
	}
	return errors.NewProviderError(capability, "all alternate providers failed").WithCause(lastErr)
}

func (m *Manager) serveCachedResponse(ctx context.Context, entry *types.ErrorLogEntry) error {
	if m.cache == nil {
		return errors.NewConfigurationError("no response cache configured")
	}
	_, found, err := m.cache.Get(ctx, CacheKey(entry))
	if err != nil {
		return err
	}
	if !found {
		return errors.NewNotFoundError("cached response")
	}
	return nil
}

func (m *Manager) queueForLater(ctx context.Context, entry *types.ErrorLogEntry) error {
	if m.queue == nil {
		return errors.NewConfigurationError("no retry queue configured")
	}
	if err := m.queue.Enqueue(ctx, entry); err != nil {
		return err
	}
	m.logger.Info("Entry parked for later redelivery", "error_id", entry.ID.String())
	return nil
}

func (m *Manager) enterDegradedMode(entry *types.ErrorLogEntry) {
	m.degraded.Enter(types.DegradedReduced, entry.Message, types.DegradedModeConfig{
		Features: map[string]bool{"analytics": false, "bulk_send": false},
	})
}

// CacheKey derives the response-cache key for an entry
func CacheKey(entry *types.ErrorLogEntry) string {
	key := string(entry.Category)
	if entry.Context.Operation != "" {
		key += ":" + entry.Context.Operation
	}
	return key
}

// Run drives the periodic health-check loop
func (m *Manager) Run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckProviders(ctx)
		}
	}
}

// Stop halts the health-check loop
func (m *Manager) Stop() {
	close(m.stopCh)
	select {
	case <-m.doneCh:
	case <-time.After(5 * time.Second):
	}
}

// CheckProviders probes every provider that registered a probe. A timed-out
// probe counts as a failed probe.
func (m *Manager) CheckProviders(ctx context.Context) {
	m.mu.Lock()
	var toProbe []*provider
	for _, p := range m.providers {
		if p.probe != nil {
			toProbe = append(toProbe, p)
		}
	}
	m.mu.Unlock()

	for _, p := range toProbe {
		probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
		err := p.probe(probeCtx)
		cancel()

		m.mu.Lock()
		p.info.LastProbe = m.now()
		m.updateHealthLocked(p, err == nil)
		m.mu.Unlock()

		outcome := "success"
		if err != nil {
			outcome = "error"
			m.logger.Warn("Provider health probe failed",
				"provider", p.info.ID,
				"error", err.Error(),
			)
		}
		if m.metrics != nil {
			m.metrics.ProviderProbe.WithLabelValues(p.info.ID, outcome).Inc()
		}
	}
}
