package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the resilience core
type Metrics struct {
	// Intake metrics
	ErrorsIngested     *prometheus.CounterVec
	ErrorsDeduplicated *prometheus.CounterVec
	ErrorsFiltered     prometheus.Counter
	ErrorsDropped      prometheus.Counter
	FlushBatches       *prometheus.CounterVec
	PendingBufferSize  prometheus.Gauge

	// Alerting metrics
	AlertsFired      *prometheus.CounterVec
	AlertsThrottled  *prometheus.CounterVec
	ActionExecutions *prometheus.CounterVec
	ActionDuration   *prometheus.HistogramVec
	ActionQueueDepth prometheus.Gauge

	// Recovery metrics
	RecoveryExecutions *prometheus.CounterVec
	RecoveryAttempts   *prometheus.CounterVec
	RecoveryDuration   *prometheus.HistogramVec

	// Breaker and fallback metrics
	BreakerState  *prometheus.GaugeVec
	FallbackCalls *prometheus.CounterVec
	ProviderProbe *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "sentinel",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Metrics{}
	}

	ns := config.Namespace

	m := &Metrics{
		ErrorsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "errors_ingested_total",
				Help:      "Total number of errors accepted by intake",
			},
			[]string{"level", "category", "source"},
		),
		ErrorsDeduplicated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "errors_deduplicated_total",
				Help:      "Errors folded into an existing entry by signature",
			},
			[]string{"level", "category"},
		),
		ErrorsFiltered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "errors_filtered_total",
				Help:      "Errors dropped by the enabled-set filter",
			},
		),
		ErrorsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "errors_dropped_total",
				Help:      "Errors dropped after the requeue bound was exceeded",
			},
		),
		FlushBatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "flush_batches_total",
				Help:      "Log store flush batches by outcome",
			},
			[]string{"outcome"},
		),
		PendingBufferSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "pending_buffer_size",
				Help:      "Entries waiting in the intake pending buffer",
			},
		),
		AlertsFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "alerts_fired_total",
				Help:      "Alert instances created per rule",
			},
			[]string{"rule", "severity"},
		),
		AlertsThrottled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "alerts_throttled_total",
				Help:      "Rule matches suppressed by the throttle window",
			},
			[]string{"rule"},
		),
		ActionExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "alert_action_executions_total",
				Help:      "Notification action executions by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "alert_action_duration_seconds",
				Help:      "Notification action execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"transport"},
		),
		ActionQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "alert_action_queue_depth",
				Help:      "Actions waiting in the alert action queue",
			},
		),
		RecoveryExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "recovery_executions_total",
				Help:      "Recovery executions by final status",
			},
			[]string{"status"},
		),
		RecoveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "recovery_attempts_total",
				Help:      "Individual retry and fallback attempts by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		RecoveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "recovery_duration_seconds",
				Help:      "End-to-end recovery execution duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"status"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "breaker_state",
				Help:      "Circuit breaker state per source (0 closed, 1 half-open, 2 open)",
			},
			[]string{"source"},
		),
		FallbackCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "fallback_calls_total",
				Help:      "Fallback strategy executions by capability and outcome",
			},
			[]string{"capability", "strategy", "outcome"},
		),
		ProviderProbe: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "provider_probes_total",
				Help:      "Health check probes by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
	}

	m.register()
	return m
}

func (m *Metrics) register() {
	prometheus.MustRegister(
		m.ErrorsIngested,
		m.ErrorsDeduplicated,
		m.ErrorsFiltered,
		m.ErrorsDropped,
		m.FlushBatches,
		m.PendingBufferSize,
		m.AlertsFired,
		m.AlertsThrottled,
		m.ActionExecutions,
		m.ActionDuration,
		m.ActionQueueDepth,
		m.RecoveryExecutions,
		m.RecoveryAttempts,
		m.RecoveryDuration,
		m.BreakerState,
		m.FallbackCalls,
		m.ProviderProbe,
	)
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
