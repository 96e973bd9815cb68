package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/relayops/sentinel/internal/alert"
	"github.com/relayops/sentinel/internal/alert/channels"
	"github.com/relayops/sentinel/internal/api"
	"github.com/relayops/sentinel/internal/breaker"
	"github.com/relayops/sentinel/internal/database"
	"github.com/relayops/sentinel/internal/errorlog"
	"github.com/relayops/sentinel/internal/fallback"
	"github.com/relayops/sentinel/internal/recovery"
	"github.com/relayops/sentinel/pkg/config"
	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/logging"
	"github.com/relayops/sentinel/pkg/metrics"
	"github.com/relayops/sentinel/pkg/types"
)

func main() {
	// Load .env if present; environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "sentinel",
		Version:     version(),
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(metrics.DefaultConfig())

	// Persistence: PostgreSQL when configured, in-memory otherwise.
	var store errorlog.Store
	var ruleStore alert.RuleStore
	checks := map[string]api.HealthChecker{}

	var db *database.DB
	if os.Getenv("DB_DISABLED") != "true" {
		db, err = database.New(&cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		migrator, err := database.NewMigrator(&cfg.Database, os.Getenv("MIGRATIONS_PATH"))
		if err != nil {
			log.Fatalf("Failed to create migrator: %v", err)
		}
		if err := migrator.Up(); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		migrator.Close()

		store = database.NewErrorLogRepository(db)
		ruleStore = database.NewAlertRuleRepository(db)
		checks["database"] = db
		logger.Info("Database connection established", "host", cfg.Database.Host)
	} else {
		store = errorlog.NewMemoryStore()
		logger.Warn("Running without a database, error log entries will not survive restarts")
	}

	// Redis backs the cached-response and queue-for-later fallbacks.
	var cache fallback.ResponseCache
	var retryQueue fallback.RetryQueue
	if os.Getenv("REDIS_DISABLED") != "true" {
		redisStore, err := fallback.NewRedisStore(&cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisStore.Close()
		cache = redisStore
		retryQueue = redisStore
		checks["redis"] = redisStore
		logger.Info("Redis connection established", "addr", cfg.Redis.RedisAddr())
	} else {
		memory := fallback.NewMemoryStore()
		cache = memory
		retryQueue = memory
		logger.Warn("Running without Redis, fallback cache and retry queue are in-memory")
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		OnStateChange: func(source string, from, to breaker.State) {
			m.BreakerState.WithLabelValues(source).Set(float64(to))
		},
	})

	degraded := fallback.NewDegradedController()
	fallbacks := fallback.NewManager(fallback.Config{
		HealthCheckInterval: cfg.Fallback.HealthCheckInterval,
		ProbeTimeout:        cfg.Fallback.ProbeTimeout,
		FailureThreshold:    cfg.Fallback.FailureThreshold,
	}, cache, retryQueue, degraded, m)

	engine := alert.NewEngine(alert.Config{
		QueueSize:     cfg.Alerting.QueueSize,
		ActionTimeout: cfg.Alerting.ActionTimeout,
		ActionRetries: cfg.Alerting.ActionRetries,
	}, ruleStore, m)
	engine.RegisterTransport(channels.NewConsoleTransport())
	registerTransportFactories(engine)

	errSvc := errorlog.NewService(errorlog.Config{
		BatchSize:     cfg.Intake.BatchSize,
		FlushInterval: cfg.Intake.FlushInterval,
		RequeueLimit:  cfg.Intake.RequeueLimit,
	}, store,
		errorlog.WithBreaker(breakers),
		errorlog.WithAlertEvaluator(engine),
		errorlog.WithMetrics(m),
	)

	orch := recovery.NewOrchestrator(errSvc,
		recovery.WithFallbackExecutor(fallbacks),
		recovery.WithMetrics(m),
	)
	errSvc.SetAutoRecoverer(orch)

	// Seed persisted alert rules into the engine.
	if ruleStore != nil {
		seedRules(engine, db, logger)
	}

	// Background loops run independently so a slow notification transport
	// never blocks intake or recovery.
	runCtx, stopLoops := context.WithCancel(context.Background())
	go errSvc.Run(runCtx)
	go engine.Run(runCtx)
	go fallbacks.Run(runCtx)
	go evaluateMetricRules(runCtx, errSvc, engine)

	router := api.NewRouter(cfg, api.Deps{
		Errors:    errSvc,
		Alerts:    engine,
		Recovery:  orch,
		Breakers:  breakers,
		Fallbacks: fallbacks,
		Checks:    checks,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting admin API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err.Error())
	}

	// Stop intake last so entries accepted during shutdown still flush.
	stopLoops()
	engine.Stop()
	fallbacks.Stop()
	errSvc.Stop(shutdownCtx)

	logger.Info("Shutdown complete")
}

// evaluateMetricRules feeds rate aggregates to the alert engine on a fixed
// cadence. Per-entry conditions are evaluated inline at intake; rate
// conditions like errors_per_minute only make sense over a window.
func evaluateMetricRules(ctx context.Context, svc *errorlog.Service, engine *alert.Engine) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			em, err := svc.GetErrorMetrics(ctx, 1)
			if err != nil {
				continue
			}
			engine.EvaluateMetrics(ctx, em)
		}
	}
}

// seedRules loads persisted alert rules into the in-memory engine at startup
func seedRules(engine *alert.Engine, db *database.DB, logger *logging.Logger) {
	if db == nil {
		return
	}
	repo := database.NewAlertRuleRepository(db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rules, err := repo.ListRules(ctx)
	if err != nil {
		logger.Error("Failed to load persisted alert rules", "error", err.Error())
		return
	}
	for _, rule := range rules {
		if err := engine.SeedRule(rule); err != nil {
			logger.Warn("Skipping invalid persisted rule", "rule", rule.Name, "error", err.Error())
		}
	}
	logger.Info("Alert rules loaded", "count", len(rules))
}

// registerTransportFactories wires per-action transport builders so each
// rule's own action config decides where its notifications go. Rule
// validation guarantees the config structs are present and populated.
func registerTransportFactories(engine *alert.Engine) {
	engine.RegisterTransportFactory(types.ActionWebhook, func(a types.AlertAction) (alert.Transport, error) {
		if a.Webhook == nil {
			return nil, errors.NewConfigurationError("webhook action has no configuration")
		}
		return channels.NewWebhookTransport(*a.Webhook)
	})
	engine.RegisterTransportFactory(types.ActionEmail, func(a types.AlertAction) (alert.Transport, error) {
		if a.Email == nil {
			return nil, errors.NewConfigurationError("email action has no configuration")
		}
		return channels.NewEmailTransport(*a.Email)
	})
	engine.RegisterTransportFactory(types.ActionChat, func(a types.AlertAction) (alert.Transport, error) {
		if a.Chat == nil {
			return nil, errors.NewConfigurationError("chat action has no configuration")
		}
		return channels.NewChatTransport(*a.Chat)
	})
}

func version() string {
	if v := os.Getenv("SENTINEL_VERSION"); v != "" {
		return v
	}
	return "dev"
}
