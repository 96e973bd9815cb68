package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relayops/sentinel/internal/alert"
	"github.com/relayops/sentinel/internal/breaker"
	"github.com/relayops/sentinel/internal/errorlog"
	"github.com/relayops/sentinel/internal/fallback"
	"github.com/relayops/sentinel/internal/recovery"
	"github.com/relayops/sentinel/pkg/config"
	"github.com/relayops/sentinel/pkg/metrics"
)

// HealthChecker reports the health of a backing dependency
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps carries everything the router serves
type Deps struct {
	Errors    *errorlog.Service
	Alerts    *alert.Engine
	Recovery  *recovery.Orchestrator
	Breakers  *breaker.Registry
	Fallbacks *fallback.Manager
	// Checks maps dependency names to health checkers; nil values are skipped
	Checks map[string]HealthChecker
}

// NewRouter creates and configures the admin API router
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(RecoveryMiddleware())

	router.GET("/health", healthHandler(deps.Checks))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	errorHandler := NewErrorHandler(deps.Errors)
	alertHandler := NewAlertHandler(deps.Alerts)
	recoveryHandler := NewRecoveryHandler(deps.Recovery)
	breakerHandler := NewBreakerHandler(deps.Breakers)
	fallbackHandler := NewFallbackHandler(deps.Fallbacks)

	v1 := router.Group("/api/v1")
	{
		errs := v1.Group("/errors")
		{
			errs.POST("", errorHandler.LogError)
			errs.GET("", errorHandler.ListErrors)
			errs.GET("/summary", errorHandler.GetSummary)
			errs.GET("/metrics", errorHandler.GetMetrics)
			errs.POST("/:id/resolve", errorHandler.Resolve)
		}

		rules := v1.Group("/alert-rules")
		{
			rules.POST("", alertHandler.CreateRule)
			rules.GET("", alertHandler.ListRules)
			rules.GET("/:id", alertHandler.GetRule)
			rules.PUT("/:id", alertHandler.UpdateRule)
			rules.DELETE("/:id", alertHandler.DeleteRule)
			rules.POST("/:id/test", alertHandler.TestRule)
		}

		alerts := v1.Group("/alerts")
		{
			alerts.GET("", alertHandler.ListActiveAlerts)
			alerts.POST("/:id/acknowledge", alertHandler.Acknowledge)
			alerts.POST("/:id/resolve", alertHandler.Resolve)
			alerts.POST("/:id/escalate", alertHandler.Escalate)
		}

		recoveries := v1.Group("/recovery")
		{
			recoveries.GET("", recoveryHandler.List)
			recoveries.GET("/plans", recoveryHandler.ListPlans)
			recoveries.POST("/errors/:errorId", recoveryHandler.Execute)
			recoveries.GET("/:id", recoveryHandler.GetStatus)
			recoveries.POST("/:id/cancel", recoveryHandler.Cancel)
		}

		breakers := v1.Group("/breakers")
		{
			breakers.GET("", breakerHandler.List)
			breakers.GET("/:source", breakerHandler.Get)
		}

		providers := v1.Group("/fallback-providers")
		{
			providers.GET("", fallbackHandler.ListProviders)
			providers.POST("/:id/health", fallbackHandler.UpdateProviderHealth)
			providers.DELETE("/:id", fallbackHandler.UnregisterProvider)
		}

		degraded := v1.Group("/degraded-mode")
		{
			degraded.GET("", fallbackHandler.GetDegradedMode)
			degraded.GET("/features/:feature", fallbackHandler.GetFeatureAvailability)
			degraded.POST("", fallbackHandler.EnterDegradedMode)
			degraded.DELETE("", fallbackHandler.ExitDegradedMode)
		}
	}

	return router
}

func healthHandler(checks map[string]HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		result := gin.H{"status": "ok"}
		deps := gin.H{}

		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Health(c.Request.Context()); err != nil {
				deps[name] = "unhealthy"
				status = http.StatusServiceUnavailable
				result["status"] = "degraded"
			} else {
				deps[name] = "ok"
			}
		}
		if len(deps) > 0 {
			result["dependencies"] = deps
		}
		c.JSON(status, result)
	}
}
