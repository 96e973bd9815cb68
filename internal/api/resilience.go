package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relayops/sentinel/internal/breaker"
	"github.com/relayops/sentinel/internal/fallback"
	"github.com/relayops/sentinel/internal/recovery"
	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/types"
)

func notFound(resource string) error {
	return errors.NewNotFoundError(resource)
}

// RecoveryHandler serves the recovery execution surface
type RecoveryHandler struct {
	orchestrator *recovery.Orchestrator
}

// NewRecoveryHandler creates a new recovery handler
func NewRecoveryHandler(orchestrator *recovery.Orchestrator) *RecoveryHandler {
	return &RecoveryHandler{orchestrator: orchestrator}
}

// Execute starts recovery for an error
func (h *RecoveryHandler) Execute(c *gin.Context) {
	errorID, err := uuid.Parse(c.Param("errorId"))
	if err != nil {
		BadRequestResponse(c, "invalid error id")
		return
	}

	execID, err := h.orchestrator.ExecuteRecovery(c.Request.Context(), errorID, nil)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	CreatedResponse(c, gin.H{"execution_id": execID})
}

// GetStatus returns one recovery execution
func (h *RecoveryHandler) GetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid execution id")
		return
	}
	exec, ok := h.orchestrator.GetStatus(id)
	if !ok {
		ErrorResponseFromError(c, notFound("recovery execution"))
		return
	}
	SuccessResponse(c, exec)
}

// List returns all recovery executions
func (h *RecoveryHandler) List(c *gin.Context) {
	SuccessResponse(c, h.orchestrator.ListExecutions())
}

// ListPlans returns the registered recovery plans. Plans bind to in-process
// action funcs, so they are registered in code; this surface is read-only.
func (h *RecoveryHandler) ListPlans(c *gin.Context) {
	SuccessResponse(c, h.orchestrator.ListPlans())
}

// Cancel stops an in-progress execution
func (h *RecoveryHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid execution id")
		return
	}
	if err := h.orchestrator.Cancel(id); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"cancelled": true})
}

// BreakerHandler serves circuit breaker state
type BreakerHandler struct {
	registry *breaker.Registry
}

// NewBreakerHandler creates a new breaker handler
func NewBreakerHandler(registry *breaker.Registry) *BreakerHandler {
	return &BreakerHandler{registry: registry}
}

// List returns snapshots for every tracked source
func (h *BreakerHandler) List(c *gin.Context) {
	sources := h.registry.Sources()
	snapshots := make([]breaker.Snapshot, 0, len(sources))
	for _, source := range sources {
		snapshots = append(snapshots, h.registry.Snapshot(source))
	}
	SuccessResponse(c, snapshots)
}

// Get returns one source's breaker snapshot
func (h *BreakerHandler) Get(c *gin.Context) {
	SuccessResponse(c, h.registry.Snapshot(c.Param("source")))
}

// FallbackHandler serves the provider registry and degraded-mode surface
type FallbackHandler struct {
	manager *fallback.Manager
}

// NewFallbackHandler creates a new fallback handler
func NewFallbackHandler(manager *fallback.Manager) *FallbackHandler {
	return &FallbackHandler{manager: manager}
}

// ListProviders returns all registered fallback providers
func (h *FallbackHandler) ListProviders(c *gin.Context) {
	SuccessResponse(c, h.manager.Providers())
}

// ProviderHealthRequest sets a provider's health manually
type ProviderHealthRequest struct {
	Healthy *bool `json:"healthy" binding:"required"`
}

// UpdateProviderHealth records a health observation for a provider
func (h *FallbackHandler) UpdateProviderHealth(c *gin.Context) {
	var req ProviderHealthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}
	if err := h.manager.UpdateProviderHealth(c.Param("id"), *req.Healthy); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"updated": true})
}

// UnregisterProvider removes a fallback provider
func (h *FallbackHandler) UnregisterProvider(c *gin.Context) {
	if err := h.manager.UnregisterProvider(c.Param("id")); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"deleted": true})
}

// GetDegradedMode returns the active degraded-mode config, if any
func (h *FallbackHandler) GetDegradedMode(c *gin.Context) {
	cfg, active := h.manager.Degraded().Current()
	if !active {
		SuccessResponse(c, gin.H{"active": false})
		return
	}
	SuccessResponse(c, gin.H{"active": true, "config": cfg})
}

// EnterDegradedRequest activates a degraded level
type EnterDegradedRequest struct {
	Level  types.DegradedLevel      `json:"level" binding:"required"`
	Reason string                   `json:"reason" binding:"required"`
	Config types.DegradedModeConfig `json:"config"`
}

// EnterDegradedMode activates a degraded level
func (h *FallbackHandler) EnterDegradedMode(c *gin.Context) {
	var req EnterDegradedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}

	switch req.Level {
	case types.DegradedMinimal, types.DegradedReduced, types.DegradedEmergency:
	default:
		BadRequestResponse(c, "unknown degraded level: "+string(req.Level))
		return
	}

	h.manager.Degraded().Enter(req.Level, req.Reason, req.Config)
	SuccessResponse(c, gin.H{"active": true, "level": req.Level})
}

// GetFeatureAvailability reports whether a feature is available under the
// current degraded-mode config
func (h *FallbackHandler) GetFeatureAvailability(c *gin.Context) {
	feature := c.Param("feature")
	SuccessResponse(c, gin.H{
		"feature":   feature,
		"available": h.manager.Degraded().IsFeatureAvailable(feature),
	})
}

// ExitDegradedMode deactivates degraded mode
func (h *FallbackHandler) ExitDegradedMode(c *gin.Context) {
	h.manager.Degraded().Exit()
	SuccessResponse(c, gin.H{"active": false})
}
