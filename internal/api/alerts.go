package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relayops/sentinel/internal/alert"
	"github.com/relayops/sentinel/pkg/types"
)

// AlertHandler serves the alert rule and alert instance surface
type AlertHandler struct {
	engine *alert.Engine
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(engine *alert.Engine) *AlertHandler {
	return &AlertHandler{engine: engine}
}

// CreateRule adds an alert rule
func (h *AlertHandler) CreateRule(c *gin.Context) {
	var rule types.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}
	if err := h.engine.CreateRule(c.Request.Context(), &rule); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	CreatedResponse(c, rule)
}

// UpdateRule replaces an alert rule
func (h *AlertHandler) UpdateRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid rule id")
		return
	}

	var rule types.AlertRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}
	rule.ID = id

	if err := h.engine.UpdateRule(c.Request.Context(), &rule); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, rule)
}

// DeleteRule removes an alert rule
func (h *AlertHandler) DeleteRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid rule id")
		return
	}
	if err := h.engine.DeleteRule(c.Request.Context(), id); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"deleted": true})
}

// GetRule returns one alert rule
func (h *AlertHandler) GetRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid rule id")
		return
	}
	rule, ok := h.engine.GetRule(id)
	if !ok {
		ErrorResponseFromError(c, notFound("alert rule"))
		return
	}
	SuccessResponse(c, rule)
}

// ListRules returns all alert rules
func (h *AlertHandler) ListRules(c *gin.Context) {
	SuccessResponse(c, h.engine.ListRules())
}

// TestRuleRequest carries the sample entry for a rule dry run
type TestRuleRequest struct {
	Sample types.ErrorLogEntry `json:"sample"`
}

// TestRule evaluates a rule against a sample entry without firing it
func (h *AlertHandler) TestRule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid rule id")
		return
	}

	var req TestRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}

	match, err := h.engine.TestRule(id, &req.Sample)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"match": match})
}

// ListActiveAlerts returns alert instances that are not resolved
func (h *AlertHandler) ListActiveAlerts(c *gin.Context) {
	SuccessResponse(c, h.engine.GetActiveAlerts())
}

// AcknowledgeRequest names who acknowledged an alert
type AcknowledgeRequest struct {
	By string `json:"by" binding:"required"`
}

// Acknowledge marks an alert acknowledged
func (h *AlertHandler) Acknowledge(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid alert id")
		return
	}

	var req AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.engine.AcknowledgeAlert(id, req.By); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"acknowledged": true})
}

// Resolve marks an alert resolved
func (h *AlertHandler) Resolve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid alert id")
		return
	}
	if err := h.engine.ResolveAlert(id); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"resolved": true})
}

// Escalate bumps an alert's escalation level
func (h *AlertHandler) Escalate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid alert id")
		return
	}
	if err := h.engine.EscalateAlert(id); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"escalated": true})
}
