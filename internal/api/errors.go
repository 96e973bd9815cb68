package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/relayops/sentinel/internal/errorlog"
	"github.com/relayops/sentinel/pkg/types"
)

// ErrorHandler serves the error log surface
type ErrorHandler struct {
	service *errorlog.Service
}

// NewErrorHandler creates a new error log handler
func NewErrorHandler(service *errorlog.Service) *ErrorHandler {
	return &ErrorHandler{service: service}
}

// LogErrorRequest is the body for reporting an error
type LogErrorRequest struct {
	Level    types.Level        `json:"level" binding:"required"`
	Category types.Category     `json:"category" binding:"required"`
	Source   string             `json:"source" binding:"required"`
	Message  string             `json:"message" binding:"required"`
	Context  types.ErrorContext `json:"context"`
}

// LogError ingests one error report
func (h *ErrorHandler) LogError(c *gin.Context) {
	var req LogErrorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "invalid request body: "+err.Error())
		return
	}

	id := h.service.LogError(c.Request.Context(), req.Level, req.Category, req.Source, req.Message, req.Context, nil)
	if id == uuid.Nil {
		// Filtered by the enabled set; acknowledged but not recorded.
		SuccessResponse(c, gin.H{"accepted": false})
		return
	}
	CreatedResponse(c, gin.H{"accepted": true, "id": id})
}

// ListErrors returns entries matching the query filter
func (h *ErrorHandler) ListErrors(c *gin.Context) {
	filter := types.ErrorFilter{
		Level:    types.Level(c.Query("level")),
		Category: types.Category(c.Query("category")),
		Source:   c.Query("source"),
	}
	if v := c.Query("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			BadRequestResponse(c, "invalid resolved flag")
			return
		}
		filter.Resolved = &resolved
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			BadRequestResponse(c, "invalid since timestamp")
			return
		}
		filter.Since = since
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			BadRequestResponse(c, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	entries, err := h.service.GetErrors(c.Request.Context(), filter)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, entries)
}

// GetSummary returns aggregate counts over a window
func (h *ErrorHandler) GetSummary(c *gin.Context) {
	window := windowHours(c)
	summary, err := h.service.GetErrorSummary(c.Request.Context(), window)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, summary)
}

// GetMetrics returns rate and trend aggregates over a window
func (h *ErrorHandler) GetMetrics(c *gin.Context) {
	window := windowHours(c)
	metrics, err := h.service.GetErrorMetrics(c.Request.Context(), window)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, metrics)
}

// ResolveRequest is the body for resolving an entry
type ResolveRequest struct {
	Note string `json:"note"`
}

// Resolve marks an entry resolved
func (h *ErrorHandler) Resolve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequestResponse(c, "invalid error id")
		return
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		BadRequestResponse(c, "invalid request body")
		return
	}

	if err := h.service.MarkResolved(c.Request.Context(), id, req.Note); err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, gin.H{"resolved": true})
}

func windowHours(c *gin.Context) int {
	window := 24
	if v := c.Query("window_hours"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			window = parsed
		}
	}
	return window
}
