package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayops/sentinel/internal/alert"
	"github.com/relayops/sentinel/internal/breaker"
	"github.com/relayops/sentinel/internal/errorlog"
	"github.com/relayops/sentinel/internal/fallback"
	"github.com/relayops/sentinel/internal/recovery"
	"github.com/relayops/sentinel/pkg/config"
	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/types"
)

func newTestRouter(t *testing.T) (*gin.Engine, *errorlog.Service) {
	t.Helper()

	errSvc := errorlog.NewService(errorlog.DefaultConfig(), errorlog.NewMemoryStore())
	engine := alert.NewEngine(alert.DefaultConfig(), nil, nil)
	orch := recovery.NewOrchestrator(errSvc)
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 3})
	manager := fallback.NewManager(fallback.DefaultConfig(),
		fallback.NewMemoryStore(), fallback.NewMemoryStore(), fallback.NewDegradedController(), nil)

	cfg := &config.Config{Logging: config.LoggingConfig{Level: "info"}}
	router := NewRouter(cfg, Deps{
		Errors:    errSvc,
		Alerts:    engine,
		Recovery:  orch,
		Breakers:  breakers,
		Fallbacks: manager,
	})
	return router, errSvc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAPI_LogAndListErrors(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/errors", gin.H{
		"level":    "critical",
		"category": "email_delivery",
		"source":   "resend_client",
		"message":  "connection refused",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Success)

	w = doJSON(t, router, http.MethodGet, "/api/v1/errors?level=critical", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Data []struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Data, 1)
	assert.Equal(t, "connection refused", listed.Data[0].Message)
}

func TestAPI_LogErrorValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/errors", gin.H{"level": "critical"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_ErrorSummaryAndMetrics(t *testing.T) {
	router, svc := newTestRouter(t)
	svc.LogWarning(context.Background(), types.CategoryWebhook, "hook", "timeout", types.ErrorContext{}, nil)

	w := doJSON(t, router, http.MethodGet, "/api/v1/errors/summary?window_hours=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/errors/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_AlertRuleLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/alert-rules", gin.H{
		"name":     "critical failures",
		"enabled":  true,
		"severity": "critical",
		"conditions": []gin.H{
			{"type": "pattern", "level": "critical"},
		},
		"actions": []gin.H{
			{"type": "console", "enabled": true},
		},
		"throttle_minutes": 15,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Data.ID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/alert-rules/"+created.Data.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/alert-rules/"+created.Data.ID+"/test", gin.H{
		"sample": gin.H{"level": "critical", "category": "email_delivery", "source": "x", "message": "boom"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var tested struct {
		Data struct {
			Match bool `json:"match"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tested))
	assert.True(t, tested.Data.Match)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/alert-rules/"+created.Data.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/alert-rules/"+created.Data.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "missing rules map to 404")
}

func TestAPI_RuleValidationErrorsMapTo400(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/alert-rules", gin.H{
		"name":       "no actions",
		"conditions": []gin.H{{"type": "pattern", "level": "critical"}},
		"actions":    []gin.H{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_BreakerSnapshots(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/breakers", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/breakers/resend_client", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap struct {
		Data struct {
			State string `json:"state"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "CLOSED", snap.Data.State)
}

func TestAPI_DegradedModeRoundTrip(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/degraded-mode", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active":false`)

	w = doJSON(t, router, http.MethodPost, "/api/v1/degraded-mode", gin.H{
		"level":  "reduced",
		"reason": "provider flapping",
		"config": gin.H{"features": gin.H{"analytics": false}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/degraded-mode", nil)
	assert.Contains(t, w.Body.String(), `"active":true`)

	w = doJSON(t, router, http.MethodGet, "/api/v1/degraded-mode/features/analytics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"available":false`)

	w = doJSON(t, router, http.MethodGet, "/api/v1/degraded-mode/features/send", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"available":true`, "unlisted features stay available")

	w = doJSON(t, router, http.MethodPost, "/api/v1/degraded-mode", gin.H{
		"level":  "not-a-level",
		"reason": "x",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/degraded-mode", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_RecoveryNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/recovery/errors/00000000-0000-0000-0000-000000000001", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/recovery", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_Health(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

type failingCheck struct{}

func (failingCheck) Health(ctx context.Context) error {
	return errors.NewInternalError("down")
}

func TestAPI_HealthReportsUnhealthyDependency(t *testing.T) {
	errSvc := errorlog.NewService(errorlog.DefaultConfig(), errorlog.NewMemoryStore())
	cfg := &config.Config{Logging: config.LoggingConfig{Level: "info"}}
	router := NewRouter(cfg, Deps{
		Errors:    errSvc,
		Alerts:    alert.NewEngine(alert.DefaultConfig(), nil, nil),
		Recovery:  recovery.NewOrchestrator(errSvc),
		Breakers:  breaker.NewRegistry(breaker.Config{FailureThreshold: 3}),
		Fallbacks: fallback.NewManager(fallback.DefaultConfig(), nil, nil, fallback.NewDegradedController(), nil),
		Checks:    map[string]HealthChecker{"database": failingCheck{}},
	})

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"unhealthy"`)
}
