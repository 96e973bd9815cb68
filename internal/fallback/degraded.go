package fallback

import (
	"sync"
	"time"

	"github.com/relayops/sentinel/pkg/logging"
	"github.com/relayops/sentinel/pkg/types"
)

// DegradedController holds the single process-wide degraded-mode state.
// Entering a new level replaces the prior configuration atomically.
type DegradedController struct {
	mu      sync.RWMutex
	current *types.DegradedModeConfig
	logger  *logging.Logger
	now     func() time.Time
}

// NewDegradedController creates a controller with degraded mode inactive
func NewDegradedController() *DegradedController {
	return &DegradedController{
		logger: logging.GetLogger(),
		now:    time.Now,
	}
}

// Enter activates a degraded level, replacing any prior configuration
func (c *DegradedController) Enter(level types.DegradedLevel, reason string, config types.DegradedModeConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	config.Level = level
	config.Reason = reason
	config.EnteredAt = c.now()
	c.current = &config

	c.logger.Warn("Entered degraded mode",
		"level", string(level),
		"reason", reason,
	)
}

// Exit deactivates degraded mode
func (c *DegradedController) Exit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.logger.Info("Exited degraded mode", "level", string(c.current.Level))
	}
	c.current = nil
}

// Active reports whether degraded mode is on
func (c *DegradedController) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current != nil
}

// Current returns the active configuration, if any
func (c *DegradedController) Current() (types.DegradedModeConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return types.DegradedModeConfig{}, false
	}
	return *c.current, true
}

// IsFeatureAvailable reports whether a feature is enabled under the active
// configuration. Outside degraded mode, and for features the configuration
// does not mention, everything is available.
func (c *DegradedController) IsFeatureAvailable(feature string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.current == nil {
		return true
	}
	enabled, listed := c.current.Features[feature]
	if !listed {
		return true
	}
	return enabled
}
