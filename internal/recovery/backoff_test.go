package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relayops/sentinel/pkg/types"
)

func TestDelay_Exponential(t *testing.T) {
	strategy := types.RetryStrategy{
		Type:              types.RetryExponential,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
	}

	assert.Equal(t, time.Duration(0), Delay(strategy, 1), "first attempt is never delayed")
	assert.Equal(t, 1*time.Second, Delay(strategy, 2))
	assert.Equal(t, 2*time.Second, Delay(strategy, 3))
	assert.Equal(t, 4*time.Second, Delay(strategy, 4))
}

func TestDelay_ExponentialClampedToMax(t *testing.T) {
	strategy := types.RetryStrategy{
		Type:              types.RetryExponential,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          3 * time.Second,
	}

	assert.Equal(t, 3*time.Second, Delay(strategy, 4))
	assert.Equal(t, 3*time.Second, Delay(strategy, 10))
}

func TestDelay_Immediate(t *testing.T) {
	strategy := types.RetryStrategy{Type: types.RetryImmediate, InitialDelay: time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, time.Duration(0), Delay(strategy, attempt))
	}
}

func TestDelay_Linear(t *testing.T) {
	strategy := types.RetryStrategy{
		Type:              types.RetryLinear,
		InitialDelay:      time.Second,
		BackoffMultiplier: 1,
	}

	assert.Equal(t, time.Duration(0), Delay(strategy, 1))
	assert.Equal(t, 1*time.Second, Delay(strategy, 2))
	assert.Equal(t, 2*time.Second, Delay(strategy, 3))
	assert.Equal(t, 3*time.Second, Delay(strategy, 4))
}

func TestDelay_Fibonacci(t *testing.T) {
	strategy := types.RetryStrategy{
		Type:         types.RetryFibonacci,
		InitialDelay: time.Second,
	}

	assert.Equal(t, time.Duration(0), Delay(strategy, 1))
	assert.Equal(t, 1*time.Second, Delay(strategy, 2))
	assert.Equal(t, 2*time.Second, Delay(strategy, 3))
	assert.Equal(t, 3*time.Second, Delay(strategy, 4))
	assert.Equal(t, 5*time.Second, Delay(strategy, 5))
}

func TestDelay_Custom(t *testing.T) {
	strategy := types.RetryStrategy{
		Type:        types.RetryCustom,
		CustomDelay: func(attempt int) time.Duration { return time.Duration(attempt) * 100 * time.Millisecond },
	}

	assert.Equal(t, time.Duration(0), Delay(strategy, 1))
	assert.Equal(t, 200*time.Millisecond, Delay(strategy, 2))
	assert.Equal(t, 300*time.Millisecond, Delay(strategy, 3))

	// A custom strategy without a function degrades to no delay.
	assert.Equal(t, time.Duration(0), Delay(types.RetryStrategy{Type: types.RetryCustom}, 3))
}

func TestDelay_JitterStaysWithinTenPercent(t *testing.T) {
	strategy := types.RetryStrategy{
		Type:              types.RetryExponential,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
	}

	for i := 0; i < 50; i++ {
		d := Delay(strategy, 2)
		assert.GreaterOrEqual(t, d, 900*time.Millisecond)
		assert.LessOrEqual(t, d, 1100*time.Millisecond)
	}
}
