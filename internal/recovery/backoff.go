package recovery

import (
	"math/rand"
	"time"

	"github.com/relayops/sentinel/pkg/types"
)

// Delay returns the pause before the given 1-based attempt under a retry
// strategy. The first attempt is never delayed. The nominal delay is clamped
// to MaxDelay before jitter is applied.
func Delay(strategy types.RetryStrategy, attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	var delay time.Duration
	switch strategy.Type {
	case types.RetryImmediate:
		return 0
	case types.RetryExponential:
		delay = strategy.InitialDelay
		multiplier := strategy.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = 2
		}
		for i := 2; i < attempt; i++ {
			delay = time.Duration(float64(delay) * multiplier)
			if strategy.MaxDelay > 0 && delay > strategy.MaxDelay {
				break
			}
		}
	case types.RetryLinear:
		multiplier := strategy.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = 1
		}
		delay = strategy.InitialDelay + time.Duration(float64(attempt-2)*multiplier*float64(strategy.InitialDelay))
	case types.RetryFibonacci:
		delay = time.Duration(fib(attempt)) * strategy.InitialDelay
	case types.RetryCustom:
		if strategy.CustomDelay == nil {
			return 0
		}
		delay = strategy.CustomDelay(attempt)
	default:
		return 0
	}

	if strategy.MaxDelay > 0 && delay > strategy.MaxDelay {
		delay = strategy.MaxDelay
	}
	if strategy.Jitter && delay > 0 {
		delay = jitter(delay)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// jitter spreads a delay by up to 10% in either direction
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.1
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}

// fib(2)=1, fib(3)=2, fib(4)=3, fib(5)=5
func fib(n int) int {
	a, b := 1, 1
	for i := 2; i < n; i++ {
		a, b = b, a+b
	}
	return b
}
