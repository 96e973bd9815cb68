package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestRegistry(threshold int, timeout time.Duration) (*Registry, *time.Time) {
	now := time.Now()
	r := NewRegistry(Config{
		FailureThreshold: threshold,
		RecoveryTimeout:  timeout,
	})
	r.now = func() time.Time { return now }
	return r, &now
}

func TestRegistry_OpensAtThreshold(t *testing.T) {
	r, _ := newTestRegistry(3, time.Minute)

	r.RecordFailure("resend_client")
	assert.False(t, r.IsOpen("resend_client"))
	r.RecordFailure("resend_client")
	assert.False(t, r.IsOpen("resend_client"))
	r.RecordFailure("resend_client")

	assert.True(t, r.IsOpen("resend_client"))
	snap := r.Snapshot("resend_client")
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, 3, snap.FailureCount)
	assert.False(t, snap.NextRetryTime.IsZero())
}

func TestRegistry_LazyHalfOpenTransition(t *testing.T) {
	r, now := newTestRegistry(3, time.Minute)

	for i := 0; i < 3; i++ {
		r.RecordFailure("smtp_relay")
	}
	assert.True(t, r.IsOpen("smtp_relay"))

	// Still inside the recovery timeout.
	*now = now.Add(30 * time.Second)
	assert.True(t, r.IsOpen("smtp_relay"))

	// After the timeout the next read flips to half-open and lets a probe through.
	*now = now.Add(31 * time.Second)
	assert.False(t, r.IsOpen("smtp_relay"))
	assert.Equal(t, StateHalfOpen, r.Snapshot("smtp_relay").State)
}

func TestRegistry_SuccessWhileHalfOpenCloses(t *testing.T) {
	r, now := newTestRegistry(3, time.Minute)

	for i := 0; i < 3; i++ {
		r.RecordFailure("smtp_relay")
	}
	*now = now.Add(2 * time.Minute)
	assert.False(t, r.IsOpen("smtp_relay"))

	r.RecordSuccess("smtp_relay")

	snap := r.Snapshot("smtp_relay")
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
}

func TestRegistry_FailureWhileHalfOpenReopens(t *testing.T) {
	r, now := newTestRegistry(3, time.Minute)

	for i := 0; i < 3; i++ {
		r.RecordFailure("push_gateway")
	}
	*now = now.Add(2 * time.Minute)
	assert.False(t, r.IsOpen("push_gateway"))

	r.RecordFailure("push_gateway")
	assert.True(t, r.IsOpen("push_gateway"))
}

func TestRegistry_SourcesAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(2, time.Minute)

	r.RecordFailure("provider_a")
	r.RecordFailure("provider_a")
	r.RecordFailure("provider_b")

	assert.True(t, r.IsOpen("provider_a"))
	assert.False(t, r.IsOpen("provider_b"))
	assert.ElementsMatch(t, []string{"provider_a", "provider_b"}, r.Sources())
}

func TestRegistry_StateChangeCallback(t *testing.T) {
	var transitions []string
	now := time.Now()
	r := NewRegistry(Config{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		OnStateChange: func(source string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	r.now = func() time.Time { return now }

	r.RecordFailure("s")
	r.RecordFailure("s")
	now = now.Add(2 * time.Minute)
	r.IsOpen("s")
	r.RecordSuccess("s")

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}
