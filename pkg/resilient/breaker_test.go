package resilient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testBreaker(threshold int, recovery time.Duration) (*Breaker, *time.Time) {
	breaker := NewBreaker(threshold, recovery, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)
	breaker.now = func() time.Time { return now }
	return breaker, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	breaker, _ := testBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		breaker.RecordFailure()
		require.Equal(t, StateClosed, breaker.State())
		require.True(t, breaker.CanExecute())
	}

	breaker.RecordFailure()
	require.Equal(t, StateOpen, breaker.State())
	require.Equal(t, 5, breaker.FailureCount())
	require.False(t, breaker.CanExecute())
}

func TestBreakerRecovery(t *testing.T) {
	breaker, now := testBreaker(2, time.Minute)

	breaker.RecordFailure()
	breaker.RecordFailure()
	require.Equal(t, StateOpen, breaker.State())

	*now = now.Add(30 * time.Second)
	require.False(t, breaker.CanExecute())

	*now = now.Add(30 * time.Second)
	require.True(t, breaker.CanExecute())
	require.Equal(t, StateHalfOpen, breaker.State())

	breaker.RecordSuccess()
	require.Equal(t, StateClosed, breaker.State())
	require.Equal(t, 0, breaker.FailureCount())
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	breaker, now := testBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		breaker.RecordFailure()
	}
	require.Equal(t, StateOpen, breaker.State())

	*now = now.Add(time.Minute)
	require.True(t, breaker.CanExecute())
	require.Equal(t, StateHalfOpen, breaker.State())

	// The failure count was never reset while open, so a failed trial
	// crosses the threshold again immediately.
	breaker.RecordFailure()
	require.Equal(t, StateOpen, breaker.State())
	require.False(t, breaker.CanExecute())
}

func TestBreakerOpenIsIdempotent(t *testing.T) {
	breaker, _ := testBreaker(1, time.Minute)

	breaker.RecordFailure()
	require.Equal(t, StateOpen, breaker.State())
	breaker.RecordFailure()
	require.Equal(t, StateOpen, breaker.State())
	require.Equal(t, 2, breaker.FailureCount())
}
