package resilient

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState is the circuit breaker lifecycle state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// Breaker is a three-state circuit breaker guarding a single endpoint key.
// After `failureThreshold` consecutive failures it opens and fails fast for
// `recoveryTime`, then admits a single trial call before resuming.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTime     time.Duration

	state        BreakerState
	failureCount int
	lastFailure  time.Time

	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewBreaker(failureThreshold int, recoveryTime time.Duration, logger *zap.Logger) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTime:     recoveryTime,
		state:            StateClosed,
		logger:           logger.Sugar(),
		now:              time.Now,
	}
}

// CanExecute reports whether a call may be attempted. An open breaker whose
// recovery time has elapsed moves to half-open and admits one trial call.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !b.lastFailure.IsZero() && b.now().Sub(b.lastFailure) >= b.recoveryTime {
			b.state = StateHalfOpen
			b.logger.Info("circuit breaker open -> half-open, testing recovery")
			return true
		}
		return false
	case StateHalfOpen:
		return true
	}
	return true
}

// RecordSuccess resets the breaker to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.logger.Info("circuit breaker half-open -> closed, recovered")
	}
	b.failureCount = 0
	b.state = StateClosed
}

// RecordFailure counts a failed call and opens the breaker once the failure
// threshold is crossed. Opening is idempotent; the count is not reset while
// open, so a failed half-open trial re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.now()

	if b.failureCount >= b.failureThreshold {
		if b.state != StateOpen {
			b.logger.Warnf("circuit breaker %s -> open after %d failures", b.state, b.failureCount)
		}
		b.state = StateOpen
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// IsOpen reports whether the breaker is currently failing fast.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}
