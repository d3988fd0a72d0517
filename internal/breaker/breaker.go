// Package breaker implements a per-provider three-state circuit breaker:
// Closed, Open, and HalfOpen, gating calls to a failing upstream and
// re-admitting a single probe after a cooldown.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the breaker
// is Open, or because a HalfOpen probe is already in flight.
var ErrCircuitOpen = errors.New("breaker: circuit open")

// Config controls breaker behavior. A zero-value Config with Enabled
// false makes Execute a passthrough.
type Config struct {
	Enabled              bool
	FailureThreshold     int
	HalfOpenAfterSeconds int
	TimeoutSeconds       int
}

// Metrics is a read-only snapshot of breaker state for introspection.
type Metrics struct {
	State               State
	ConsecutiveFailures int
	SuccessCount        uint64
	FailureCount        uint64
	LastOpenedAt        time.Time
	LastHalfOpenAt      time.Time
	LastTransitionAt    time.Time
}

// Breaker guards calls to a single upstream provider. All fields are
// protected by mu; the underlying operation runs outside the lock.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	successCount         uint64
	failureCount         uint64
	openedAt             time.Time
	lastHalfOpenAt       time.Time
	lastTransitionAt     time.Time
	halfOpenProbeInFlight bool
}

// New constructs a Breaker in the Closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed, now: time.Now}
}

// Operation is the unit of work a Breaker gates. It returns an opaque
// textual payload or an error the caller will inspect via classify.
type Operation func(ctx context.Context) (string, error)

// Execute runs op under the breaker's admission control. If the breaker
// is disabled, op runs directly (still subject to a call-level timeout if
// one is configured). Caller cancellation is propagated unchanged and
// never counted as a failure.
func (b *Breaker) Execute(ctx context.Context, op Operation) (string, error) {
	callCtx, cancel := b.withTimeout(ctx)
	defer cancel()

	if !b.cfg.Enabled {
		return op(callCtx)
	}

	admitted, isProbe, err := b.admit()
	if err != nil {
		return "", err
	}
	if !admitted {
		return "", ErrCircuitOpen
	}

	result, opErr := op(callCtx)

	if opErr != nil {
		if errors.Is(opErr, context.Canceled) {
			b.clearHalfOpen(isProbe)
			return result, opErr
		}
		b.recordFailure(isProbe)
		return result, opErr
	}

	b.recordSuccess(isProbe)
	return result, nil
}

func (b *Breaker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.cfg.TimeoutSeconds <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(b.cfg.TimeoutSeconds)*time.Second)
}

// admit decides whether a call may proceed and whether it is the single
// HalfOpen probe.
func (b *Breaker) admit() (admitted bool, isProbe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true, false, nil
	case Open:
		if b.now().Before(b.openedAt.Add(time.Duration(b.cfg.HalfOpenAfterSeconds) * time.Second)) {
			return false, false, nil
		}
		b.transition(HalfOpen)
		b.lastHalfOpenAt = b.now()
		b.halfOpenProbeInFlight = true
		return true, true, nil
	case HalfOpen:
		if b.halfOpenProbeInFlight {
			return false, false, nil
		}
		b.halfOpenProbeInFlight = true
		return true, true, nil
	default:
		return false, false, nil
	}
}

func (b *Breaker) clearHalfOpen(isProbe bool) {
	if !isProbe {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halfOpenProbeInFlight = false
}

func (b *Breaker) recordFailure(isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.consecutiveFailures++

	if isProbe {
		b.halfOpenProbeInFlight = false
		b.transition(Open)
		b.openedAt = b.now()
		return
	}

	if b.state == Closed && b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.transition(Open)
		b.openedAt = b.now()
	}
}

func (b *Breaker) recordSuccess(isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	b.consecutiveFailures = 0

	if isProbe {
		b.halfOpenProbeInFlight = false
		b.transition(Closed)
		return
	}

	if b.state != Closed {
		b.transition(Closed)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	b.state = to
	b.lastTransitionAt = b.now()
}

// Reset forces the breaker back to Closed and zeros the consecutive
// failure counter, leaving cumulative counters untouched.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.halfOpenProbeInFlight = false
	b.transition(Closed)
}

// Metrics returns a snapshot of the breaker's current state.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		SuccessCount:        b.successCount,
		FailureCount:        b.failureCount,
		LastOpenedAt:        b.openedAt,
		LastHalfOpenAt:      b.lastHalfOpenAt,
		LastTransitionAt:    b.lastTransitionAt,
	}
}
