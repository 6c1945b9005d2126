// Package breaker implements the per-adapter circuit breaker: a
// closed/open/half-open state machine guarding outbound adapter calls,
// plus retry-with-full-jitter-backoff for calls made while closed. A call
// made while half-open is a single probe with no retry.
package breaker

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/lesleslie/mahavishnu/kernel"
)

// State is the breaker's current position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config configures one adapter's breaker.
type Config struct {
	// Threshold is T: failures in the trailing window that trip the breaker.
	Threshold int
	Window    time.Duration
	// Cooldown is C: how long the breaker stays open before probing.
	Cooldown time.Duration
	// MaxAttempts bounds retries inside closed; half-open makes one attempt.
	MaxAttempts int
	// InitialBackoff is the base delay for full-jitter backoff.
	InitialBackoff time.Duration
	// MaxBackoff caps the full-jitter backoff delay.
	MaxBackoff time.Duration
}

// Breaker wraps a single adapter's outbound calls.
type Breaker struct {
	cfg Config

	mu         sync.Mutex
	state      State
	failures   []time.Time
	openedAt   time.Time
	halfOpenInFlight bool
}

// New constructs a Breaker in the closed state.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: StateClosed}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(time.Now())
}

// stateLocked advances open→half-open after cooldown elapses. Callers
// must hold b.mu.
func (b *Breaker) stateLocked(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = StateHalfOpen
		b.halfOpenInFlight = false
	}
	return b.state
}

// Do invokes fn under the breaker's protection. In the open state it
// fails fast with kernel.ErrCircuitOpen without calling fn. In closed it
// retries fn with full-jitter backoff up to MaxAttempts. In half-open it
// calls fn once as a probe; a second call arriving while that probe is in
// flight fails fast with kernel.ErrCircuitOpen.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.stateLocked(time.Now())
	if state == StateOpen {
		b.mu.Unlock()
		return &kernel.CircuitOpen{RetryAfter: b.cooldownRemaining()}
	}
	if state == StateHalfOpen {
		if b.halfOpenInFlight {
			b.mu.Unlock()
			return kernel.ErrCircuitOpen
		}
		b.halfOpenInFlight = true
	}
	b.mu.Unlock()

	if state == StateHalfOpen {
		// A single probe: any failure reopens the breaker immediately,
		// with no retry loop (spec: half-open -> open on any failure).
		if err := fn(ctx); err != nil {
			b.onFailure()
			return err
		}
		b.onSuccess()
		return nil
	}

	attempts := b.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := fullJitter(b.cfg.InitialBackoff, b.cfg.MaxBackoff, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			b.onSuccess()
			return nil
		}
	}
	b.onFailure()
	return lastErr
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = nil
	b.state = StateClosed
	b.halfOpenInFlight = false
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = now
		b.halfOpenInFlight = false
		return
	}

	b.failures = append(b.failures, now)
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	b.failures = b.failures[i:]

	if len(b.failures) >= b.cfg.Threshold {
		b.state = StateOpen
		b.openedAt = now
	}
}

func (b *Breaker) cooldownRemaining() time.Duration {
	remaining := b.cfg.Cooldown - time.Since(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// fullJitter computes a full-jitter exponential backoff delay for the
// given attempt (1-indexed retry count).
func fullJitter(initial, max time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	ceiling := initial << attempt
	if max > 0 && ceiling > max {
		ceiling = max
	}
	if ceiling <= 0 {
		return initial
	}
	return time.Duration(rand.Int64N(int64(ceiling)))
}
