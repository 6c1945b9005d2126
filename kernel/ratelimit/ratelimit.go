// Package ratelimit implements the admission gate for outbound adapter
// calls and inbound tool invocations: a dual check combining a sliding
// window (counts requests in the trailing N seconds) and a token bucket
// (burst capacity refilled at a fixed rate). Both checks must pass for a
// request to be admitted.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lesleslie/mahavishnu/kernel"
)

// Key identifies a rate-limit scope: the authenticated caller identity (or
// client IP) paired with the tool being invoked.
type Key struct {
	Subject  string
	ToolName string
}

// Config configures one scope's dual gate.
type Config struct {
	// WindowLimit is L: the max requests admitted per Window.
	WindowLimit int
	Window      time.Duration
	// Burst is B: the token bucket's burst capacity.
	Burst int
	// Rate is R: the token bucket refill rate, tokens per second.
	Rate float64
}

type scope struct {
	mu     sync.Mutex
	bucket *rate.Limiter
	window *slidingWindow
}

// Limiter is the process-local admission gate. Subjects on the exempt
// list bypass both checks entirely.
type Limiter struct {
	mu      sync.Mutex
	configs map[string]Config // keyed by tool name; "" is the default
	exempt  map[string]struct{}
	scopes  map[Key]*scope
}

// New constructs a Limiter. exemptSubjects bypass both the sliding window
// and the token bucket unconditionally.
func New(defaultConfig Config, exemptSubjects ...string) *Limiter {
	exempt := make(map[string]struct{}, len(exemptSubjects))
	for _, s := range exemptSubjects {
		exempt[s] = struct{}{}
	}
	return &Limiter{
		configs: map[string]Config{"": defaultConfig},
		exempt:  exempt,
		scopes:  make(map[Key]*scope),
	}
}

// Configure overrides the dual-gate configuration for a specific tool
// name. Pass "" to set the default used by tools without an override.
func (l *Limiter) Configure(toolName string, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[toolName] = cfg
}

// Allow decides whether to admit a request for key at now. On denial it
// returns *kernel.RateLimited with a retry hint equal to the smaller of
// "time until one token refills" and "time until the oldest window
// sample falls out."
func (l *Limiter) Allow(key Key, now time.Time) error {
	if _, ok := l.exempt[key.Subject]; ok {
		return nil
	}

	cfg := l.configFor(key.ToolName)
	s := l.scopeFor(key, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Peek both gates before committing either, so a request denied by one
	// gate never consumes capacity from the other.
	windowOK, windowRetry := s.window.peek(now, cfg.WindowLimit, cfg.Window)
	reservation := s.bucket.ReserveN(now, 1)
	bucketDelay := reservation.Delay()
	bucketOK := reservation.OK() && bucketDelay == 0

	if windowOK && bucketOK {
		s.window.commit(now)
		return nil
	}

	reservation.CancelAt(now)
	retry := windowRetry
	if bucketDelay < retry {
		retry = bucketDelay
	}
	return &kernel.RateLimited{RetryAfter: retry}
}

func (l *Limiter) configFor(tool string) Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg, ok := l.configs[tool]; ok {
		return cfg
	}
	return l.configs[""]
}

func (l *Limiter) scopeFor(key Key, cfg Config) *scope {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.scopes[key]
	if !ok {
		s = &scope{
			bucket: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
			window: newSlidingWindow(),
		}
		l.scopes[key] = s
	}
	return s
}
