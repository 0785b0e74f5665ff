// Package throttle implements the adaptive pacing and bounded-retry
// machinery shared by every fetching agent. The throttle trades a fixed
// polling interval for a control loop: back off under rate-limit pressure,
// recover speed once pressure subsides.
package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/vigil/internal/common"
)

// Mode selects how the delay decreases after successful responses.
type Mode int

const (
	// Linear subtracts a fixed step per qualifying success.
	Linear Mode = iota
	// Multiplicative scales the delay by a factor below one.
	Multiplicative
)

// Options configures a Throttle.
type Options struct {
	Initial           time.Duration
	Min               time.Duration
	Max               time.Duration
	Mode              Mode
	Step              time.Duration // Linear decrease step
	DecreaseFactor    float64       // Multiplicative decrease factor, < 1
	BackoffMultiplier float64       // rate-limit increase factor, > 1
	SuccessStreak     int           // consecutive successes required before decreasing
}

// Throttle maintains the current inter-request delay for one agent. It is
// process-local and never persisted; a restart resets it to the initial
// delay.
type Throttle struct {
	mu     sync.Mutex
	delay  time.Duration
	streak int
	opts   Options
}

// New creates a throttle from explicit options.
func New(opts Options) *Throttle {
	if opts.BackoffMultiplier <= 1 {
		opts.BackoffMultiplier = 2
	}
	if opts.DecreaseFactor <= 0 || opts.DecreaseFactor >= 1 {
		opts.DecreaseFactor = 0.9
	}
	if opts.Min <= 0 {
		opts.Min = 100 * time.Millisecond
	}
	if opts.Max < opts.Min {
		opts.Max = 10 * time.Second
	}
	delay := opts.Initial
	if delay < opts.Min {
		delay = opts.Min
	}
	if delay > opts.Max {
		delay = opts.Max
	}
	return &Throttle{delay: delay, opts: opts}
}

// FromConfig creates a throttle from a config section.
func FromConfig(p common.ThrottleParams) *Throttle {
	mode := Linear
	if p.Mode == "multiplicative" {
		mode = Multiplicative
	}
	return New(Options{
		Initial:           p.GetInitial(),
		Min:               p.GetMin(),
		Max:               p.GetMax(),
		Mode:              mode,
		Step:              p.GetStep(),
		DecreaseFactor:    p.DecreaseFactor,
		BackoffMultiplier: p.BackoffMultiplier,
		SuccessStreak:     p.SuccessStreak,
	})
}

// Delay returns the current inter-request pause.
func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

// Wait sleeps for the current delay, returning early on context cancel.
func (t *Throttle) Wait(ctx context.Context) error {
	d := t.Delay()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Success records a successful response, decreasing the delay once the
// configured streak threshold is met.
func (t *Throttle) Success() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.streak++
	if t.streak < t.opts.SuccessStreak {
		return
	}

	switch t.opts.Mode {
	case Multiplicative:
		t.delay = time.Duration(float64(t.delay) * t.opts.DecreaseFactor)
	default:
		t.delay -= t.opts.Step
	}
	if t.delay < t.opts.Min {
		t.delay = t.opts.Min
	}
}

// RateLimited records a 429-class response: multiply the delay, cap it, and
// reset the success streak.
func (t *Throttle) RateLimited() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.streak = 0
	t.delay = time.Duration(float64(t.delay) * t.opts.BackoffMultiplier)
	if t.delay > t.opts.Max {
		t.delay = t.opts.Max
	}
}
