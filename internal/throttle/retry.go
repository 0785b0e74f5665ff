package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/vigil/internal/common"
)

// RetryPool is an in-memory bounded-attempt deferred-work queue for tickers
// whose fetch failed softly. It is not persisted: a restart drops pending
// retries, and the next poll cycle rediscovers anything still relevant.
type RetryPool struct {
	mu          sync.Mutex
	attempts    map[string]int
	order       []string
	maxAttempts int
	baseBackoff time.Duration
	logger      *common.Logger
}

// NewRetryPool creates a pool with the given attempt cap and base backoff
// between attempts for one item.
func NewRetryPool(maxAttempts int, baseBackoff time.Duration, logger *common.Logger) *RetryPool {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RetryPool{
		attempts:    make(map[string]int),
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		logger:      logger,
	}
}

// Add enqueues a ticker for retry. Re-adding a pending ticker is a no-op.
func (p *RetryPool) Add(ticker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, pending := p.attempts[ticker]; pending {
		return
	}
	p.attempts[ticker] = 0
	p.order = append(p.order, ticker)
}

// Len returns the number of tickers awaiting retry.
func (p *RetryPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Drain re-attempts every pooled ticker in arrival order. An item leaves the
// pool on success or after exhausting its attempts (logged, not escalated).
// Backoff between attempts for an item grows with its attempt count.
func (p *RetryPool) Drain(ctx context.Context, fetch func(ctx context.Context, ticker string) error) {
	for {
		ticker, attempt, ok := p.next()
		if !ok {
			return
		}

		if attempt > 1 {
			// Increasing pause before re-attempting a repeat offender
			wait := time.Duration(attempt-1) * p.baseBackoff
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		err := fetch(ctx, ticker)
		if err == nil {
			p.remove(ticker)
			continue
		}

		if attempt >= p.maxAttempts {
			p.logger.Warn().
				Str("ticker", ticker).
				Int("attempts", attempt).
				Err(err).
				Msg("Retry attempts exhausted, dropping for this cycle")
			p.remove(ticker)
			continue
		}

		p.logger.Debug().
			Str("ticker", ticker).
			Int("attempt", attempt).
			Err(err).
			Msg("Retry failed, keeping in pool")

		if ctx.Err() != nil {
			return
		}
	}
}

// next returns the first ticker whose attempt budget is not exhausted,
// incrementing its counter. ok is false when nothing is actionable.
func (p *RetryPool) next() (string, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.order {
		if n := p.attempts[t]; n < p.maxAttempts {
			p.attempts[t] = n + 1
			return t, n + 1, true
		}
	}
	return "", 0, false
}

func (p *RetryPool) remove(ticker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, ticker)
	for i, t := range p.order {
		if t == ticker {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}
