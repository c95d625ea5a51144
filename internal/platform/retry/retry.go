package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop  Action = iota // permanent error, abort immediately
	Retry               // transient error, use normal backoff
	After               // rate-limited, use longer backoff
)

type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	RateLimitBackoff time.Duration
	// Constant keeps the backoff at InitialBackoff instead of doubling it.
	Constant bool
	OnRetry  func(attempt int, err error, backoff time.Duration)
	// Clock drives the waits; nil means the real clock.
	Clock clockwork.Clock
}

func (p Policy) clock() clockwork.Clock {
	if p.Clock == nil {
		return clockwork.NewRealClock()
	}
	return p.Clock
}

type Classify func(err error) Action
type Operation[T any] func() (T, error)
type VoidOperation func() error

func Do[T any](ctx context.Context, p Policy, classify Classify, op Operation[T]) (T, error) {
	backoff := p.InitialBackoff
	clock := p.clock()

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		val, err := op()
		if err == nil {
			return val, nil
		}

		action := classify(err)
		if action == Stop {
			var zero T
			return zero, &PermanentError{Err: err}
		}

		if attempt == p.MaxAttempts {
			var zero T
			return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, err)
		}

		if action == After {
			backoff = p.RateLimitBackoff
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err, backoff)
		}

		select {
		case <-clock.After(backoff):
			if !p.Constant {
				backoff *= 2
			}
		case <-ctx.Done():
			var zero T
			return zero, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	panic("unreachable: MaxAttempts must be >= 1")
}

func DoVoid(ctx context.Context, p Policy, classify Classify, op VoidOperation) error {
	_, err := Do(ctx, p, classify, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

// Budget applies a Policy to a long-lived connection that is retried by its
// owner rather than by Do. Every failure consumes one attempt; a success
// refills the budget. Once more than MaxAttempts consecutive failures were
// recorded the budget is exhausted.
type Budget struct {
	policy   Policy
	classify Classify

	mu       sync.Mutex
	attempts int
	backoff  time.Duration
}

func NewBudget(p Policy, classify Classify) *Budget {
	return &Budget{policy: p, classify: classify, backoff: p.InitialBackoff}
}

// Failure records err. It returns how long to wait before the next attempt,
// or an error when the caller must give up: a *PermanentError for errors
// classified as Stop, otherwise an exhaustion error wrapping err.
func (b *Budget) Failure(err error) (time.Duration, error) {
	if b.classify(err) == Stop {
		return 0, &PermanentError{Err: err}
	}

	b.mu.Lock()
	b.attempts++
	attempt := b.attempts
	wait := b.backoff
	if b.classify(err) == After {
		wait = b.policy.RateLimitBackoff
	}
	if !b.policy.Constant {
		b.backoff *= 2
	}
	b.mu.Unlock()

	if attempt > b.policy.MaxAttempts {
		return 0, fmt.Errorf("gave up after %d attempts: %w", b.policy.MaxAttempts, err)
	}

	if b.policy.OnRetry != nil {
		b.policy.OnRetry(attempt, err, wait)
	}
	return wait, nil
}

// Success resets the attempt counter and the backoff.
func (b *Budget) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
	b.backoff = b.policy.InitialBackoff
}

// Attempts returns the number of consecutive failures recorded.
func (b *Budget) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
