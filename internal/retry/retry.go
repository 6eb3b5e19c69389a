// Package retry wraps stage invocation attempts with bounded retries
// and exponential backoff.
//
// Failures are classified retryable or fatal by the policy's classifier;
// fatal failures (malformed input, permission errors) never retry.
// Retryable failures are absorbed here and only surface once the attempt
// budget is exhausted.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrExhausted wraps the last failure after all attempts were spent.
	ErrExhausted = errors.New("retry attempts exhausted")

	// ErrPermanent marks failures that must never be retried.
	ErrPermanent = errors.New("permanent failure")
)

// Permanent wraps err so classifiers treat it as fatal.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Classifier decides whether a failure is worth retrying.
type Classifier func(error) bool

// DefaultClassifier retries everything except permanent failures and
// context cancellation.
func DefaultClassifier(err error) bool {
	if errors.Is(err, ErrPermanent) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Policy bounds the retry loop for one stage invocation.
type Policy struct {
	// MaxAttempts is the total attempt budget, including the first.
	MaxAttempts int `json:"max_attempts" koanf:"max_attempts"`

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration `json:"base_delay" koanf:"base_delay"`

	// Multiplier grows the delay exponentially per attempt.
	Multiplier float64 `json:"multiplier" koanf:"multiplier"`

	// MaxDelay caps the backoff.
	MaxDelay time.Duration `json:"max_delay" koanf:"max_delay"`
}

// DefaultPolicy returns the retry defaults used when a stage names no
// policy: 3 attempts, 1s base, doubling, capped at 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// ApplyDefaults fills unset fields from DefaultPolicy.
func (p *Policy) ApplyDefaults() {
	def := DefaultPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = def.MaxDelay
	}
}

// Validate checks the policy for configuration errors.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("retry policy: base delay must be >= 0")
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry policy: multiplier must be >= 1, got %v", p.Multiplier)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("retry policy: max delay %v below base delay %v", p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// Delay returns the backoff before attempt (1-based; attempt 1 has no
// delay): min(base * multiplier^(attempt-2), maxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-2)))
	if d > p.MaxDelay || d < 0 {
		return p.MaxDelay
	}
	return d
}

// Op is one invocation attempt. The attempt number is 1-based.
type Op func(ctx context.Context, attempt int) error

// Do runs op under the policy. It returns nil on the first success,
// the classified-fatal error immediately, the context error if cancelled
// while backing off, or the last failure wrapped in ErrExhausted.
func Do(ctx context.Context, p Policy, classify Classifier, op Op) error {
	p.ApplyDefaults()
	if classify == nil {
		classify = DefaultClassifier
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if delay := p.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !classify(err) {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)
}
