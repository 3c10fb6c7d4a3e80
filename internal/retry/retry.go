// Package retry runs operations under an explicit attempt/backoff policy.
//
// Errors are sorted into three classes. Transient and rate-limited failures
// are retried with their own attempt budgets and backoff curves; fatal
// failures are returned at once.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Class tells Do how to treat a failed attempt.
type Class int

const (
	Transient Class = iota
	RateLimited
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Classifier is implemented by errors that know their own retry class.
type Classifier interface {
	RetryClass() Class
}

// Policy describes attempt budgets and backoff curves.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Policy struct {
	MaxAttempts              int
	RateLimitMaxAttempts     int
	InitialInterval          time.Duration
	MaxInterval              time.Duration
	RateLimitInitialInterval time.Duration
	RateLimitMaxInterval     time.Duration
	Multiplier               float64
	Classify                 func(error) Class
}

// ChannelPolicy is applied to each channel's scrape and ingest step.
func ChannelPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
	}
}

// ProviderPolicy is applied to AI provider calls.
func ProviderPolicy() Policy {
	return Policy{
		MaxAttempts:              3,
		RateLimitMaxAttempts:     6,
		InitialInterval:          2 * time.Second,
		MaxInterval:              20 * time.Second,
		RateLimitInitialInterval: 5 * time.Second,
		RateLimitMaxInterval:     60 * time.Second,
		Multiplier:               2,
	}
}

// ClassOf resolves the class of err using the policy's classifier, falling
// back to DefaultClassify.
func (p Policy) ClassOf(err error) Class {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return DefaultClassify(err)
}

// DefaultClassify honours Classifier and backoff.Permanent, treats
// cancellation as fatal and everything else, per-attempt deadlines included,
// as transient. Do itself stops once the parent context is done.
func DefaultClassify(err error) Class {
	var c Classifier
	if errors.As(err, &c) {
		return c.RetryClass()
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return Fatal
	}
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	return Transient
}

// Permanent marks err as fatal regardless of its type.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Budget returns how many attempts the class is allowed in total.
func (p Policy) Budget(class Class) int {
	switch class {
	case Fatal:
		return 1
	case RateLimited:
		if p.RateLimitMaxAttempts > 0 {
			return p.RateLimitMaxAttempts
		}
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 1
}

// Delay is the wait after the given failed attempt (1-based) of a class.
// The curve is deterministic: no randomisation is applied.
func (p Policy) Delay(class Class, attempt int) time.Duration {
	if class == Fatal || attempt < 1 {
		return 0
	}

	initial, maxInterval := p.InitialInterval, p.MaxInterval
	if class == RateLimited && p.RateLimitInitialInterval > 0 {
		initial, maxInterval = p.RateLimitInitialInterval, p.RateLimitMaxInterval
	}
	if initial <= 0 {
		return 0
	}
	if maxInterval < initial {
		maxInterval = initial
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          p.multiplier(),
		MaxInterval:         maxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p Policy) multiplier() float64 {
	if p.Multiplier < 1 {
		return backoff.DefaultMultiplier
	}
	return p.Multiplier
}

// ExhaustedError is returned once a class runs out of attempts.
type ExhaustedError struct {
	Attempts int
	Class    Class
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts (%s): %v", e.Attempts, e.Class, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Number int
	Class  Class
	Err    error
	Wait   time.Duration
}

type options struct {
	sleep   func(context.Context, time.Duration) error
	onRetry func(Attempt)
}

// Option customises Do.
type Option func(*options)

// WithSleep replaces the context-aware sleep between attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// OnRetry registers a hook called before each wait.
func OnRetry(fn func(Attempt)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Do runs op until it succeeds, fails fatally, or a class exhausts its budget.
// Transient and rate-limited attempts are counted separately.
func Do(ctx context.Context, p Policy, op func(context.Context) error, opts ...Option) error {
	o := options{sleep: Sleep}
	for _, opt := range opts {
		opt(&o)
	}

	counts := map[Class]int{}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		total++

		class := p.ClassOf(err)
		if class == Fatal {
			return err
		}

		counts[class]++
		if counts[class] >= p.Budget(class) {
			return &ExhaustedError{Attempts: total, Class: class, Last: err}
		}

		wait := p.Delay(class, counts[class])
		if o.onRetry != nil {
			o.onRetry(Attempt{Number: total, Class: class, Err: err, Wait: wait})
		}
		if err := o.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
