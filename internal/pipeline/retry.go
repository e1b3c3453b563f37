package pipeline

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/sethvargo/go-retry"

	"docflow/internal/extract"
)

// TransientError marks an error as worth retrying.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string   { return e.Err.Error() }
func (e *TransientError) Unwrap() error   { return e.Err }
func (e *TransientError) Transient() bool { return true }

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient classifies errors from the embedding and storage steps.
// Extraction failures are never transient; errors that describe themselves
// through a Transient() method decide for themselves; timeouts are
// transient; everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, extract.ErrNoText) || errors.Is(err, extract.ErrUnsupportedType) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// RetryPolicy retries an operation with exponential backoff while its
// error is transient, up to MaxAttempts attempts in total.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	IsTransient func(error) bool
	// OnRetry is called before each wait with the attempt that failed.
	OnRetry func(attempt int, err error)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		IsTransient: IsTransient,
	}
}

// Do runs fn until it succeeds, returns a permanent error, runs out of
// attempts, or ctx is done. The last error from fn is returned unwrapped.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	classify := p.IsTransient
	if classify == nil {
		classify = IsTransient
	}

	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	b = retry.WithMaxRetries(uint64(attempts-1), b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !classify(err) || attempt >= attempts {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		return retry.RetryableError(err)
	})
}
