package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StatusCoder is implemented by errors that carry an HTTP status code so the
// policy can classify 5xx responses without importing the client packages.
type StatusCoder interface {
	StatusCode() int
}

// Policy retries transient failures with exponential backoff plus jitter.
// MaxRetries bounds the retries, so an operation runs at most MaxRetries+1
// times.
type Policy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxJitter  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxJitter:  time.Second,
	}
}

// exponential yields BaseDelay * 2^attempt plus random jitter. The jitter
// desynchronizes retries across locations hitting the same sink.
type exponential struct {
	policy  Policy
	attempt uint64
}

func (b *exponential) NextBackOff() time.Duration {
	d := b.policy.BaseDelay << b.attempt
	b.attempt++
	if b.policy.MaxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.policy.MaxJitter)))
	}
	return d
}

func (b *exponential) Reset() { b.attempt = 0 }

// Do runs op, retrying only failures classified as transient. Non-transient
// errors propagate immediately without retry.
func (p Policy) Do(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(&exponential{policy: p}, p.MaxRetries), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// DoValue is Do for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsTransient classifies DNS failures, connection reset/refused/timeout and
// server-side 5xx as retryable. Everything else propagates.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode() >= 500 && sc.StatusCode() < 600
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// IsNotFound reports whether err is an HTTP 404 from either the source or
// the sink.
func IsNotFound(err error) bool {
	var sc StatusCoder
	return errors.As(err, &sc) && sc.StatusCode() == http.StatusNotFound
}
