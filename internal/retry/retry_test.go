package retry

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxJitter: 0}
}

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return "status error" }
func (e *statusErr) StatusCode() int { return e.code }

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := testPolicy().Do(context.Background(), func() error {
		attempts++
		if attempts <= 2 {
			return syscall.ECONNRESET
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsRetries(t *testing.T) {
	attempts := 0
	err := testPolicy().Do(context.Background(), func() error {
		attempts++
		return syscall.ECONNREFUSED
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	// 1 initial attempt + 3 retries
	assert.Equal(t, 4, attempts)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	attempts := 0
	permanent := &statusErr{code: 400}
	err := testPolicy().Do(context.Background(), func() error {
		attempts++
		return permanent
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var sc StatusCoder
	assert.True(t, errors.As(err, &sc))
}

func TestDoValueReturnsResult(t *testing.T) {
	attempts := 0
	got, err := DoValue(context.Background(), testPolicy(), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, &statusErr{code: 503}
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := testPolicy().Do(ctx, func() error {
		return syscall.ECONNRESET
	})
	require.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"dns", &net.DNSError{Err: "temporary failure", IsTemporary: true}, true},
		{"dns not found", &net.DNSError{Err: "no such host", IsNotFound: true}, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"timeout", syscall.ETIMEDOUT, true},
		{"deadline", context.DeadlineExceeded, true},
		{"server error", &statusErr{code: 502}, true},
		{"client error", &statusErr{code: 400}, false},
		{"not found", &statusErr{code: 404}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&statusErr{code: 404}))
	assert.False(t, IsNotFound(&statusErr{code: 400}))
	assert.False(t, IsNotFound(errors.New("boom")))
}
