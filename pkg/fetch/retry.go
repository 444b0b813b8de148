package fetch

import (
	"context"
	stderrors "errors"
	"io"
	"math"
	"net"
	"syscall"
	"time"
)

// RetryPolicy is a bounded exponential backoff. It holds no state.
type RetryPolicy struct {
	// Attempts is the total number of tries, first included
	Attempts   int
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultRetryPolicy tries three times, starting at half a second
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2}
}

// Delay returns the wait before retry n (1 is the first retry)
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 || p.Base <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.Base) * math.Pow(mult, float64(n-1))
	if p.Max > 0 && d > float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// statusCoder is implemented by transport errors carrying an HTTP status
type statusCoder interface {
	HTTPStatus() int
}

// Retryable reports whether err is worth another attempt: timeouts,
// connection resets, truncated bodies, and HTTP 5xx or 429.
// Cancellation of the caller is never retryable.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sc statusCoder
	if stderrors.As(err, &sc) {
		code := sc.HTTPStatus()
		return code >= 500 || code == 429
	}

	if stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return stderrors.As(err, &opErr)
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
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
