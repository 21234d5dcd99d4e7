package vision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	maxRetryInterval = 30 * time.Second
	maxRetryAfter    = time.Minute
)

type httpStatusError struct {
	StatusCode   int
	Body         string
	RetryAfter   time.Duration
	ProviderType string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("vision request: http %d: %s", e.StatusCode, snippet(e.Body))
}

// providerError is an error object returned inside an otherwise successful response.
type providerError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (e *providerError) Error() string {
	return fmt.Sprintf("vision request: api error (%s): %s", e.kind(), strings.TrimSpace(e.Message))
}

func (e *providerError) kind() string {
	if e.Type != "" {
		return e.Type
	}
	if code, ok := e.Code.(string); ok {
		return code
	}
	return "unknown"
}

type emptyContentError struct {
	Op           Operation
	FinishReason string
	Refusal      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("vision %s: empty content (finish_reason=%q, refusal=%q)", e.Op, e.FinishReason, e.Refusal)
}

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

func retryableProviderType(kind string) bool {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "rate_limit_exceeded", "rate_limit_error", "server_error":
		return true
	}
	return false
}

// isRetryable classifies failures worth another attempt: network resets and
// timeouts, transient HTTP statuses and provider rate-limit/server errors.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return retryableStatus[statusErr.StatusCode] || retryableProviderType(statusErr.ProviderType)
	}
	var apiErr *providerError
	if errors.As(err, &apiErr) {
		return retryableProviderType(apiErr.kind())
	}
	var emptyErr *emptyContentError
	if errors.As(err, &emptyErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func retryAfterOf(err error) time.Duration {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return min(time.Duration(seconds)*time.Second, maxRetryAfter), true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return min(delay, maxRetryAfter), true
	}
	return 0, false
}

// retryAfterBackOff stretches the next delay to a server-provided Retry-After.
type retryAfterBackOff struct {
	backoff.BackOff
	after time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.after > next {
		next = b.after
	}
	b.after = 0
	return next
}

func (b *retryAfterBackOff) hint(after time.Duration) {
	b.after = after
}

func newExponentialBackOff(initial time.Duration, multiplier float64) *backoff.ExponentialBackOff {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = initial
	ebo.Multiplier = multiplier
	ebo.RandomizationFactor = 0
	ebo.MaxInterval = maxRetryInterval
	ebo.MaxElapsedTime = 0
	ebo.Reset()
	return ebo
}
