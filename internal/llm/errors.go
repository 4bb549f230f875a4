package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

var (
	ErrRetriesExhausted = errors.New("model gateway retries exhausted")
	ErrEmptyCompletion  = errors.New("model returned no completion")
)

// TransientError marks a failure worth retrying: network hiccups, timeouts,
// rate limiting, 5xx responses and an open circuit.
type TransientError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// transientStatus reports whether an HTTP status is retryable.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// classify wraps err in a TransientError when it is retryable. The caller's
// context error is never treated as transient.
func classify(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if transientStatus(apiErr.HTTPStatusCode) {
			return &TransientError{Provider: provider, StatusCode: apiErr.HTTPStatusCode, Err: err}
		}
		return err
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if transientStatus(reqErr.HTTPStatusCode) {
			return &TransientError{Provider: provider, StatusCode: reqErr.HTTPStatusCode, Err: err}
		}
		return err
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransientError{Provider: provider, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return &TransientError{Provider: provider, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Provider: provider, Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"rate limit", "status code: 429", "status code: 5", "overloaded", "connection reset"} {
		if strings.Contains(msg, hint) {
			return &TransientError{Provider: provider, Err: err}
		}
	}
	return err
}
