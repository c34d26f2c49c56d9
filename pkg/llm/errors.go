package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// Gateway failure kinds. Stages surface these upward unmodified.
var (
	// ErrTransport indicates a network or provider-side failure.
	ErrTransport = errors.New("llm_transport")

	// ErrTimeout indicates the per-call deadline expired.
	ErrTimeout = errors.New("llm_timeout")

	// ErrQuota indicates the provider rejected the call for rate or quota reasons.
	ErrQuota = errors.New("llm_quota")

	// ErrEmpty indicates the provider returned no usable content.
	ErrEmpty = errors.New("llm_empty")
)

// Kind returns the gateway error kind label for a completion error,
// or "" if err is not a gateway error.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "llm_timeout"
	case errors.Is(err, ErrQuota):
		return "llm_quota"
	case errors.Is(err, ErrEmpty):
		return "llm_empty"
	case errors.Is(err, ErrTransport):
		return "llm_transport"
	}
	return ""
}

// classify wraps a provider error with its gateway error kind. Errors
// that already carry a kind pass through unchanged.
func classify(err error) error {
	if Kind(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, ErrTimeout)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%v: %w", err, ErrQuota)
		}
		return fmt.Errorf("%v: %w", err, ErrTransport)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%v: %w", err, ErrQuota)
		}
		return fmt.Errorf("%v: %w", err, ErrTransport)
	}

	return fmt.Errorf("%v: %w", err, ErrTransport)
}

// retryable reports whether a classified error is worth another attempt.
// Empty responses are a provider contract violation, not a transient fault.
func retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrQuota) || errors.Is(err, ErrTimeout)
}
