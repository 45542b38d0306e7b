package upstream

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/sashabaranov/go-openai"
)

// IsTransient reports whether a forwarding error is a network-level
// failure eligible for a bounded retry before any byte has been sent.
// Application-level provider errors are never transient: retrying a
// non-idempotent generation call risks duplicate billable work.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// The provider was reached and answered; its answer stands.
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	return false
}

// StatusCode extracts the provider's HTTP status from an upstream
// error, or 0 when the provider was never reached.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
