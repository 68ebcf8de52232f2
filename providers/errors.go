package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnknownSource is returned for a source id that has no registered provider.
var ErrUnknownSource = errors.New("unknown source")

// ErrMalformedResponse marks a response body that could not be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// ProviderError is a failed provider call. Transient errors may succeed on
// retry; permanent ones will not.
type ProviderError struct {
	Source     string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (HTTP %d): %v", e.Source, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Source, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// statusError classifies a non-2xx response. 408, 429 and 5xx are transient.
func statusError(source string, status int, body []byte) *ProviderError {
	transient := status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ProviderError{
		Source:     source,
		StatusCode: status,
		Transient:  transient,
		Err:        errors.New(msg),
	}
}

// transportError wraps a failure below HTTP. When ctx has ended its error is
// returned unchanged so callers see cancellation, not a provider fault.
func transportError(ctx context.Context, source string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &ProviderError{Source: source, Transient: true, Err: err}
}
