package metadata

import (
	"errors"
	"fmt"
)

// Sentinel errors for the provider failure taxonomy. Match them with
// errors.Is against any error returned by a Provider.
var (
	ErrNetwork           = errors.New("network error")
	ErrAuth              = errors.New("authentication failed")
	ErrMalformedResponse = errors.New("malformed response")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// ProviderError describes a failed lookup against one external catalog.
type ProviderError struct {
	Provider   string
	Kind       error // one of the sentinels above
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches the error's Kind so callers can use errors.Is(err, ErrAuth).
func (e *ProviderError) Is(target error) bool {
	return e.Kind == target
}

// NetworkError wraps a transport failure (timeout, refused connection).
func NetworkError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrNetwork, Err: err}
}

// AuthError wraps a rejected or unobtainable credential.
func AuthError(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrAuth, StatusCode: status, Err: err}
}

// MalformedError wraps a payload that could not be interpreted.
func MalformedError(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrMalformedResponse, StatusCode: status, Err: err}
}

// RateLimitError reports a provider-side throttle response.
func RateLimitError(provider string, status int) *ProviderError {
	return &ProviderError{Provider: provider, Kind: ErrRateLimited, StatusCode: status}
}

// ErrorKind returns a short label for err, used in logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
