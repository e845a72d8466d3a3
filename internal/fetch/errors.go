package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/fxlens/fxlens/internal/providers"
)

// Sentinel errors for the recoverable failure classes. The orchestrator
// treats all four the same way (move on to the next source); they exist so
// logs and health outcomes can tell the classes apart.
var (
	// ErrQuotaExceeded - the local quota tracker rejected the call.
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	// ErrTimeout - the provider call exceeded its deadline.
	ErrTimeout = errors.New("provider call timed out")
	// ErrProvider - the upstream API answered with an error.
	ErrProvider = errors.New("provider returned an error")
	// ErrNetwork - the call failed before an upstream answer arrived.
	ErrNetwork = errors.New("network failure")
)

// Classify wraps a raw adapter error into one of the sentinel classes.
func Classify(provider string, err error) error {
	var apiErr *providers.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrTimeout, provider, err)
	case errors.As(err, &apiErr):
		return fmt.Errorf("%w: %v", ErrProvider, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrNetwork, provider, err)
	}
}

// errorKind names the failure class for outcome records.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProvider):
		return "provider"
	case errors.Is(err, ErrNetwork):
		return "network"
	}
	return "unknown"
}
