package clients

import (
	"errors"
	"fmt"
)

// ErrUnavailable matches every UpstreamError with errors.Is.
var ErrUnavailable = errors.New("clients: upstream unavailable")

// UpstreamError reports a failed call to an external service.
type UpstreamError struct {
	Service    string // Logical service name, such as "ledger".
	StatusCode int    // HTTP status, zero for transport failures.
	Err        error  // Underlying cause.
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: upstream returned %d: %v", e.Service, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: upstream request failed: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is reports whether target is ErrUnavailable.
func (e *UpstreamError) Is(target error) bool { return target == ErrUnavailable }
