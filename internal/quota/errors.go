package quota

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrLimitExceeded matches a LimitError raised because the daily limit was reached.
	ErrLimitExceeded = errors.New("daily quota exceeded")

	// ErrServiceDisabled matches a LimitError raised because the service is switched off.
	ErrServiceDisabled = errors.New("service disabled")
)

// LimitError is returned when a call is refused. It is the only error the
// quota check ever propagates to a feature.
type LimitError struct {
	Service      string `json:"service"`
	Endpoint     string `json:"endpoint"`
	CurrentUsage int64  `json:"current_usage"`
	DailyLimit   int64  `json:"daily_limit"`
	Disabled     bool   `json:"disabled"`
}

// Error implements the error interface
func (e *LimitError) Error() string {
	if e.Disabled {
		return fmt.Sprintf("%s: service %s is disabled", ErrServiceDisabled, e.Service)
	}
	return fmt.Sprintf("%s: %s/%s used %d of %d calls today",
		ErrLimitExceeded, e.Service, e.Endpoint, e.CurrentUsage, e.DailyLimit)
}

// Unwrap lets errors.Is match ErrLimitExceeded or ErrServiceDisabled.
func (e *LimitError) Unwrap() error {
	if e.Disabled {
		return ErrServiceDisabled
	}
	return ErrLimitExceeded
}

// HTTPStatusCode returns 503 for a disabled service and 429 otherwise.
func (e *LimitError) HTTPStatusCode() int {
	if e.Disabled {
		return http.StatusServiceUnavailable
	}
	return http.StatusTooManyRequests
}

// UserMessage is safe to show to end users.
func (e *LimitError) UserMessage() string {
	if e.Disabled {
		return fmt.Sprintf("The %s service is temporarily unavailable. Please try again later.", e.Service)
	}
	return fmt.Sprintf("The %s service has reached its daily limit (%d of %d requests). Please try again later.",
		e.Service, e.CurrentUsage, e.DailyLimit)
}

// AsLimitError extracts a LimitError from err.
func AsLimitError(err error) (*LimitError, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
