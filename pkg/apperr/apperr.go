package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds shared across services. Handlers map them to HTTP statuses,
// remote clients map HTTP statuses back to them, so the kind of a failure
// survives a service boundary.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrForbidden   = errors.New("forbidden")
	ErrUnavailable = errors.New("service unavailable")
)

func NotFound(format string, args ...interface{}) error {
	return wrap(ErrNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return wrap(ErrConflict, format, args...)
}

func Forbidden(format string, args ...interface{}) error {
	return wrap(ErrForbidden, format, args...)
}

func Unavailable(format string, args ...interface{}) error {
	return wrap(ErrUnavailable, format, args...)
}

func wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// Status returns the HTTP status for an error, 500 for unclassified errors.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromStatus converts an HTTP status from a peer service back into the
// corresponding error kind. 5xx is indistinguishable from a transport
// failure on the caller side and maps to ErrUnavailable.
func FromStatus(code int, msg string) error {
	switch {
	case code == http.StatusNotFound:
		return NotFound("%s", msg)
	case code == http.StatusConflict:
		return Conflict("%s", msg)
	case code == http.StatusForbidden:
		return Forbidden("%s", msg)
	case code >= 500:
		return Unavailable("%s", msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", code, msg)
	}
}
