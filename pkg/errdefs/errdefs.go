package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds. Components wrap these with %w so callers can test
// the kind with errors.Is while keeping a contextual message.
var (
	// ErrValidation marks a malformed request; surfaced to callers as 400.
	ErrValidation = errors.New("validation error")

	// ErrAuthentication marks a missing or invalid API key; 403.
	ErrAuthentication = errors.New("authentication error")

	// ErrWorkerUnavailable marks exhausted capacity or no alive worker; 503.
	ErrWorkerUnavailable = errors.New("worker unavailable")

	// ErrNodePreempted marks a node filled by another dispatcher between
	// decision and commit; the dispatcher retries up to three times.
	ErrNodePreempted = errors.New("node preempted")

	// ErrHostAlreadyPinned marks a host claimed by another node first. The
	// existing binding is used; no retry is needed.
	ErrHostAlreadyPinned = errors.New("host already pinned")

	// ErrJobOperation marks a cancel or fetch against a non-cancelable or
	// non-existent job. It never propagates to REST callers.
	ErrJobOperation = errors.New("job operation error")

	// ErrDriver marks a device-side failure. It is captured inside
	// DriverExecutionResult.Error and does not abort sibling commands.
	ErrDriver = errors.New("driver error")

	// ErrTimeout marks a queued TTL or in-flight wall-clock expiry.
	ErrTimeout = errors.New("timeout")

	// ErrWebhook marks a failed webhook delivery.
	ErrWebhook = errors.New("webhook error")

	// ErrNotFound marks an unknown driver, renderer, parser, or job id; 404.
	ErrNotFound = errors.New("not found")
)

// Validationf wraps ErrValidation with a formatted message
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrValidation, args)...)
}

// Authenticationf wraps ErrAuthentication with a formatted message
func Authenticationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrAuthentication, args)...)
}

// WorkerUnavailablef wraps ErrWorkerUnavailable with a formatted message
func WorkerUnavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrWorkerUnavailable, args)...)
}

// NotFoundf wraps ErrNotFound with a formatted message
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, prepend(ErrNotFound, args)...)
}

func prepend(err error, args []any) []any {
	out := make([]any, 0, len(args)+1)
	out = append(out, err)
	return append(out, args...)
}

func IsValidation(err error) bool        { return errors.Is(err, ErrValidation) }
func IsAuthentication(err error) bool    { return errors.Is(err, ErrAuthentication) }
func IsWorkerUnavailable(err error) bool { return errors.Is(err, ErrWorkerUnavailable) }
func IsNodePreempted(err error) bool     { return errors.Is(err, ErrNodePreempted) }
func IsHostAlreadyPinned(err error) bool { return errors.Is(err, ErrHostAlreadyPinned) }
func IsJobOperation(err error) bool      { return errors.Is(err, ErrJobOperation) }
func IsTimeout(err error) bool           { return errors.Is(err, ErrTimeout) }
func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }

// Kind returns the short machine-readable name of the error's kind. It is
// stored in job meta and webhook payloads.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrAuthentication):
		return "AuthenticationError"
	case errors.Is(err, ErrWorkerUnavailable):
		return "WorkerUnavailable"
	case errors.Is(err, ErrNodePreempted):
		return "NodePreempted"
	case errors.Is(err, ErrHostAlreadyPinned):
		return "HostAlreadyPinned"
	case errors.Is(err, ErrJobOperation):
		return "JobOperationError"
	case errors.Is(err, ErrDriver):
		return "DriverError"
	case errors.Is(err, ErrTimeout):
		return "TimeoutError"
	case errors.Is(err, ErrWebhook):
		return "WebhookError"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	default:
		return "InternalError"
	}
}

// HTTPStatus maps an error kind to the REST status code
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuthentication):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrWorkerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
