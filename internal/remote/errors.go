// internal/remote/errors.go
package remote

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

type ErrorCategory string

const (
	// CategoryTransient: timeouts, 429, 5xx. Retried with backoff, never
	// fails the batch on its own.
	CategoryTransient ErrorCategory = "transient"
	// CategoryAuth: 401/403. Fatal for the rest of that service's batch.
	CategoryAuth ErrorCategory = "auth"
	// CategoryValidation: remaining 4xx. Permanent for the entity, the batch
	// continues.
	CategoryValidation ErrorCategory = "validation"
	// CategoryVersionConflict: wiki 409, somebody saved a newer version. Not
	// an error downstream — it becomes a conflict record.
	CategoryVersionConflict ErrorCategory = "version_conflict"
)

// RemoteError is the typed failure for any remote call. StatusCode 0 means
// the request never got an HTTP response (transport-level failure).
type RemoteError struct {
	Service    string
	StatusCode int
	Category   ErrorCategory
	RetryAfter time.Duration
	Body       string
}

func (e *RemoteError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s returned %d (%s): %s", e.Service, e.StatusCode, e.Category, e.Body)
	}
	return fmt.Sprintf("%s request failed (%s): %s", e.Service, e.Category, e.Body)
}

func classify(status int) ErrorCategory {
	switch {
	case status == 401 || status == 403:
		return CategoryAuth
	case status == 409:
		return CategoryVersionConflict
	case status == 429 || status >= 500:
		return CategoryTransient
	default:
		return CategoryValidation
	}
}

func category(err error) ErrorCategory {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

func IsTransient(err error) bool {
	return category(err) == CategoryTransient
}

func IsAuth(err error) bool {
	return category(err) == CategoryAuth
}

func IsValidation(err error) bool {
	return category(err) == CategoryValidation
}

func IsVersionConflict(err error) bool {
	return category(err) == CategoryVersionConflict
}

// IsCircuitOpen reports that the service's breaker is refusing calls, i.e.
// the remote has been unreachable long enough to give up on this batch.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
