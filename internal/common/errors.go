package common

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound           = errors.New("requested resource not found")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrForbidden          = errors.New("forbidden access")
	ErrBadRequest         = errors.New("bad request")
	ErrConflict           = errors.New("resource conflict") // e.g. duplicate challenge slug
	ErrInternalServer     = errors.New("internal server error")
	ErrValidation         = errors.New("validation failed")
	ErrServiceUnavailable = errors.New("service unavailable")

	// Submission rejections. These are expected outcomes, not faults.
	ErrSubmissionDisabled  = errors.New("flag submission is disabled")
	ErrAlreadySolved       = errors.New("challenge already solved")
	ErrChallengeLocked     = errors.New("challenge is locked")
	ErrAttemptLimitReached = errors.New("attempt limit reached")
	ErrMalformedSubmission = errors.New("malformed submission")

	ErrConfigurationInvalid = errors.New("challenge configuration invalid")
)

var rejections = []error{
	ErrSubmissionDisabled,
	ErrAlreadySolved,
	ErrChallengeLocked,
	ErrAttemptLimitReached,
	ErrMalformedSubmission,
}

// IsRejection reports whether err is one of the submission outcomes the caller
// is expected to see, as opposed to an infrastructure fault.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// RejectionCode is the machine readable name of a rejection, or "" for anything else.
func RejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrSubmissionDisabled):
		return "submission_disabled"
	case errors.Is(err, ErrAlreadySolved):
		return "already_solved"
	case errors.Is(err, ErrChallengeLocked):
		return "challenge_locked"
	case errors.Is(err, ErrAttemptLimitReached):
		return "attempt_limit_reached"
	case errors.Is(err, ErrMalformedSubmission):
		return "malformed_submission"
	}
	return ""
}

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrForbidden) || errors.Is(err, ErrSubmissionDisabled) || errors.Is(err, ErrChallengeLocked) {
		return http.StatusForbidden
	}
	if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrValidation) || errors.Is(err, ErrMalformedSubmission) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadySolved) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrAttemptLimitReached) {
		return http.StatusTooManyRequests
	}
	if errors.Is(err, ErrServiceUnavailable) {
		return http.StatusServiceUnavailable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" { // Unique violation
			return http.StatusConflict
		}
	}

	return http.StatusInternalServerError
}

// IsUniqueViolation reports whether err came from a Postgres unique index.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Errorf creates a new error with formatting, useful for wrapping.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
