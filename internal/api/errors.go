// Copyright 2025 Mech Services, Inc.
package api

import (
	"errors"
	"net/http"

	"github.com/dundas/mech-queue/internal/backend"
	"github.com/dundas/mech-queue/internal/queue"
	"github.com/dundas/mech-queue/internal/schedule"
	"github.com/dundas/mech-queue/internal/subscription"
	"github.com/dundas/mech-queue/internal/tenant"
	"github.com/dundas/mech-queue/internal/tracker"
)

// Error is the API-facing error: a stable code, an HTTP status and the
// self-documentation strings machine consumers recover from. Internals never
// match on the message, only on Code or the wrapped sentinel.
type Error struct {
	Code           string   `json:"code"`
	Message        string   `json:"message"`
	HTTPStatus     int      `json:"-"`
	Hints          []string `json:"hints,omitempty"`
	PossibleCauses []string `json:"possibleCauses,omitempty"`
	SuggestedFixes []string `json:"suggestedFixes,omitempty"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func newError(code string, status int, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status}
}

func (e *Error) withHelp(hints, causes, fixes []string) *Error {
	e.Hints = hints
	e.PossibleCauses = causes
	e.SuggestedFixes = fixes
	return e
}

func errMissingAPIKey() *Error {
	return newError("MISSING_API_KEY", http.StatusUnauthorized, "no API key provided").withHelp(
		[]string{"send your key in the x-api-key header"},
		[]string{"the x-api-key header is absent or empty"},
		[]string{"add 'x-api-key: <your key>' to the request"},
	)
}

func errInvalidAPIKey() *Error {
	return newError("INVALID_API_KEY", http.StatusUnauthorized, "API key is not recognized").withHelp(
		[]string{"keys are issued when an application is created"},
		[]string{"the key was revoked or mistyped", "the application was deleted"},
		[]string{"ask the operator to issue a new application key"},
	)
}

func errQueueAccessDenied(queueName string) *Error {
	return newError("QUEUE_ACCESS_DENIED", http.StatusForbidden,
		"application may not use queue "+queueName).withHelp(
		[]string{"allowed queues are configured per application"},
		[]string{"the queue is not in your application's allowedQueues"},
		[]string{"request access to this queue or submit to an allowed one"},
	)
}

func errForbidden(message string) *Error {
	return newError("FORBIDDEN", http.StatusForbidden, message).withHelp(
		[]string{"this operation requires the master identity"},
		[]string{"a tenant key was used for an administrative operation"},
		[]string{"use the master API key"},
	)
}

func errJobNotFound() *Error {
	return newError("JOB_NOT_FOUND", http.StatusNotFound, "job does not exist").withHelp(
		[]string{"jobs are retained per the queue retention policy"},
		[]string{"the job id is wrong", "the job aged out of retention"},
		[]string{"verify the job id and queue name"},
	)
}

func errQueueNotFound() *Error {
	return newError("QUEUE_NOT_FOUND", http.StatusNotFound, "queue does not exist")
}

func errNotFound(what string) *Error {
	return newError("NOT_FOUND", http.StatusNotFound, what+" does not exist")
}

func errMissingData(message string) *Error {
	return newError("MISSING_DATA", http.StatusBadRequest, message).withHelp(
		[]string{"the request body must be a JSON object with the documented fields"},
		[]string{"the body is empty or a required field is absent"},
		[]string{"consult GET /api/explain for the expected shape"},
	)
}

func errValidation(message string) *Error {
	return newError("VALIDATION_ERROR", http.StatusBadRequest, message)
}

func errRateLimited() *Error {
	return newError("RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests, "too many requests").withHelp(
		[]string{"limits apply per API key within a rolling window"},
		[]string{"the application exceeded its request budget"},
		[]string{"back off and retry after the window resets"},
	)
}

func errInternal(action string, err error) *Error {
	return newError(action+"_ERROR", http.StatusInternalServerError, err.Error())
}

// toAPIError maps domain errors onto the stable taxonomy. Unmapped errors
// become action-qualified internal errors.
func toAPIError(action string, err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, tenant.ErrMissingAPIKey):
		return errMissingAPIKey()
	case errors.Is(err, tenant.ErrInvalidAPIKey):
		return errInvalidAPIKey()
	case errors.Is(err, tenant.ErrQueueAccessDenied):
		return errQueueAccessDenied("")
	case errors.Is(err, tenant.ErrNotMaster):
		return errForbidden("master identity required")
	case errors.Is(err, tenant.ErrAppNotFound):
		return errNotFound("application")
	case errors.Is(err, tenant.ErrAppExists):
		return errValidation("application already exists")
	case errors.Is(err, queue.ErrJobNotFound), errors.Is(err, queue.ErrJobWrongQueue):
		return errJobNotFound()
	case errors.Is(err, queue.ErrJobTerminal):
		return newError("JOB_ALREADY_FINISHED", http.StatusConflict,
			"job already reached a terminal state")
	case errors.Is(err, queue.ErrQueueNotFound):
		return errQueueNotFound()
	case errors.Is(err, backend.ErrNoJob):
		return errJobNotFound()
	case errors.Is(err, subscription.ErrNotFound):
		return errNotFound("subscription")
	case errors.Is(err, subscription.ErrInvalidSubscription):
		return errValidation(err.Error())
	case errors.Is(err, subscription.ErrNotOwner):
		return errForbidden("subscription belongs to a different application")
	case errors.Is(err, schedule.ErrNotFound):
		return errNotFound("schedule")
	case errors.Is(err, schedule.ErrInvalidSchedule):
		return errValidation(err.Error())
	case errors.Is(err, tracker.ErrInvalidFilter), errors.Is(err, tracker.ErrInvalidStatus):
		return errValidation(err.Error())
	default:
		return errInternal(action, err)
	}
}
