// Package apperr defines the error kinds shared by ingestion, retrieval and
// the conversation layer. Callers wrap a kind with fmt.Errorf("%w: ...") and
// test for it with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrDataFormat marks an ingestion source that cannot be turned into documents.
	ErrDataFormat = errors.New("data format error")

	// ErrInvalidArgument marks malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoUserMessage marks a history with no user-role message in it.
	ErrNoUserMessage = errors.New("no user message")

	// ErrRetrievalUnavailable marks an unreachable or misconfigured index or scorer.
	// Zero results is not this error.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationFailure marks a failed or unusable answer generation.
	ErrGenerationFailure = errors.New("generation failure")
)

// Type returns a stable machine-readable name for err's kind.
func Type(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNoUserMessage):
		return "no_user_message"
	case errors.Is(err, ErrDataFormat):
		return "data_format_error"
	case errors.Is(err, ErrRetrievalUnavailable):
		return "retrieval_unavailable"
	case errors.Is(err, ErrGenerationFailure):
		return "generation_failure"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps err's kind to the status code the API boundary reports.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrNoUserMessage), errors.Is(err, ErrDataFormat):
		return http.StatusBadRequest
	case errors.Is(err, ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrGenerationFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
