package sessionx

import (
	"net/http"

	"github.com/convokit/convokit/pkg/errx"
)

var errRegistry = errx.NewRegistry("SESSION")

var (
	ErrCodeSessionNotFound = errRegistry.Register(
		"NOT_FOUND",
		errx.TypeNotFound,
		http.StatusNotFound,
		"Session not found",
	)

	ErrCodeBackendUnavailable = errRegistry.Register(
		"BACKEND_UNAVAILABLE",
		errx.TypeExternal,
		http.StatusServiceUnavailable,
		"Session backend unreachable",
	)

	ErrCodeStorageFailure = errRegistry.Register(
		"STORAGE_FAILURE",
		errx.TypeInternal,
		http.StatusInternalServerError,
		"Session storage operation failed",
	)

	ErrCodeSerializationFailed = errRegistry.Register(
		"SERIALIZATION_FAILED",
		errx.TypeInternal,
		http.StatusInternalServerError,
		"Failed to serialize session",
	)

	ErrCodeOperationTimeout = errRegistry.Register(
		"OPERATION_TIMEOUT",
		errx.TypeInternal,
		http.StatusGatewayTimeout,
		"Session operation timed out",
	)
)

func ErrSessionNotFound(sessionID string) *errx.Error {
	return errRegistry.New(ErrCodeSessionNotFound).
		WithDetail("session_id", sessionID)
}

func ErrBackendUnavailable(cause error) *errx.Error {
	return errRegistry.NewWithCause(ErrCodeBackendUnavailable, cause)
}

func ErrStorageFailure(cause error) *errx.Error {
	return errRegistry.NewWithCause(ErrCodeStorageFailure, cause)
}

func ErrSerializationFailed(cause error) *errx.Error {
	return errRegistry.NewWithCause(ErrCodeSerializationFailed, cause)
}

func ErrOperationTimeout(op string) *errx.Error {
	return errRegistry.New(ErrCodeOperationTimeout).
		WithDetail("operation", op)
}
