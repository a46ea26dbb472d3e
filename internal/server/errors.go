package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sjawhar/kouyi/internal/audio"
	"github.com/sjawhar/kouyi/internal/config"
	"github.com/sjawhar/kouyi/internal/session"
	"github.com/sjawhar/kouyi/internal/storage"
	"github.com/sjawhar/kouyi/internal/transcribe"
	"github.com/sjawhar/kouyi/internal/tutor"
)

// classifyError maps a service error to an HTTP status, a stable error code
// and the message shown to the client.
func classifyError(err error) (int, string, string) {
	var perr *audio.PermissionError
	switch {
	case errors.Is(err, session.ErrPreconditionNotMet):
		return http.StatusConflict, "precondition_not_met", err.Error()
	case errors.Is(err, session.ErrOperationInFlight):
		return http.StatusConflict, "in_flight", err.Error()
	case errors.Is(err, session.ErrStaleResult):
		return http.StatusConflict, "stale_result", err.Error()
	case errors.Is(err, session.ErrSessionPersisted):
		return http.StatusConflict, "session_persisted", err.Error()
	case errors.As(err, &perr):
		return http.StatusForbidden, permissionCode(perr.Kind), perr.Diagnostic()
	case errors.Is(err, audio.ErrAlreadyRecording), errors.Is(err, audio.ErrPermissionPending):
		return http.StatusConflict, "already_recording", err.Error()
	case errors.Is(err, audio.ErrNotRecording):
		return http.StatusConflict, "not_recording", err.Error()
	case errors.Is(err, audio.ErrEmptyRecording):
		return http.StatusBadRequest, "empty_recording", err.Error()
	case errors.Is(err, audio.ErrDevice):
		return http.StatusServiceUnavailable, "device_error", err.Error()
	case errors.Is(err, transcribe.ErrMalformedResponse), errors.Is(err, tutor.ErrMalformedTerms):
		return http.StatusBadGateway, "parse_error", err.Error()
	case errors.Is(err, transcribe.ErrEmptyResult):
		return http.StatusBadGateway, "empty_result", err.Error()
	case errors.Is(err, transcribe.ErrRequestFailed),
		errors.Is(err, tutor.ErrGenerationFailed),
		errors.Is(err, tutor.ErrSynthesisFailed),
		errors.Is(err, tutor.ErrEvaluationFailed):
		return http.StatusBadGateway, "network_error", err.Error()
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, storage.ErrStorage):
		return http.StatusInternalServerError, "storage_error", err.Error()
	case errors.Is(err, config.ErrAPIKeyRequired):
		return http.StatusBadRequest, "api_key_required", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", err.Error()
	}
}

func permissionCode(kind audio.PermissionKind) string {
	return "permission_" + strings.TrimPrefix(string(kind), "permission_")
}
