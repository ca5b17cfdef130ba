package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
)

// errorStatus maps a service error to an HTTP status and API code.
func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrCandidateRequired):
		return http.StatusUnauthorized, response.ErrCandidateRequired
	case errors.Is(err, service.ErrExpired):
		return http.StatusConflict, response.ErrAttemptExpired
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict, response.ErrInvalidState
	case errors.Is(err, service.ErrOutOfRange):
		return http.StatusUnprocessableEntity, response.ErrOutOfRange
	case errors.Is(err, service.ErrLockTimeout):
		return http.StatusConflict, response.ErrAttemptBusy
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, response.ErrForbidden
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// respondError writes the error response for a failed service call.
// Unexpected errors are logged with the request id.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	var admission *service.AdmissionError
	if errors.As(err, &admission) {
		response.FailWithReason(c, http.StatusForbidden, response.ErrAttemptNotAllowed, string(admission.Reason), nil)
		return
	}

	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("path", c.FullPath()).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// paramUUID parses a UUID route param, writing a 400 on failure.
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
