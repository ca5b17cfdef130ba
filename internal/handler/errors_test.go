package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
)

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		code   response.ErrCode
		reason string
	}{
		{name: "not found", err: fmt.Errorf("exam: %w", service.ErrNotFound), status: http.StatusNotFound, code: response.ErrNotFound},
		{name: "invalid state", err: service.ErrInvalidState, status: http.StatusConflict, code: response.ErrInvalidState},
		{name: "expired", err: fmt.Errorf("save: %w", service.ErrExpired), status: http.StatusConflict, code: response.ErrAttemptExpired},
		{name: "out of range", err: service.ErrOutOfRange, status: http.StatusUnprocessableEntity, code: response.ErrOutOfRange},
		{name: "candidate", err: service.ErrCandidateRequired, status: http.StatusUnauthorized, code: response.ErrCandidateRequired},
		{name: "busy", err: fmt.Errorf("lock: %w", service.ErrLockTimeout), status: http.StatusConflict, code: response.ErrAttemptBusy},
		{
			name:   "admission",
			err:    fmt.Errorf("start: %w", &service.AdmissionError{Reason: service.AdmissionAttemptLimitReached}),
			status: http.StatusForbidden, code: response.ErrAttemptNotAllowed, reason: "ATTEMPT_LIMIT_REACHED",
		},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: response.ErrInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(c, zerolog.Nop(), tc.err)

			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			var body response.Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error == nil || body.Error.Code != tc.code || body.Error.Reason != tc.reason {
				t.Errorf("error = %+v, want code %s reason %q", body.Error, tc.code, tc.reason)
			}
		})
	}
}

func TestParamUUID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "attempt_id", Value: "not-a-uuid"}}

	if _, ok := paramUUID(c, "attempt_id"); ok {
		t.Fatalf("expected parse failure")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}
