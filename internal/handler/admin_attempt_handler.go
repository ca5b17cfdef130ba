package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
	"github.com/stemsi/exstem-grader/internal/validator"
)

// AdminAttemptHandler serves graders: attempt listings, manual grading and
// finalization.
type AdminAttemptHandler struct {
	attemptService *service.AttemptService
	monitorService *service.MonitorService
	log            zerolog.Logger
}

// NewAdminAttemptHandler creates a new AdminAttemptHandler.
func NewAdminAttemptHandler(attemptService *service.AttemptService, monitorService *service.MonitorService, log zerolog.Logger) *AdminAttemptHandler {
	return &AdminAttemptHandler{
		attemptService: attemptService,
		monitorService: monitorService,
		log:            log.With().Str("component", "admin_attempt_handler").Logger(),
	}
}

// listAttemptsQuery filters the attempt listing.
type listAttemptsQuery struct {
	State string `form:"state" binding:"omitempty,attempt_state"`
}

// ListAttempts godoc
// GET /api/v1/admin/exams/:exam_id/attempts?state=
func (h *AdminAttemptHandler) ListAttempts(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var q listAttemptsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	var state *model.AttemptState
	if q.State != "" {
		st := model.AttemptState(q.State)
		state = &st
	}

	attempts, err := h.attemptService.ListAttempts(c.Request.Context(), examID, state)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if attempts == nil {
		attempts = []model.ExamAttempt{}
	}

	response.Success(c, http.StatusOK, attempts)
}

// GetProgress godoc
// GET /api/v1/admin/exams/:exam_id/progress
func (h *AdminAttemptHandler) GetProgress(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	progress, err := h.monitorService.Progress(c.Request.Context(), examID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, progress)
}

// GetAttempt godoc
// GET /api/v1/admin/attempts/:attempt_id
func (h *AdminAttemptHandler) GetAttempt(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	detail, err := h.attemptService.Detail(c.Request.Context(), attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// GradeAnswer godoc
// POST /api/v1/admin/attempts/:attempt_id/answers/:answer_id/grade
func (h *AdminAttemptHandler) GradeAnswer(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}
	answerID, ok := paramUUID(c, "answer_id")
	if !ok {
		return
	}

	var req model.ManualGradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	claims := middleware.GetClaims(c)
	detail, err := h.attemptService.GradeManually(c.Request.Context(), attemptID, answerID, *req.Points, req.Feedback, claims.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// FinalizeAttempt godoc
// POST /api/v1/admin/attempts/:attempt_id/finalize
func (h *AdminAttemptHandler) FinalizeAttempt(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	claims := middleware.GetClaims(c)
	attempt, err := h.attemptService.FinalizeGrading(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, attempt)
}
