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

// AttemptHandler serves the candidate side of an exam attempt.
type AttemptHandler struct {
	attemptService *service.AttemptService
	tokenService   *service.TokenService
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, tokenService *service.TokenService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		tokenService:   tokenService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// startAttemptResponse carries the attempt and its scoped bearer token.
type startAttemptResponse struct {
	Attempt *model.ExamAttempt `json:"attempt"`
	Token   string             `json:"token"`
	Resumed bool               `json:"resumed"`
}

// submitResponse is the closed attempt plus what the candidate may see.
type submitResponse struct {
	Attempt *model.ExamAttempt `json:"attempt"`
	Result  *model.ResultView  `json:"result"`
}

// candidateFrom returns the signed-in candidate, or the anonymous identity
// given by name and email.
func candidateFrom(c *gin.Context, name, email string) model.Candidate {
	if claims := middleware.GetClaims(c); claims != nil {
		if cand, ok := claims.Candidate(); ok {
			return cand
		}
	}
	return model.Candidate{Name: name, Email: email}
}

// GetAdmission godoc
// GET /api/v1/exams/:exam/admission?email=
func (h *AttemptHandler) GetAdmission(c *gin.Context) {
	candidate := candidateFrom(c, c.Query("name"), c.Query("email"))

	adm, err := h.attemptService.CanStartAttempt(c.Request.Context(), c.Param("exam"), candidate)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, adm)
}

// StartAttempt godoc
// POST /api/v1/exams/:exam/attempts
// Starts a new attempt or resumes the live one. Returns an attempt token
// that authorizes every later call on the attempt.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	var req model.StartAttemptRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}
	candidate := candidateFrom(c, req.Name, req.Email)

	attempt, resumed, err := h.attemptService.Start(c.Request.Context(), c.Param("exam"), candidate)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	token, err := h.tokenService.IssueAttemptToken(attempt)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	response.Success(c, status, startAttemptResponse{Attempt: attempt, Token: token, Resumed: resumed})
}

// GetPaper godoc
// GET /api/v1/attempts/:attempt_id
func (h *AttemptHandler) GetPaper(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	paper, err := h.attemptService.Paper(c.Request.Context(), attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// SaveAnswer godoc
// PUT /api/v1/attempts/:attempt_id/answers/:question_id
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}
	questionID, ok := paramUUID(c, "question_id")
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ans, err := h.attemptService.SaveAnswer(c.Request.Context(), attemptID, questionID, req.Value)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, ans)
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:attempt_id/submit
// Submitting a closed attempt is a no-op that returns the stored outcome.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	attempt, err := h.attemptService.Submit(c.Request.Context(), attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	view, err := h.attemptService.Result(c.Request.Context(), attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, submitResponse{Attempt: attempt, Result: view})
}

// GetResult godoc
// GET /api/v1/attempts/:attempt_id/result
func (h *AttemptHandler) GetResult(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	view, err := h.attemptService.Result(c.Request.Context(), attemptID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, view)
}
