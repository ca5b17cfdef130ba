package model

import (
	"time"

	"github.com/google/uuid"
)

// ResultBlockReason explains why a result payload is withheld.
type ResultBlockReason string

const (
	ResultBlockNotSubmitted       ResultBlockReason = "NOT_SUBMITTED"
	ResultBlockDeadlineNotReached ResultBlockReason = "DEADLINE_NOT_REACHED"
	ResultBlockGradingPending     ResultBlockReason = "GRADING_PENDING"
	ResultBlockHidden             ResultBlockReason = "RESULTS_HIDDEN"
)

// QuestionResult is the per-question part of a visible result.
type QuestionResult struct {
	QuestionID     uuid.UUID      `json:"question_id"`
	Type           QuestionType   `json:"type"`
	Prompt         string         `json:"prompt"`
	PointsPossible float64        `json:"points_possible"`
	PointsEarned   *float64       `json:"points_earned"`
	IsCorrect      *bool          `json:"is_correct"`
	Status         GradeStatus    `json:"status"`
	Response       AnswerValue    `json:"response"`
	CorrectOptions []string       `json:"correct_options,omitempty"`
	CorrectAnswer  *CorrectAnswer `json:"correct_answer,omitempty"`
	Feedback       *string        `json:"feedback,omitempty"`
}

// ExamAttemptResult is the graded attempt as shown to the candidate.
type ExamAttemptResult struct {
	AttemptID        uuid.UUID        `json:"attempt_id"`
	ExamID           uuid.UUID        `json:"exam_id"`
	AttemptNumber    int              `json:"attempt_number"`
	State            AttemptState     `json:"state"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	TimeSpentSeconds *int             `json:"time_spent_seconds,omitempty"`
	TimedOut         bool             `json:"timed_out"`
	Score            *float64         `json:"score"`
	MaxScore         float64          `json:"max_score"`
	Percentage       *float64         `json:"percentage"`
	Passed           *bool            `json:"passed"`
	GradingComplete  bool             `json:"grading_complete"`
	Questions        []QuestionResult `json:"questions"`
}

// ResultView is what the result endpoint returns: either a result or the
// reason it is withheld. A withheld view still acknowledges completion.
type ResultView struct {
	AttemptID     uuid.UUID          `json:"attempt_id"`
	State         AttemptState       `json:"state"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	Available     bool               `json:"available"`
	BlockedReason ResultBlockReason  `json:"blocked_reason,omitempty"`
	Result        *ExamAttemptResult `json:"result,omitempty"`
}

// AttemptPaper is the candidate's view of an in-progress attempt.
type AttemptPaper struct {
	AttemptID        uuid.UUID              `json:"attempt_id"`
	ExamID           uuid.UUID              `json:"exam_id"`
	Title            string                 `json:"title"`
	State            AttemptState           `json:"state"`
	Questions        []QuestionForCandidate `json:"questions"`
	Answers          map[string]AnswerValue `json:"answers"`
	RemainingSeconds *float64               `json:"remaining_seconds,omitempty"`
}
