package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnswerValue is a candidate response. Which field is read depends on the
// question type: Text for TEXT/TEXTAREA, OptionIDs for choice types, Order for
// ORDERING and Pairs for MATCHING.
type AnswerValue struct {
	Text      *string     `json:"text,omitempty"`
	OptionIDs []string    `json:"option_ids,omitempty"`
	Order     []string    `json:"order,omitempty"`
	Pairs     []MatchPair `json:"pairs,omitempty"`
}

// IsEmpty reports whether the value carries no response at all.
func (v AnswerValue) IsEmpty() bool {
	return (v.Text == nil || strings.TrimSpace(*v.Text) == "") &&
		len(v.OptionIDs) == 0 && len(v.Order) == 0 && len(v.Pairs) == 0
}

// GradeStatus tags the grading outcome of one answer.
type GradeStatus string

const (
	// GradeStatusUngraded is the state of every answer before submission.
	GradeStatusUngraded GradeStatus = "UNGRADED"
	// GradeStatusGraded carries determined points, automatic or manual.
	GradeStatusGraded GradeStatus = "GRADED"
	// GradeStatusPendingManual waits for a human grader; points are unknown.
	GradeStatusPendingManual GradeStatus = "PENDING_MANUAL"
)

// Grade is the tagged grading variant of an answer. Points and Correct are
// only meaningful when Status is GRADED.
type Grade struct {
	Status     GradeStatus `json:"status"`
	Points     float64     `json:"points"`
	Correct    bool        `json:"correct"`
	AutoGraded bool        `json:"auto_graded"`
}

// Graded builds a determined grade.
func Graded(points float64, correct, auto bool) Grade {
	return Grade{Status: GradeStatusGraded, Points: points, Correct: correct, AutoGraded: auto}
}

// PendingManual builds a grade that waits for a human.
func PendingManual() Grade {
	return Grade{Status: GradeStatusPendingManual}
}

// Determined reports whether the grade has known points.
func (g Grade) Determined() bool {
	return g.Status == GradeStatusGraded
}

// PointsEarned returns the points, or nil while not determined.
func (g Grade) PointsEarned() *float64 {
	if !g.Determined() {
		return nil
	}
	p := g.Points
	return &p
}

// IsCorrect returns the correctness flag, or nil while not determined.
func (g Grade) IsCorrect() *bool {
	if !g.Determined() {
		return nil
	}
	c := g.Correct
	return &c
}

// ExamAnswer is one candidate response to one question within an attempt.
type ExamAnswer struct {
	ID         uuid.UUID   `json:"id"`
	AttemptID  uuid.UUID   `json:"attempt_id"`
	QuestionID uuid.UUID   `json:"question_id"`
	Value      AnswerValue `json:"value"`
	Grade      Grade       `json:"grade"`
	Feedback   *string     `json:"feedback,omitempty"`
	GradedBy   *int        `json:"graded_by,omitempty"`
	GradedAt   *time.Time  `json:"graded_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// SaveAnswerRequest is the payload for saving one answer.
type SaveAnswerRequest struct {
	Value AnswerValue `json:"value"`
}

// ManualGradeRequest is the payload for grading one answer by hand.
type ManualGradeRequest struct {
	Points   *float64 `json:"points" binding:"required"`
	Feedback *string  `json:"feedback" binding:"omitempty,max=5000"`
}
