package model

import (
	"time"

	"github.com/google/uuid"
)

// ShowResultsPolicy controls when a candidate may see a graded attempt.
type ShowResultsPolicy string

const (
	ShowResultsImmediate     ShowResultsPolicy = "IMMEDIATE"
	ShowResultsAfterDeadline ShowResultsPolicy = "AFTER_DEADLINE"
	ShowResultsManual        ShowResultsPolicy = "MANUAL"
	ShowResultsNever         ShowResultsPolicy = "NEVER"
)

// Exam is the exam configuration owned by the authoring layer.
// The evaluation engine only reads it.
type Exam struct {
	ID               uuid.UUID         `json:"id"`
	Slug             string            `json:"slug"`
	Title            string            `json:"title"`
	AuthorID         int               `json:"author_id"`
	IsActive         bool              `json:"is_active"`
	IsPublished      bool              `json:"is_published"`
	CurrentVersionID *uuid.UUID        `json:"current_version_id,omitempty"`
	TimeLimitMinutes *int              `json:"time_limit_minutes,omitempty"`
	MaxAttempts      *int              `json:"max_attempts,omitempty"`
	PassingScore     float64           `json:"passing_score"`
	ShuffleQuestions bool              `json:"shuffle_questions"`
	ShuffleOptions   bool              `json:"shuffle_options"`
	ShowResults      ShowResultsPolicy `json:"show_results"`
	AllowReview      bool              `json:"allow_review"`
	AutoGrade        bool              `json:"auto_grade"`
	AvailableFrom    *time.Time        `json:"available_from,omitempty"`
	AvailableUntil   *time.Time        `json:"available_until,omitempty"`
	// ResultsAt is the deadline used by AFTER_DEADLINE. Falls back to AvailableUntil.
	ResultsAt *time.Time `json:"results_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TimeLimit returns the configured limit, or zero for untimed exams.
func (e *Exam) TimeLimit() time.Duration {
	if e.TimeLimitMinutes == nil || *e.TimeLimitMinutes <= 0 {
		return 0
	}
	return time.Duration(*e.TimeLimitMinutes) * time.Minute
}

// AttemptLimit returns the maximum number of attempts, or zero when
// candidates may retry without limit. Non-positive values mean unlimited.
func (e *Exam) AttemptLimit() int {
	if e.MaxAttempts == nil || *e.MaxAttempts <= 0 {
		return 0
	}
	return *e.MaxAttempts
}

// ResultsDeadline is the moment AFTER_DEADLINE results become visible.
func (e *Exam) ResultsDeadline() *time.Time {
	if e.ResultsAt != nil {
		return e.ResultsAt
	}
	return e.AvailableUntil
}
