package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AttemptState enumerates the lifecycle states of an exam attempt.
type AttemptState string

const (
	AttemptStateNotStarted AttemptState = "NOT_STARTED"
	AttemptStateInProgress AttemptState = "IN_PROGRESS"
	AttemptStateSubmitted  AttemptState = "SUBMITTED"
	AttemptStateExpired    AttemptState = "EXPIRED"
	AttemptStateGraded     AttemptState = "GRADED"
)

// Closed reports whether the candidate can no longer change the attempt.
func (s AttemptState) Closed() bool {
	return s == AttemptStateSubmitted || s == AttemptStateExpired || s == AttemptStateGraded
}

// Candidate identifies who is taking an exam: an authenticated user or an
// anonymous public taker identified by name and email.
type Candidate struct {
	UserID *int   `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Key is the stable identity used for attempt counting.
func (c Candidate) Key() string {
	if c.UserID != nil {
		return fmt.Sprintf("user:%d", *c.UserID)
	}
	return "anon:" + strings.ToLower(strings.TrimSpace(c.Email))
}

// Valid reports whether the candidate carries enough identity to take an exam.
func (c Candidate) Valid() bool {
	return c.UserID != nil || strings.TrimSpace(c.Email) != ""
}

// ExamAttempt is one candidate's run through one exam version.
type ExamAttempt struct {
	ID               uuid.UUID    `json:"id"`
	ExamID           uuid.UUID    `json:"exam_id"`
	VersionID        uuid.UUID    `json:"version_id"`
	UserID           *int         `json:"user_id,omitempty"`
	CandidateName    string       `json:"candidate_name,omitempty"`
	CandidateEmail   string       `json:"candidate_email,omitempty"`
	CandidateKey     string       `json:"-"`
	AttemptNumber    int          `json:"attempt_number"`
	State            AttemptState `json:"state"`
	StartedAt        time.Time    `json:"started_at"`
	ExpiresAt        *time.Time   `json:"expires_at,omitempty"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	TimeSpentSeconds *int         `json:"time_spent_seconds,omitempty"`
	Score            *float64     `json:"score"`
	MaxScore         float64      `json:"max_score"`
	Percentage       *float64     `json:"percentage"`
	Passed           *bool        `json:"passed"`
	TimedOut         bool         `json:"timed_out"`
	AutoGradedAt     *time.Time   `json:"auto_graded_at,omitempty"`
	GradedAt         *time.Time   `json:"graded_at,omitempty"`
	QuestionOrder    []uuid.UUID  `json:"question_order,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Candidate rebuilds the identity stored on the attempt.
func (a *ExamAttempt) Candidate() Candidate {
	return Candidate{UserID: a.UserID, Name: a.CandidateName, Email: a.CandidateEmail}
}

// ExpiredAt reports whether an in-progress attempt is past its deadline at now.
func (a *ExamAttempt) ExpiredAt(now time.Time) bool {
	return a.State == AttemptStateInProgress && a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// StartAttemptRequest is the payload for starting an attempt. Name and email
// are only read for anonymous public takers.
type StartAttemptRequest struct {
	Name  string `json:"name" binding:"omitempty,max=255"`
	Email string `json:"email" binding:"omitempty,email,max=255"`
}
