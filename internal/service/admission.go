package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/model"
)

// AdmissionReason names why a candidate may not start an attempt.
type AdmissionReason string

const (
	AdmissionExamInactive        AdmissionReason = "EXAM_INACTIVE"
	AdmissionExamNotPublished    AdmissionReason = "EXAM_NOT_PUBLISHED"
	AdmissionVersionMissing      AdmissionReason = "VERSION_MISSING"
	AdmissionNotYetOpen          AdmissionReason = "NOT_YET_OPEN"
	AdmissionClosed              AdmissionReason = "CLOSED"
	AdmissionAttemptLimitReached AdmissionReason = "ATTEMPT_LIMIT_REACHED"
)

// Admission is the admission decision for one candidate.
type Admission struct {
	Allowed bool            `json:"allowed"`
	Reason  AdmissionReason `json:"reason,omitempty"`
	// ResumeAttemptID is set when the candidate already has a live attempt.
	ResumeAttemptID   *uuid.UUID `json:"resume_attempt_id,omitempty"`
	AttemptsUsed      int        `json:"attempts_used"`
	AttemptsRemaining *int       `json:"attempts_remaining,omitempty"`

	resume *model.ExamAttempt
}

func deny(reason AdmissionReason, used int) Admission {
	return Admission{Reason: reason, AttemptsUsed: used}
}

// Admit decides whether a candidate may start an attempt. It has no side
// effects and fails closed: anything it cannot confirm is a denial.
//
// A live IN_PROGRESS attempt is always resumable, even when the exam has been
// deactivated or closed since it started. Prior attempts count against the
// limit in every state.
func Admit(exam *model.Exam, version *model.ExamVersion, prior []model.ExamAttempt, now time.Time) Admission {
	used := len(prior)

	for i := range prior {
		a := &prior[i]
		if a.State == model.AttemptStateInProgress && !a.ExpiredAt(now) {
			id := a.ID
			return Admission{Allowed: true, ResumeAttemptID: &id, AttemptsUsed: used, resume: a}
		}
	}

	if exam == nil || !exam.IsActive {
		return deny(AdmissionExamInactive, used)
	}
	if !exam.IsPublished {
		return deny(AdmissionExamNotPublished, used)
	}
	if version == nil || exam.CurrentVersionID == nil || *exam.CurrentVersionID != version.ID {
		return deny(AdmissionVersionMissing, used)
	}
	if exam.AvailableFrom != nil && now.Before(*exam.AvailableFrom) {
		return deny(AdmissionNotYetOpen, used)
	}
	if exam.AvailableUntil != nil && !now.Before(*exam.AvailableUntil) {
		return deny(AdmissionClosed, used)
	}

	adm := Admission{Allowed: true, AttemptsUsed: used}
	if limit := exam.AttemptLimit(); limit > 0 {
		remaining := limit - used
		if remaining <= 0 {
			return deny(AdmissionAttemptLimitReached, used)
		}
		adm.AttemptsRemaining = &remaining
	}
	return adm
}
