package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/model"
)

// ExamStore reads exam configuration and immutable versions.
// Missing rows are reported as pgx.ErrNoRows.
type ExamStore interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	GetExamBySlug(ctx context.Context, slug string) (*model.Exam, error)
	GetVersion(ctx context.Context, id uuid.UUID) (*model.ExamVersion, error)
	ListPublishedExams(ctx context.Context) ([]model.Exam, error)
}

// AttemptStore persists attempts and their answers.
// Missing rows are reported as pgx.ErrNoRows.
type AttemptStore interface {
	// CreateAttempt inserts a new attempt. A duplicate attempt number for the
	// same candidate returns repository.ErrDuplicate.
	CreateAttempt(ctx context.Context, a *model.ExamAttempt) error
	GetAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	ListAttemptsByCandidate(ctx context.Context, examID uuid.UUID, candidateKey string) ([]model.ExamAttempt, error)
	ListAttemptsByExam(ctx context.Context, examID uuid.UUID, state *model.AttemptState) ([]model.ExamAttempt, error)
	ListExpiredInProgress(ctx context.Context, now time.Time, limit int) ([]model.ExamAttempt, error)
	CountAttemptsByState(ctx context.Context, examID uuid.UUID) (map[model.AttemptState]int, error)

	// UpsertAnswer stores the latest value for (attempt, question) and fills
	// ID and timestamps on the answer.
	UpsertAnswer(ctx context.Context, ans *model.ExamAnswer) error
	GetAnswer(ctx context.Context, id uuid.UUID) (*model.ExamAnswer, error)
	ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.ExamAnswer, error)
	CountPendingManual(ctx context.Context, examID uuid.UUID) (int, error)

	// CompleteAttempt writes graded answers and closes the attempt in one
	// transaction, but only while the stored attempt is still IN_PROGRESS.
	// It reports false when another caller closed the attempt first.
	CompleteAttempt(ctx context.Context, a *model.ExamAttempt, answers []model.ExamAnswer) (bool, error)
	// SaveManualGrade updates one answer grade and the attempt totals together.
	SaveManualGrade(ctx context.Context, a *model.ExamAttempt, ans *model.ExamAnswer) error
	// UpdateAttemptGrading stores totals and grading state of a closed attempt.
	UpdateAttemptGrading(ctx context.Context, a *model.ExamAttempt) error
	// Snapshot reads an attempt and its answers from one consistent view.
	Snapshot(ctx context.Context, attemptID uuid.UUID) (*model.ExamAttempt, []model.ExamAnswer, error)
}
