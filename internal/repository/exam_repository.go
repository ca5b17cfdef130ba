package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

// ExamRepository reads exam configuration and versions. Authoring happens
// elsewhere; the write methods exist for seeding.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, slug, title, author_id, is_active, is_published, current_version_id,
	time_limit_minutes, max_attempts, passing_score, shuffle_questions, shuffle_options,
	show_results, allow_review, auto_grade, available_from, available_until, results_at,
	created_at, updated_at`

func scanExam(row pgx.Row) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(&e.ID, &e.Slug, &e.Title, &e.AuthorID, &e.IsActive, &e.IsPublished, &e.CurrentVersionID,
		&e.TimeLimitMinutes, &e.MaxAttempts, &e.PassingScore, &e.ShuffleQuestions, &e.ShuffleOptions,
		&e.ShowResults, &e.AllowReview, &e.AutoGrade, &e.AvailableFrom, &e.AvailableUntil, &e.ResultsAt,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetExam retrieves an exam by its UUID.
func (r *ExamRepository) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
}

// GetExamBySlug retrieves an exam by its public slug.
func (r *ExamRepository) GetExamBySlug(ctx context.Context, slug string) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams WHERE slug = $1`, slug))
}

// GetVersion retrieves an immutable exam version with its question content.
func (r *ExamRepository) GetVersion(ctx context.Context, id uuid.UUID) (*model.ExamVersion, error) {
	v := &model.ExamVersion{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, number, sections, created_at
		 FROM exam_versions WHERE id = $1`, id,
	).Scan(&v.ID, &v.ExamID, &v.Number, &v.Sections, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListPublishedExams returns all active, published exams.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublishedExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE is_published = TRUE AND is_active = TRUE
		 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// CreateExam inserts a new exam. A taken slug returns ErrDuplicate.
func (r *ExamRepository) CreateExam(ctx context.Context, e *model.Exam) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exams (slug, title, author_id, is_active, is_published, time_limit_minutes,
		                    max_attempts, passing_score, shuffle_questions, shuffle_options,
		                    show_results, allow_review, auto_grade, available_from, available_until, results_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id, created_at, updated_at`,
		e.Slug, e.Title, e.AuthorID, e.IsActive, e.IsPublished, e.TimeLimitMinutes,
		e.MaxAttempts, e.PassingScore, e.ShuffleQuestions, e.ShuffleOptions,
		e.ShowResults, e.AllowReview, e.AutoGrade, e.AvailableFrom, e.AvailableUntil, e.ResultsAt,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// CreateVersion stores a new version and makes it the exam's current one.
// The version number is the next free number for the exam.
func (r *ExamRepository) CreateVersion(ctx context.Context, v *model.ExamVersion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO exam_versions (exam_id, number, sections)
		 VALUES ($1, (SELECT COALESCE(MAX(number), 0) + 1 FROM exam_versions WHERE exam_id = $1), $2)
		 RETURNING id, number, created_at`,
		v.ExamID, v.Sections,
	).Scan(&v.ID, &v.Number, &v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE exams SET current_version_id = $1, updated_at = NOW() WHERE id = $2`,
		v.ID, v.ExamID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
