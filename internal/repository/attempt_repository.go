package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-grader/internal/model"
)

// AttemptRepository handles exam attempts and their answers.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const attemptColumns = `id, exam_id, version_id, user_id, candidate_name, candidate_email, candidate_key,
	attempt_number, state, started_at, expires_at, completed_at, time_spent_seconds,
	score, max_score, percentage, passed, timed_out, auto_graded_at, graded_at,
	question_order, created_at, updated_at`

func scanAttempt(row pgx.Row) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := row.Scan(&a.ID, &a.ExamID, &a.VersionID, &a.UserID, &a.CandidateName, &a.CandidateEmail, &a.CandidateKey,
		&a.AttemptNumber, &a.State, &a.StartedAt, &a.ExpiresAt, &a.CompletedAt, &a.TimeSpentSeconds,
		&a.Score, &a.MaxScore, &a.Percentage, &a.Passed, &a.TimedOut, &a.AutoGradedAt, &a.GradedAt,
		&a.QuestionOrder, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func collectAttempts(rows pgx.Rows, err error) ([]model.ExamAttempt, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.ExamAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

const answerColumns = `id, attempt_id, question_id, value, grade_status, points, is_correct, auto_graded,
	feedback, graded_by, graded_at, created_at, updated_at`

func scanAnswer(row pgx.Row) (*model.ExamAnswer, error) {
	ans := &model.ExamAnswer{}
	err := row.Scan(&ans.ID, &ans.AttemptID, &ans.QuestionID, &ans.Value,
		&ans.Grade.Status, &ans.Grade.Points, &ans.Grade.Correct, &ans.Grade.AutoGraded,
		&ans.Feedback, &ans.GradedBy, &ans.GradedAt, &ans.CreatedAt, &ans.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return ans, nil
}

// CreateAttempt inserts a new attempt. A second attempt with the same number,
// or a second live attempt for the candidate, returns ErrDuplicate.
func (r *AttemptRepository) CreateAttempt(ctx context.Context, a *model.ExamAttempt) error {
	if a.QuestionOrder == nil {
		a.QuestionOrder = []uuid.UUID{}
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (id, exam_id, version_id, user_id, candidate_name, candidate_email,
		                            candidate_key, attempt_number, state, started_at, expires_at,
		                            max_score, question_order)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at, updated_at`,
		a.ID, a.ExamID, a.VersionID, a.UserID, a.CandidateName, a.CandidateEmail,
		a.CandidateKey, a.AttemptNumber, a.State, a.StartedAt, a.ExpiresAt,
		a.MaxScore, a.QuestionOrder,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetAttempt retrieves an attempt by its UUID.
func (r *AttemptRepository) GetAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return getAttempt(ctx, r.pool, id)
}

func getAttempt(ctx context.Context, q querier, id uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(q.QueryRow(ctx, `SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`, id))
}

// ListAttemptsByCandidate returns one candidate's attempts on an exam, oldest first.
func (r *AttemptRepository) ListAttemptsByCandidate(ctx context.Context, examID uuid.UUID, candidateKey string) ([]model.ExamAttempt, error) {
	return collectAttempts(r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE exam_id = $1 AND candidate_key = $2
		 ORDER BY attempt_number`, examID, candidateKey))
}

// ListAttemptsByExam returns every attempt on an exam, optionally filtered by state.
func (r *AttemptRepository) ListAttemptsByExam(ctx context.Context, examID uuid.UUID, state *model.AttemptState) ([]model.ExamAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM exam_attempts WHERE exam_id = $1`
	args := []any{examID}
	if state != nil {
		query += ` AND state = $2`
		args = append(args, *state)
	}
	query += ` ORDER BY started_at DESC`
	return collectAttempts(r.pool.Query(ctx, query, args...))
}

// ListExpiredInProgress returns in-progress attempts whose deadline is not after now.
func (r *AttemptRepository) ListExpiredInProgress(ctx context.Context, now time.Time, limit int) ([]model.ExamAttempt, error) {
	return collectAttempts(r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE state = 'IN_PROGRESS' AND expires_at IS NOT NULL AND expires_at <= $1
		 ORDER BY expires_at
		 LIMIT $2`, now, limit))
}

// CountAttemptsByState returns the number of attempts per state for an exam.
func (r *AttemptRepository) CountAttemptsByState(ctx context.Context, examID uuid.UUID) (map[model.AttemptState]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT state, COUNT(*)
		 FROM exam_attempts
		 WHERE exam_id = $1
		 GROUP BY state`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.AttemptState]int)
	for rows.Next() {
		var st model.AttemptState
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

const upsertAnswerSQL = `INSERT INTO exam_answers (id, attempt_id, question_id, value, grade_status, points,
	                          is_correct, auto_graded, feedback, graded_by, graded_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	 ON CONFLICT (attempt_id, question_id) DO UPDATE
	 SET value = EXCLUDED.value,
	     grade_status = EXCLUDED.grade_status,
	     points = EXCLUDED.points,
	     is_correct = EXCLUDED.is_correct,
	     auto_graded = EXCLUDED.auto_graded,
	     feedback = EXCLUDED.feedback,
	     graded_by = EXCLUDED.graded_by,
	     graded_at = EXCLUDED.graded_at,
	     updated_at = NOW()
	 RETURNING id, created_at, updated_at`

func answerArgs(ans *model.ExamAnswer) []any {
	if ans.ID == uuid.Nil {
		ans.ID = uuid.New()
	}
	status := ans.Grade.Status
	if status == "" {
		status = model.GradeStatusUngraded
	}
	return []any{ans.ID, ans.AttemptID, ans.QuestionID, ans.Value, status, ans.Grade.Points,
		ans.Grade.Correct, ans.Grade.AutoGraded, ans.Feedback, ans.GradedBy, ans.GradedAt}
}

// UpsertAnswer stores the latest value for (attempt, question).
func (r *AttemptRepository) UpsertAnswer(ctx context.Context, ans *model.ExamAnswer) error {
	return r.pool.QueryRow(ctx, upsertAnswerSQL, answerArgs(ans)...).
		Scan(&ans.ID, &ans.CreatedAt, &ans.UpdatedAt)
}

// GetAnswer retrieves an answer by its UUID.
func (r *AttemptRepository) GetAnswer(ctx context.Context, id uuid.UUID) (*model.ExamAnswer, error) {
	return scanAnswer(r.pool.QueryRow(ctx, `SELECT `+answerColumns+` FROM exam_answers WHERE id = $1`, id))
}

// ListAnswers returns all answers of an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.ExamAnswer, error) {
	return listAnswers(ctx, r.pool, attemptID)
}

func listAnswers(ctx context.Context, q querier, attemptID uuid.UUID) ([]model.ExamAnswer, error) {
	rows, err := q.Query(ctx,
		`SELECT `+answerColumns+` FROM exam_answers
		 WHERE attempt_id = $1
		 ORDER BY created_at`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.ExamAnswer
	for rows.Next() {
		ans, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, *ans)
	}
	return answers, rows.Err()
}

// CountPendingManual counts answers of closed attempts that wait for a grader.
func (r *AttemptRepository) CountPendingManual(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM exam_answers ans
		 JOIN exam_attempts a ON a.id = ans.attempt_id
		 WHERE a.exam_id = $1 AND ans.grade_status = 'PENDING_MANUAL'`, examID,
	).Scan(&n)
	return n, err
}

func updateAttemptTotals(ctx context.Context, q querier, a *model.ExamAttempt, onlyInProgress bool) (bool, error) {
	query := `UPDATE exam_attempts
		 SET state = $2, completed_at = $3, time_spent_seconds = $4, score = $5, max_score = $6,
		     percentage = $7, passed = $8, timed_out = $9, auto_graded_at = $10, graded_at = $11,
		     updated_at = NOW()
		 WHERE id = $1`
	if onlyInProgress {
		query += ` AND state = 'IN_PROGRESS'`
	}
	query += ` RETURNING updated_at`

	err := q.QueryRow(ctx, query,
		a.ID, a.State, a.CompletedAt, a.TimeSpentSeconds, a.Score, a.MaxScore,
		a.Percentage, a.Passed, a.TimedOut, a.AutoGradedAt, a.GradedAt,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) && onlyInProgress {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CompleteAttempt closes an in-progress attempt and writes its graded answers
// in one transaction. It returns false if the attempt was already closed.
func (r *AttemptRepository) CompleteAttempt(ctx context.Context, a *model.ExamAttempt, answers []model.ExamAnswer) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	ok, err := updateAttemptTotals(ctx, tx, a, true)
	if err != nil || !ok {
		return false, err
	}

	batch := &pgx.Batch{}
	for i := range answers {
		ans := &answers[i]
		batch.Queue(upsertAnswerSQL, answerArgs(ans)...).QueryRow(func(row pgx.Row) error {
			return row.Scan(&ans.ID, &ans.CreatedAt, &ans.UpdatedAt)
		})
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// SaveManualGrade updates one answer grade and the attempt totals together.
func (r *AttemptRepository) SaveManualGrade(ctx context.Context, a *model.ExamAttempt, ans *model.ExamAnswer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`UPDATE exam_answers
		 SET grade_status = $2, points = $3, is_correct = $4, auto_graded = $5,
		     feedback = $6, graded_by = $7, graded_at = $8, updated_at = NOW()
		 WHERE id = $1 AND attempt_id = $9
		 RETURNING updated_at`,
		ans.ID, ans.Grade.Status, ans.Grade.Points, ans.Grade.Correct, ans.Grade.AutoGraded,
		ans.Feedback, ans.GradedBy, ans.GradedAt, a.ID,
	).Scan(&ans.UpdatedAt)
	if err != nil {
		return err
	}

	if _, err := updateAttemptTotals(ctx, tx, a, false); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UpdateAttemptGrading stores totals and grading state of a closed attempt.
func (r *AttemptRepository) UpdateAttemptGrading(ctx context.Context, a *model.ExamAttempt) error {
	_, err := updateAttemptTotals(ctx, r.pool, a, false)
	return err
}

// Snapshot reads an attempt and its answers inside one repeatable-read
// transaction so totals and answers always agree.
func (r *AttemptRepository) Snapshot(ctx context.Context, attemptID uuid.UUID) (*model.ExamAttempt, []model.ExamAnswer, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	a, err := getAttempt(ctx, tx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	answers, err := listAnswers(ctx, tx, attemptID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return a, answers, nil
}
