package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/metrics"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/repository"
)

// AttemptService drives the attempt lifecycle: admission, start, answer
// saving, submission, manual grading and result presentation.
//
// Writes to one attempt are serialized with the Locker. Expiry is evaluated
// on every read from ExpiresAt, so an attempt past its deadline is closed the
// first time anything touches it.
type AttemptService struct {
	exams    ExamStore
	attempts AttemptStore
	locker   Locker
	events   EventPublisher
	clock    Clock
	log      zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	exams ExamStore,
	attempts AttemptStore,
	locker Locker,
	events EventPublisher,
	clock Clock,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		exams:    exams,
		attempts: attempts,
		locker:   locker,
		events:   events,
		clock:    clock,
		log:      log.With().Str("component", "attempt_service").Logger(),
	}
}

// AttemptDetail is an attempt with all of its answers.
type AttemptDetail struct {
	Attempt *model.ExamAttempt `json:"attempt"`
	Answers []model.ExamAnswer `json:"answers"`
}

// ResolveExam finds an exam by id or slug.
func (s *AttemptService) ResolveExam(ctx context.Context, ref string) (*model.Exam, error) {
	var (
		exam *model.Exam
		err  error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		exam, err = s.exams.GetExam(ctx, id)
	} else {
		exam, err = s.exams.GetExamBySlug(ctx, ref)
	}
	if err != nil {
		return nil, notFound("exam", err)
	}
	return exam, nil
}

func (s *AttemptService) currentVersion(ctx context.Context, exam *model.Exam) (*model.ExamVersion, error) {
	if exam.CurrentVersionID == nil {
		return nil, nil
	}
	v, err := s.exams.GetVersion(ctx, *exam.CurrentVersionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func (s *AttemptService) lockAttempt(ctx context.Context, id uuid.UUID) (func(), error) {
	return s.locker.Acquire(ctx, config.CacheKey.AttemptLockKey(id.String()))
}

// CanStartAttempt answers whether candidate may start (or resume) an attempt
// on the exam. Expired attempts of the candidate are closed first.
func (s *AttemptService) CanStartAttempt(ctx context.Context, examRef string, candidate model.Candidate) (*Admission, error) {
	if !candidate.Valid() {
		return nil, ErrCandidateRequired
	}
	exam, err := s.ResolveExam(ctx, examRef)
	if err != nil {
		return nil, err
	}
	adm, _, err := s.admit(ctx, exam, candidate)
	if err != nil {
		return nil, err
	}
	return &adm, nil
}

func (s *AttemptService) admit(ctx context.Context, exam *model.Exam, candidate model.Candidate) (Admission, *model.ExamVersion, error) {
	version, err := s.currentVersion(ctx, exam)
	if err != nil {
		return Admission{}, nil, err
	}

	prior, err := s.attempts.ListAttemptsByCandidate(ctx, exam.ID, candidate.Key())
	if err != nil {
		return Admission{}, nil, fmt.Errorf("list prior attempts: %w", err)
	}

	for i := range prior {
		if !prior[i].ExpiredAt(s.clock.Now()) {
			continue
		}
		settled, err := s.settle(ctx, &prior[i])
		if err != nil {
			return Admission{}, nil, err
		}
		prior[i] = *settled
	}

	return Admit(exam, version, prior, s.clock.Now()), version, nil
}

// Start begins a new attempt, or returns the candidate's live attempt when
// one exists. The bool result reports whether the attempt was resumed.
func (s *AttemptService) Start(ctx context.Context, examRef string, candidate model.Candidate) (*model.ExamAttempt, bool, error) {
	if !candidate.Valid() {
		return nil, false, ErrCandidateRequired
	}
	exam, err := s.ResolveExam(ctx, examRef)
	if err != nil {
		return nil, false, err
	}

	release, err := s.locker.Acquire(ctx, config.CacheKey.CandidateStartLockKey(exam.ID.String(), candidate.Key()))
	if err != nil {
		return nil, false, err
	}
	defer release()

	adm, version, err := s.admit(ctx, exam, candidate)
	if err != nil {
		return nil, false, err
	}
	if !adm.Allowed {
		metrics.AdmissionDenied.WithLabelValues(string(adm.Reason)).Inc()
		return nil, false, &AdmissionError{Reason: adm.Reason}
	}
	if adm.resume != nil {
		metrics.AttemptsStarted.WithLabelValues("true").Inc()
		return adm.resume, true, nil
	}

	now := s.clock.Now()
	a := &model.ExamAttempt{
		ID:             uuid.New(),
		ExamID:         exam.ID,
		VersionID:      version.ID,
		UserID:         candidate.UserID,
		CandidateName:  candidate.Name,
		CandidateEmail: candidate.Email,
		CandidateKey:   candidate.Key(),
		AttemptNumber:  adm.AttemptsUsed + 1,
		State:          model.AttemptStateInProgress,
		StartedAt:      now,
		MaxScore:       grading.RoundScore(version.TotalPoints()),
	}
	if limit := exam.TimeLimit(); limit > 0 {
		expires := now.Add(limit)
		a.ExpiresAt = &expires
	}
	if exam.ShuffleQuestions {
		a.QuestionOrder = shuffledQuestionOrder(version)
	}

	if err := s.attempts.CreateAttempt(ctx, a); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, false, fmt.Errorf("attempt %d already exists: %w", a.AttemptNumber, ErrInvalidState)
		}
		return nil, false, fmt.Errorf("create attempt: %w", err)
	}

	metrics.AttemptsStarted.WithLabelValues("false").Inc()
	s.events.Publish(ctx, newAttemptEvent(EventAttemptStarted, a, now))
	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("exam_id", exam.ID.String()).
		Int("attempt_number", a.AttemptNumber).
		Msg("Attempt started")

	return a, false, nil
}

// Attempt loads an attempt, closing it first if its deadline has passed.
func (s *AttemptService) Attempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a, err := s.attempts.GetAttempt(ctx, id)
	if err != nil {
		return nil, notFound("attempt", err)
	}
	return s.settle(ctx, a)
}

// settle auto-submits an attempt that is past its deadline.
func (s *AttemptService) settle(ctx context.Context, a *model.ExamAttempt) (*model.ExamAttempt, error) {
	if !a.ExpiredAt(s.clock.Now()) {
		return a, nil
	}

	release, err := s.lockAttempt(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	fresh, err := s.attempts.GetAttempt(ctx, a.ID)
	if err != nil {
		return nil, notFound("attempt", err)
	}
	if !fresh.ExpiredAt(s.clock.Now()) {
		return fresh, nil
	}
	return s.complete(ctx, fresh, true)
}

// SaveAnswer stores the latest value for one question of an in-progress
// attempt. Answers are graded only on submit.
func (s *AttemptService) SaveAnswer(ctx context.Context, attemptID, questionID uuid.UUID, value model.AnswerValue) (*model.ExamAnswer, error) {
	release, err := s.lockAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, notFound("attempt", err)
	}
	if a.State != model.AttemptStateInProgress {
		return nil, fmt.Errorf("save answer in state %s: %w", a.State, ErrInvalidState)
	}
	if a.ExpiredAt(s.clock.Now()) {
		if _, err := s.complete(ctx, a, true); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	version, err := s.exams.GetVersion(ctx, a.VersionID)
	if err != nil {
		return nil, notFound("version", err)
	}
	if _, ok := version.Question(questionID); !ok {
		return nil, fmt.Errorf("question %s: %w", questionID, ErrNotFound)
	}

	ans := &model.ExamAnswer{
		AttemptID:  a.ID,
		QuestionID: questionID,
		Value:      value,
		Grade:      model.Grade{Status: model.GradeStatusUngraded},
	}
	if err := s.attempts.UpsertAnswer(ctx, ans); err != nil {
		return nil, fmt.Errorf("upsert answer: %w", err)
	}

	metrics.AnswersSaved.Inc()
	s.events.Publish(ctx, newAttemptEvent(EventAnswerSaved, a, s.clock.Now()))
	return ans, nil
}

// Submit grades and closes an attempt. Submitting a closed attempt returns
// it unchanged, so retries are safe.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID) (*model.ExamAttempt, error) {
	release, err := s.lockAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, notFound("attempt", err)
	}
	if a.State.Closed() {
		return a, nil
	}
	if a.State != model.AttemptStateInProgress {
		return nil, fmt.Errorf("submit in state %s: %w", a.State, ErrInvalidState)
	}
	return s.complete(ctx, a, a.ExpiredAt(s.clock.Now()))
}

// complete grades every question of the version and closes the attempt.
// Callers hold the attempt lock.
func (s *AttemptService) complete(ctx context.Context, a *model.ExamAttempt, timedOut bool) (*model.ExamAttempt, error) {
	start := time.Now()
	now := s.clock.Now()

	exam, err := s.exams.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, notFound("exam", err)
	}
	version, err := s.exams.GetVersion(ctx, a.VersionID)
	if err != nil {
		return nil, notFound("version", err)
	}
	saved, err := s.attempts.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	byQuestion := make(map[uuid.UUID]model.ExamAnswer, len(saved))
	for _, ans := range saved {
		byQuestion[ans.QuestionID] = ans
	}

	graded := make([]model.ExamAnswer, 0, len(version.Questions()))
	for _, q := range version.Questions() {
		ans, ok := byQuestion[q.ID]
		if !ok {
			ans = model.ExamAnswer{AttemptID: a.ID, QuestionID: q.ID}
		}
		ans.Grade = s.gradeOne(a.ID, &q, ans.Value)
		if ans.Grade.Determined() {
			at := now
			ans.GradedAt = &at
		}
		graded = append(graded, ans)
	}

	summary := grading.Aggregate(version, graded, exam.PassingScore)
	applyTotals(a, summary)
	a.TimedOut = timedOut
	a.CompletedAt = &now
	a.AutoGradedAt = &now
	a.TimeSpentSeconds = timeSpent(a.StartedAt, now, exam.TimeLimit())

	switch {
	case summary.Complete() && exam.AutoGrade:
		a.State = model.AttemptStateGraded
		a.GradedAt = &now
	case timedOut:
		a.State = model.AttemptStateExpired
	default:
		a.State = model.AttemptStateSubmitted
	}

	applied, err := s.attempts.CompleteAttempt(ctx, a, graded)
	if err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}
	if !applied {
		// Someone else closed it first; theirs is the stored result.
		stored, err := s.attempts.GetAttempt(ctx, a.ID)
		if err != nil {
			return nil, notFound("attempt", err)
		}
		return stored, nil
	}

	metrics.ObserveSince(metrics.GradingDuration, start)
	metrics.AttemptsCompleted.WithLabelValues(string(a.State)).Inc()

	evType := EventAttemptSubmitted
	if timedOut {
		evType = EventAttemptExpired
	}
	s.events.Publish(ctx, newAttemptEvent(evType, a, now))
	if a.State == model.AttemptStateGraded {
		s.events.Publish(ctx, newAttemptEvent(EventAttemptGraded, a, now))
	}

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("exam_id", a.ExamID.String()).
		Str("state", string(a.State)).
		Float64("score", summary.Score).
		Int("pending", summary.Pending).
		Bool("timed_out", timedOut).
		Msg("Attempt closed")

	return a, nil
}

// gradeOne isolates a single question so a grading fault leaves it for a
// human instead of failing the whole submission.
func (s *AttemptService) gradeOne(attemptID uuid.UUID, q *model.Question, v model.AnswerValue) (g model.Grade) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Str("attempt_id", attemptID.String()).
				Str("question_id", q.ID.String()).
				Msg("Grading failed, leaving question for manual grading")
			g = model.PendingManual()
		}
		metrics.AnswersGraded.WithLabelValues(string(q.Type), string(g.Status)).Inc()
	}()
	return grading.Grade(q, v)
}

func applyTotals(a *model.ExamAttempt, s grading.Summary) {
	score, pct, passed := s.Score, s.Percentage, s.Passed
	a.Score = &score
	a.Percentage = &pct
	a.Passed = &passed
	a.MaxScore = s.MaxScore
}

// timeSpent is the elapsed time, clamped to the time limit when there is one.
func timeSpent(started, ended time.Time, limit time.Duration) *int {
	d := ended.Sub(started)
	if d < 0 {
		d = 0
	}
	if limit > 0 && d > limit {
		d = limit
	}
	secs := int(d / time.Second)
	return &secs
}

// GradeManually records a human grade for one answer of a closed attempt and
// recomputes the totals. The attempt becomes GRADED once nothing is pending.
func (s *AttemptService) GradeManually(ctx context.Context, attemptID, answerID uuid.UUID, points float64, feedback *string, graderID int) (*AttemptDetail, error) {
	release, err := s.lockAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, notFound("attempt", err)
	}
	if a.ExpiredAt(s.clock.Now()) {
		if a, err = s.complete(ctx, a, true); err != nil {
			return nil, err
		}
	}
	if !a.State.Closed() {
		return nil, fmt.Errorf("grade in state %s: %w", a.State, ErrInvalidState)
	}

	ans, err := s.attempts.GetAnswer(ctx, answerID)
	if err != nil {
		return nil, notFound("answer", err)
	}
	if ans.AttemptID != a.ID {
		return nil, fmt.Errorf("answer %s: %w", answerID, ErrNotFound)
	}

	exam, err := s.exams.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, notFound("exam", err)
	}
	version, err := s.exams.GetVersion(ctx, a.VersionID)
	if err != nil {
		return nil, notFound("version", err)
	}
	q, ok := version.Question(ans.QuestionID)
	if !ok {
		return nil, fmt.Errorf("question %s: %w", ans.QuestionID, ErrNotFound)
	}
	if points < 0 || points > q.Points {
		return nil, fmt.Errorf("%v not in [0, %v]: %w", points, q.Points, ErrOutOfRange)
	}

	now := s.clock.Now()
	ans.Grade = model.Graded(points, q.Points > 0 && points == q.Points, false)
	ans.Feedback = feedback
	ans.GradedBy = &graderID
	ans.GradedAt = &now

	answers, err := s.attempts.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	for i := range answers {
		if answers[i].ID == ans.ID {
			answers[i] = *ans
		}
	}

	summary := grading.Aggregate(version, answers, exam.PassingScore)
	applyTotals(a, summary)
	becameGraded := false
	if summary.Complete() && a.State != model.AttemptStateGraded {
		a.State = model.AttemptStateGraded
		a.GradedAt = &now
		becameGraded = true
	}

	if err := s.attempts.SaveManualGrade(ctx, a, ans); err != nil {
		return nil, fmt.Errorf("save manual grade: %w", err)
	}

	metrics.ManualGrades.Inc()
	if becameGraded {
		s.events.Publish(ctx, newAttemptEvent(EventAttemptGraded, a, now))
	}
	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("answer_id", ans.ID.String()).
		Int("grader_id", graderID).
		Float64("points", points).
		Str("state", string(a.State)).
		Msg("Answer graded manually")

	return &AttemptDetail{Attempt: a, Answers: answers}, nil
}

// FinalizeGrading releases a fully graded attempt to GRADED. It is how exams
// without automatic release publish their results.
func (s *AttemptService) FinalizeGrading(ctx context.Context, attemptID uuid.UUID, graderID int) (*model.ExamAttempt, error) {
	release, err := s.lockAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err := s.attempts.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, notFound("attempt", err)
	}
	if a.ExpiredAt(s.clock.Now()) {
		if a, err = s.complete(ctx, a, true); err != nil {
			return nil, err
		}
	}
	if a.State == model.AttemptStateGraded {
		return a, nil
	}
	if !a.State.Closed() {
		return nil, fmt.Errorf("finalize in state %s: %w", a.State, ErrInvalidState)
	}

	exam, err := s.exams.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, notFound("exam", err)
	}
	version, err := s.exams.GetVersion(ctx, a.VersionID)
	if err != nil {
		return nil, notFound("version", err)
	}
	answers, err := s.attempts.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	summary := grading.Aggregate(version, answers, exam.PassingScore)
	if !summary.Complete() {
		return nil, fmt.Errorf("%d answers still pending: %w", summary.Pending, ErrInvalidState)
	}

	now := s.clock.Now()
	applyTotals(a, summary)
	a.State = model.AttemptStateGraded
	a.GradedAt = &now
	if err := s.attempts.UpdateAttemptGrading(ctx, a); err != nil {
		return nil, fmt.Errorf("update attempt: %w", err)
	}

	s.events.Publish(ctx, newAttemptEvent(EventAttemptGraded, a, now))
	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Int("grader_id", graderID).
		Msg("Attempt grading finalized")
	return a, nil
}

// Paper returns the candidate's view of an attempt: questions without answer
// keys in attempt order, the saved answers and the remaining time.
func (s *AttemptService) Paper(ctx context.Context, attemptID uuid.UUID) (*model.AttemptPaper, error) {
	a, err := s.Attempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	exam, err := s.exams.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, notFound("exam", err)
	}
	version, err := s.exams.GetVersion(ctx, a.VersionID)
	if err != nil {
		return nil, notFound("version", err)
	}
	answers, err := s.attempts.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	paper := &model.AttemptPaper{
		AttemptID: a.ID,
		ExamID:    a.ExamID,
		Title:     exam.Title,
		State:     a.State,
		Answers:   make(map[string]model.AnswerValue, len(answers)),
	}
	for _, q := range orderedQuestions(version, a.QuestionOrder) {
		opts := q.Options
		// Ordering items always shuffle; their authored order may be the key.
		if exam.ShuffleOptions || q.Type == model.QuestionTypeOrdering {
			opts = shuffledOptions(a.ID, q.ID, opts)
		}
		paper.Questions = append(paper.Questions, forCandidate(q, opts))
	}
	for _, ans := range answers {
		paper.Answers[ans.QuestionID.String()] = ans.Value
	}
	if a.State == model.AttemptStateInProgress && a.ExpiresAt != nil {
		remaining := a.ExpiresAt.Sub(s.clock.Now()).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		paper.RemainingSeconds = &remaining
	}
	return paper, nil
}

// Result formats the attempt under the exam's show-results policy.
func (s *AttemptService) Result(ctx context.Context, attemptID uuid.UUID) (*model.ResultView, error) {
	if _, err := s.Attempt(ctx, attemptID); err != nil {
		return nil, err
	}

	a, answers, err := s.attempts.Snapshot(ctx, attemptID)
	if err != nil {
		return nil, notFound("attempt", err)
	}
	exam, err := s.exams.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, notFound("exam", err)
	}
	version, err := s.exams.GetVersion(ctx, a.VersionID)
	if err != nil {
		return nil, notFound("version", err)
	}

	view := FormatResult(a, answers, exam, version, s.clock.Now())
	return &view, nil
}

// Detail returns an attempt with every answer and grade, for graders.
func (s *AttemptService) Detail(ctx context.Context, attemptID uuid.UUID) (*AttemptDetail, error) {
	if _, err := s.Attempt(ctx, attemptID); err != nil {
		return nil, err
	}
	a, answers, err := s.attempts.Snapshot(ctx, attemptID)
	if err != nil {
		return nil, notFound("attempt", err)
	}
	return &AttemptDetail{Attempt: a, Answers: answers}, nil
}

// ListAttempts returns the attempts of an exam, optionally filtered by state.
func (s *AttemptService) ListAttempts(ctx context.Context, examID uuid.UUID, state *model.AttemptState) ([]model.ExamAttempt, error) {
	if _, err := s.exams.GetExam(ctx, examID); err != nil {
		return nil, notFound("exam", err)
	}
	attempts, err := s.attempts.ListAttemptsByExam(ctx, examID, state)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	for i := range attempts {
		if !attempts[i].ExpiredAt(s.clock.Now()) {
			continue
		}
		settled, err := s.settle(ctx, &attempts[i])
		if err != nil {
			return nil, err
		}
		attempts[i] = *settled
	}
	return attempts, nil
}

// ExpireStale closes up to limit in-progress attempts whose deadline has
// passed and returns how many it closed.
func (s *AttemptService) ExpireStale(ctx context.Context, limit int) (int, error) {
	stale, err := s.attempts.ListExpiredInProgress(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired attempts: %w", err)
	}

	closed := 0
	for i := range stale {
		if _, err := s.settle(ctx, &stale[i]); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", stale[i].ID.String()).Msg("Failed to expire attempt")
			continue
		}
		closed++
	}
	return closed, nil
}
