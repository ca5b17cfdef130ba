package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/repository"
)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeExamStore struct {
	exams    map[uuid.UUID]*model.Exam
	versions map[uuid.UUID]*model.ExamVersion
}

func newFakeExamStore() *fakeExamStore {
	return &fakeExamStore{
		exams:    map[uuid.UUID]*model.Exam{},
		versions: map[uuid.UUID]*model.ExamVersion{},
	}
}

func (f *fakeExamStore) GetExam(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExamStore) GetExamBySlug(_ context.Context, slug string) (*model.Exam, error) {
	for _, e := range f.exams {
		if e.Slug == slug {
			cp := *e
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeExamStore) GetVersion(_ context.Context, id uuid.UUID) (*model.ExamVersion, error) {
	v, ok := f.versions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return v, nil
}

func (f *fakeExamStore) ListPublishedExams(context.Context) ([]model.Exam, error) {
	var out []model.Exam
	for _, e := range f.exams {
		if e.IsPublished {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeAttemptStore struct {
	mu        sync.Mutex
	attempts  map[uuid.UUID]model.ExamAttempt
	answers   map[uuid.UUID]model.ExamAnswer
	completed int
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{
		attempts: map[uuid.UUID]model.ExamAttempt{},
		answers:  map[uuid.UUID]model.ExamAnswer{},
	}
}

func (f *fakeAttemptStore) CreateAttempt(_ context.Context, a *model.ExamAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.attempts {
		if other.ExamID == a.ExamID && other.CandidateKey == a.CandidateKey && other.AttemptNumber == a.AttemptNumber {
			return repository.ErrDuplicate
		}
	}
	a.CreatedAt = a.StartedAt
	a.UpdatedAt = a.StartedAt
	f.attempts[a.ID] = *a
	return nil
}

func (f *fakeAttemptStore) GetAttempt(_ context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &a, nil
}

func (f *fakeAttemptStore) sorted(keep func(model.ExamAttempt) bool) []model.ExamAttempt {
	var out []model.ExamAttempt
	for _, a := range f.attempts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out
}

func (f *fakeAttemptStore) ListAttemptsByCandidate(_ context.Context, examID uuid.UUID, key string) ([]model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(a model.ExamAttempt) bool { return a.ExamID == examID && a.CandidateKey == key }), nil
}

func (f *fakeAttemptStore) ListAttemptsByExam(_ context.Context, examID uuid.UUID, state *model.AttemptState) ([]model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(a model.ExamAttempt) bool {
		return a.ExamID == examID && (state == nil || a.State == *state)
	}), nil
}

func (f *fakeAttemptStore) ListExpiredInProgress(_ context.Context, now time.Time, limit int) ([]model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sorted(func(a model.ExamAttempt) bool { return a.ExpiredAt(now) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAttemptStore) CountAttemptsByState(_ context.Context, examID uuid.UUID) (map[model.AttemptState]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[model.AttemptState]int{}
	for _, a := range f.attempts {
		if a.ExamID == examID {
			out[a.State]++
		}
	}
	return out, nil
}

func (f *fakeAttemptStore) upsertLocked(ans *model.ExamAnswer) {
	for id, existing := range f.answers {
		if existing.AttemptID == ans.AttemptID && existing.QuestionID == ans.QuestionID {
			ans.ID = id
			ans.CreatedAt = existing.CreatedAt
			f.answers[id] = *ans
			return
		}
	}
	if ans.ID == uuid.Nil {
		ans.ID = uuid.New()
	}
	f.answers[ans.ID] = *ans
}

func (f *fakeAttemptStore) UpsertAnswer(_ context.Context, ans *model.ExamAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertLocked(ans)
	return nil
}

func (f *fakeAttemptStore) GetAnswer(_ context.Context, id uuid.UUID) (*model.ExamAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ans, ok := f.answers[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &ans, nil
}

func (f *fakeAttemptStore) listAnswersLocked(attemptID uuid.UUID) []model.ExamAnswer {
	var out []model.ExamAnswer
	for _, ans := range f.answers {
		if ans.AttemptID == attemptID {
			out = append(out, ans)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID.String() < out[j].QuestionID.String() })
	return out
}

func (f *fakeAttemptStore) ListAnswers(_ context.Context, attemptID uuid.UUID) ([]model.ExamAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listAnswersLocked(attemptID), nil
}

func (f *fakeAttemptStore) CountPendingManual(_ context.Context, examID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ans := range f.answers {
		if a, ok := f.attempts[ans.AttemptID]; ok && a.ExamID == examID && ans.Grade.Status == model.GradeStatusPendingManual {
			n++
		}
	}
	return n, nil
}

func (f *fakeAttemptStore) CompleteAttempt(_ context.Context, a *model.ExamAttempt, answers []model.ExamAnswer) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.attempts[a.ID]
	if !ok || stored.State != model.AttemptStateInProgress {
		return false, nil
	}
	for i := range answers {
		f.upsertLocked(&answers[i])
	}
	f.attempts[a.ID] = *a
	f.completed++
	return true, nil
}

func (f *fakeAttemptStore) SaveManualGrade(_ context.Context, a *model.ExamAttempt, ans *model.ExamAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[ans.ID] = *ans
	f.attempts[a.ID] = *a
	return nil
}

func (f *fakeAttemptStore) UpdateAttemptGrading(_ context.Context, a *model.ExamAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[a.ID] = *a
	return nil
}

func (f *fakeAttemptStore) Snapshot(_ context.Context, attemptID uuid.UUID) (*model.ExamAttempt, []model.ExamAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[attemptID]
	if !ok {
		return nil, nil, pgx.ErrNoRows
	}
	return &a, f.listAnswersLocked(attemptID), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []AttemptEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev AttemptEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []AttemptEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]AttemptEventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// fixture is a published exam with one RADIO (2 pts, B correct) and one
// keyword TEXT question (3 pts, "rust"), wired into an AttemptService.
type fixture struct {
	clock    *fixedClock
	exams    *fakeExamStore
	attempts *fakeAttemptStore
	events   *recordingPublisher
	svc      *AttemptService

	exam    *model.Exam
	version *model.ExamVersion
	radio   model.Question
	text    model.Question
}

func newFixture(opts ...func(*model.Exam, *model.ExamVersion)) *fixture {
	f := &fixture{
		clock:    newFixedClock(),
		exams:    newFakeExamStore(),
		attempts: newFakeAttemptStore(),
		events:   &recordingPublisher{},
	}

	f.radio = model.Question{
		ID: uuid.New(), Type: model.QuestionTypeRadio, Prompt: "Pick B", Points: 2,
		Options: []model.Option{{ID: "A", Label: "a"}, {ID: "B", Label: "b", IsCorrect: true}, {ID: "C", Label: "c"}},
	}
	f.text = model.Question{
		ID: uuid.New(), Type: model.QuestionTypeText, Prompt: "Favourite language", Points: 3,
		Correct: model.CorrectAnswer{Keywords: []string{"rust"}},
	}

	examID := uuid.New()
	f.version = &model.ExamVersion{
		ID:       uuid.New(),
		ExamID:   examID,
		Number:   1,
		Sections: []model.Section{{ID: uuid.New(), Title: "Main", Questions: []model.Question{f.radio, f.text}}},
	}
	limit := 30
	f.exam = &model.Exam{
		ID:               examID,
		Slug:             "intro-quiz",
		Title:            "Intro quiz",
		IsActive:         true,
		IsPublished:      true,
		CurrentVersionID: &f.version.ID,
		TimeLimitMinutes: &limit,
		PassingScore:     60,
		ShowResults:      model.ShowResultsImmediate,
		AllowReview:      true,
		AutoGrade:        true,
	}
	for _, opt := range opts {
		opt(f.exam, f.version)
	}

	f.exams.exams[f.exam.ID] = f.exam
	f.exams.versions[f.version.ID] = f.version
	f.svc = NewAttemptService(f.exams, f.attempts, NewLocalLocker(time.Second), f.events, f.clock, zerolog.Nop())
	return f
}

func userCandidate(id int) model.Candidate {
	return model.Candidate{UserID: &id}
}

func strPtr(s string) *string { return &s }
