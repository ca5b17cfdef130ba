package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/model"
)

func startAttempt(t *testing.T, f *fixture, c model.Candidate) *model.ExamAttempt {
	t.Helper()
	a, _, err := f.svc.Start(context.Background(), f.exam.ID.String(), c)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return a
}

func saveAnswer(t *testing.T, f *fixture, a *model.ExamAttempt, q uuid.UUID, v model.AnswerValue) *model.ExamAnswer {
	t.Helper()
	ans, err := f.svc.SaveAnswer(context.Background(), a.ID, q, v)
	if err != nil {
		t.Fatalf("save answer: %v", err)
	}
	return ans
}

func TestStart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a := startAttempt(t, f, userCandidate(7))
	if a.State != model.AttemptStateInProgress {
		t.Fatalf("state = %s, want IN_PROGRESS", a.State)
	}
	if a.AttemptNumber != 1 {
		t.Errorf("attempt number = %d, want 1", a.AttemptNumber)
	}
	if a.MaxScore != 5 {
		t.Errorf("max score = %v, want 5", a.MaxScore)
	}
	if !a.StartedAt.Equal(f.clock.Now()) {
		t.Errorf("started at = %v, want %v", a.StartedAt, f.clock.Now())
	}
	if a.ExpiresAt == nil || !a.ExpiresAt.Equal(f.clock.Now().Add(30*time.Minute)) {
		t.Errorf("expires at = %v, want start + 30m", a.ExpiresAt)
	}

	again, resumed, err := f.svc.Start(ctx, f.exam.Slug, userCandidate(7))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resumed || again.ID != a.ID {
		t.Fatalf("expected the live attempt to be resumed")
	}

	if _, err := f.svc.Submit(ctx, a.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	second := startAttempt(t, f, userCandidate(7))
	if second.AttemptNumber != 2 {
		t.Fatalf("attempt number = %d, want 2", second.AttemptNumber)
	}

	if got := f.events.types(); got[0] != EventAttemptStarted {
		t.Errorf("first event = %s, want %s", got[0], EventAttemptStarted)
	}
}

func TestStart_Denied(t *testing.T) {
	one := 1
	f := newFixture(func(e *model.Exam, _ *model.ExamVersion) { e.MaxAttempts = &one })
	ctx := context.Background()

	a := startAttempt(t, f, userCandidate(1))
	if _, err := f.svc.Submit(ctx, a.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, _, err := f.svc.Start(ctx, f.exam.ID.String(), userCandidate(1))
	var admErr *AdmissionError
	if !errors.As(err, &admErr) || admErr.Reason != AdmissionAttemptLimitReached {
		t.Fatalf("err = %v, want attempt limit denial", err)
	}
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("admission error should match ErrForbidden")
	}

	// Another candidate still has a fresh allowance.
	startAttempt(t, f, userCandidate(2))
}

func TestStart_AnonymousCandidates(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, _, err := f.svc.Start(ctx, f.exam.Slug, model.Candidate{Name: "No Email"}); !errors.Is(err, ErrCandidateRequired) {
		t.Fatalf("err = %v, want ErrCandidateRequired", err)
	}

	a := startAttempt(t, f, model.Candidate{Name: "Ana", Email: "Ana@Example.com"})
	b, resumed, err := f.svc.Start(ctx, f.exam.Slug, model.Candidate{Name: "Ana", Email: " ana@example.com"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !resumed || b.ID != a.ID {
		t.Fatalf("same email should resume the same attempt")
	}
}

func TestStart_UnknownExam(t *testing.T) {
	f := newFixture()
	_, _, err := f.svc.Start(context.Background(), "does-not-exist", userCandidate(1))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStart_ShufflesQuestionOrder(t *testing.T) {
	f := newFixture(func(e *model.Exam, _ *model.ExamVersion) { e.ShuffleQuestions = true })
	a := startAttempt(t, f, userCandidate(1))
	if len(a.QuestionOrder) != 2 {
		t.Fatalf("question order has %d ids, want 2", len(a.QuestionOrder))
	}
	seen := map[uuid.UUID]bool{}
	for _, id := range a.QuestionOrder {
		seen[id] = true
	}
	if !seen[f.radio.ID] || !seen[f.text.ID] {
		t.Fatalf("question order is not a permutation of the version")
	}
}

func TestSaveAnswer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))

	first := saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: []string{"A"}})
	second := saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: []string{"B"}})
	if first.ID != second.ID {
		t.Fatalf("saving twice should update the same answer")
	}
	answers, _ := f.attempts.ListAnswers(ctx, a.ID)
	if len(answers) != 1 || answers[0].Value.OptionIDs[0] != "B" {
		t.Fatalf("answers = %+v, want one answer holding B", answers)
	}
	if answers[0].Grade.Status != model.GradeStatusUngraded {
		t.Errorf("saved answers must not be graded, got %s", answers[0].Grade.Status)
	}

	if _, err := f.svc.SaveAnswer(ctx, a.ID, uuid.New(), model.AnswerValue{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown question: err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.SaveAnswer(ctx, uuid.New(), f.radio.ID, model.AnswerValue{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown attempt: err = %v, want ErrNotFound", err)
	}

	if _, err := f.svc.Submit(ctx, a.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.SaveAnswer(ctx, a.ID, f.radio.ID, model.AnswerValue{OptionIDs: []string{"A"}}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("after submit: err = %v, want ErrInvalidState", err)
	}
}

func TestSaveAnswer_AfterDeadline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: []string{"B"}})

	f.clock.Advance(31 * time.Minute)
	_, err := f.svc.SaveAnswer(ctx, a.ID, f.text.ID, model.AnswerValue{Text: strPtr("rust")})
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}

	stored, _ := f.attempts.GetAttempt(ctx, a.ID)
	if !stored.TimedOut || !stored.State.Closed() {
		t.Fatalf("attempt should be closed by timeout, got %s timed_out=%v", stored.State, stored.TimedOut)
	}
	if *stored.Score != 2 {
		t.Errorf("score = %v, want 2 (late answer ignored)", *stored.Score)
	}
}

func TestSaveAnswer_Concurrent(t *testing.T) {
	const extra = 6
	var texts []model.Question
	for i := 0; i < extra; i++ {
		texts = append(texts, model.Question{
			ID: uuid.New(), Type: model.QuestionTypeText, Prompt: "Say go", Points: 1,
			Correct: model.CorrectAnswer{Keywords: []string{"go"}},
		})
	}
	f := newFixture(func(_ *model.Exam, v *model.ExamVersion) {
		v.Sections[0].Questions = append(v.Sections[0].Questions, texts...)
	})
	a := startAttempt(t, f, userCandidate(1))

	written := map[uuid.UUID]string{}
	for i, q := range texts {
		written[q.ID] = "answer " + string(rune('a'+i))
	}
	radioValues := []string{"A", "B", "C", "A", "B", "C"}

	var wg sync.WaitGroup
	errs := make(chan error, len(texts)+len(radioValues))
	for _, q := range texts {
		wg.Add(1)
		go func(qid uuid.UUID, text string) {
			defer wg.Done()
			_, err := f.svc.SaveAnswer(context.Background(), a.ID, qid, model.AnswerValue{Text: &text})
			errs <- err
		}(q.ID, written[q.ID])
	}
	for _, opt := range radioValues {
		wg.Add(1)
		go func(opt string) {
			defer wg.Done()
			_, err := f.svc.SaveAnswer(context.Background(), a.ID, f.radio.ID, model.AnswerValue{OptionIDs: []string{opt}})
			errs <- err
		}(opt)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	f.attempts.mu.Lock()
	defer f.attempts.mu.Unlock()
	rows := map[uuid.UUID][]model.ExamAnswer{}
	for _, ans := range f.attempts.answers {
		if ans.AttemptID == a.ID {
			rows[ans.QuestionID] = append(rows[ans.QuestionID], ans)
		}
	}
	if len(rows) != extra+1 {
		t.Fatalf("answered questions = %d, want %d", len(rows), extra+1)
	}
	for qid, got := range rows {
		if len(got) != 1 {
			t.Fatalf("question %s has %d rows, want 1", qid, len(got))
		}
	}
	for qid, want := range written {
		v := rows[qid][0].Value
		if v.Text == nil || *v.Text != want {
			t.Errorf("question %s holds %+v, want %q", qid, v, want)
		}
	}
	radio := rows[f.radio.ID][0].Value
	if len(radio.OptionIDs) != 1 || !containsString([]string{"A", "B", "C"}, radio.OptionIDs[0]) {
		t.Errorf("radio holds %v, want one of the written options", radio.OptionIDs)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestSubmit_Scoring(t *testing.T) {
	tests := []struct {
		name    string
		radio   []string
		text    *string
		score   float64
		pct     float64
		passed  bool
		correct int
	}{
		{name: "all correct", radio: []string{"B"}, text: strPtr("I love Rust"), score: 5, pct: 100, passed: true, correct: 2},
		{name: "all wrong", radio: []string{"A"}, text: strPtr("Go"), score: 0, pct: 0, passed: false},
		{name: "text only", radio: nil, text: strPtr("rust"), score: 3, pct: 60, passed: true, correct: 1},
		{name: "nothing answered", score: 0, pct: 0, passed: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			a := startAttempt(t, f, userCandidate(1))
			if tc.radio != nil {
				saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: tc.radio})
			}
			if tc.text != nil {
				saveAnswer(t, f, a, f.text.ID, model.AnswerValue{Text: tc.text})
			}
			f.clock.Advance(10 * time.Minute)

			got, err := f.svc.Submit(ctx, a.ID)
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			if got.State != model.AttemptStateGraded {
				t.Fatalf("state = %s, want GRADED", got.State)
			}
			if *got.Score != tc.score || *got.Percentage != tc.pct || *got.Passed != tc.passed {
				t.Fatalf("score=%v pct=%v passed=%v, want %v %v %v", *got.Score, *got.Percentage, *got.Passed, tc.score, tc.pct, tc.passed)
			}
			if got.MaxScore != 5 {
				t.Errorf("max score = %v, want 5", got.MaxScore)
			}
			if *got.TimeSpentSeconds != 600 {
				t.Errorf("time spent = %d, want 600", *got.TimeSpentSeconds)
			}

			answers, _ := f.attempts.ListAnswers(ctx, a.ID)
			if len(answers) != 2 {
				t.Fatalf("every question should have an answer row, got %d", len(answers))
			}
			correct := 0
			for _, ans := range answers {
				if !ans.Grade.Determined() {
					t.Fatalf("answer %s left undetermined", ans.QuestionID)
				}
				if ans.Grade.Correct {
					correct++
				}
			}
			if correct != tc.correct {
				t.Errorf("correct answers = %d, want %d", correct, tc.correct)
			}
		})
	}
}

func TestSubmit_ZeroPointManualQuestionGraded(t *testing.T) {
	survey := model.Question{ID: uuid.New(), Type: model.QuestionTypeTextarea, Prompt: "Any feedback?", Points: 0}
	f := newFixture(func(e *model.Exam, v *model.ExamVersion) {
		e.ShowResults = model.ShowResultsManual
		v.Sections[0].Questions = append(v.Sections[0].Questions, survey)
	})
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: []string{"B"}})
	saveAnswer(t, f, a, survey.ID, model.AnswerValue{Text: strPtr("nice exam")})

	done, err := f.svc.Submit(ctx, a.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.State != model.AttemptStateGraded {
		t.Fatalf("state = %s, want GRADED", done.State)
	}
	if done.Score == nil || *done.Score != 2 {
		t.Errorf("score = %v, want 2", done.Score)
	}

	ans := answerFor(t, f, a.ID, survey.ID)
	if ans.Grade.Status != model.GradeStatusGraded || ans.Grade.Points != 0 {
		t.Errorf("survey grade = %+v, want graded at 0", ans.Grade)
	}

	view, err := f.svc.Result(ctx, a.ID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if !view.Available {
		t.Fatalf("result withheld: %s", view.BlockedReason)
	}
}

func TestSubmit_Idempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: []string{"B"}})

	first, err := f.svc.Submit(ctx, a.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.clock.Advance(time.Minute)
	second, err := f.svc.Submit(ctx, a.ID)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if *first.Score != *second.Score || !first.CompletedAt.Equal(*second.CompletedAt) || first.State != second.State {
		t.Fatalf("second submit changed the attempt: %+v vs %+v", first, second)
	}
	if f.attempts.completed != 1 {
		t.Fatalf("attempt completed %d times, want 1", f.attempts.completed)
	}
}

func TestSubmit_Concurrent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: []string{"B"}})

	var wg sync.WaitGroup
	scores := make([]float64, 8)
	errs := make([]error, 8)
	for i := range scores {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := f.svc.Submit(ctx, a.ID)
			errs[i] = err
			if err == nil {
				scores[i] = *got.Score
			}
		}(i)
	}
	wg.Wait()

	for i := range scores {
		if errs[i] != nil {
			t.Fatalf("submit %d: %v", i, errs[i])
		}
		if scores[i] != 2 {
			t.Fatalf("submit %d saw score %v, want 2", i, scores[i])
		}
	}
	if f.attempts.completed != 1 {
		t.Fatalf("attempt completed %d times, want 1", f.attempts.completed)
	}
}

func TestSubmit_LostRaceReturnsStoredResult(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))

	// Another node closed the attempt behind our back.
	stored, _ := f.attempts.GetAttempt(ctx, a.ID)
	score := 4.0
	stored.State = model.AttemptStateSubmitted
	stored.Score = &score
	_ = f.attempts.UpdateAttemptGrading(ctx, stored)

	inProgress := *a
	got, err := f.svc.complete(ctx, &inProgress, false)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.State != model.AttemptStateSubmitted || *got.Score != 4 {
		t.Fatalf("expected the stored result, got %s score %v", got.State, *got.Score)
	}
}

func TestExpiry_AutoSubmitOnRead(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: []string{"B"}})

	f.clock.Advance(45 * time.Minute)
	got, err := f.svc.Attempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if !got.TimedOut {
		t.Fatalf("expected timed out attempt")
	}
	// Everything is auto-gradable, so a timed-out attempt still ends GRADED.
	if got.State != model.AttemptStateGraded {
		t.Fatalf("state = %s, want GRADED", got.State)
	}
	if *got.TimeSpentSeconds != 30*60 {
		t.Errorf("time spent = %d, want clamp to 1800", *got.TimeSpentSeconds)
	}
	if *got.Score != 2 {
		t.Errorf("score = %v, want 2", *got.Score)
	}

	types := f.events.types()
	if types[len(types)-2] != EventAttemptExpired || types[len(types)-1] != EventAttemptGraded {
		t.Errorf("events = %v, want ... expired, graded", types)
	}
}

func TestExpiry_ManualQuestionStaysExpired(t *testing.T) {
	f := newFixture(func(_ *model.Exam, v *model.ExamVersion) {
		v.Sections[0].Questions[1].Correct = model.CorrectAnswer{}
	})
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	saveAnswer(t, f, a, f.text.ID, model.AnswerValue{Text: strPtr("an essay")})

	f.clock.Advance(time.Hour)
	got, err := f.svc.Attempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if got.State != model.AttemptStateExpired {
		t.Fatalf("state = %s, want EXPIRED", got.State)
	}
}

func TestExpireStale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	startAttempt(t, f, userCandidate(1))
	startAttempt(t, f, userCandidate(2))
	f.clock.Advance(time.Hour)
	startAttempt(t, f, userCandidate(3))

	n, err := f.svc.ExpireStale(ctx, 10)
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if n != 2 {
		t.Fatalf("expired %d attempts, want 2", n)
	}
	inProgress := model.AttemptStateInProgress
	left, _ := f.attempts.ListAttemptsByExam(ctx, f.exam.ID, &inProgress)
	if len(left) != 1 {
		t.Fatalf("%d attempts still in progress, want 1", len(left))
	}
}

func TestStart_ClosesExpiredAttemptBeforeCounting(t *testing.T) {
	two := 2
	f := newFixture(func(e *model.Exam, _ *model.ExamVersion) { e.MaxAttempts = &two })
	ctx := context.Background()
	first := startAttempt(t, f, userCandidate(1))

	f.clock.Advance(time.Hour)
	second, resumed, err := f.svc.Start(ctx, f.exam.ID.String(), userCandidate(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resumed || second.ID == first.ID || second.AttemptNumber != 2 {
		t.Fatalf("expected a fresh second attempt, got number %d resumed=%v", second.AttemptNumber, resumed)
	}
	closed, _ := f.attempts.GetAttempt(ctx, first.ID)
	if !closed.State.Closed() || !closed.TimedOut {
		t.Fatalf("first attempt should be closed by timeout, got %s", closed.State)
	}
}

func manualFixture() *fixture {
	return newFixture(func(_ *model.Exam, v *model.ExamVersion) {
		v.Sections[0].Questions[1].Type = model.QuestionTypeTextarea
		v.Sections[0].Questions[1].Correct = model.CorrectAnswer{}
	})
}

func answerFor(t *testing.T, f *fixture, attemptID, questionID uuid.UUID) model.ExamAnswer {
	t.Helper()
	answers, _ := f.attempts.ListAnswers(context.Background(), attemptID)
	for _, ans := range answers {
		if ans.QuestionID == questionID {
			return ans
		}
	}
	t.Fatalf("no answer for question %s", questionID)
	return model.ExamAnswer{}
}

func TestGradeManually(t *testing.T) {
	f := manualFixture()
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: []string{"B"}})
	saveAnswer(t, f, a, f.text.ID, model.AnswerValue{Text: strPtr("my essay")})

	if _, err := f.svc.GradeManually(ctx, a.ID, uuid.New(), 1, nil, 9); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("grading in progress: err = %v, want ErrInvalidState", err)
	}

	submitted, err := f.svc.Submit(ctx, a.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.State != model.AttemptStateSubmitted {
		t.Fatalf("state = %s, want SUBMITTED while essay is pending", submitted.State)
	}
	if *submitted.Score != 2 || *submitted.Percentage != 40 {
		t.Fatalf("pending essay should count as zero, got score %v pct %v", *submitted.Score, *submitted.Percentage)
	}

	essay := answerFor(t, f, a.ID, f.text.ID)
	if essay.Grade.Status != model.GradeStatusPendingManual {
		t.Fatalf("essay status = %s, want PENDING_MANUAL", essay.Grade.Status)
	}

	for _, pts := range []float64{-1, 3.5} {
		if _, err := f.svc.GradeManually(ctx, a.ID, essay.ID, pts, nil, 9); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("points %v: err = %v, want ErrOutOfRange", pts, err)
		}
	}

	detail, err := f.svc.GradeManually(ctx, a.ID, essay.ID, 2, strPtr("Good start"), 9)
	if err != nil {
		t.Fatalf("grade manually: %v", err)
	}
	got := detail.Attempt
	if got.State != model.AttemptStateGraded {
		t.Fatalf("state = %s, want GRADED", got.State)
	}
	if *got.Score != 4 || *got.Percentage != 80 || !*got.Passed {
		t.Fatalf("score=%v pct=%v passed=%v, want 4 80 true", *got.Score, *got.Percentage, *got.Passed)
	}

	graded := answerFor(t, f, a.ID, f.text.ID)
	if graded.Grade.AutoGraded || graded.Grade.Correct || *graded.GradedBy != 9 || *graded.Feedback != "Good start" {
		t.Fatalf("unexpected manual grade: %+v", graded)
	}

	// Regrading a graded attempt recomputes the totals.
	detail, err = f.svc.GradeManually(ctx, a.ID, essay.ID, 3, nil, 9)
	if err != nil {
		t.Fatalf("regrade: %v", err)
	}
	if *detail.Attempt.Score != 5 || detail.Attempt.State != model.AttemptStateGraded {
		t.Fatalf("regrade: score %v state %s", *detail.Attempt.Score, detail.Attempt.State)
	}
	if !answerFor(t, f, a.ID, f.text.ID).Grade.Correct {
		t.Errorf("full points should mark the answer correct")
	}
}

func TestGradeManually_AnswerFromOtherAttempt(t *testing.T) {
	f := manualFixture()
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	b := startAttempt(t, f, userCandidate(2))
	saveAnswer(t, f, b, f.text.ID, model.AnswerValue{Text: strPtr("essay")})
	if _, err := f.svc.Submit(ctx, a.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.Submit(ctx, b.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}

	foreign := answerFor(t, f, b.ID, f.text.ID)
	if _, err := f.svc.GradeManually(ctx, a.ID, foreign.ID, 1, nil, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFinalizeGrading(t *testing.T) {
	f := newFixture(func(e *model.Exam, _ *model.ExamVersion) { e.AutoGrade = false })
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: []string{"B"}})

	if _, err := f.svc.FinalizeGrading(ctx, a.ID, 9); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("finalize in progress: err = %v, want ErrInvalidState", err)
	}

	submitted, err := f.svc.Submit(ctx, a.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.State != model.AttemptStateSubmitted {
		t.Fatalf("state = %s, want SUBMITTED without auto release", submitted.State)
	}

	got, err := f.svc.FinalizeGrading(ctx, a.ID, 9)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got.State != model.AttemptStateGraded || got.GradedAt == nil {
		t.Fatalf("state = %s, want GRADED", got.State)
	}

	again, err := f.svc.FinalizeGrading(ctx, a.ID, 9)
	if err != nil || again.State != model.AttemptStateGraded {
		t.Fatalf("finalize should be idempotent: %v", err)
	}
}

func TestFinalizeGrading_PendingAnswers(t *testing.T) {
	f := manualFixture()
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	saveAnswer(t, f, a, f.text.ID, model.AnswerValue{Text: strPtr("essay")})
	if _, err := f.svc.Submit(ctx, a.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.svc.FinalizeGrading(ctx, a.ID, 9); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestPaper(t *testing.T) {
	f := newFixture(func(e *model.Exam, _ *model.ExamVersion) { e.ShuffleOptions = true })
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: []string{"C"}})
	f.clock.Advance(10 * time.Minute)

	paper, err := f.svc.Paper(ctx, a.ID)
	if err != nil {
		t.Fatalf("paper: %v", err)
	}
	if len(paper.Questions) != 2 {
		t.Fatalf("questions = %d, want 2", len(paper.Questions))
	}
	for _, q := range paper.Questions {
		for _, o := range q.Options {
			if o.IsCorrect {
				t.Fatalf("answer key leaked on question %s", q.ID)
			}
		}
	}
	if got := paper.Answers[f.radio.ID.String()].OptionIDs; len(got) != 1 || got[0] != "C" {
		t.Errorf("saved answer = %v, want [C]", got)
	}
	if paper.RemainingSeconds == nil || *paper.RemainingSeconds != 20*60 {
		t.Errorf("remaining = %v, want 1200", paper.RemainingSeconds)
	}

	again, _ := f.svc.Paper(ctx, a.ID)
	for i := range paper.Questions {
		for j := range paper.Questions[i].Options {
			if paper.Questions[i].Options[j].ID != again.Questions[i].Options[j].ID {
				t.Fatalf("option order changed between loads")
			}
		}
	}
}

func TestResult(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := startAttempt(t, f, userCandidate(1))
	saveAnswer(t, f, a, f.radio.ID, model.AnswerValue{OptionIDs: []string{"B"}})

	view, err := f.svc.Result(ctx, a.ID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if view.Available || view.BlockedReason != model.ResultBlockNotSubmitted {
		t.Fatalf("in-progress result should be blocked, got %+v", view)
	}

	if _, err := f.svc.Submit(ctx, a.ID); err != nil {
		t.Fatalf("submit: %v", err)
	}
	view, err = f.svc.Result(ctx, a.ID)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if !view.Available || view.Result == nil {
		t.Fatalf("graded result should be visible, got %+v", view)
	}
	if *view.Result.Score != 2 || !view.Result.GradingComplete || len(view.Result.Questions) != 2 {
		t.Fatalf("unexpected result: %+v", view.Result)
	}
}

func TestListAttempts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	startAttempt(t, f, userCandidate(1))
	startAttempt(t, f, userCandidate(2))
	f.clock.Advance(time.Hour)

	all, err := f.svc.ListAttempts(ctx, f.exam.ID, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("attempts = %d, want 2", len(all))
	}
	for _, a := range all {
		if !a.State.Closed() {
			t.Errorf("attempt %s should have been closed on read", a.ID)
		}
	}

	if _, err := f.svc.ListAttempts(ctx, uuid.New(), nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown exam: err = %v, want ErrNotFound", err)
	}
}
