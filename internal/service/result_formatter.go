package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/stemsi/exstem-grader/internal/grading"
	"github.com/stemsi/exstem-grader/internal/model"
)

// FormatResult applies the exam's show-results policy to one attempt.
//
// The attempt and answers must come from one consistent read. A withheld view
// still tells the candidate the attempt was recorded and why the result is
// hidden. When review is disabled, answer keys and feedback are stripped.
func FormatResult(a *model.ExamAttempt, answers []model.ExamAnswer, exam *model.Exam, version *model.ExamVersion, now time.Time) model.ResultView {
	view := model.ResultView{
		AttemptID:   a.ID,
		State:       a.State,
		CompletedAt: a.CompletedAt,
	}

	if reason, blocked := resultBlock(a, exam, now); blocked {
		view.BlockedReason = reason
		return view
	}

	view.Available = true
	view.Result = buildResult(a, answers, exam, version)
	return view
}

func resultBlock(a *model.ExamAttempt, exam *model.Exam, now time.Time) (model.ResultBlockReason, bool) {
	closed := a.State.Closed()

	switch exam.ShowResults {
	case model.ShowResultsImmediate:
		if !closed {
			return model.ResultBlockNotSubmitted, true
		}
		return "", false

	case model.ShowResultsAfterDeadline:
		deadline := exam.ResultsDeadline()
		if deadline == nil || now.Before(*deadline) {
			return model.ResultBlockDeadlineNotReached, true
		}
		return "", false

	case model.ShowResultsManual:
		if !closed {
			return model.ResultBlockNotSubmitted, true
		}
		if a.State != model.AttemptStateGraded {
			return model.ResultBlockGradingPending, true
		}
		return "", false

	default:
		if !closed {
			return model.ResultBlockNotSubmitted, true
		}
		return model.ResultBlockHidden, true
	}
}

func buildResult(a *model.ExamAttempt, answers []model.ExamAnswer, exam *model.Exam, version *model.ExamVersion) *model.ExamAttemptResult {
	res := &model.ExamAttemptResult{}
	_ = copier.Copy(res, a)
	res.AttemptID = a.ID

	byQuestion := make(map[uuid.UUID]*model.ExamAnswer, len(answers))
	for i := range answers {
		byQuestion[answers[i].QuestionID] = &answers[i]
	}

	summary := grading.Aggregate(version, answers, exam.PassingScore)
	res.GradingComplete = summary.Complete() && a.State.Closed()

	for _, q := range orderedQuestions(version, a.QuestionOrder) {
		qr := model.QuestionResult{
			QuestionID:     q.ID,
			Type:           q.Type,
			Prompt:         q.Prompt,
			PointsPossible: q.Points,
			Status:         model.GradeStatusUngraded,
		}
		if ans, ok := byQuestion[q.ID]; ok {
			qr.PointsEarned = ans.Grade.PointsEarned()
			qr.IsCorrect = ans.Grade.IsCorrect()
			qr.Status = ans.Grade.Status
			qr.Response = ans.Value
			if exam.AllowReview {
				qr.Feedback = ans.Feedback
			}
		}
		if exam.AllowReview {
			qr.CorrectOptions = q.CorrectOptionIDs()
			if hasKey(q.Correct) {
				key := q.Correct
				qr.CorrectAnswer = &key
			}
		}
		res.Questions = append(res.Questions, qr)
	}
	return res
}

func hasKey(c model.CorrectAnswer) bool {
	return len(c.ExactMatch) > 0 || len(c.Keywords) > 0 || len(c.Pairs) > 0 || len(c.Order) > 0
}
