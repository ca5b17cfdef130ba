package grading

import (
	"github.com/google/uuid"

	"github.com/stemsi/exstem-grader/internal/model"
)

// Summary is the aggregate of one attempt's grades.
type Summary struct {
	Score      float64
	MaxScore   float64
	Percentage float64
	Passed     bool
	// Pending counts version questions without determined points.
	Pending int
}

// Complete reports whether every question has determined points.
func (s Summary) Complete() bool {
	return s.Pending == 0
}

// Aggregate sums determined points over the version's questions.
//
// Answers for questions outside the version are ignored. Questions with no
// answer or a non-determined grade count as zero and as pending. MaxScore
// always comes from the version, never from the answers.
func Aggregate(version *model.ExamVersion, answers []model.ExamAnswer, passingScore float64) Summary {
	byQuestion := make(map[uuid.UUID]model.Grade, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a.Grade
	}

	var s Summary
	for _, q := range version.Questions() {
		s.MaxScore += q.Points
		g, ok := byQuestion[q.ID]
		if !ok || !g.Determined() {
			s.Pending++
			continue
		}
		s.Score += g.Points
	}

	s.Score = RoundScore(s.Score)
	s.MaxScore = RoundScore(s.MaxScore)
	if s.MaxScore > 0 {
		s.Percentage = RoundScore(s.Score / s.MaxScore * 100)
	}
	s.Passed = s.Percentage >= passingScore
	return s
}
