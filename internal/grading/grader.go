// Package grading scores candidate answers against stored answer keys and
// aggregates per-question grades into attempt totals. Everything here is pure:
// no I/O, no clocks, and no errors for bad candidate input.
package grading

import (
	"math"
	"strings"

	"github.com/stemsi/exstem-grader/internal/model"
)

// scorer grades an answered question. Unanswered values never reach it.
type scorer func(q *model.Question, v model.AnswerValue) model.Grade

var scorers = map[model.QuestionType]scorer{
	model.QuestionTypeRadio:     scoreSingleChoice,
	model.QuestionTypeTrueFalse: scoreSingleChoice,
	model.QuestionTypeCheckbox:  scoreMultiChoice,
	model.QuestionTypeText:      scoreText,
	model.QuestionTypeTextarea:  scoreText,
	model.QuestionTypeMatching:  scoreMatching,
	model.QuestionTypeOrdering:  scoreOrdering,
}

// Grade compares a submitted value against the question's answer key.
//
// Unanswered questions always score zero and are never left for manual
// grading. A value that does not fit the question type counts as unanswered.
// Free-text questions without an exact match or keywords, and answered
// questions of an unknown type, come back as PENDING_MANUAL unless the
// question is worth no points.
func Grade(q *model.Question, v model.AnswerValue) model.Grade {
	if !answered(q.Type, v) {
		return wrong()
	}

	g := model.PendingManual()
	if s, ok := scorers[q.Type]; ok {
		g = s(q, v)
	}
	if g.Status == model.GradeStatusPendingManual && maxPoints(q) == 0 {
		return wrong()
	}
	return g
}

// RoundScore rounds points and percentages to two decimals.
func RoundScore(x float64) float64 {
	return math.Round(x*100) / 100
}

func answered(t model.QuestionType, v model.AnswerValue) bool {
	switch t {
	case model.QuestionTypeText, model.QuestionTypeTextarea:
		return v.Text != nil && strings.TrimSpace(*v.Text) != ""
	case model.QuestionTypeRadio, model.QuestionTypeTrueFalse, model.QuestionTypeCheckbox:
		return len(cleanIDs(v.OptionIDs)) > 0
	case model.QuestionTypeOrdering:
		return len(cleanIDs(v.Order)) > 0
	case model.QuestionTypeMatching:
		return len(v.Pairs) > 0
	}
	return !v.IsEmpty()
}

func full(q *model.Question) model.Grade {
	return model.Graded(maxPoints(q), true, true)
}

func wrong() model.Grade {
	return model.Graded(0, false, true)
}

func maxPoints(q *model.Question) float64 {
	if q.Points < 0 {
		return 0
	}
	return q.Points
}

// scoreSingleChoice is all-or-nothing against the one option marked correct.
func scoreSingleChoice(q *model.Question, v model.AnswerValue) model.Grade {
	correct := q.CorrectOptionIDs()
	selected := uniqueIDs(v.OptionIDs)
	if len(correct) != 1 || len(selected) != 1 {
		return wrong()
	}
	if selected[0] != correct[0] {
		return wrong()
	}
	return full(q)
}

// scoreMultiChoice requires the selected set to equal the correct set.
// Subsets earn nothing.
func scoreMultiChoice(q *model.Question, v model.AnswerValue) model.Grade {
	correct := toSet(q.CorrectOptionIDs())
	if len(correct) == 0 {
		return wrong()
	}
	if !setEqual(correct, toSet(v.OptionIDs)) {
		return wrong()
	}
	return full(q)
}

// scoreText prefers exact reference strings, then keywords. Without either
// the question needs a human.
func scoreText(q *model.Question, v model.AnswerValue) model.Grade {
	submitted := normalizeText(*v.Text)

	if refs := q.Correct.ExactMatch; len(refs) > 0 {
		for _, ref := range refs {
			if n := normalizeText(ref); n != "" && n == submitted {
				return full(q)
			}
		}
		return wrong()
	}

	if kws := q.Correct.Keywords; len(kws) > 0 {
		for _, kw := range kws {
			if n := normalizeText(kw); n != "" && strings.Contains(submitted, n) {
				return full(q)
			}
		}
		return wrong()
	}

	return model.PendingManual()
}

// scoreMatching awards credit per correct pair. A left item submitted twice
// with different partners counts as wrong. Left items outside the key are
// ignored.
func scoreMatching(q *model.Question, v model.AnswerValue) model.Grade {
	key := make(map[string]string, len(q.Correct.Pairs))
	for _, p := range q.Correct.Pairs {
		left := strings.TrimSpace(p.Left)
		if left == "" {
			continue
		}
		key[left] = strings.TrimSpace(p.Right)
	}
	if len(key) == 0 {
		return wrong()
	}

	submitted := make(map[string]string, len(v.Pairs))
	conflicted := map[string]bool{}
	for _, p := range v.Pairs {
		left, right := strings.TrimSpace(p.Left), strings.TrimSpace(p.Right)
		if _, inKey := key[left]; !inKey {
			continue
		}
		if prev, ok := submitted[left]; ok && prev != right {
			conflicted[left] = true
		}
		submitted[left] = right
	}

	hits := 0
	for left, right := range key {
		if conflicted[left] {
			continue
		}
		if got, ok := submitted[left]; ok && got == right {
			hits++
		}
	}

	points := RoundScore(maxPoints(q) * float64(hits) / float64(len(key)))
	return model.Graded(points, hits == len(key), true)
}

// scoreOrdering is all-or-nothing on the exact sequence.
func scoreOrdering(q *model.Question, v model.AnswerValue) model.Grade {
	want := cleanIDs(q.Correct.Order)
	got := cleanIDs(v.Order)
	if len(want) == 0 || len(want) != len(got) {
		return wrong()
	}
	for i := range want {
		if want[i] != got[i] {
			return wrong()
		}
	}
	return full(q)
}
