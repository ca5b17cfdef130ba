package service

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-grader/internal/model"
)

// shuffledQuestionOrder returns the version's question ids in a random order.
// The order is drawn once at start and stored on the attempt.
func shuffledQuestionOrder(v *model.ExamVersion) []uuid.UUID {
	qs := v.Questions()
	ids := make([]uuid.UUID, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}

// orderedQuestions returns the version questions in the attempt's order.
// Questions missing from a stored order are appended in version order.
func orderedQuestions(v *model.ExamVersion, order []uuid.UUID) []model.Question {
	qs := v.Questions()
	if len(order) == 0 {
		return qs
	}

	byID := make(map[uuid.UUID]model.Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}

	out := make([]model.Question, 0, len(qs))
	seen := make(map[uuid.UUID]bool, len(qs))
	for _, id := range order {
		if q, ok := byID[id]; ok && !seen[id] {
			out = append(out, q)
			seen[id] = true
		}
	}
	for _, q := range qs {
		if !seen[q.ID] {
			out = append(out, q)
		}
	}
	return out
}

// shuffledOptions permutes options with a seed derived from the attempt and
// question ids, so reloading the paper shows the same order without storing it.
func shuffledOptions(attemptID, questionID uuid.UUID, opts []model.Option) []model.Option {
	out := make([]model.Option, len(opts))
	copy(out, opts)
	r := rand.New(rand.NewPCG(
		binary.BigEndian.Uint64(attemptID[:8])^binary.BigEndian.Uint64(questionID[:8]),
		binary.BigEndian.Uint64(attemptID[8:])^binary.BigEndian.Uint64(questionID[8:]),
	))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// forCandidate strips the answer key from a question.
func forCandidate(q model.Question, options []model.Option) model.QuestionForCandidate {
	stripped := make([]model.Option, len(options))
	for i, o := range options {
		stripped[i] = model.Option{ID: o.ID, Label: o.Label, Group: o.Group}
	}
	return model.QuestionForCandidate{
		ID:      q.ID,
		Type:    q.Type,
		Prompt:  q.Prompt,
		Points:  q.Points,
		Options: stripped,
	}
}
