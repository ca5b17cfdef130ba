package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the gradable question kinds.
type QuestionType string

const (
	QuestionTypeRadio     QuestionType = "RADIO"
	QuestionTypeTrueFalse QuestionType = "TRUE_FALSE"
	QuestionTypeCheckbox  QuestionType = "CHECKBOX"
	QuestionTypeText      QuestionType = "TEXT"
	QuestionTypeTextarea  QuestionType = "TEXTAREA"
	QuestionTypeMatching  QuestionType = "MATCHING"
	QuestionTypeOrdering  QuestionType = "ORDERING"
)

// Option is a selectable choice for RADIO, TRUE_FALSE and CHECKBOX questions.
// For ORDERING and MATCHING the options are the items being arranged.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	// Group is "left" or "right" for MATCHING items.
	Group     string `json:"group,omitempty"`
	IsCorrect bool   `json:"is_correct,omitempty"`
}

// MatchPair links a left-hand item to a right-hand item.
type MatchPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// CorrectAnswer is the stored answer key of a non-choice question.
type CorrectAnswer struct {
	ExactMatch []string    `json:"exact_match,omitempty"`
	Keywords   []string    `json:"keywords,omitempty"`
	Pairs      []MatchPair `json:"pairs,omitempty"`
	Order      []string    `json:"order,omitempty"`
}

// Question is a single item inside an exam version.
type Question struct {
	ID      uuid.UUID     `json:"id"`
	Type    QuestionType  `json:"type"`
	Prompt  string        `json:"prompt"`
	Points  float64       `json:"points"`
	Options []Option      `json:"options,omitempty"`
	Correct CorrectAnswer `json:"correct"`
}

// CorrectOptionIDs returns the ids of options flagged as correct, in option order.
func (q *Question) CorrectOptionIDs() []string {
	var ids []string
	for _, o := range q.Options {
		if o.IsCorrect {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// ManualOnly reports whether the question can only be graded by a human.
// Questions worth no points never wait for one.
func (q *Question) ManualOnly() bool {
	if q.Points <= 0 {
		return false
	}
	switch q.Type {
	case QuestionTypeText, QuestionTypeTextarea:
		return len(q.Correct.ExactMatch) == 0 && len(q.Correct.Keywords) == 0
	}
	return false
}

// Section groups questions in display order.
type Section struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// ExamVersion is an immutable snapshot of an exam's content.
// Attempts reference it so later edits never change how they are graded.
type ExamVersion struct {
	ID        uuid.UUID `json:"id"`
	ExamID    uuid.UUID `json:"exam_id"`
	Number    int       `json:"number"`
	Sections  []Section `json:"sections"`
	CreatedAt time.Time `json:"created_at"`
}

// Questions flattens the sections into display order.
func (v *ExamVersion) Questions() []Question {
	var out []Question
	for _, s := range v.Sections {
		out = append(out, s.Questions...)
	}
	return out
}

// Question looks up a question by id.
func (v *ExamVersion) Question(id uuid.UUID) (*Question, bool) {
	for i := range v.Sections {
		for j := range v.Sections[i].Questions {
			if v.Sections[i].Questions[j].ID == id {
				return &v.Sections[i].Questions[j], true
			}
		}
	}
	return nil, false
}

// TotalPoints is the sum of all question points.
func (v *ExamVersion) TotalPoints() float64 {
	var total float64
	for _, q := range v.Questions() {
		total += q.Points
	}
	return total
}

// HasManualOnly reports whether any question needs human grading.
func (v *ExamVersion) HasManualOnly() bool {
	for _, q := range v.Questions() {
		if q.ManualOnly() {
			return true
		}
	}
	return false
}

// QuestionForCandidate is a question stripped of its answer key.
type QuestionForCandidate struct {
	ID      uuid.UUID    `json:"id"`
	Type    QuestionType `json:"type"`
	Prompt  string       `json:"prompt"`
	Points  float64      `json:"points"`
	Options []Option     `json:"options,omitempty"`
}
