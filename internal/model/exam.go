package model

import (
	"github.com/google/uuid"
)

// ExamDefinition is the exam as published by the catalog. The proctoring engine
// only reads it; authoring lives in the catalog service. AttemptsAllowed of 0
// means unlimited.
type ExamDefinition struct {
	ID               uuid.UUID        `json:"id"`
	Title            string           `json:"title" binding:"required,max=255"`
	PassingScore     int              `json:"passing_score" binding:"min=0,max=100"`
	TimeLimitSeconds int              `json:"time_limit_seconds" binding:"min=0"`
	AttemptsAllowed  int              `json:"attempts_allowed" binding:"min=0"`
	Questions        []Question       `json:"questions" binding:"required,min=1,dive"`
	Policy           ProctoringPolicy `json:"policy"`
}

// Option is a selectable answer. IDs are stable so shuffled display order never
// changes what a learner's selection means.
type Option struct {
	ID    string `json:"id" binding:"required,max=64"`
	Label string `json:"label" binding:"required"`
}

// Question is a single-answer question with its key.
type Question struct {
	ID            string   `json:"id" binding:"required,max=128"`
	Text          string   `json:"text" binding:"required"`
	Options       []Option `json:"options" binding:"required,min=2,dive"`
	CorrectOption string   `json:"correct_option" binding:"required"`
}

// CloneQuestions deep-copies a question list.
func CloneQuestions(in []Question) []Question {
	if in == nil {
		return nil
	}
	out := make([]Question, len(in))
	for i, q := range in {
		out[i] = q
		out[i].Options = append([]Option(nil), q.Options...)
	}
	return out
}

// QuestionForLearner is a question without the correct answer, sent to learners.
type QuestionForLearner struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Options  []Option `json:"options"`
	Position int      `json:"position"`
}

// ForLearner strips answer keys from an ordered question list.
func ForLearner(ordered []Question) []QuestionForLearner {
	out := make([]QuestionForLearner, len(ordered))
	for i, q := range ordered {
		opts := make([]Option, len(q.Options))
		copy(opts, q.Options)
		out[i] = QuestionForLearner{
			ID:       q.ID,
			Text:     q.Text,
			Options:  opts,
			Position: i + 1,
		}
	}
	return out
}
