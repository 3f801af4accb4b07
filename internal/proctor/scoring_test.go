package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestGrade(t *testing.T) {
	qs := tenQuestionExam(model.ProctoringPolicy{}).Questions

	tests := []struct {
		name    string
		answers map[string]string
		want    GradeResult
	}{
		{"all correct", answersWithCorrect(10), GradeResult{Correct: 10, Total: 10, Score: 100}},
		{"eight correct", answersWithCorrect(8), GradeResult{Correct: 8, Total: 10, Score: 80}},
		{"unanswered count as wrong", map[string]string{"q1": "a"}, GradeResult{Correct: 1, Total: 10, Score: 10}},
		{"nothing submitted", nil, GradeResult{Total: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Grade(qs, tt.answers))
		})
	}
}

func TestGradeRoundsHalfAwayFromZero(t *testing.T) {
	qs := tenQuestionExam(model.ProctoringPolicy{}).Questions[:3]
	assert.Equal(t, 67, Grade(qs, map[string]string{"q1": "a", "q2": "a"}).Score)
	assert.Equal(t, 33, Grade(qs, map[string]string{"q1": "a"}).Score)

	qs8 := tenQuestionExam(model.ProctoringPolicy{}).Questions[:8]
	assert.Equal(t, 63, Grade(qs8, map[string]string{"q1": "a", "q2": "a", "q3": "a", "q4": "a", "q5": "a"}).Score)
}

func TestGradeEmptyExam(t *testing.T) {
	assert.Equal(t, GradeResult{}, Grade(nil, map[string]string{"q1": "a"}))
}

func TestDecideOutcome(t *testing.T) {
	assert.Equal(t, model.OutcomePassed, DecideOutcome(model.SessionStateSubmitted, 70, 70, false))
	assert.Equal(t, model.OutcomeFailed, DecideOutcome(model.SessionStateSubmitted, 69, 70, false))
	assert.Equal(t, model.OutcomePendingReview, DecideOutcome(model.SessionStateSubmitted, 100, 70, true))
	assert.Equal(t, model.OutcomePassed, DecideOutcome(model.SessionStateExpired, 90, 70, false))
	assert.Equal(t, model.OutcomeFailed, DecideOutcome(model.SessionStateSuspended, 100, 70, false))
	assert.Equal(t, model.OutcomePendingReview, DecideOutcome(model.SessionStateSuspended, 0, 70, true))
	assert.Equal(t, model.OutcomeCancelled, DecideOutcome(model.SessionStateCancelled, 100, 70, true))
}

func TestOrderQuestionsDeterministic(t *testing.T) {
	qs := tenQuestionExam(model.ProctoringPolicy{}).Questions
	cfg := model.ExamConfiguration{QuestionRandomization: true, AnswerRandomization: true}

	a := OrderQuestions(qs, 42, cfg)
	b := OrderQuestions(qs, 42, cfg)
	assert.Equal(t, a, b)

	c := OrderQuestions(qs, 43, cfg)
	assert.NotEqual(t, a, c)

	// Input untouched.
	assert.Equal(t, "q1", qs[0].ID)
	assert.Equal(t, "a", qs[0].Options[0].ID)
}

func TestOrderQuestionsKeepsAuthoredOrderWhenDisabled(t *testing.T) {
	qs := tenQuestionExam(model.ProctoringPolicy{}).Questions
	ordered := OrderQuestions(qs, 42, model.ExamConfiguration{})
	assert.Equal(t, qs, ordered)
}

func TestOrderQuestionsOptionsOnly(t *testing.T) {
	qs := tenQuestionExam(model.ProctoringPolicy{}).Questions
	ordered := OrderQuestions(qs, 7, model.ExamConfiguration{AnswerRandomization: true})

	for i, q := range ordered {
		require.Equal(t, qs[i].ID, q.ID)
		assert.ElementsMatch(t, qs[i].Options, q.Options)
		assert.Equal(t, "a", q.CorrectOption)
	}
}

func TestForLearnerHidesKey(t *testing.T) {
	qs := tenQuestionExam(model.ProctoringPolicy{}).Questions
	out := model.ForLearner(qs)
	require.Len(t, out, 10)
	assert.Equal(t, 1, out[0].Position)
	assert.Equal(t, 10, out[9].Position)
}
