package proctor

import (
	"math"
	"math/rand/v2"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Second PCG word. Fixed so that a stored seed always replays the same order.
const orderStream uint64 = 0x9e3779b97f4a7c15

// OrderQuestions returns the session's presentation order. With both
// randomization flags off it is the authored order. The input is not modified.
func OrderQuestions(questions []model.Question, seed uint64, cfg model.ExamConfiguration) []model.Question {
	ordered := make([]model.Question, len(questions))
	for i, q := range questions {
		q.Options = append([]model.Option(nil), q.Options...)
		ordered[i] = q
	}

	if !cfg.QuestionRandomization && !cfg.AnswerRandomization {
		return ordered
	}

	rng := rand.New(rand.NewPCG(seed, seed^orderStream))
	if cfg.QuestionRandomization {
		rng.Shuffle(len(ordered), func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	}
	if cfg.AnswerRandomization {
		for i := range ordered {
			opts := ordered[i].Options
			rng.Shuffle(len(opts), func(a, b int) {
				opts[a], opts[b] = opts[b], opts[a]
			})
		}
	}
	return ordered
}

// GradeResult is the deterministic result of grading one answer set.
type GradeResult struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
	Score   int `json:"score"`
}

// Grade scores answers keyed by question ID. Unanswered questions count as
// incorrect; an exam without questions scores 0.
func Grade(questions []model.Question, answers map[string]string) GradeResult {
	res := GradeResult{Total: len(questions)}
	for _, q := range questions {
		if a, ok := answers[q.ID]; ok && a == q.CorrectOption {
			res.Correct++
		}
	}
	if res.Total > 0 {
		res.Score = int(math.Round(100 * float64(res.Correct) / float64(res.Total)))
	}
	return res
}

// DecideOutcome assigns pass/fail semantics to a graded attempt.
func DecideOutcome(disposition model.SessionState, score, passingScore int, reviewRequired bool) model.Outcome {
	switch {
	case disposition == model.SessionStateCancelled:
		return model.OutcomeCancelled
	case reviewRequired:
		return model.OutcomePendingReview
	case disposition == model.SessionStateSuspended:
		return model.OutcomeFailed
	case score >= passingScore:
		return model.OutcomePassed
	default:
		return model.OutcomeFailed
	}
}

// ReplayResult is what an auditor sees when re-running a finished attempt.
type ReplayResult struct {
	Questions          []model.QuestionForLearner `json:"questions"`
	Grade              GradeResult                `json:"grade"`
	CumulativeSeverity int                        `json:"cumulative_severity"`
	ScoreMatches       bool                       `json:"score_matches"`
	SeverityMatches    bool                       `json:"severity_matches"`
}

// Replay reproduces the order the learner saw and re-grades the stored
// answers against the questions frozen at start. It reads nothing but the
// session.
func Replay(s model.ExamSession) ReplayResult {
	ordered := OrderQuestions(s.Questions, s.RandomizationSeed, s.Configuration)
	grade := Grade(ordered, s.Answers)

	cumulative := 0
	for _, ev := range s.Events {
		cumulative += ev.Severity
	}

	res := ReplayResult{
		Questions:          model.ForLearner(ordered),
		Grade:              grade,
		CumulativeSeverity: cumulative,
		ScoreMatches:       s.Score == nil || *s.Score == grade.Score,
		SeverityMatches:    cumulative == s.CumulativeSeverity,
	}
	return res
}
