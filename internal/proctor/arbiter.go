package proctor

import (
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Action is the arbiter's verdict for the session as a whole.
type Action string

const (
	// ActionWarn records the event and keeps the session running.
	ActionWarn Action = "warn"
	// ActionSuspend stops the clock and ends the attempt.
	ActionSuspend Action = "suspend"
)

// Decision is the result of Decide.
type Decision struct {
	Action        Action `json:"action"`
	Breached      bool   `json:"breached"`
	FlagForReview bool   `json:"flag_for_review"`
}

// Decide judges a cumulative severity against the session's configuration.
// It is pure: the same inputs always give the same decision.
//
// A breach flags the attempt for manual review when the configuration asks for
// it, whether or not the attempt is also suspended. A zero threshold or
// disabled proctoring never breaches.
func Decide(cumulative int, cfg model.ExamConfiguration) Decision {
	if !cfg.ProctoringEnabled || cfg.AlertThreshold <= 0 || cumulative < cfg.AlertThreshold {
		return Decision{Action: ActionWarn}
	}

	d := Decision{
		Action:        ActionWarn,
		Breached:      true,
		FlagForReview: cfg.ManualReviewRequired,
	}
	if cfg.AutoSuspend {
		d.Action = ActionSuspend
	}
	return d
}
