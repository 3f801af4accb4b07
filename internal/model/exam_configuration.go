package model

import (
	"errors"
	"time"
)

var (
	ErrInvalidTimeLimit = errors.New("time limit must be positive")
	ErrInvalidThreshold = errors.New("alert threshold must not be negative")
)

// ProctoringPolicy is the exam's editable anti-fraud policy. It is never read
// by a running session; sessions hold an ExamConfiguration snapshot instead.
type ProctoringPolicy struct {
	ProctoringEnabled     bool `json:"proctoring_enabled"`
	WebcamRequired        bool `json:"webcam_required"`
	BrowserLockdown       bool `json:"browser_lockdown"`
	TimeLimitSeconds      int  `json:"time_limit_seconds,omitempty"`
	AlertThreshold        int  `json:"alert_threshold"`
	AutoSuspend           bool `json:"auto_suspend"`
	ManualReviewRequired  bool `json:"manual_review_required"`
	QuestionRandomization bool `json:"question_randomization"`
	AnswerRandomization   bool `json:"answer_randomization"`
}

// ExamConfiguration is the per-attempt copy of the policy. It has no pointer or
// slice fields, so every copy is independent of the policy it came from.
type ExamConfiguration struct {
	ProctoringEnabled     bool `json:"proctoring_enabled"`
	WebcamRequired        bool `json:"webcam_required"`
	BrowserLockdown       bool `json:"browser_lockdown"`
	TimeLimitSeconds      int  `json:"time_limit_seconds"`
	AlertThreshold        int  `json:"alert_threshold"`
	AutoSuspend           bool `json:"auto_suspend"`
	ManualReviewRequired  bool `json:"manual_review_required"`
	QuestionRandomization bool `json:"question_randomization"`
	AnswerRandomization   bool `json:"answer_randomization"`
}

// Snapshot freezes the policy for one attempt. A policy time limit overrides
// the exam's own limit.
func Snapshot(policy ProctoringPolicy, exam ExamDefinition) (ExamConfiguration, error) {
	limit := exam.TimeLimitSeconds
	if policy.TimeLimitSeconds > 0 {
		limit = policy.TimeLimitSeconds
	}
	if limit <= 0 {
		return ExamConfiguration{}, ErrInvalidTimeLimit
	}
	if policy.AlertThreshold < 0 {
		return ExamConfiguration{}, ErrInvalidThreshold
	}

	return ExamConfiguration{
		ProctoringEnabled:     policy.ProctoringEnabled,
		WebcamRequired:        policy.WebcamRequired,
		BrowserLockdown:       policy.BrowserLockdown,
		TimeLimitSeconds:      limit,
		AlertThreshold:        policy.AlertThreshold,
		AutoSuspend:           policy.AutoSuspend,
		ManualReviewRequired:  policy.ManualReviewRequired,
		QuestionRandomization: policy.QuestionRandomization,
		AnswerRandomization:   policy.AnswerRandomization,
	}, nil
}

// TimeLimit returns the limit as a duration.
func (c ExamConfiguration) TimeLimit() time.Duration {
	return time.Duration(c.TimeLimitSeconds) * time.Second
}
