package proctor

import (
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// DefaultWeights is the shipped severity table.
var DefaultWeights = map[model.EventType]int{
	model.EventRightClickBlocked:      1,
	model.EventTabSwitch:              2,
	model.EventCopyPasteAttempt:       2,
	model.EventDevToolsAttempt:        3,
	model.EventFullscreenExit:         3,
	model.EventFullscreenEnableFailed: 1,
	model.EventMultiplePersons:        4,
}

// SeverityClassifier maps event types to weights. It is built once at startup
// and never written afterwards, so it is shared by all sessions without locking.
type SeverityClassifier struct {
	weights map[model.EventType]int
}

// NewSeverityClassifier starts from DefaultWeights and applies per-deployment
// overrides keyed by event type name.
func NewSeverityClassifier(overrides map[string]int) (*SeverityClassifier, error) {
	weights := make(map[model.EventType]int, len(DefaultWeights))
	for t, w := range DefaultWeights {
		weights[t] = w
	}

	for name, w := range overrides {
		t := model.EventType(name)
		if !t.Valid() {
			return nil, fmt.Errorf("severity override %q: %w", name, ErrUnknownEventType)
		}
		if w < 0 {
			return nil, fmt.Errorf("severity override %q: weight %d is negative", name, w)
		}
		weights[t] = w
	}

	return &SeverityClassifier{weights: weights}, nil
}

// Weight returns the server-side weight of t.
func (c *SeverityClassifier) Weight(t model.EventType) (int, bool) {
	w, ok := c.weights[t]
	return w, ok
}

// Table returns a copy of the weight table.
func (c *SeverityClassifier) Table() map[model.EventType]int {
	out := make(map[model.EventType]int, len(c.weights))
	for t, w := range c.weights {
		out[t] = w
	}
	return out
}
