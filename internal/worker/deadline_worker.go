package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// DeadlineWorker drives time-based transitions: it expires attempts whose
// deadline passed and evicts finished sessions from memory.
type DeadlineWorker struct {
	manager  *proctor.Manager
	interval time.Duration
	log      zerolog.Logger
}

// NewDeadlineWorker creates a DeadlineWorker sweeping every interval.
func NewDeadlineWorker(manager *proctor.Manager, interval time.Duration, log zerolog.Logger) *DeadlineWorker {
	if interval <= 0 {
		interval = time.Second
	}
	return &DeadlineWorker{
		manager:  manager,
		interval: interval,
		log:      log.With().Str("component", "deadline_worker").Logger(),
	}
}

// Start sweeps until ctx is cancelled.
func (w *DeadlineWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("DeadlineWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("DeadlineWorker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *DeadlineWorker) sweep(ctx context.Context) {
	if n := w.manager.Tick(ctx); n > 0 {
		w.log.Info().Int("expired", n).Int("active", w.manager.ActiveCount()).Msg("Expired overdue sessions")
	}
}
