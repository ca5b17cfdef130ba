package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// AttemptExpirer closes in-progress attempts whose deadline has passed.
type AttemptExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

// ExpiryWorker periodically sweeps attempts that were abandoned past their
// deadline. Attempts are also expired lazily on access, so the sweep only
// keeps monitor counts and results current for candidates who never return.
type ExpiryWorker struct {
	expirer   AttemptExpirer
	interval  time.Duration
	batchSize int
	log       zerolog.Logger
}

func NewExpiryWorker(expirer AttemptExpirer, interval time.Duration, batchSize int, log zerolog.Logger) *ExpiryWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpiryWorker{
		expirer:   expirer,
		interval:  interval,
		batchSize: batchSize,
		log:       log.With().Str("component", "expiry_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop
// ----------------------------------------------------------------

func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("ExpiryWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("ExpiryWorker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep expires stale attempts batch by batch until a short batch comes
// back, and returns the number closed.
func (w *ExpiryWorker) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := w.expirer.ExpireStale(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Expiry sweep failed")
			}
			break
		}
		total += n
		if n < w.batchSize {
			break
		}
	}

	if total > 0 {
		w.log.Info().Int("count", total).Msg("Expired stale attempts")
	}
	return total
}
