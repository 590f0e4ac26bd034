package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"masjidpay/internal/domain/contribution"
	"masjidpay/internal/services/payment"
)

// StaleSource lists pending contributions whose bill has gone quiet and records
// each status query so the next batch moves on to other rows.
type StaleSource interface {
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]*contribution.Contribution, error)
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

// Syncer asks the gateway for a bill's state and applies it.
type Syncer interface {
	SyncBill(ctx context.Context, contributionID string) (*payment.CallbackOutcome, error)
}

// Worker catches payments whose callback never arrived by querying the gateway.
type Worker struct {
	source     StaleSource
	syncer     Syncer
	pollEvery  time.Duration
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

func NewWorker(source StaleSource, syncer Syncer, pollEvery, staleAfter time.Duration, batch int) *Worker {
	if pollEvery <= 0 {
		pollEvery = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if batch <= 0 {
		batch = 50
	}
	return &Worker{
		source:     source,
		syncer:     syncer,
		pollEvery:  pollEvery,
		staleAfter: staleAfter,
		batch:      batch,
		now:        time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	log.Info().Dur("every", w.pollEvery).Dur("stale_after", w.staleAfter).Msg("reconcile worker: started")
	t := time.NewTicker(w.pollEvery)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reconcile worker: stopping")
			return
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick syncs one batch and returns how many contributions changed status.
func (w *Worker) Tick(ctx context.Context) int {
	stale, err := w.source.FindStalePending(ctx, w.now().Add(-w.staleAfter), w.batch)
	if err != nil {
		log.Error().Err(err).Msg("reconcile worker: fetch pending failed")
		return 0
	}

	changed := 0
	for _, c := range stale {
		if ctx.Err() != nil {
			break
		}
		out, err := w.syncer.SyncBill(ctx, c.ID)
		w.markSynced(ctx, c)
		if err != nil {
			// left pending; the next tick retries
			log.Warn().Err(err).
				Str("contribution_id", c.ID).
				Str("bill_id", c.BillID).
				Str("provider", c.PaymentMethod).
				Msg("reconcile worker: sync failed")
			continue
		}
		if out.Applied {
			changed++
		}
	}
	if len(stale) > 0 {
		log.Info().Int("checked", len(stale)).Int("changed", changed).Msg("reconcile worker: batch done")
	}
	return changed
}

// markSynced stamps every attempt, including duplicates and failed syncs.
func (w *Worker) markSynced(ctx context.Context, c *contribution.Contribution) {
	if err := w.source.MarkSynced(context.WithoutCancel(ctx), c.ID, w.now().UTC()); err != nil {
		log.Warn().Err(err).Str("contribution_id", c.ID).Msg("reconcile worker: mark synced failed")
	}
}
