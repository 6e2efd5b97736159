package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Periodic publish loop and one-shot clock-skew correction
 *		(C8, §4.8).
 *
 *------------------------------------------------------------------*/

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultWorkerInterval is the default tick period (WORKER_INTERVAL).
const DefaultWorkerInterval = 30 * time.Second

// pendingPageSize bounds how many rows are attempted per tick.
const pendingPageSize = 10

// skewCorrectionThreshold is the minimum |delta| between the recorded
// boot wallclock and the now-synced clock before a shift is applied;
// below this, the drift is assumed to be ordinary clock jitter (§4.8).
const skewCorrectionThreshold = 60 * time.Second

// FlushWorker drives the queue: publish PENDING rows in order, stopping
// a tick's page at the first transient failure, and announce newly SENT
// rows through the Notifier.
type FlushWorker struct {
	Store     *Store
	Publisher *Publisher
	Clock     Clock
	Notifier  *Notifier
	Metrics   *Metrics
	Interval  time.Duration
	Logger    *log.Logger

	// Locale is passed through to the Publisher for attribution text; the
	// gateway has one configured locale, not a per-origin one.
	Locale string
}

// Run blocks, ticking every w.Interval, until ctx is cancelled.
func (w *FlushWorker) Run(ctx context.Context) {
	w.correctSkewOnce(ctx)

	interval := w.Interval
	if interval <= 0 {
		interval = DefaultWorkerInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// correctSkewOnce shifts PENDING rows created while the clock was
// unsynced forward (or backward) once the clock reports synchronized,
// per the "GPS receiver backed into the serial adapter before NTP
// settles" scenario in §4.1. Called at Run's start and again at the top
// of every tick until it actually applies: the clock may not yet be
// synced the first time it's tried, and the underlying flag in the
// Store guarantees the correction itself only ever takes effect once.
func (w *FlushWorker) correctSkewOnce(ctx context.Context) {
	now := w.Clock.NowUTC()

	state, err := w.Store.GetSystemState(now)
	if err != nil {
		w.Logger.Error("flush: could not read system state", "err", err)
		return
	}

	if state.TimeCorrectionApplied {
		return
	}

	if !w.Clock.IsTimeSynced() {
		return
	}

	delta := now.Sub(state.BootWallclock)

	magnitude := delta
	if magnitude < 0 {
		magnitude = -magnitude
	}

	if magnitude > skewCorrectionThreshold {
		ids, err := w.Store.PendingIDsAll()
		if err != nil {
			w.Logger.Error("flush: could not list pre-sync pending reports", "err", err)
			return
		}

		if len(ids) > 0 {
			if err := w.Store.ShiftCreatedAt(ids, delta); err != nil {
				w.Logger.Error("flush: could not shift created_at for skew correction", "err", err)
				return
			}

			w.Logger.Info("flush: corrected clock skew on pending reports", "count", len(ids), "delta", delta)
		}
	}

	if err := w.Store.SetTimeCorrectionApplied(); err != nil {
		w.Logger.Error("flush: could not persist time correction flag", "err", err)
	}
}

func (w *FlushWorker) tick(ctx context.Context) {
	w.correctSkewOnce(ctx)

	if w.Metrics != nil {
		w.Metrics.FlushTicks.Inc()
	}

	w.publishPending(ctx)
	w.announceSent()

	if w.Metrics != nil {
		if n, err := w.Store.PendingCount(); err == nil {
			w.Metrics.PendingReports.Set(float64(n))
		}
	}
}

// publishPending walks one page of PENDING rows oldest-first, stopping
// at the first transient failure (§4.8: preserve delivery order) but
// continuing past permanent failures (they will never succeed).
func (w *FlushWorker) publishPending(ctx context.Context) {
	rows, err := w.Store.PendingPage(pendingPageSize)
	if err != nil {
		w.Logger.Error("flush: could not read pending page", "err", err)
		return
	}

	for _, r := range rows {
		if ctx.Err() != nil {
			return
		}

		result := w.Publisher.Publish(ctx, r.Lat, r.Lon, r.TextNormalized, w.Locale)

		if w.Metrics != nil {
			w.Metrics.PublishAttempts.WithLabelValues(publishResultLabel(result.Kind)).Inc()
		}

		switch result.Kind {
		case PublishOK:
			if err := w.Store.MarkSent(r.QueueID, result.UpstreamID, result.UpstreamURL, w.Clock.NowUTC()); err != nil {
				w.Logger.Error("flush: could not mark report sent", "queue_id", r.QueueID, "err", err)
			}
		case PublishTransientFailure:
			if err := w.Store.RecordError(r.QueueID, result.Tag); err != nil {
				w.Logger.Error("flush: could not record transient error", "queue_id", r.QueueID, "err", err)
			}

			w.Logger.Warn("flush: transient publish failure, pausing page", "queue_id", r.QueueID, "tag", result.Tag)

			return
		case PublishPermanentFailure:
			if err := w.Store.RecordError(r.QueueID, result.Tag); err != nil {
				w.Logger.Error("flush: could not record permanent error", "queue_id", r.QueueID, "err", err)
			}

			w.Logger.Warn("flush: permanent publish failure, skipping report", "queue_id", r.QueueID, "tag", result.Tag)
		}
	}
}

// announceSent notifies the origin of any row that transitioned
// PENDING->SENT since it last queued, per §4.9's ACK_PROMOTED rule.
func (w *FlushWorker) announceSent() {
	rows, err := w.Store.UnannouncedSent()
	if err != nil {
		w.Logger.Error("flush: could not list unannounced sent reports", "err", err)
		return
	}

	now := w.Clock.NowUTC()

	for _, r := range rows {
		if w.Notifier != nil {
			w.Notifier.AnnouncePromoted(r, now)
		}

		if err := w.Store.MarkAnnounced(r.QueueID); err != nil {
			w.Logger.Error("flush: could not mark report announced", "queue_id", r.QueueID, "err", err)
		}
	}
}

func publishResultLabel(k PublishResultKind) string {
	switch k {
	case PublishOK:
		return "ok"
	case PublishTransientFailure:
		return "transient"
	case PublishPermanentFailure:
		return "permanent"
	default:
		return "unknown"
	}
}
