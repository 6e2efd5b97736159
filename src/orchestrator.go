package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Wires every component and owns the process lifecycle
 *		(C10, §9).
 *
 *------------------------------------------------------------------*/

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

// dailyBroadcastInterval is how often the orchestrator checks whether a
// new calendar day has begun, for the unsolicited reminder broadcast.
const dailyBroadcastInterval = 5 * time.Minute

// Orchestrator is the C10 contract: the only component that knows about
// every other one.
type Orchestrator struct {
	Config    Config
	Clock     Clock
	Positions *PositionCache
	Store     *Store
	Policy    *Policy
	Radio     RadioAdapter
	Publisher *Publisher
	Flush     *FlushWorker
	Notifier  *Notifier
	Metrics   *Metrics
	Logger    *log.Logger

	lastBroadcastDay string
	wg               sync.WaitGroup
}

// dayStampPattern renders a date stamp for the "has a new day started"
// check, the same strftime-based approach the teacher uses for its own
// log/beacon timestamp formatting (xmit.go, tq.go).
const dayStampPattern = "%Y-%m-%d"

// Run starts the radio adapter, the flush worker, and (if enabled) the
// daily broadcast loop, then blocks dispatching inbound packets until
// ctx is cancelled. It returns once every owned goroutine has stopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.Radio.OnPacket(func(pkt Packet) {
		o.handlePacket(ctx, pkt)
	})

	if err := o.Radio.Start(ctx); err != nil {
		return err
	}

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		o.Flush.Run(ctx)
	}()

	if o.Config.DailyBroadcastEnabled {
		o.wg.Add(1)

		go func() {
			defer o.wg.Done()
			o.runDailyBroadcast(ctx)
		}()
	}

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		o.pollRadioGauge(ctx)
	}()

	<-ctx.Done()
	o.wg.Wait()

	return nil
}

// pollRadioGauge keeps the metrics gauge in step with the radio's
// connection state; the adapter has no change-notification hook, so a
// light poll is simplest, mirroring the teacher's own periodic
// connection-state logging.
func (o *Orchestrator) pollRadioGauge(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.Metrics != nil {
				connected := 0.0
				if o.Radio.IsConnected() {
					connected = 1.0
				}

				o.Metrics.RadioConnected.Set(connected)
			}
		}
	}
}

func (o *Orchestrator) runDailyBroadcast(ctx context.Context) {
	ticker := time.NewTicker(dailyBroadcastInterval)
	defer ticker.Stop()

	o.maybeBroadcast()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.maybeBroadcast()
		}
	}
}

func (o *Orchestrator) maybeBroadcast() {
	today, err := strftime.Format(dayStampPattern, o.Clock.NowUTC())
	if err != nil {
		o.Logger.Error("orchestrator: could not format day stamp", "err", err)
		return
	}

	if today == o.lastBroadcastDay {
		return
	}

	o.lastBroadcastDay = today
	o.Notifier.BroadcastDaily()
	o.Logger.Info("orchestrator: sent daily broadcast", "day", today)
}

// handlePacket dispatches one decoded inbound Packet per §4.10.
func (o *Orchestrator) handlePacket(ctx context.Context, pkt Packet) {
	now := o.Clock.NowUTC()

	switch pkt.Kind {
	case PacketPosition:
		o.Positions.Update(pkt.Origin, pkt.Lat, pkt.Lon, pkt.ReceivedAt)
	case PacketText:
		o.handleText(ctx, pkt.Origin, pkt.Text, now)
	}
}

func (o *Orchestrator) handleText(ctx context.Context, origin, text string, now time.Time) {
	cmd := ParseCommand(text)

	switch cmd.Kind {
	case CmdReport:
		o.handleReport(ctx, origin, cmd.ReportText, now)
	case CmdHelp:
		o.Notifier.NotifyHelp(origin)
	case CmdStatus:
		pending, err := o.Store.PendingCount()
		if err != nil {
			o.Logger.Error("orchestrator: status query failed", "err", err)
			return
		}

		o.Notifier.NotifyStatus(origin, o.Radio.IsConnected(), pending)
	case CmdCount:
		startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

		count, err := o.Store.CountSince(startOfDay)
		if err != nil {
			o.Logger.Error("orchestrator: count query failed", "err", err)
			return
		}

		o.Notifier.NotifyCount(origin, count)
	case CmdList:
		rows, err := o.Store.ListRecent(cmd.ListN)
		if err != nil {
			o.Logger.Error("orchestrator: list query failed", "err", err)
			return
		}

		o.Notifier.NotifyList(origin, rows)
	case CmdQueue:
		pending, err := o.Store.PendingCount()
		if err != nil {
			o.Logger.Error("orchestrator: queue query failed", "err", err)
			return
		}

		o.Notifier.NotifyQueueInfo(origin, pending)
	case CmdNodes:
		o.Notifier.NotifyNodes(origin, o.Positions.Len())
	case CmdNone:
		// Text with no recognized tag is silently ignored, per §4.4.
	}
}

func (o *Orchestrator) handleReport(ctx context.Context, origin, reportText string, now time.Time) {
	decision, err := o.Policy.Evaluate(origin, reportText, now)
	if err != nil {
		o.Logger.Error("orchestrator: policy evaluation failed", "origin", origin, "err", err)
		return
	}

	switch decision.Kind {
	case DecisionMissingText:
		o.recordRejection("missing_text")
		o.Notifier.NotifyMissingText(origin, now)
	case DecisionNoGPS:
		o.recordRejection("no_gps")
		o.Notifier.NotifyNoGPS(origin, now)
	case DecisionStaleGPS:
		o.recordRejection("stale_gps")
		o.Notifier.NotifyStaleGPS(origin, now)
	case DecisionDuplicate:
		if o.Metrics != nil {
			o.Metrics.ReportsDuplicate.Inc()
		}

		o.Notifier.NotifyDuplicate(origin, now)
	case DecisionAccept:
		o.acceptReport(ctx, origin, reportText, decision, now)
	}
}

func (o *Orchestrator) recordRejection(reason string) {
	if o.Metrics != nil {
		o.Metrics.ReportsRejected.WithLabelValues(reason).Inc()
	}
}

// acceptReport persists the report, then makes one best-effort immediate
// publish attempt before acking, per §4.6: an origin in radio range
// should see its note confirmed without waiting for the next flush tick
// whenever upstream happens to be reachable right now.
func (o *Orchestrator) acceptReport(ctx context.Context, origin, textOriginal string, decision Decision, now time.Time) {
	queueID, err := o.Store.Append(origin, decision.Lat, decision.Lon, textOriginal, decision.TextNormalized, now)
	if err != nil {
		o.Logger.Error("orchestrator: could not persist accepted report", "origin", origin, "err", err)
		return
	}

	if o.Metrics != nil {
		o.Metrics.ReportsAccepted.Inc()
	}

	result := o.Publisher.Publish(ctx, decision.Lat, decision.Lon, decision.TextFinal, o.Config.DefaultLocale)

	if o.Metrics != nil {
		o.Metrics.PublishAttempts.WithLabelValues(publishResultLabel(result.Kind)).Inc()
	}

	switch result.Kind {
	case PublishOK:
		if err := o.Store.MarkSent(queueID, result.UpstreamID, result.UpstreamURL, o.Clock.NowUTC()); err != nil {
			o.Logger.Error("orchestrator: could not mark report sent", "queue_id", queueID, "err", err)
			o.Notifier.NotifyQueued(origin, queueID, now)

			return
		}

		if err := o.Store.MarkAnnounced(queueID); err != nil {
			o.Logger.Error("orchestrator: could not mark report announced", "queue_id", queueID, "err", err)
		}

		o.Notifier.NotifySuccess(origin, queueID, result.UpstreamID, now)
	case PublishTransientFailure, PublishPermanentFailure:
		if err := o.Store.RecordError(queueID, result.Tag); err != nil {
			o.Logger.Error("orchestrator: could not record publish error", "queue_id", queueID, "err", err)
		}

		o.Notifier.NotifyQueued(origin, queueID, now)
	}
}
