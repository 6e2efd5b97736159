package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Outbound acks with an anti-spam budget (C9, §4.9).
 *
 * Description:	No back-pointer to the Orchestrator: the Notifier only
 *		ever calls outward to the RadioAdapter and the Store's
 *		read-only query methods, matching the one-way dependency
 *		direction in §9's design notes.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ackBudgetWindow and ackBudgetMax implement the rolling anti-spam rule
// of §4.9: at most ackBudgetMax directed acks per origin per rolling
// ackBudgetWindow, collapsing the rest into one summary ack.
const (
	ackBudgetWindow = 60 * time.Second
	ackBudgetMax    = 3
)

type originBudget struct {
	sent        []time.Time
	summarySent bool
	suppressed  int
}

// Notifier is the C9 contract.
type Notifier struct {
	Radio     RadioAdapter
	Store     *Store
	Templates *TemplateStore
	Metrics   *Metrics
	Locale    string

	mu      sync.Mutex
	budgets map[string]*originBudget
}

// NewNotifier wires a Notifier against its collaborators.
func NewNotifier(radio RadioAdapter, store *Store, templates *TemplateStore, metrics *Metrics, locale string) *Notifier {
	return &Notifier{
		Radio:     radio,
		Store:     store,
		Templates: templates,
		Metrics:   metrics,
		Locale:    locale,
		budgets:   make(map[string]*originBudget),
	}
}

// NotifyMissingText acks an empty-text #osmnote, per DecisionMissingText.
func (n *Notifier) NotifyMissingText(origin string, now time.Time) {
	n.sendDirected(origin, AckMissingText, now, false)
}

// NotifyNoGPS acks a report rejected for no cached position.
func (n *Notifier) NotifyNoGPS(origin string, now time.Time) {
	n.sendDirected(origin, AckRejectNoGPS, now, false)
}

// NotifyStaleGPS acks a report rejected for a stale cached position.
func (n *Notifier) NotifyStaleGPS(origin string, now time.Time) {
	n.sendDirected(origin, AckRejectStaleGPS, now, false)
}

// NotifyDuplicate acks a report suppressed as a duplicate.
func (n *Notifier) NotifyDuplicate(origin string, now time.Time) {
	n.sendDirected(origin, AckDuplicate, now, false)
}

// NotifyQueued acks an accepted report that did not publish immediately,
// carrying its queue id.
func (n *Notifier) NotifyQueued(origin, queueID string, now time.Time) {
	n.sendFormatted(origin, AckQueued, now, false, queueID)
}

// NotifySuccess acks an accepted report that published immediately.
// The origin's post-publish SENT count, read from the Store, drives the
// every-5th privacy-suffix rule.
func (n *Notifier) NotifySuccess(origin, queueID string, upstreamID int64, now time.Time) {
	suppressSuffix := true

	if count, err := n.Store.SentCountForOrigin(origin); err == nil {
		suppressSuffix = count%5 != 0
	}

	n.sendFormatted(origin, AckSuccess, now, suppressSuffix, upstreamID, queueID)
}

// AnnouncePromoted notifies origin that a previously queued report has
// now been sent, called by the Flush Worker. Like every other directed
// ack, it is subject to the per-origin anti-spam budget: a flush tick
// that promotes many rows for one origin at once must collapse into the
// summary ack past the 3rd, not transmit unbounded ACK_PROMOTED frames.
func (n *Notifier) AnnouncePromoted(r *Report, now time.Time) {
	upstreamID := int64(0)
	if r.UpstreamID != nil {
		upstreamID = *r.UpstreamID
	}

	n.sendFormatted(r.Origin, AckPromoted, now, true, r.QueueID, upstreamID, r.TextNormalized)
}

// NotifyHelp, NotifyStatus, NotifyCount, NotifyList, NotifyQueueInfo and
// NotifyNodes answer the informational command tags of §4.4. None of
// them consume the anti-spam budget: they are direct responses to an
// explicit query, not a side effect of a report.
func (n *Notifier) NotifyHelp(origin string) {
	n.transmitDirect(origin, AckHelp, n.Templates.Render(n.Locale, AckHelp, false))
}

func (n *Notifier) NotifyStatus(origin string, radioConnected bool, pending int) {
	state := "down"
	if radioConnected {
		state = "up"
	}

	text := n.Templates.Render(n.Locale, AckStatus, false, state, pending)
	n.transmitDirect(origin, AckStatus, text)
}

func (n *Notifier) NotifyCount(origin string, count int) {
	text := n.Templates.Render(n.Locale, AckCount, false, count)
	n.transmitDirect(origin, AckCount, text)
}

func (n *Notifier) NotifyList(origin string, reports []*Report) {
	lines := make([]string, 0, len(reports))
	for _, r := range reports {
		lines = append(lines, fmt.Sprintf("%s %s %s", r.QueueID, r.Status, r.TextNormalized))
	}

	body := strings.Join(lines, "\n")
	if body == "" {
		body = "(none)"
	}

	text := n.Templates.Render(n.Locale, AckList, false, body)
	n.transmitDirect(origin, AckList, text)
}

func (n *Notifier) NotifyQueueInfo(origin string, pending int) {
	text := n.Templates.Render(n.Locale, AckQueueInfo, false, pending)
	n.transmitDirect(origin, AckQueueInfo, text)
}

func (n *Notifier) NotifyNodes(origin string, knownPositions int) {
	text := n.Templates.Render(n.Locale, AckNodes, false, knownPositions)
	n.transmitDirect(origin, AckNodes, text)
}

// BroadcastDaily sends the unsolicited daily reminder broadcast (§4.9),
// not subject to the per-origin budget since it is not a directed ack.
func (n *Notifier) BroadcastDaily() {
	text := n.Templates.Render(n.Locale, AckDailyBroadcast, true)
	n.Radio.SendBroadcast(text)

	if n.Metrics != nil {
		n.Metrics.NotificationsSent.WithLabelValues(string(AckDailyBroadcast)).Inc()
	}
}

func (n *Notifier) sendDirected(origin string, kind AckKind, now time.Time, suppressSuffix bool) {
	n.sendFormatted(origin, kind, now, suppressSuffix)
}

func (n *Notifier) sendFormatted(origin string, kind AckKind, now time.Time, suppressSuffix bool, args ...any) {
	text := n.Templates.Render(n.Locale, kind, suppressSuffix, args...)
	n.sendBudgeted(origin, kind, now, text)
}

// sendBudgeted sends text to origin if the rolling anti-spam budget
// allows it, otherwise collapses it into (at most one) summary ack per
// exhaustion run, per §4.9.
func (n *Notifier) sendBudgeted(origin string, kind AckKind, now time.Time, text string) {
	n.mu.Lock()

	b, ok := n.budgets[origin]
	if !ok {
		b = &originBudget{}
		n.budgets[origin] = b
	}

	b.sent = pruneOlderThan(b.sent, now, ackBudgetWindow)

	if len(b.sent) < ackBudgetMax {
		b.sent = append(b.sent, now)
		b.summarySent = false
		b.suppressed = 0
		n.mu.Unlock()

		n.transmitDirect(origin, kind, text)

		return
	}

	b.suppressed++
	sendSummary := !b.summarySent
	if sendSummary {
		b.summarySent = true
	}

	suppressed := b.suppressed
	n.mu.Unlock()

	if n.Metrics != nil {
		n.Metrics.NotificationsCollapsed.Inc()
	}

	if sendSummary {
		summaryText := n.Templates.Render(n.Locale, AckSummary, true, suppressed)
		n.transmitDirect(origin, AckSummary, summaryText)
	}
}

func pruneOlderThan(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)

	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}

	return out
}

func (n *Notifier) transmitDirect(origin string, kind AckKind, text string) {
	n.Radio.SendDirect(origin, text)

	if n.Metrics != nil {
		n.Metrics.NotificationsSent.WithLabelValues(string(kind)).Inc()
	}
}
