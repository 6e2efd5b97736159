// Package gateway implements the report-processing pipeline for an
// offline-tolerant packet-radio-to-OpenStreetMap-Notes relay.
package gateway

import "time"

// Status is the lifecycle state of a Report.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
)

// Report is a persisted record of an accepted field report. Fields are
// never mutated after creation except the status-transition fields and,
// once, CreatedAt during the one-shot clock-skew correction in the Flush
// Worker.
type Report struct {
	ID             uint64
	QueueID        string
	Origin         string
	CreatedAt      time.Time
	Lat            float64
	Lon            float64
	TextOriginal   string
	TextNormalized string
	Status         Status
	UpstreamID     *int64
	UpstreamURL    *string
	SentAt         *time.Time
	LastError      string
	NotifiedSent   bool
}

// IsSent reports whether the report has reached its terminal state.
func (r *Report) IsSent() bool {
	return r.Status == StatusSent
}
