package gateway

/*------------------------------------------------------------------
 *
 * Purpose:	Freshness check, dedup check, text normalization (C5).
 *
 *------------------------------------------------------------------*/

import (
	"strings"
	"time"
)

// DecisionKind tags the outcome of evaluating a candidate report.
type DecisionKind int

const (
	DecisionMissingText DecisionKind = iota
	DecisionNoGPS
	DecisionStaleGPS
	DecisionAccept
	DecisionDuplicate
)

// Decision is the outcome of Policy.Evaluate.
type Decision struct {
	Kind        DecisionKind
	Lat         float64
	Lon         float64
	Approximate bool

	// TextNormalized is the plain result of normalization over
	// text_original (trim + collapse whitespace), with no suffix. This
	// is the value persisted to the Store so later duplicate checks
	// compare like with like.
	TextNormalized string

	// TextFinal is TextNormalized with the approximate-position suffix
	// appended when Approximate is true; used only for the outgoing
	// ack/publish text, never for dedup or storage.
	TextFinal string

	ExistingID string // populated for DecisionDuplicate when known
}

// Default freshness thresholds (§4.5); overridable via Config.
const (
	DefaultPosGood = 15 * time.Second
	DefaultPosMax  = 60 * time.Second
)

const approximateSuffix = " (approx. position)"

// Policy implements evaluate_report (C5).
type Policy struct {
	Positions *PositionCache
	Store     *Store
	PosGood   time.Duration
	PosMax    time.Duration
}

// NewPolicy returns a Policy with the default freshness thresholds.
func NewPolicy(positions *PositionCache, store *Store) *Policy {
	return &Policy{
		Positions: positions,
		Store:     store,
		PosGood:   DefaultPosGood,
		PosMax:    DefaultPosMax,
	}
}

// Evaluate runs the acceptance algorithm of §4.5 against textRemaining
// from origin, as observed at now.
func (p *Policy) Evaluate(origin, textRemaining string, now time.Time) (Decision, error) {
	normalized := NormalizeText(textRemaining)
	if normalized == "" {
		return Decision{Kind: DecisionMissingText}, nil
	}

	pos, ok := p.Positions.Get(origin)
	if !ok {
		return Decision{Kind: DecisionNoGPS}, nil
	}

	age := now.Sub(pos.ReceivedAt)
	if age < 0 {
		age = 0
	}

	if age > p.PosMax {
		return Decision{Kind: DecisionStaleGPS}, nil
	}

	approximate := age > p.PosGood

	textFinal := normalized
	if approximate && !strings.HasSuffix(normalized, approximateSuffix) {
		textFinal += approximateSuffix
	}

	dup, err := p.Store.CheckDuplicate(origin, normalized, pos.Lat, pos.Lon, now)
	if err != nil {
		return Decision{}, err
	}

	if dup {
		return Decision{Kind: DecisionDuplicate}, nil
	}

	return Decision{
		Kind:           DecisionAccept,
		Lat:            pos.Lat,
		Lon:            pos.Lon,
		Approximate:    approximate,
		TextNormalized: normalized,
		TextFinal:      textFinal,
	}, nil
}
