package domain

import "time"

// Record is the transient pair assembled while reading one record element.
type Record struct {
	URN string
	URL string
}

// Mapping is the persisted resolution of a urn for one source.
// At most one mapping exists per (URN, SourceID).
type Mapping struct {
	URN            string `db:"urn"`
	URL            string `db:"url"`
	SourceID       int64  `db:"source_id"`
	IdentifierType string `db:"url_type"`
}

// HistoryEntry is an append-only change record. Nil pointers mean the
// value was absent (a fresh insert has no old url).
type HistoryEntry struct {
	URN         string
	RComponent  *string
	OldURL      *string
	NewURL      *string
	OldType     *string
	NewType     *string
	SourceURL   string
	HarvestedAt time.Time
}

// Outcome is the result of reconciling one record.
type Outcome string

const (
	OutcomeCreated            Outcome = "created"
	OutcomeUpdated            Outcome = "updated"
	OutcomeDuplicateNewSource Outcome = "duplicate-new-source"
	OutcomeNoop               Outcome = "noop"
	OutcomeRejected           Outcome = "rejected"
)

// Outcomes lists every outcome, in reporting order.
var Outcomes = []Outcome{
	OutcomeCreated,
	OutcomeUpdated,
	OutcomeDuplicateNewSource,
	OutcomeNoop,
	OutcomeRejected,
}

// Changed reports whether the outcome wrote anything.
func (o Outcome) Changed() bool {
	switch o {
	case OutcomeCreated, OutcomeUpdated, OutcomeDuplicateNewSource:
		return true
	}
	return false
}
