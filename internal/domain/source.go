package domain

import (
	"regexp"
	"time"
)

// Format is the record layout a source publishes. The values are the tags
// stored in the source registry and must not be renamed.
type Format string

const (
	// FormatResolver is the single-shot resolver dump (one document, no paging).
	FormatResolver Format = "Swedish"
	// FormatOAIPMH is plain OAI-PMH with Dublin Core identifiers.
	FormatOAIPMH Format = "OAI-PMH"
	// FormatLegacyMirror is OAI-PMH for a repository whose communities were
	// copied elsewhere; urns owned by the successors are skipped.
	FormatLegacyMirror Format = "Doria"
	// FormatSuccessor is OAI-PMH whose handle urls need prefix rewriting.
	FormatSuccessor Format = "Helda"
	// FormatScoped only reads identifiers nested inside <metadata>.
	FormatScoped Format = "Oulu"
)

// Known reports whether f is one of the supported formats.
func (f Format) Known() bool {
	switch f {
	case FormatResolver, FormatOAIPMH, FormatLegacyMirror, FormatSuccessor, FormatScoped:
		return true
	}
	return false
}

// Paginates reports whether documents of this format can carry resumption tokens.
func (f Format) Paginates() bool {
	return f.Known() && f != FormatResolver
}

// Incremental reports whether the format honours the OAI-PMH from= argument.
func (f Format) Incremental() bool {
	switch f {
	case FormatOAIPMH, FormatLegacyMirror, FormatSuccessor:
		return true
	}
	return false
}

const (
	DefaultLegacyPrefix    = "http://hdl.handle.net/"
	DefaultCanonicalPrefix = "http://helda.helsinki.fi/handle/"
	DefaultDelay           = 5 * time.Second
)

// Source is one harvestable repository. It is read-only during a run.
type Source struct {
	ID        int64
	Title     string
	Format    Format
	StartURL  string
	ResumeURL string // empty when the source never paginates

	// URLPattern gates every candidate url; it is matched from the first byte.
	URLPattern *regexp.Regexp
	// IdentifierType is copied into mappings and history (e.g. "normal").
	IdentifierType string
	Delay          time.Duration

	// LegacyPrefix and CanonicalPrefix drive the successor url rewrite.
	LegacyPrefix    string
	CanonicalPrefix string

	// ExcludeFrom lists source titles whose urns a legacy mirror must skip;
	// ExcludeIDs holds the same sources resolved against the registry.
	ExcludeFrom []string
	ExcludeIDs  []int64

	State RunState
}

// RunState is the persisted bookkeeping used to build incremental requests.
type RunState struct {
	NextRunFull        bool
	LastSuccessfulRun  time.Time
	HasSuccessfulRunAt bool
}

// Full reports whether the next run must fetch everything.
func (s RunState) Full() bool {
	return s.NextRunFull || !s.HasSuccessfulRunAt
}
