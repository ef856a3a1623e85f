// Package extract turns XML parse events into (urn, url) records.
//
// One Extractor serves one harvest run of one source. It remembers every
// urn it has emitted so that a urn repeated anywhere in the run, across
// pages included, is reported once and applied once.
package extract

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
)

var (
	// ErrUnknownFormat is returned by New for a format with no variant.
	ErrUnknownFormat = errors.New("unknown source format")
	// ErrIncompleteRecord is raised by strict variants when a record lacks a urn or url.
	ErrIncompleteRecord = errors.New("record without urn or url")
)

// Sink receives completed records.
type Sink interface {
	Accept(rec domain.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec domain.Record) error

func (f SinkFunc) Accept(rec domain.Record) error { return f(rec) }

// Stats counts what happened to candidates during a run.
type Stats struct {
	Records      int
	Duplicates   int
	Incomplete   int
	RejectedURLs int
	RejectedURNs int
	Excluded     int
}

// Checkpoint captures the run-wide state before a document is parsed.
type Checkpoint struct {
	seen  int
	token string
	stats Stats
}

// Extractor holds the state of one source's harvest run.
type Extractor struct {
	src      *domain.Source
	variant  variant
	sink     Sink
	excluded Exclusions
	log      logger.Logger

	// current record
	urn, url       string
	hasURN, hasURL bool

	// element being captured
	capture field
	buf     strings.Builder
	inScope bool

	token string

	seen  map[string]struct{}
	order []string
	stats Stats
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithExclusions sets the urns a legacy mirror must not assert.
func WithExclusions(ex Exclusions) Option {
	return func(e *Extractor) { e.excluded = ex }
}

// New builds the extractor variant for src.Format.
func New(src *domain.Source, sink Sink, log logger.Logger, opts ...Option) (*Extractor, error) {
	v, err := variantFor(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, src.Format)
	}
	e := &Extractor{
		src:     src,
		variant: v,
		sink:    sink,
		log:     log,
		seen:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// StartElement handles an opening tag.
func (e *Extractor) StartElement(name xml.Name, _ []xml.Attr) {
	if e.variant.boundary(name) {
		e.inScope = true
		e.resetRecord()
		return
	}
	if f := e.variant.field(name, e.inScope); f != fieldNone {
		e.capture = f
		e.buf.Reset()
	}
}

// CharData handles text content.
func (e *Extractor) CharData(b []byte) {
	if e.capture != fieldNone {
		e.buf.Write(b)
	}
}

// EndElement handles a closing tag. Errors come from strict variants or the sink.
func (e *Extractor) EndElement(name xml.Name) error {
	if e.variant.boundary(name) {
		e.inScope = false
		e.capture = fieldNone
		return e.completeRecord()
	}
	if e.capture == fieldNone || e.variant.field(name, e.inScope) != e.capture {
		return nil
	}

	f := e.capture
	e.capture = fieldNone
	text := strings.TrimSpace(e.buf.String())

	switch f {
	case fieldURN:
		e.SetURN(text)
	case fieldURL:
		e.SetURL(text)
	case fieldIdentifier:
		e.variant.identifier(e, text)
	case fieldToken:
		e.token = text
	}
	return nil
}

// SetURN stores a urn candidate for the current record. Blank candidates
// and, for legacy mirrors, excluded urns are dropped.
func (e *Extractor) SetURN(candidate string) {
	if strings.TrimSpace(candidate) == "" {
		e.stats.RejectedURNs++
		e.log.Debug("rejecting blank urn", logger.String("source", e.src.Title))
		return
	}
	if !e.variant.admitURN(e, candidate) {
		return
	}
	e.urn = candidate
	e.hasURN = true
}

// SetURL stores a url candidate if it matches the source's url pattern.
func (e *Extractor) SetURL(candidate string) {
	if candidate == "" || e.src.URLPattern == nil || !e.src.URLPattern.MatchString(candidate) {
		e.stats.RejectedURLs++
		e.log.Debug("rejecting url",
			logger.String("source", e.src.Title),
			logger.String("url", candidate))
		return
	}
	e.url = candidate
	e.hasURL = true
}

// Token returns the last resumption token seen, or "".
func (e *Extractor) Token() string { return e.token }

// ClearToken forgets the current resumption token.
func (e *Extractor) ClearToken() { e.token = "" }

// Stats returns the counters accumulated so far.
func (e *Extractor) Stats() Stats { return e.stats }

// Checkpoint snapshots the run state so a document can be parsed again.
func (e *Extractor) Checkpoint() Checkpoint {
	return Checkpoint{seen: len(e.order), token: e.token, stats: e.stats}
}

// Rewind restores a checkpoint taken before the current document. Urns
// first seen after the checkpoint become unseen again.
func (e *Extractor) Rewind(cp Checkpoint) {
	for _, u := range e.order[cp.seen:] {
		delete(e.seen, u)
	}
	e.order = e.order[:cp.seen]
	e.token = cp.token
	e.stats = cp.stats
	e.inScope = false
	e.capture = fieldNone
	e.buf.Reset()
	e.resetRecord()
}

func (e *Extractor) resetRecord() {
	e.urn, e.url = "", ""
	e.hasURN, e.hasURL = false, false
}

func (e *Extractor) completeRecord() error {
	defer e.resetRecord()

	if !e.hasURN || !e.hasURL {
		e.stats.Incomplete++
		if e.variant.strict() {
			return fmt.Errorf("%w (urn=%q url=%q)", ErrIncompleteRecord, e.urn, e.url)
		}
		return nil
	}

	if _, dup := e.seen[e.urn]; dup {
		e.stats.Duplicates++
		e.log.Error("source has the same urn multiple times",
			logger.String("source", e.src.Title),
			logger.String("urn", e.urn))
		return nil
	}
	e.seen[e.urn] = struct{}{}
	e.order = append(e.order, e.urn)
	e.stats.Records++

	return e.sink.Accept(domain.Record{URN: e.urn, URL: e.url})
}
