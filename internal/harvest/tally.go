package harvest

import (
	"context"
	"io"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/extract"
)

type tallied struct {
	urn     string
	outcome domain.Outcome
}

// pageTally holds the outcomes of the page being parsed and commits them
// once the page parses cleanly. When a page is parsed again after a
// repair, records the first attempt already wrote come back as noop; they
// keep the outcome of that first attempt.
type pageTally struct {
	commit  func(domain.Outcome)
	pending []tallied
	replay  map[string]domain.Outcome
}

func (t *pageTally) add(urn string, o domain.Outcome) {
	if prev, ok := t.replay[urn]; ok && o == domain.OutcomeNoop {
		o = prev
	}
	delete(t.replay, urn)
	t.pending = append(t.pending, tallied{urn: urn, outcome: o})
}

func (t *pageTally) begin() {
	t.pending = t.pending[:0]
	t.replay = nil
}

func (t *pageTally) retry() {
	t.replay = make(map[string]domain.Outcome, len(t.pending))
	for _, p := range t.pending {
		if _, seen := t.replay[p.urn]; !seen {
			t.replay[p.urn] = p.outcome
		}
	}
	t.pending = t.pending[:0]
}

func (t *pageTally) flush() {
	for _, p := range t.pending {
		t.commit(p.outcome)
	}
	t.begin()
}

// tallyingExtractor ties a pageTally to the driver's page lifecycle:
// a checkpoint starts a page, a rewind retries it, a clean parse ends it.
type tallyingExtractor struct {
	*extract.Extractor
	tally *pageTally
}

func (e *tallyingExtractor) Checkpoint() extract.Checkpoint {
	e.tally.begin()
	return e.Extractor.Checkpoint()
}

func (e *tallyingExtractor) Rewind(cp extract.Checkpoint) {
	e.tally.retry()
	e.Extractor.Rewind(cp)
}

func (e *tallyingExtractor) Parse(ctx context.Context, r io.Reader) error {
	if err := e.Extractor.Parse(ctx, r); err != nil {
		return err
	}
	e.tally.flush()
	return nil
}
