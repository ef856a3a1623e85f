// Package reconcile applies extracted records to the persisted mapping table.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
	"github.com/MrSnakeDoc/urnharvest/internal/urn"
)

// Store opens units of work on the mapping table.
type Store interface {
	// Begin starts a transaction that holds exclusive access to
	// (urn, sourceID) until Commit or Rollback.
	Begin(ctx context.Context, urn string, sourceID int64) (Tx, error)
}

// Tx is one read-then-write sequence.
type Tx interface {
	MappingsByURN(ctx context.Context, urn string) ([]domain.Mapping, error)
	InsertMapping(ctx context.Context, m domain.Mapping) error
	UpdateMappingURL(ctx context.Context, urn string, sourceID int64, url string) error
	AppendHistory(ctx context.Context, h domain.HistoryEntry) error
	Commit() error
	Rollback() error
}

// Input is one record together with the context of the run that produced it.
type Input struct {
	URN            string // raw, as extracted
	URL            string
	SourceID       int64
	IdentifierType string
	SourceURL      string
}

// Reconciler decides and applies mapping transitions.
type Reconciler struct {
	store Store
	log   logger.Logger
	now   func() time.Time
}

// New returns a Reconciler backed by store.
func New(store Store, log logger.Logger) *Reconciler {
	return &Reconciler{store: store, log: log, now: time.Now}
}

// WithClock overrides the harvest timestamp source.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Reconcile applies one record. An invalid urn is logged and reported as
// OutcomeRejected without error; errors only come from the store.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (domain.Outcome, error) {
	key, err := urn.Normalize(in.URN)
	if err != nil {
		r.log.Warn("invalid urn",
			logger.String("urn", in.URN),
			logger.Int64("source_id", in.SourceID),
			logger.Error(err))
		return domain.OutcomeRejected, nil
	}

	tx, err := r.store.Begin(ctx, key, in.SourceID)
	if err != nil {
		return "", fmt.Errorf("begin reconcile %s: %w", key, err)
	}

	outcome, err := r.apply(ctx, tx, key, in)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit reconcile %s: %w", key, err)
	}

	if outcome.Changed() {
		r.log.Debug("mapping "+string(outcome),
			logger.String("urn", key),
			logger.String("url", in.URL),
			logger.Int64("source_id", in.SourceID))
	}
	return outcome, nil
}

func (r *Reconciler) apply(ctx context.Context, tx Tx, key string, in Input) (domain.Outcome, error) {
	existing, err := tx.MappingsByURN(ctx, key)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", key, err)
	}

	var own *domain.Mapping
	for i := range existing {
		if existing[i].SourceID == in.SourceID {
			own = &existing[i]
			break
		}
	}

	switch {
	case own != nil && own.URL == in.URL:
		return domain.OutcomeNoop, nil

	case own != nil:
		if err := tx.UpdateMappingURL(ctx, key, in.SourceID, in.URL); err != nil {
			return "", fmt.Errorf("update %s: %w", key, err)
		}
		// The previous identifier type is intentionally not recorded.
		h := r.history(key, in)
		h.OldURL = strPtr(own.URL)
		if err := tx.AppendHistory(ctx, h); err != nil {
			return "", fmt.Errorf("history %s: %w", key, err)
		}
		return domain.OutcomeUpdated, nil

	default:
		m := domain.Mapping{
			URN:            key,
			URL:            in.URL,
			SourceID:       in.SourceID,
			IdentifierType: in.IdentifierType,
		}
		if err := tx.InsertMapping(ctx, m); err != nil {
			return "", fmt.Errorf("insert %s: %w", key, err)
		}
		if err := tx.AppendHistory(ctx, r.history(key, in)); err != nil {
			return "", fmt.Errorf("history %s: %w", key, err)
		}
		if len(existing) == 0 {
			return domain.OutcomeCreated, nil
		}
		return domain.OutcomeDuplicateNewSource, nil
	}
}

func (r *Reconciler) history(key string, in Input) domain.HistoryEntry {
	return domain.HistoryEntry{
		URN:         key,
		NewURL:      strPtr(in.URL),
		NewType:     optional(in.IdentifierType),
		SourceURL:   in.SourceURL,
		HarvestedAt: r.now(),
	}
}

func strPtr(s string) *string { return &s }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
