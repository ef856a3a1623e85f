package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/MrSnakeDoc/urnharvest/internal/extract"
)

// ExclusionRepository builds exclusion sets from urns owned by other sources.
type ExclusionRepository struct {
	db *sqlx.DB
}

// NewExclusionRepository creates a new exclusion repository.
func NewExclusionRepository(db *sqlx.DB) *ExclusionRepository {
	return &ExclusionRepository{db: db}
}

// Exclusions returns the urns currently mapped by any of sourceIDs.
func (r *ExclusionRepository) Exclusions(ctx context.Context, sourceIDs []int64) (extract.Exclusions, error) {
	if len(sourceIDs) == 0 {
		return extract.NewStaticExclusions(), nil
	}

	query := `SELECT DISTINCT urn FROM urn2url WHERE source_id = ANY($1)`

	var urns []string
	if err := r.db.SelectContext(ctx, &urns, query, pq.Array(sourceIDs)); err != nil {
		return nil, fmt.Errorf("failed to load exclusions: %w", err)
	}
	return extract.NewStaticExclusions(urns...), nil
}
