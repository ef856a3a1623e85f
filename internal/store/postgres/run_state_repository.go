package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
)

// RunStateRepository tracks incremental harvest bookkeeping per source.
type RunStateRepository struct {
	db *sqlx.DB
}

// NewRunStateRepository creates a new run state repository.
func NewRunStateRepository(db *sqlx.DB) *RunStateRepository {
	return &RunStateRepository{db: db}
}

type runStateRow struct {
	LastSuccessfulRunStart sql.NullTime `db:"last_successful_run_start"`
	IsNextRunFull          bool         `db:"is_next_run_full"`
}

// LoadRunState returns the state of sourceID. A source that never ran gets a full run.
func (r *RunStateRepository) LoadRunState(ctx context.Context, sourceID int64) (domain.RunState, error) {
	query := `SELECT last_successful_run_start, is_next_run_full FROM source_run WHERE source_id = $1`

	var row runStateRow
	if err := r.db.GetContext(ctx, &row, query, sourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RunState{NextRunFull: true}, nil
		}
		return domain.RunState{}, fmt.Errorf("failed to load run state: %w", err)
	}

	return domain.RunState{
		NextRunFull:        row.IsNextRunFull,
		LastSuccessfulRun:  row.LastSuccessfulRunStart.Time,
		HasSuccessfulRunAt: row.LastSuccessfulRunStart.Valid,
	}, nil
}

// MarkSucceeded stores the start time of a successful run and clears the full-run flag.
func (r *RunStateRepository) MarkSucceeded(ctx context.Context, sourceID int64, startedAt time.Time) error {
	query := `
		INSERT INTO source_run (source_id, last_successful_run_start, is_next_run_full, updated_at)
		VALUES ($1, $2, FALSE, NOW())
		ON CONFLICT (source_id) DO UPDATE
		SET last_successful_run_start = EXCLUDED.last_successful_run_start,
			is_next_run_full = FALSE, updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, sourceID, startedAt); err != nil {
		return fmt.Errorf("failed to record successful run: %w", err)
	}
	return nil
}

// RequestFullRun flags the next run of sourceID as a full re-harvest.
func (r *RunStateRepository) RequestFullRun(ctx context.Context, sourceID int64) error {
	query := `
		INSERT INTO source_run (source_id, is_next_run_full, updated_at)
		VALUES ($1, TRUE, NOW())
		ON CONFLICT (source_id) DO UPDATE SET is_next_run_full = TRUE, updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, sourceID); err != nil {
		return fmt.Errorf("failed to request full run: %w", err)
	}
	return nil
}
