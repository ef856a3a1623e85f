package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/reconcile"
)

// ErrMappingNotFound is returned when an update matches no row.
var ErrMappingNotFound = errors.New("mapping not found")

const mappingSelectColumns = `urn, url, source_id, COALESCE(url_type, '') AS url_type`

// MappingRepository implements reconcile.Store on the urn2url and urnhistory tables.
type MappingRepository struct {
	db *sqlx.DB
}

// NewMappingRepository creates a new mapping repository.
func NewMappingRepository(db *sqlx.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

var _ reconcile.Store = (*MappingRepository)(nil)

// Begin opens a transaction and takes a transaction-scoped advisory lock on
// (urn, sourceID), so concurrent reconciles of the same pair run one at a time.
func (r *MappingRepository) Begin(ctx context.Context, urn string, sourceID int64) (reconcile.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), $2::int)`, urn, sourceID); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to lock %s/%d: %w", urn, sourceID, err)
	}

	return &mappingTx{tx: tx}, nil
}

// Ping checks the database connection.
func (r *MappingRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type mappingTx struct {
	tx *sqlx.Tx
}

func (t *mappingTx) MappingsByURN(ctx context.Context, urn string) ([]domain.Mapping, error) {
	query := `SELECT ` + mappingSelectColumns + ` FROM urn2url WHERE urn = $1 ORDER BY source_id`

	var mappings []domain.Mapping
	if err := t.tx.SelectContext(ctx, &mappings, query, urn); err != nil {
		return nil, fmt.Errorf("failed to select mappings: %w", err)
	}
	return mappings, nil
}

func (t *mappingTx) InsertMapping(ctx context.Context, m domain.Mapping) error {
	query := `INSERT INTO urn2url (urn, url, source_id, url_type) VALUES ($1, $2, $3, $4)`

	if _, err := t.tx.ExecContext(ctx, query, m.URN, m.URL, m.SourceID, nullable(m.IdentifierType)); err != nil {
		return fmt.Errorf("failed to insert mapping: %w", err)
	}
	return nil
}

func (t *mappingTx) UpdateMappingURL(ctx context.Context, urn string, sourceID int64, url string) error {
	query := `UPDATE urn2url SET url = $1 WHERE urn = $2 AND source_id = $3`

	result, err := t.tx.ExecContext(ctx, query, url, urn, sourceID)
	return execRequireRows(result, err, fmt.Errorf("%w: %s/%d", ErrMappingNotFound, urn, sourceID))
}

func (t *mappingTx) AppendHistory(ctx context.Context, h domain.HistoryEntry) error {
	query := `
		INSERT INTO urnhistory
			(urn, r_component, url_old, url_new, url_type_old, url_type_new, source_url, harvest_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := t.tx.ExecContext(ctx, query,
		h.URN, h.RComponent, h.OldURL, h.NewURL, h.OldType, h.NewType, h.SourceURL, h.HarvestedAt)
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}
	return nil
}

func (t *mappingTx) Commit() error { return t.tx.Commit() }

func (t *mappingTx) Rollback() error { return t.tx.Rollback() }

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
