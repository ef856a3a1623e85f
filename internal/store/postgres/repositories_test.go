package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/MrSnakeDoc/urnharvest/internal/store/postgres"
)

func TestRunStateRepository_LoadRunState(t *testing.T) {
	started := time.Date(2025, 3, 13, 1, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		setup    func(mock sqlmock.Sqlmock)
		wantFull bool
		wantErr  bool
	}{
		{
			name: "never ran",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT last_successful_run_start, is_next_run_full FROM source_run`).
					WithArgs(int64(4)).
					WillReturnError(sql.ErrNoRows)
			},
			wantFull: true,
		},
		{
			name: "incremental",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT last_successful_run_start, is_next_run_full FROM source_run`).
					WithArgs(int64(4)).
					WillReturnRows(sqlmock.NewRows([]string{"last_successful_run_start", "is_next_run_full"}).
						AddRow(started, false))
			},
		},
		{
			name: "full requested",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT last_successful_run_start, is_next_run_full FROM source_run`).
					WithArgs(int64(4)).
					WillReturnRows(sqlmock.NewRows([]string{"last_successful_run_start", "is_next_run_full"}).
						AddRow(started, true))
			},
			wantFull: true,
		},
		{
			name: "query error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT last_successful_run_start`).
					WillReturnError(errors.New("connection lost"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, cleanup := newMock(t)
			defer cleanup()
			tt.setup(mock)

			state, err := postgres.NewRunStateRepository(db).LoadRunState(context.Background(), 4)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadRunState() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && state.Full() != tt.wantFull {
				t.Errorf("Full() = %v, want %v (state %+v)", state.Full(), tt.wantFull, state)
			}
			if err == nil && !tt.wantFull && !state.LastSuccessfulRun.Equal(started) {
				t.Errorf("LastSuccessfulRun = %v, want %v", state.LastSuccessfulRun, started)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestRunStateRepository_MarkSucceeded(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	started := time.Date(2025, 3, 14, 1, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO source_run .* ON CONFLICT \(source_id\) DO UPDATE`).
		WithArgs(int64(4), started).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := postgres.NewRunStateRepository(db).MarkSucceeded(context.Background(), 4, started); err != nil {
		t.Fatalf("MarkSucceeded() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestRunStateRepository_RequestFullRun(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO source_run \(source_id, is_next_run_full, updated_at\)`).
		WithArgs(int64(4)).
		WillReturnError(errors.New("read-only transaction"))

	if err := postgres.NewRunStateRepository(db).RequestFullRun(context.Background(), 4); err == nil {
		t.Fatal("RequestFullRun() expected error")
	}
	expectationsMet(t, mock)
}

func TestExclusionRepository_Exclusions(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT DISTINCT urn FROM urn2url WHERE source_id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"urn"}).
			AddRow("urn:nbn:fi-fe2025031401").
			AddRow("urn:nbn:fi-fe2025031402"))

	ex, err := postgres.NewExclusionRepository(db).Exclusions(context.Background(), []int64{2, 5})
	if err != nil {
		t.Fatalf("Exclusions() error = %v", err)
	}
	if !ex.Contains("urn:nbn:fi-fe2025031401") || ex.Contains("urn:nbn:fi-fe2025031499") {
		t.Errorf("Exclusions() = %v", ex)
	}
	expectationsMet(t, mock)
}

func TestExclusionRepository_NoSourcesSkipsQuery(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()

	ex, err := postgres.NewExclusionRepository(db).Exclusions(context.Background(), nil)
	if err != nil {
		t.Fatalf("Exclusions() error = %v", err)
	}
	if ex.Contains("urn:nbn:fi-fe2025031401") {
		t.Error("empty exclusion set contains a urn")
	}
	expectationsMet(t, mock)
}
