package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
)

// RunStore keeps the latest run summary of every source in one hash.
type RunStore struct {
	client *redis.Client
}

// NewRunStore creates a new run summary store
func NewRunStore(client *redis.Client) *RunStore {
	return &RunStore{client: client}
}

// SaveRun overwrites the summary of summary.SourceID
func (s *RunStore) SaveRun(ctx context.Context, summary domain.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	field := strconv.FormatInt(summary.SourceID, 10)
	if err := s.client.HSet(ctx, KeyLastRun, field, data).Err(); err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}
	return nil
}

// LastRuns returns the stored summaries ordered by source ID
func (s *RunStore) LastRuns(ctx context.Context) ([]domain.RunSummary, error) {
	raw, err := s.client.HGetAll(ctx, KeyLastRun).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get run summaries: %w", err)
	}

	runs := make([]domain.RunSummary, 0, len(raw))
	for field, data := range raw {
		var summary domain.RunSummary
		if err := json.Unmarshal([]byte(data), &summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run summary %s: %w", field, err)
		}
		runs = append(runs, summary)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].SourceID < runs[j].SourceID })
	return runs, nil
}

// Ping checks the Redis connection
func (s *RunStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
