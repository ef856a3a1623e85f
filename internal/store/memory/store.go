// Package memory is an in-process mapping store used for dry runs and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/extract"
	"github.com/MrSnakeDoc/urnharvest/internal/reconcile"
)

// lockStripes bounds the number of per-key mutexes.
const lockStripes = 64

var ErrTxDone = errors.New("transaction already finished")

type mappingKey struct {
	urn      string
	sourceID int64
}

// Store keeps mappings, history and run state in maps guarded by an RWMutex.
type Store struct {
	mu       sync.RWMutex
	mappings map[mappingKey]domain.Mapping
	byURN    map[string][]int64 // urn -> source ids, insertion order
	history  []domain.HistoryEntry
	runs     map[int64]domain.RunState

	stripes [lockStripes]sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		mappings: make(map[mappingKey]domain.Mapping),
		byURN:    make(map[string][]int64),
		runs:     make(map[int64]domain.RunState),
	}
}

var _ reconcile.Store = (*Store)(nil)

// Begin locks the stripe owning (urn, sourceID) until the Tx ends.
func (s *Store) Begin(ctx context.Context, urn string, sourceID int64) (reconcile.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := &s.stripes[stripe(urn, sourceID)]
	lock.Lock()
	return &tx{store: s, lock: lock}, nil
}

func stripe(urn string, sourceID int64) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(urn)
	var b [8]byte
	for i := range b {
		b[i] = byte(sourceID >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return h.Sum64() % lockStripes
}

// Mappings returns every mapping for urn, ordered by source id.
func (s *Store) Mappings(urn string) []domain.Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mappingsLocked(urn)
}

func (s *Store) mappingsLocked(urn string) []domain.Mapping {
	ids := s.byURN[urn]
	out := make([]domain.Mapping, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.mappings[mappingKey{urn, id}])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Count returns the number of mappings.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mappings)
}

// History returns a copy of the history log in append order.
func (s *Store) History() []domain.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Exclusions returns the urns currently mapped by any of sourceIDs.
func (s *Store) Exclusions(_ context.Context, sourceIDs []int64) (extract.Exclusions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[int64]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		want[id] = true
	}
	var urns []string
	for k := range s.mappings {
		if want[k.sourceID] {
			urns = append(urns, k.urn)
		}
	}
	return extract.NewStaticExclusions(urns...), nil
}

// LoadRunState returns the recorded state, or a full-run state when none exists.
func (s *Store) LoadRunState(_ context.Context, sourceID int64) (domain.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.runs[sourceID]; ok {
		return st, nil
	}
	return domain.RunState{NextRunFull: true}, nil
}

// MarkSucceeded records a finished run that started at startedAt.
func (s *Store) MarkSucceeded(_ context.Context, sourceID int64, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[sourceID] = domain.RunState{LastSuccessfulRun: startedAt, HasSuccessfulRunAt: true}
	return nil
}

// RequestFullRun flags the next run of sourceID as a full re-harvest.
func (s *Store) RequestFullRun(_ context.Context, sourceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.runs[sourceID]
	st.NextRunFull = true
	s.runs[sourceID] = st
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// tx buffers writes and applies them on Commit.
type tx struct {
	store   *Store
	lock    *sync.Mutex
	pending []func(*Store)
	done    bool
}

func (t *tx) MappingsByURN(ctx context.Context, urn string) ([]domain.Mapping, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return t.store.Mappings(urn), ctx.Err()
}

func (t *tx) InsertMapping(_ context.Context, m domain.Mapping) error {
	if t.done {
		return ErrTxDone
	}
	t.pending = append(t.pending, func(s *Store) {
		k := mappingKey{m.URN, m.SourceID}
		if _, exists := s.mappings[k]; !exists {
			s.byURN[m.URN] = append(s.byURN[m.URN], m.SourceID)
		}
		s.mappings[k] = m
	})
	return nil
}

func (t *tx) UpdateMappingURL(_ context.Context, urn string, sourceID int64, url string) error {
	if t.done {
		return ErrTxDone
	}
	t.pending = append(t.pending, func(s *Store) {
		k := mappingKey{urn, sourceID}
		if m, ok := s.mappings[k]; ok {
			m.URL = url
			s.mappings[k] = m
		}
	})
	return nil
}

func (t *tx) AppendHistory(_ context.Context, h domain.HistoryEntry) error {
	if t.done {
		return ErrTxDone
	}
	t.pending = append(t.pending, func(s *Store) {
		s.history = append(s.history, h)
	})
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.store.mu.Lock()
	for _, op := range t.pending {
		op(t.store)
	}
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.finish()
	return nil
}

func (t *tx) finish() {
	t.done = true
	t.pending = nil
	t.lock.Unlock()
}
