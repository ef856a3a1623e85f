package harvest

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrSourceBusy is returned by LocalLocker when the source is already running.
var ErrSourceBusy = errors.New("source is already being harvested")

// LocalLocker serializes runs of the same source inside one process. It is
// used when no Redis is configured.
type LocalLocker struct {
	mu      sync.Mutex
	running map[int64]struct{}
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{running: make(map[int64]struct{})}
}

// Acquire claims sourceID or fails with ErrSourceBusy.
func (l *LocalLocker) Acquire(_ context.Context, sourceID int64) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.running[sourceID]; busy {
		return nil, ErrSourceBusy
	}
	l.running[sourceID] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.running, sourceID)
			l.mu.Unlock()
		})
		return nil
	}, nil
}

// Running returns the ids of the sources being harvested, in ascending order.
func (l *LocalLocker) Running(context.Context) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]int64, 0, len(l.running))
	for id := range l.running {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
