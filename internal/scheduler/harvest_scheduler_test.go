package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/harvest"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
)

type countingRunner struct {
	mu      sync.Mutex
	calls   int
	workers int
	ran     chan struct{}
}

func (r *countingRunner) HarvestAll(_ context.Context, srcs []*domain.Source, workers int, _ ...harvest.RunOption) harvest.Report {
	r.mu.Lock()
	r.calls++
	r.workers = workers
	r.mu.Unlock()
	if r.ran != nil {
		select {
		case r.ran <- struct{}{}:
		default:
		}
	}
	report := harvest.Report{Failed: map[string]error{}}
	for _, s := range srcs {
		report.Succeeded = append(report.Succeeded, s.Title)
	}
	return report
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func staticSources(titles ...string) SourceLoader {
	return func() ([]*domain.Source, error) {
		out := make([]*domain.Source, 0, len(titles))
		for i, t := range titles {
			out = append(out, &domain.Source{ID: int64(i + 1), Title: t, Format: domain.FormatOAIPMH})
		}
		return out, nil
	}
}

func waitRun(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("harvest cycle did not run")
	}
}

func TestHarvestScheduler_RunOnce(t *testing.T) {
	runner := &countingRunner{}
	hs := NewHarvestScheduler(runner, staticSources("helda", "oulu"), logger.New("error", false), time.Hour, 3, nil)

	report := hs.RunOnce(context.Background())
	if len(report.Succeeded) != 2 {
		t.Errorf("Succeeded = %v, want 2 sources", report.Succeeded)
	}
	if runner.workers != 3 {
		t.Errorf("workers = %d, want 3", runner.workers)
	}

	last, at, ok := hs.Last()
	if !ok || len(last.Succeeded) != 2 || at.IsZero() {
		t.Errorf("Last() = %+v, %v, %v", last, at, ok)
	}
}

func TestHarvestScheduler_LoadFailureSkipsCycle(t *testing.T) {
	runner := &countingRunner{}
	failing := func() ([]*domain.Source, error) { return nil, errors.New("bad yaml") }
	hs := NewHarvestScheduler(runner, failing, logger.New("error", false), time.Hour, 1, nil)

	report := hs.RunOnce(context.Background())
	if len(report.Failed) != 1 || runner.count() != 0 {
		t.Errorf("report = %+v, calls = %d", report, runner.count())
	}
	if err := hs.Start(context.Background()); err == nil {
		t.Error("Start() should fail when sources cannot be loaded")
	}
}

func TestHarvestScheduler_StartRunsImmediatelyAndOnTrigger(t *testing.T) {
	runner := &countingRunner{ran: make(chan struct{}, 4)}
	trigger := make(chan struct{}, 1)
	hs := NewHarvestScheduler(runner, staticSources("helda"), logger.New("error", false), time.Hour, 1, trigger)

	if err := hs.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, runner.ran)

	trigger <- struct{}{}
	waitRun(t, runner.ran)

	hs.Stop()
	if got := runner.count(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestHarvestScheduler_Ticks(t *testing.T) {
	runner := &countingRunner{ran: make(chan struct{}, 8)}
	hs := NewHarvestScheduler(runner, staticSources("helda"), logger.New("error", false), 20*time.Millisecond, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := hs.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitRun(t, runner.ran)
	waitRun(t, runner.ran)
	hs.Stop()
}
