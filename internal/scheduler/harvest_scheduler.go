package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/harvest"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
)

// Runner harvests a batch of sources.
type Runner interface {
	HarvestAll(ctx context.Context, sources []*domain.Source, workers int, opts ...harvest.RunOption) harvest.Report
}

// SourceLoader returns the sources to harvest. It is called once per cycle
// so edits to the registry file apply without a restart.
type SourceLoader func() ([]*domain.Source, error)

// HarvestScheduler handles periodic harvesting of every configured source
type HarvestScheduler struct {
	runner        Runner
	load          SourceLoader
	logger        logger.Logger
	interval      time.Duration
	workers       int
	stopCh        chan struct{}
	manualTrigger <-chan struct{}
	wg            sync.WaitGroup

	mu         sync.Mutex
	lastReport *harvest.Report
	lastRunAt  time.Time
}

// NewHarvestScheduler creates a new harvest scheduler
func NewHarvestScheduler(
	runner Runner,
	load SourceLoader,
	log logger.Logger,
	interval time.Duration,
	workers int,
	manualTrigger <-chan struct{},
) *HarvestScheduler {
	return &HarvestScheduler{
		runner:        runner,
		load:          load,
		logger:        log,
		interval:      interval,
		workers:       workers,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start validates the source registry, then harvests immediately and on
// every tick or manual trigger until Stop or ctx is done.
func (hs *HarvestScheduler) Start(ctx context.Context) error {
	if _, err := hs.load(); err != nil {
		return fmt.Errorf("initial source load failed: %w", err)
	}

	ticker := time.NewTicker(hs.interval)
	hs.wg.Add(1)
	go func() {
		defer hs.wg.Done()
		defer ticker.Stop()

		hs.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				hs.RunOnce(ctx)
			case <-hs.manualTrigger:
				hs.logger.Info("manual harvest triggered")
				hs.RunOnce(ctx)
			case <-hs.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop stops the scheduler and waits for a running cycle to return.
func (hs *HarvestScheduler) Stop() {
	close(hs.stopCh)
	hs.wg.Wait()
}

// RunOnce harvests every source once. Failures are reported, not returned.
func (hs *HarvestScheduler) RunOnce(ctx context.Context) harvest.Report {
	srcs, err := hs.load()
	if err != nil {
		hs.logger.Error("failed to load sources, skipping cycle", logger.Error(err))
		return harvest.Report{Failed: map[string]error{"*": err}}
	}

	hs.logger.Info("harvest cycle begins", logger.Int("sources", len(srcs)))
	start := time.Now()
	report := hs.runner.HarvestAll(ctx, srcs, hs.workers)
	hs.logger.Info("harvest cycle ends",
		logger.Int("succeeded", len(report.Succeeded)),
		logger.Int("failed", len(report.Failed)),
		logger.Duration("took", time.Since(start)))

	hs.mu.Lock()
	hs.lastReport = &report
	hs.lastRunAt = start
	hs.mu.Unlock()
	return report
}

// Last returns the report of the most recent cycle, if any.
func (hs *HarvestScheduler) Last() (harvest.Report, time.Time, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.lastReport == nil {
		return harvest.Report{}, time.Time{}, false
	}
	return *hs.lastReport, hs.lastRunAt, true
}
