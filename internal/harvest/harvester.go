package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/extract"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
	"github.com/MrSnakeDoc/urnharvest/internal/reconcile"
)

var (
	// ErrUnknownFormat is returned for a source whose format has no extractor.
	ErrUnknownFormat = errors.New("unknown source format")
	// ErrPanic marks a run that panicked and was turned into a failure.
	ErrPanic = errors.New("harvest panicked")
)

// RunStateStore persists the bookkeeping behind incremental runs.
type RunStateStore interface {
	LoadRunState(ctx context.Context, sourceID int64) (domain.RunState, error)
	MarkSucceeded(ctx context.Context, sourceID int64, startedAt time.Time) error
}

// ExclusionLoader returns the urns currently owned by the given sources.
type ExclusionLoader interface {
	Exclusions(ctx context.Context, sourceIDs []int64) (extract.Exclusions, error)
}

// Locker hands out per-source exclusive leases.
type Locker interface {
	Acquire(ctx context.Context, sourceID int64) (func(context.Context) error, error)
}

// Reconciler applies one record to the mapping table.
type Reconciler interface {
	Reconcile(ctx context.Context, in reconcile.Input) (domain.Outcome, error)
}

// Reporter stores the summary of a finished run.
type Reporter interface {
	SaveRun(ctx context.Context, summary domain.RunSummary) error
}

// Recorder receives metrics about runs.
type Recorder interface {
	HarvestStarted()
	ObserveHarvest(summary domain.RunSummary)
	ObserveOutcome(source string, o domain.Outcome)
	ObservePage(source string)
}

// Deps groups the collaborators of a Harvester. Only Fetcher and
// Reconciler are required.
type Deps struct {
	Fetcher    Fetcher
	Reconciler Reconciler
	RunState   RunStateStore
	Exclusions ExclusionLoader
	Locker     Locker
	Reporter   Reporter
	Metrics    Recorder
	Logger     logger.Logger

	MaxRequests int
	Sleep       func(ctx context.Context, d time.Duration) error
	Now         func() time.Time
	// Location is the zone incremental from= dates are computed in.
	// Defaults to time.Local.
	Location *time.Location
}

// Harvester runs whole-source harvests.
type Harvester struct {
	driver     *Driver
	reconciler Reconciler
	runs       RunStateStore
	exclusions ExclusionLoader
	locker     Locker
	reporter   Reporter
	metrics    Recorder
	log        logger.Logger
	now        func() time.Time
	loc        *time.Location
}

// New builds a Harvester. Missing optional collaborators degrade to
// always-full runs, no exclusions and in-process locking.
func New(d Deps) *Harvester {
	log := d.Logger
	if log == nil {
		log = logger.NewNop()
	}
	h := &Harvester{
		reconciler: d.Reconciler,
		runs:       d.RunState,
		exclusions: d.Exclusions,
		locker:     d.Locker,
		reporter:   d.Reporter,
		metrics:    d.Metrics,
		log:        log,
		now:        d.Now,
		loc:        d.Location,
	}
	if h.locker == nil {
		h.locker = NewLocalLocker()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.loc == nil {
		h.loc = time.Local
	}

	opts := []DriverOption{WithMaxRequests(d.MaxRequests)}
	if d.Sleep != nil {
		opts = append(opts, WithSleep(d.Sleep))
	}
	if h.metrics != nil {
		opts = append(opts, WithPageHook(func(src *domain.Source) { h.metrics.ObservePage(src.Title) }))
	}
	h.driver = NewDriver(d.Fetcher, log, opts...)
	return h
}

// RunOption tweaks a single run.
type RunOption func(*runConfig)

type runConfig struct {
	full bool
}

// Full ignores the stored run state and fetches everything.
func Full() RunOption {
	return func(c *runConfig) { c.full = true }
}

// StartURL is the first url of a run: the source's start url, narrowed to
// records changed since the last successful run when the format allows it.
// The date is the last run's calendar day in loc.
func StartURL(src *domain.Source, state domain.RunState, loc *time.Location) string {
	if !src.Format.Incremental() || state.Full() {
		return src.StartURL
	}
	return src.StartURL + "&from=" + state.LastSuccessfulRun.In(loc).Format("2006-01-02")
}

// Harvest runs one source to completion. The returned error has already
// been logged; callers treat it as the failure of this source only.
func (h *Harvester) Harvest(ctx context.Context, src *domain.Source, opts ...RunOption) error {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	log := h.log.With(logger.String("source", src.Title), logger.String("format", string(src.Format)))
	log.Info("harvesting begins")
	defer log.Info("harvesting ends")

	if !src.Format.Known() {
		log.Error("source has unknown format, skipping")
		return fmt.Errorf("%w: %q (source %s)", ErrUnknownFormat, src.Format, src.Title)
	}

	release, err := h.locker.Acquire(ctx, src.ID)
	if err != nil {
		log.Warn("could not lock source, skipping", logger.Error(err))
		return fmt.Errorf("lock source %s: %w", src.Title, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release source lock", logger.Error(err))
		}
	}()

	summary := domain.RunSummary{
		SourceID:  src.ID,
		Title:     src.Title,
		Format:    src.Format,
		StartedAt: h.now(),
		Outcomes:  make(map[domain.Outcome]int),
	}
	if h.metrics != nil {
		h.metrics.HarvestStarted()
	}

	err = h.safeRun(ctx, src, cfg, &summary, log)

	summary.FinishedAt = h.now()
	summary.Success = err == nil
	if err != nil {
		summary.Error = err.Error()
		log.Critical("error harvesting source", logger.Error(err))
	} else {
		log.Info("harvest summary",
			logger.Int("pages", summary.Pages),
			logger.Int("created", summary.Outcomes[domain.OutcomeCreated]),
			logger.Int("updated", summary.Outcomes[domain.OutcomeUpdated]),
			logger.Int("duplicate_new_source", summary.Outcomes[domain.OutcomeDuplicateNewSource]),
			logger.Int("noop", summary.Outcomes[domain.OutcomeNoop]),
			logger.Int("rejected", summary.Outcomes[domain.OutcomeRejected]),
			logger.Duration("took", summary.Duration()))
	}

	if h.metrics != nil {
		h.metrics.ObserveHarvest(summary)
	}
	if h.reporter != nil {
		if rerr := h.reporter.SaveRun(context.WithoutCancel(ctx), summary); rerr != nil {
			log.Warn("failed to save run summary", logger.Error(rerr))
		}
	}
	return err
}

func (h *Harvester) safeRun(ctx context.Context, src *domain.Source, cfg runConfig, summary *domain.RunSummary, log logger.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return h.run(ctx, src, cfg, summary, log)
}

func (h *Harvester) run(ctx context.Context, src *domain.Source, cfg runConfig, summary *domain.RunSummary, log logger.Logger) error {
	state := domain.RunState{NextRunFull: true}
	if h.runs != nil && !cfg.full {
		st, err := h.runs.LoadRunState(ctx, src.ID)
		if err != nil {
			return fmt.Errorf("load run state: %w", err)
		}
		state = st
	}
	summary.Full = state.Full()
	startURL := StartURL(src, state, h.loc)
	log.Debug("start url", logger.String("url", startURL), logger.Bool("full", summary.Full))

	var extOpts []extract.Option
	if src.Format == domain.FormatLegacyMirror && len(src.ExcludeIDs) > 0 {
		ex, err := h.loadExclusions(ctx, src, log)
		if err != nil {
			return err
		}
		extOpts = append(extOpts, extract.WithExclusions(ex))
	}

	tally := &pageTally{commit: func(o domain.Outcome) {
		summary.Outcomes[o]++
		if h.metrics != nil {
			h.metrics.ObserveOutcome(src.Title, o)
		}
	}}
	sink := extract.SinkFunc(func(rec domain.Record) error {
		outcome, err := h.reconciler.Reconcile(ctx, reconcile.Input{
			URN:            rec.URN,
			URL:            rec.URL,
			SourceID:       src.ID,
			IdentifierType: src.IdentifierType,
			SourceURL:      startURL,
		})
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", rec.URN, err)
		}
		tally.add(rec.URN, outcome)
		return nil
	})

	ext, err := extract.New(src, sink, log, extOpts...)
	if err != nil {
		return err
	}

	res, err := h.driver.Run(ctx, src, startURL, &tallyingExtractor{Extractor: ext, tally: tally})
	summary.Pages = res.Pages
	summary.Extracted = statsMap(ext.Stats())
	if err != nil {
		return err
	}

	if h.runs != nil {
		if err := h.runs.MarkSucceeded(ctx, src.ID, summary.StartedAt); err != nil {
			return fmt.Errorf("record successful run: %w", err)
		}
	}
	return nil
}

func (h *Harvester) loadExclusions(ctx context.Context, src *domain.Source, log logger.Logger) (extract.Exclusions, error) {
	if h.exclusions == nil {
		log.Warn("source lists exclusions but no exclusion store is configured")
		return extract.AnyOf(nil), nil
	}
	sets := make(extract.AnyOf, 0, len(src.ExcludeIDs))
	for _, id := range src.ExcludeIDs {
		ex, err := h.exclusions.Exclusions(ctx, []int64{id})
		if err != nil {
			return nil, fmt.Errorf("load exclusions of source %d: %w", id, err)
		}
		if s, ok := ex.(extract.StaticExclusions); ok {
			log.Debug("loaded exclusions", logger.Int64("from_source", id), logger.Int("urns", s.Len()))
		}
		sets = append(sets, ex)
	}
	return sets, nil
}

func statsMap(s extract.Stats) map[string]int {
	return map[string]int{
		"records":       s.Records,
		"duplicates":    s.Duplicates,
		"incomplete":    s.Incomplete,
		"rejected_urls": s.RejectedURLs,
		"rejected_urns": s.RejectedURNs,
		"excluded":      s.Excluded,
	}
}

// Report is the outcome of harvesting several sources.
type Report struct {
	Succeeded []string
	Failed    map[string]error
}

// Err joins every failure, or returns nil when all sources succeeded.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Failed))
	for _, err := range r.Failed {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// HarvestAll harvests sources with at most workers runs in flight. One
// source failing never stops the others.
func (h *Harvester) HarvestAll(ctx context.Context, sources []*domain.Source, workers int, opts ...RunOption) Report {
	if workers < 1 {
		workers = 1
	}
	report := Report{Failed: make(map[string]error)}
	results := make([]error, len(sources))

	// Workers record their error and return nil, so the group never
	// cancels the remaining sources.
	var g errgroup.Group
	g.SetLimit(workers)
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = err
				return nil
			}
			results[i] = h.Harvest(ctx, src, opts...)
			return nil
		})
	}
	_ = g.Wait()

	for i, src := range sources {
		if results[i] != nil {
			report.Failed[src.Title] = results[i]
			continue
		}
		report.Succeeded = append(report.Succeeded, src.Title)
	}
	return report
}
