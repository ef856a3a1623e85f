package deps

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
)

// Pinger is anything whose liveness can be checked.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunLister returns the latest summary per source.
type RunLister interface {
	LastRuns(ctx context.Context) ([]domain.RunSummary, error)
}

// RunningLister returns the ids of the sources being harvested.
type RunningLister interface {
	Running(ctx context.Context) ([]int64, error)
}

// Cycle summarizes the last scheduled harvest cycle.
type Cycle struct {
	At        time.Time         `json:"at"`
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	TimeNow        func() time.Time     // for testing, defaults to time.Now
	AllowedCIDRS   []string             // IPs allowed to access readyz, status, metrics and harvest
	TrustProxy     bool                 // true if running behind a trusted reverse proxy
	Store          Pinger               // mapping store
	Redis          Pinger               // nil when redis is disabled
	Runs           RunLister            // nil when redis is disabled
	Running        RunningLister        // source locks currently held
	LastCycle      func() (Cycle, bool) // last scheduled cycle, if any
	SourceCount    func() (int, error)  // number of configured sources
	Metrics        http.Handler         // Prometheus exposition
	HarvestTrigger chan struct{}        // Channel to trigger a manual harvest cycle
	TriggerBurst   int                  // POST /harvest requests allowed per client before throttling
	TriggerPerMin  int                  // POST /harvest refill rate per client
}

// Now returns d.TimeNow() or time.Now().
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
