package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/urnharvest/internal/domain"
	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/deps"
)

type componentStatus struct {
	OK      bool   `json:"ok"`
	Sources *int   `json:"sources,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Impact  string `json:"impact,omitempty"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
	Harvesting []int64                    `json:"harvesting"`
	LastCycle  *deps.Cycle                `json:"last_cycle,omitempty"`
	LastRuns   []domain.RunSummary        `json:"last_runs,omitempty"`
}

// Status reports the state of every component and the last run of each
// source.
func Status(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		components := map[string]componentStatus{
			"sources": checkSources(d),
			"store":   checkStore(ctx, d),
			"redis":   checkRedis(ctx, d),
		}

		resp := statusResponse{
			Mode:       determineMode(components),
			Components: components,
		}
		resp.Harvesting = []int64{}
		if d.Running != nil {
			if ids, err := d.Running.Running(ctx); err == nil {
				resp.Harvesting = ids
			}
		}
		if d.LastCycle != nil {
			if c, ok := d.LastCycle(); ok {
				resp.LastCycle = &c
			}
		}
		if d.Runs != nil {
			if runs, err := d.Runs.LastRuns(ctx); err == nil {
				resp.LastRuns = runs
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func determineMode(components map[string]componentStatus) string {
	if !components["store"].OK || !components["sources"].OK {
		return "critical"
	}
	if !components["redis"].OK {
		return "degraded"
	}
	return "optimal"
}

func checkSources(d deps.Deps) componentStatus {
	if d.SourceCount == nil {
		return componentStatus{OK: false, Error: errNotConfigured.Error()}
	}
	n, err := d.SourceCount()
	if err != nil {
		return componentStatus{OK: false, Error: err.Error()}
	}
	return componentStatus{OK: n > 0, Sources: &n}
}

func checkStore(ctx context.Context, d deps.Deps) componentStatus {
	if err := ping(ctx, d.Store); err != nil {
		return componentStatus{OK: false, Error: err.Error()}
	}
	return componentStatus{OK: true}
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.Redis == nil {
		return componentStatus{
			OK:     false,
			Mode:   "disabled",
			Impact: "in-process-locking, no-run-history",
		}
	}
	if err := d.Redis.Ping(ctx); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "harvests-fail-to-lock",
			Error:  err.Error(),
		}
	}
	return componentStatus{OK: true, Mode: "optimal"}
}
