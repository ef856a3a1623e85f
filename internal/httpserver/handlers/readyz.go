package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
)

type readyzResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

// Readyz is ready when the mapping store answers. Redis is optional and
// only reported.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		resp := readyzResponse{Ready: true, Checks: map[string]string{}}

		if err := ping(ctx, d.Store); err != nil {
			resp.Ready = false
			resp.Checks["store"] = err.Error()
			d.Logger.Warn("readiness check failed", logger.String("component", "store"), logger.Error(err))
		} else {
			resp.Checks["store"] = "ok"
		}

		switch {
		case d.Redis == nil:
			resp.Checks["redis"] = "disabled"
		case ping(ctx, d.Redis) != nil:
			resp.Checks["redis"] = "unreachable"
		default:
			resp.Checks["redis"] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if resp.Ready {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func ping(ctx context.Context, p deps.Pinger) error {
	if p == nil {
		return errNotConfigured
	}
	return p.Ping(ctx)
}
