package handlers

import (
	"errors"
	"net/http"

	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/urnharvest/internal/logger"
)

var errNotConfigured = errors.New("not configured")

// Harvest triggers a manual harvest cycle of every source
func Harvest(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.HarvestTrigger == nil {
			http.Error(w, "harvest trigger not available", http.StatusServiceUnavailable)
			return
		}

		select {
		case d.HarvestTrigger <- struct{}{}:
			d.Logger.Info("manual harvest triggered via endpoint",
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusAccepted)
			if _, err := w.Write([]byte("✅ Harvest triggered successfully\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
		default:
			d.Logger.Warn("harvest already queued",
				logger.String("remote_ip", r.RemoteAddr))
			w.WriteHeader(http.StatusTooManyRequests)
			if _, err := w.Write([]byte("⏳ Harvest already queued, please wait\n")); err != nil {
				d.Logger.Debug("failed to write response", logger.Error(err))
			}
		}
	}
}
