package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/mw"
)

func init() { Register(registerHarvest) }

func registerHarvest(r chi.Router, d deps.Deps) {
	r.With(
		mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger),
		mw.RateLimit(mw.RateLimitConfig{
			Burst:        d.TriggerBurst,
			RefillPerMin: d.TriggerPerMin,
			TrustProxy:   d.TrustProxy,
		}),
	).Post("/harvest", handlers.Harvest(d))
}
