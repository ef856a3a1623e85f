package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/deps"
	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/mw"
)

func init() { Register(registerStatus) }

func registerStatus(r chi.Router, d deps.Deps) {
	restricted := r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
	restricted.Get("/status", handlers.Status(d))
	if d.Metrics != nil {
		restricted.Method("GET", "/metrics", d.Metrics)
	}
}
