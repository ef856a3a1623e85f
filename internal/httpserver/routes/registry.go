package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/urnharvest/internal/httpserver/deps"
)

// Registrar mounts one group of routes.
type Registrar func(r chi.Router, d deps.Deps)

var registrars []Registrar

// Register adds a route group. Called from the init functions of this package.
func Register(reg Registrar) {
	registrars = append(registrars, reg)
}

// RegisterAll mounts every group on r, in registration order.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, reg := range registrars {
		reg(r, d)
	}
}
