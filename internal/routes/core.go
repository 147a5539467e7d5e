package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coah80/reelsave/internal/config"
	"github.com/coah80/reelsave/internal/services"
)

func CoreRoutes(r chi.Router, store *services.TokenStore) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, 200, map[string]interface{}{
			"status":  "ok",
			"version": config.Version,
			"tokens":  store.Len(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())
}
