package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HandleHealth)

	r.Route("/api", func(ar chi.Router) {
		// Campaigns
		ar.Post("/campaigns", h.HandleCreateCampaign)
		ar.Get("/campaigns", h.HandleListCampaigns)
		ar.Get("/campaigns/{id}", h.HandleGetCampaign)
		ar.Put("/campaigns/{id}/status", h.HandleUpdateCampaignStatus)
		ar.Get("/campaigns/{id}/actions", h.HandleCampaignActions)
		ar.Get("/campaigns/{id}/forecast", h.HandleCampaignForecast)

		// Rules
		ar.Post("/campaigns/{id}/rules", h.HandleCreateRule)
		ar.Get("/campaigns/{id}/rules", h.HandleListRules)
		ar.Post("/campaigns/{id}/rules/seed", h.HandleSeedRules)
		ar.Get("/rules/{id}", h.HandleGetRule)
		ar.Put("/rules/{id}", h.HandleUpdateRule)
		ar.Delete("/rules/{id}", h.HandleDeleteRule)

		// Actions
		ar.Post("/actions", h.HandleProposeAction)
		ar.Get("/actions/pending", h.HandlePendingActions)
		ar.Get("/actions/{id}", h.HandleGetAction)
		ar.Post("/actions/{id}/approve", h.HandleApproveAction)
		ar.Post("/actions/{id}/reject", h.HandleRejectAction)
		ar.Post("/actions/{id}/cancel", h.HandleCancelAction)

		// Engine
		ar.Get("/overview", h.HandleOverview)
		ar.Get("/engine/stats", h.HandleEngineStats)
	})

	return r
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
