package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/engine"
)

// Handlers carries the engine components the API fronts.
type Handlers struct {
	manager   *engine.Manager
	gateway   *engine.Gateway
	scheduler *engine.Scheduler
	store     engine.Store
	metrics   engine.MetricStore
	predictor engine.Predictor
}

// NewHandlers creates the API handler set.
func NewHandlers(
	manager *engine.Manager,
	gateway *engine.Gateway,
	scheduler *engine.Scheduler,
	store engine.Store,
	metrics engine.MetricStore,
	predictor engine.Predictor,
) *Handlers {
	return &Handlers{
		manager:   manager,
		gateway:   gateway,
		scheduler: scheduler,
		store:     store,
		metrics:   metrics,
		predictor: predictor,
	}
}

func (h *Handlers) buildOverview(ctx context.Context) (*engine.Overview, error) {
	return engine.BuildOverview(ctx, h.store, h.metrics)
}

// respondEngineError maps engine error kinds onto HTTP status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, engine.ErrNotPending):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// HandleHealth reports process and store health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.store.Healthy(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]string{"status": status})
}

// --- Campaigns ---

func (h *Handlers) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var c domain.Campaign
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := h.manager.Create(r.Context(), &c)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handlers) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	f := domain.CampaignFilter{
		Status: domain.CampaignStatus(r.URL.Query().Get("status")),
		Name:   r.URL.Query().Get("name"),
	}
	campaigns, err := h.manager.List(r.Context(), f)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []domain.Campaign{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"count":     len(campaigns),
	})
}

func (h *Handlers) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

type statusRequest struct {
	Status domain.CampaignStatus `json:"status"`
}

func (h *Handlers) HandleUpdateCampaignStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.manager.UpdateStatus(r.Context(), id, req.Status); err != nil {
		respondEngineError(w, err)
		return
	}

	c, err := h.manager.Get(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) HandleCampaignActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.store.ListCampaignActions(r.Context(), chi.URLParam(r, "id"), 100)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if actions == nil {
		actions = []domain.Action{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"actions": actions,
		"count":   len(actions),
	})
}

func (h *Handlers) HandleCampaignForecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.manager.Get(ctx, id); err != nil {
		respondEngineError(w, err)
		return
	}

	snapshots, err := h.metrics.RecentSnapshots(ctx, id, domain.DefaultConsecutive)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	fc, err := h.predictor.Forecast(ctx, id, snapshots)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, fc)
}

// --- Rules ---

func (h *Handlers) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := h.manager.AttachRule(r.Context(), chi.URLParam(r, "id"), &rule)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handlers) HandleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.manager.ListRules(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if rules == nil {
		rules = []domain.Rule{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

func (h *Handlers) HandleSeedRules(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.SeedDefaultRules(r.Context(), id); err != nil {
		respondEngineError(w, err)
		return
	}

	rules, err := h.manager.ListRules(r.Context(), id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

func (h *Handlers) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.manager.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (h *Handlers) HandleUpdateRule(w http.ResponseWriter, r *http.Request) {
	existing, err := h.manager.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// The rule's identity is not editable over the wire.
	rule.ID = existing.ID
	rule.CampaignID = existing.CampaignID
	rule.CreatedAt = existing.CreatedAt

	if err := h.manager.UpdateRule(r.Context(), &rule); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (h *Handlers) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
