package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/engine"
)

type proposeRequest struct {
	CampaignID string               `json:"campaign_id"`
	Type       domain.ActionType    `json:"type"`
	Payload    domain.ActionPayload `json:"payload"`
	Reason     string               `json:"reason"`
}

// HandleProposeAction accepts a manual action proposal. Manual actions carry
// no rule and go through the same classification and approval path as
// rule-generated ones.
func (h *Handlers) HandleProposeAction(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := r.Context()
	c, err := h.manager.Get(ctx, req.CampaignID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if c.IsTerminal() {
		respondEngineError(w, fmt.Errorf("%w: campaign %s is archived", engine.ErrInvalidTransition, c.ID))
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "manually proposed"
	}
	action := &domain.Action{
		ID:         uuid.NewString(),
		CampaignID: req.CampaignID,
		Type:       req.Type,
		Payload:    req.Payload,
		Confidence: 1.0,
		Reason:     reason,
		State:      domain.ActionProposed,
		CreatedAt:  time.Now().UTC(),
	}
	if err := action.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.CreateAction(ctx, action); err != nil {
		respondEngineError(w, err)
		return
	}

	submitted, err := h.gateway.Submit(ctx, action.ID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, submitted)
}

func (h *Handlers) HandlePendingActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.gateway.Pending(r.Context())
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

func (h *Handlers) HandleGetAction(w http.ResponseWriter, r *http.Request) {
	action, err := h.store.GetAction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, action)
}

type decisionRequest struct {
	Reason    string `json:"reason"`
	DecidedBy string `json:"decided_by"`
}

func (req *decisionRequest) decoder(r *http.Request) {
	// Empty body is fine; decision metadata is optional.
	_ = json.NewDecoder(r.Body).Decode(req)
	if req.DecidedBy == "" {
		req.DecidedBy = "operator"
	}
}

func (h *Handlers) HandleApproveAction(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	req.decoder(r)

	action, err := h.gateway.Decide(r.Context(), chi.URLParam(r, "id"),
		domain.DecisionApproved, req.Reason, req.DecidedBy)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, action)
}

func (h *Handlers) HandleRejectAction(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	req.decoder(r)

	action, err := h.gateway.Decide(r.Context(), chi.URLParam(r, "id"),
		domain.DecisionRejected, req.Reason, req.DecidedBy)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, action)
}

func (h *Handlers) HandleCancelAction(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	req.decoder(r)

	action, err := h.gateway.Cancel(r.Context(), chi.URLParam(r, "id"),
		req.Reason, req.DecidedBy)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, action)
}

func (h *Handlers) HandleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.buildOverview(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ov)
}

func (h *Handlers) HandleEngineStats(w http.ResponseWriter, r *http.Request) {
	fired, missed, errs := h.scheduler.Stats()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries":      h.scheduler.Entries(),
		"fired_total":  fired,
		"missed_total": missed,
		"error_total":  errs,
	})
}
