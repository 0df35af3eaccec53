package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/engine"
	"github.com/ignite/campaign-autopilot/internal/pkg/keylock"
	"github.com/ignite/campaign-autopilot/internal/store"
)

type mockPredictor struct {
	fc  *domain.Forecast
	err error
}

func (m *mockPredictor) Forecast(_ context.Context, campaignID string, _ []domain.MetricSnapshot) (*domain.Forecast, error) {
	if m.err != nil {
		return nil, m.err
	}
	fc := *m.fc
	fc.CampaignID = campaignID
	return &fc, nil
}

type mockPlatform struct{ calls int }

func (m *mockPlatform) Apply(context.Context, string, domain.ActionType, domain.ActionPayload) error {
	m.calls++
	return nil
}

type testAPI struct {
	mux   http.Handler
	store *store.Memory
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mem := store.NewMemory()
	locks := keylock.NewKeyed()
	manager := engine.NewManager(mem)
	gateway := engine.NewGateway(mem, locks)
	predictor := &mockPredictor{fc: &domain.Forecast{PredictedACOS: 0.22, Confidence: 0.9, GeneratedAt: time.Now().UTC()}}
	evaluator := engine.NewEvaluator(mem, mem, predictor, gateway, time.Second)
	dispatcher := engine.NewDispatcher(mem, &mockPlatform{}, manager, 3, time.Second)
	scheduler := engine.NewScheduler(mem, evaluator, dispatcher, locks, engine.SchedulerConfig{})

	h := NewHandlers(manager, gateway, scheduler, mem, mem, predictor)
	return &testAPI{mux: SetupRoutes(h), store: mem}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

func TestCampaignEndpoints(t *testing.T) {
	a := setupTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/campaigns", map[string]interface{}{
		"name": "summer sale", "budget": 100.0, "bid_amount": 1.5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.Campaign
	decode(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.CampaignDraft, created.Status)

	// Activate through the status endpoint.
	rec = a.do(t, http.MethodPut, "/api/campaigns/"+created.ID+"/status", map[string]string{"status": "active"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated domain.Campaign
	decode(t, rec, &updated)
	assert.Equal(t, domain.CampaignActive, updated.Status)

	// Illegal transition maps to 409.
	rec = a.do(t, http.MethodPut, "/api/campaigns/"+created.ID+"/status", map[string]string{"status": "draft"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown campaign maps to 404.
	rec = a.do(t, http.MethodGet, "/api/campaigns/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/api/campaigns?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Campaigns []domain.Campaign `json:"campaigns"`
		Count     int               `json:"count"`
	}
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count)
}

func TestCreateCampaignValidation(t *testing.T) {
	a := setupTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/campaigns", map[string]interface{}{"budget": 50.0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListCampaignsEmpty(t *testing.T) {
	a := setupTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/campaigns", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	// Empty list must serialize as [], not null.
	assert.Contains(t, rec.Body.String(), `"campaigns":[]`)
}

// =============================================================================
// RULES
// =============================================================================

func createActiveCampaign(t *testing.T, a *testAPI) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/campaigns", map[string]interface{}{
		"name": "test", "budget": 100.0, "bid_amount": 1.0, "status": "active",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c domain.Campaign
	decode(t, rec, &c)
	return c.ID
}

func TestRuleEndpoints(t *testing.T) {
	a := setupTestAPI(t)
	campaignID := createActiveCampaign(t, a)

	rec := a.do(t, http.MethodPost, "/api/campaigns/"+campaignID+"/rules", map[string]interface{}{
		"name": "acos guard",
		"condition": map[string]interface{}{
			"kind": "window", "metric": "acos", "op": ">", "threshold": 0.35, "consecutive": 3,
		},
		"action_type": "pause",
		"risk_tier":   "medium",
		"enabled":     true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rule domain.Rule
	decode(t, rec, &rule)
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, campaignID, rule.CampaignID)

	rec = a.do(t, http.MethodGet, "/api/rules/"+rule.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPut, "/api/rules/"+rule.ID, map[string]interface{}{
		"name": "renamed guard",
		"condition": map[string]interface{}{
			"kind": "window", "metric": "acos", "op": ">", "threshold": 0.40, "consecutive": 3,
		},
		"action_type": "pause",
		"risk_tier":   "medium",
		"enabled":     true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated domain.Rule
	decode(t, rec, &updated)
	assert.Equal(t, campaignID, updated.CampaignID, "update must keep the rule bound to its campaign")

	rec = a.do(t, http.MethodGet, "/api/campaigns/"+campaignID+"/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rules []domain.Rule `json:"rules"`
		Count int           `json:"count"`
	}
	decode(t, rec, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "renamed guard", list.Rules[0].Name)
	assert.Equal(t, 0.40, list.Rules[0].Condition.Threshold)

	rec = a.do(t, http.MethodDelete, "/api/rules/"+rule.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(t, http.MethodGet, "/api/rules/"+rule.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSeedRules(t *testing.T) {
	a := setupTestAPI(t)
	campaignID := createActiveCampaign(t, a)

	rec := a.do(t, http.MethodPost, "/api/campaigns/"+campaignID+"/rules/seed", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var list struct {
		Count int `json:"count"`
	}
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count)

	rec = a.do(t, http.MethodPost, "/api/campaigns/"+campaignID+"/rules/seed", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Count, "seeding twice must not duplicate")
}

func TestInvalidRuleRejected(t *testing.T) {
	a := setupTestAPI(t)
	campaignID := createActiveCampaign(t, a)

	rec := a.do(t, http.MethodPost, "/api/campaigns/"+campaignID+"/rules", map[string]interface{}{
		"name": "broken",
		"condition": map[string]interface{}{
			"kind": "threshold", "metric": "no_such_metric", "op": ">", "threshold": 1.0,
		},
		"action_type": "pause",
		"risk_tier":   "low",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ACTIONS
// =============================================================================

func TestManualActionAutoApproves(t *testing.T) {
	a := setupTestAPI(t)
	campaignID := createActiveCampaign(t, a)

	// A manual proposal carries full confidence, so medium-risk
	// classification clears it without a human.
	rec := a.do(t, http.MethodPost, "/api/actions", map[string]interface{}{
		"campaign_id": campaignID,
		"type":        "pause",
		"reason":      "operator requested pause",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var action domain.Action
	decode(t, rec, &action)
	assert.Nil(t, action.RuleID)
	assert.Equal(t, domain.ActionApproved, action.State)

	// Still cancellable before dispatch picks it up.
	rec = a.do(t, http.MethodPost, "/api/actions/"+action.ID+"/cancel", map[string]string{
		"reason": "changed my mind",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled domain.Action
	decode(t, rec, &cancelled)
	assert.Equal(t, domain.ActionRejected, cancelled.State)
	assert.Contains(t, cancelled.Reason, "cancelled")
}

func seedPendingAction(t *testing.T, a *testAPI, campaignID string) string {
	t.Helper()
	id := "act-" + campaignID
	err := a.store.CreateAction(context.Background(), &domain.Action{
		ID:         id,
		CampaignID: campaignID,
		Type:       domain.ActionPause,
		Confidence: 0.5,
		Reason:     "sustained budget overrun",
		State:      domain.ActionPendingApproval,
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

func TestPendingDecisionFlow(t *testing.T) {
	a := setupTestAPI(t)
	campaignID := createActiveCampaign(t, a)
	actionID := seedPendingAction(t, a, campaignID)

	rec := a.do(t, http.MethodGet, "/api/actions/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		Count int `json:"count"`
	}
	decode(t, rec, &pending)
	assert.Equal(t, 1, pending.Count)

	rec = a.do(t, http.MethodPost, "/api/actions/"+actionID+"/approve", map[string]string{
		"decided_by": "alex", "reason": "confirmed",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approved domain.Action
	decode(t, rec, &approved)
	assert.Equal(t, domain.ActionApproved, approved.State)

	// Approving again maps to 409.
	rec = a.do(t, http.MethodPost, "/api/actions/"+actionID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRejectActionEmptyBody(t *testing.T) {
	a := setupTestAPI(t)
	campaignID := createActiveCampaign(t, a)
	actionID := seedPendingAction(t, a, campaignID)

	// Decision metadata is optional.
	rec := a.do(t, http.MethodPost, "/api/actions/"+actionID+"/reject", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rejected domain.Action
	decode(t, rec, &rejected)
	assert.Equal(t, domain.ActionRejected, rejected.State)
}

func TestProposeActionUnknownCampaign(t *testing.T) {
	a := setupTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/actions", map[string]interface{}{
		"campaign_id": "ghost", "type": "pause",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProposeActionArchivedCampaign(t *testing.T) {
	a := setupTestAPI(t)
	campaignID := createActiveCampaign(t, a)
	rec := a.do(t, http.MethodPut, "/api/campaigns/"+campaignID+"/status", map[string]string{"status": "archived"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/api/actions", map[string]interface{}{
		"campaign_id": campaignID, "type": "pause", "reason": "late pause",
	})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	// Nothing was created or pushed to the platform.
	rec = a.do(t, http.MethodGet, "/api/campaigns/"+campaignID+"/actions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Actions []domain.Action `json:"actions"`
	}
	decode(t, rec, &list)
	assert.Empty(t, list.Actions)
}

// =============================================================================
// FORECAST, OVERVIEW, STATS
// =============================================================================

func TestCampaignForecast(t *testing.T) {
	a := setupTestAPI(t)
	campaignID := createActiveCampaign(t, a)
	a.store.AddSnapshot(domain.MetricSnapshot{
		CampaignID: campaignID, Timestamp: time.Now().UTC(),
		Impressions: 1000, Clicks: 50, Spend: 20, Revenue: 100,
	})

	rec := a.do(t, http.MethodGet, "/api/campaigns/"+campaignID+"/forecast", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fc domain.Forecast
	decode(t, rec, &fc)
	assert.Equal(t, campaignID, fc.CampaignID)
	assert.Equal(t, 0.22, fc.PredictedACOS)
}

func TestOverviewAndStats(t *testing.T) {
	a := setupTestAPI(t)
	createActiveCampaign(t, a)

	rec := a.do(t, http.MethodGet, "/api/overview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ov engine.Overview
	decode(t, rec, &ov)
	assert.Equal(t, 1, ov.Campaigns)

	rec = a.do(t, http.MethodGet, "/api/engine/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fired_total")
}

func TestHealth(t *testing.T) {
	a := setupTestAPI(t)
	rec := a.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
