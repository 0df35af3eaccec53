package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/engine"
)

// =============================================================================
// RULE ENGINE EVALUATION
// =============================================================================

func TestEvaluator_SustainedHighACOSAutoApproves(t *testing.T) {
	e := newEnv(t)
	c := e.activeCampaign(t, "summer-sale")
	r := e.acosRule(t, c.ID, domain.RiskMedium)
	e.seedACOS(c.ID, 0.40, 0.45, 0.50)

	actions, err := e.evaluator.EvaluateCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("EvaluateCampaign() error: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(actions))
	}

	a := actions[0]
	if a.Type != domain.ActionPause {
		t.Errorf("action type = %s, want pause", a.Type)
	}
	// Metric rules carry the fixed confidence, which clears the medium-risk
	// auto-execute bar.
	if a.Confidence != engine.FixedConfidence {
		t.Errorf("confidence = %.2f, want %.2f", a.Confidence, engine.FixedConfidence)
	}
	if a.State != domain.ActionApproved {
		t.Errorf("state = %s, want approved", a.State)
	}
	if a.RuleID == nil || *a.RuleID != r.ID {
		t.Error("action must reference its originating rule")
	}
	if !strings.Contains(a.Reason, "high acos pause") {
		t.Errorf("reason %q should name the rule", a.Reason)
	}
	if !strings.Contains(a.Reason, "consecutive") {
		t.Errorf("reason %q should describe the window", a.Reason)
	}
}

func TestEvaluator_HighRiskGoesToPendingApproval(t *testing.T) {
	e := newEnv(t)
	c := e.activeCampaign(t, "brand-defense")
	e.acosRule(t, c.ID, domain.RiskHigh)
	e.seedACOS(c.ID, 0.40, 0.45, 0.50)

	actions, err := e.evaluator.EvaluateCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("EvaluateCampaign() error: %v", err)
	}
	if len(actions) != 1 || actions[0].State != domain.ActionPendingApproval {
		t.Fatalf("high risk action should be pending_approval, got %+v", actions)
	}
}

func TestEvaluator_LowForecastConfidenceRequiresApproval(t *testing.T) {
	e := newEnv(t)
	c := e.activeCampaign(t, "forecast-guard")
	e.predictor.fc = &domain.Forecast{PredictedACOS: 0.60, Confidence: 0.70}

	_, err := e.manager.AttachRule(context.Background(), c.ID, &domain.Rule{
		Name: "predicted acos breach",
		Condition: domain.Condition{
			Kind:      domain.CondThreshold,
			Metric:    domain.MetricPredictedACOS,
			Op:        domain.OpGT,
			Threshold: 0.40,
		},
		ActionType: domain.ActionPause,
		RiskTier:   domain.RiskMedium,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("attach rule: %v", err)
	}
	e.seedACOS(c.ID, 0.20, 0.20, 0.20)

	actions, err := e.evaluator.EvaluateCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("EvaluateCampaign() error: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(actions))
	}
	// Forecast rules inherit the model confidence, 0.70 < 0.9 so a human
	// must sign off even at medium risk.
	if actions[0].Confidence != 0.70 {
		t.Errorf("confidence = %.2f, want 0.70", actions[0].Confidence)
	}
	if actions[0].State != domain.ActionPendingApproval {
		t.Errorf("state = %s, want pending_approval", actions[0].State)
	}
}

func TestEvaluator_NoDuplicateWhileUnresolved(t *testing.T) {
	e := newEnv(t)
	c := e.activeCampaign(t, "summer-sale")
	e.acosRule(t, c.ID, domain.RiskHigh)
	e.seedACOS(c.ID, 0.40, 0.45, 0.50)

	first, err := e.evaluator.EvaluateCampaign(context.Background(), c.ID)
	if err != nil || len(first) != 1 {
		t.Fatalf("first cycle: actions=%v err=%v", first, err)
	}

	// Condition still true, but the pending action blocks the campaign.
	second, err := e.evaluator.EvaluateCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("second cycle error: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second cycle produced %d actions, want 0", len(second))
	}
}

func TestEvaluator_DisabledRuleNeverFires(t *testing.T) {
	e := newEnv(t)
	c := e.activeCampaign(t, "summer-sale")
	r := e.acosRule(t, c.ID, domain.RiskMedium)
	r.Enabled = false
	if err := e.manager.UpdateRule(context.Background(), r); err != nil {
		t.Fatalf("disable rule: %v", err)
	}
	e.seedACOS(c.ID, 0.40, 0.45, 0.50)

	actions, err := e.evaluator.EvaluateCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("EvaluateCampaign() error: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("disabled rule fired: %+v", actions)
	}
}

func TestEvaluator_SkipsNonActiveCampaigns(t *testing.T) {
	e := newEnv(t)
	c := e.activeCampaign(t, "summer-sale")
	e.acosRule(t, c.ID, domain.RiskMedium)
	e.seedACOS(c.ID, 0.40, 0.45, 0.50)
	if err := e.manager.UpdateStatus(context.Background(), c.ID, domain.CampaignPaused); err != nil {
		t.Fatalf("pause campaign: %v", err)
	}

	actions, err := e.evaluator.EvaluateCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("EvaluateCampaign() error: %v", err)
	}
	if len(actions) != 0 {
		t.Fatal("paused campaign must not be evaluated")
	}
}

func TestEvaluator_ConflictResolvedByRiskTier(t *testing.T) {
	e := newEnv(t)
	c := e.activeCampaign(t, "summer-sale")
	e.acosRule(t, c.ID, domain.RiskMedium)

	// A second rule on the same readings at high risk. It must win the cycle.
	_, err := e.manager.AttachRule(context.Background(), c.ID, &domain.Rule{
		Name: "emergency stop",
		Condition: domain.Condition{
			Kind:      domain.CondThreshold,
			Metric:    domain.MetricACOS,
			Op:        domain.OpGT,
			Threshold: 0.35,
		},
		ActionType: domain.ActionPause,
		RiskTier:   domain.RiskHigh,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("attach rule: %v", err)
	}
	e.seedACOS(c.ID, 0.40, 0.45, 0.50)

	actions, err := e.evaluator.EvaluateCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("EvaluateCampaign() error: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want winner plus superseded loser", len(actions))
	}

	var winner, loser *domain.Action
	for i := range actions {
		if actions[i].State == domain.ActionRejected {
			loser = &actions[i]
		} else {
			winner = &actions[i]
		}
	}
	if winner == nil || loser == nil {
		t.Fatalf("expected one winner and one rejected loser, got %+v", actions)
	}
	if winner.State != domain.ActionPendingApproval {
		t.Errorf("winner state = %s, want pending_approval (high risk)", winner.State)
	}
	if !strings.Contains(loser.Reason, `superseded by rule "emergency stop"`) {
		t.Errorf("loser reason %q should name the winning rule", loser.Reason)
	}
}

func TestEvaluator_PredictorOutageDoesNotBlockMetricRules(t *testing.T) {
	e := newEnv(t)
	c := e.activeCampaign(t, "summer-sale")
	e.acosRule(t, c.ID, domain.RiskMedium)
	e.predictor.err = unavailable("predictor down")
	e.seedACOS(c.ID, 0.40, 0.45, 0.50)
	actions, err := e.evaluator.EvaluateCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("EvaluateCampaign() error: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("metric rule should fire despite predictor outage, got %d actions", len(actions))
	}
}

func TestEvaluator_ForecastOutageSilencesForecastRules(t *testing.T) {
	e := newEnv(t)
	c := e.activeCampaign(t, "forecast-only")
	e.predictor.err = unavailable("predictor down")

	_, err := e.manager.AttachRule(context.Background(), c.ID, &domain.Rule{
		Name: "predicted acos breach",
		Condition: domain.Condition{
			Kind:      domain.CondThreshold,
			Metric:    domain.MetricPredictedACOS,
			Op:        domain.OpGT,
			Threshold: 0.01,
		},
		ActionType: domain.ActionPause,
		RiskTier:   domain.RiskLow,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("attach rule: %v", err)
	}
	e.seedACOS(c.ID, 0.90, 0.90, 0.90)

	actions, err := e.evaluator.EvaluateCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("EvaluateCampaign() error: %v", err)
	}
	if len(actions) != 0 {
		t.Fatal("forecast rule must not fire while the predictor is down")
	}
}

func TestEvaluator_TouchesLastEvaluated(t *testing.T) {
	e := newEnv(t)
	c := e.activeCampaign(t, "summer-sale")
	e.acosRule(t, c.ID, domain.RiskMedium)
	e.seedACOS(c.ID, 0.10, 0.10, 0.10)

	if _, err := e.evaluator.EvaluateCampaign(context.Background(), c.ID); err != nil {
		t.Fatalf("EvaluateCampaign() error: %v", err)
	}

	got, err := e.manager.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	if got.LastEvaluatedAt == nil {
		t.Error("evaluation must stamp last_evaluated_at even when nothing fires")
	}
}

func TestEvaluator_UnknownCampaign(t *testing.T) {
	e := newEnv(t)
	_, err := e.evaluator.EvaluateCampaign(context.Background(), "nope")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
