package engine_test

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/engine"
	"github.com/ignite/campaign-autopilot/internal/pkg/keylock"
	"github.com/ignite/campaign-autopilot/internal/store"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

// stubPredictor returns a canned forecast.
type stubPredictor struct {
	fc  *domain.Forecast
	err error
}

func (p *stubPredictor) Forecast(_ context.Context, campaignID string, _ []domain.MetricSnapshot) (*domain.Forecast, error) {
	if p.err != nil {
		return nil, p.err
	}
	fc := *p.fc
	fc.CampaignID = campaignID
	return &fc, nil
}

// stubPlatform scripts the outcome of successive Apply calls. Calls beyond
// the script succeed.
type stubPlatform struct {
	script []error
	calls  int
}

func (p *stubPlatform) Apply(_ context.Context, _ string, _ domain.ActionType, _ domain.ActionPayload) error {
	defer func() { p.calls++ }()
	if p.calls < len(p.script) {
		return p.script[p.calls]
	}
	return nil
}

// env wires a full engine over the in-memory store.
type env struct {
	store      *store.Memory
	locks      *keylock.Keyed
	manager    *engine.Manager
	gateway    *engine.Gateway
	evaluator  *engine.Evaluator
	dispatcher *engine.Dispatcher
	predictor  *stubPredictor
	platform   *stubPlatform
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := store.NewMemory()
	locks := keylock.NewKeyed()
	manager := engine.NewManager(mem)
	gateway := engine.NewGateway(mem, locks)
	predictor := &stubPredictor{fc: &domain.Forecast{PredictedACOS: 0.2, Confidence: 0.95}}
	platform := &stubPlatform{}
	return &env{
		store:      mem,
		locks:      locks,
		manager:    manager,
		gateway:    gateway,
		evaluator:  engine.NewEvaluator(mem, mem, predictor, gateway, time.Second),
		dispatcher: engine.NewDispatcher(mem, platform, manager, 3, time.Second).WithBackoff(time.Millisecond, 5*time.Millisecond),
		predictor:  predictor,
		platform:   platform,
	}
}

// activeCampaign creates an active campaign.
func (e *env) activeCampaign(t *testing.T, name string) *domain.Campaign {
	t.Helper()
	c, err := e.manager.Create(context.Background(), &domain.Campaign{
		Name:      name,
		Budget:    100,
		BidAmount: 1.50,
		Status:    domain.CampaignActive,
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c
}

// acosRule attaches a 3-consecutive high-ACOS pause rule.
func (e *env) acosRule(t *testing.T, campaignID string, tier domain.RiskTier) *domain.Rule {
	t.Helper()
	r, err := e.manager.AttachRule(context.Background(), campaignID, &domain.Rule{
		Name: "high acos pause",
		Condition: domain.Condition{
			Kind:        domain.CondWindow,
			Metric:      domain.MetricACOS,
			Op:          domain.OpGT,
			Threshold:   0.35,
			Consecutive: 3,
		},
		ActionType: domain.ActionPause,
		RiskTier:   tier,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("attach rule: %v", err)
	}
	return r
}

// seedACOS appends snapshots with the given ACOS values, oldest first.
func (e *env) seedACOS(campaignID string, acos ...float64) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, a := range acos {
		s := domain.MetricSnapshot{
			CampaignID:  campaignID,
			Timestamp:   ts.Add(time.Duration(i) * 5 * time.Minute),
			Impressions: 1000,
			Clicks:      50,
		}
		if math.IsInf(a, 1) {
			s.Spend = 40
		} else {
			s.Revenue = 100
			s.Spend = a * 100
		}
		e.store.AddSnapshot(s)
	}
}

func (e *env) action(t *testing.T, id string) *domain.Action {
	t.Helper()
	a, err := e.store.GetAction(context.Background(), id)
	if err != nil {
		t.Fatalf("get action %s: %v", id, err)
	}
	return a
}

// unavailable builds a transient platform error.
func unavailable(msg string) error {
	return fmt.Errorf("%w: %s", engine.ErrUnavailable, msg)
}
