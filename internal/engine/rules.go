package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-autopilot/internal/domain"
)

// FixedConfidence is assigned to candidates from purely-metric rules, which
// carry no predictor uncertainty.
const FixedConfidence = 0.95

// Evaluator is the rule engine. On each scheduler tick it reads the
// campaign, its enabled rules, a snapshot window, and a forecast, and emits
// at most one candidate action per rule per cycle. Conflicting candidates
// are resolved before anything is handed to the approval gateway.
type Evaluator struct {
	store     Store
	metrics   MetricStore
	predictor Predictor
	gateway   *Gateway

	fetchTimeout time.Duration
}

// NewEvaluator creates the rule engine.
func NewEvaluator(store Store, metrics MetricStore, predictor Predictor, gateway *Gateway, fetchTimeout time.Duration) *Evaluator {
	if fetchTimeout <= 0 {
		fetchTimeout = 10 * time.Second
	}
	return &Evaluator{
		store:        store,
		metrics:      metrics,
		predictor:    predictor,
		gateway:      gateway,
		fetchTimeout: fetchTimeout,
	}
}

type candidate struct {
	action domain.Action
	rule   domain.Rule
}

// EvaluateCampaign runs one evaluation cycle for one campaign and returns
// the actions that were persisted (winner plus any superseded losers).
// The scheduler guarantees no two cycles run concurrently for the same
// campaign.
func (e *Evaluator) EvaluateCampaign(ctx context.Context, campaignID string) ([]domain.Action, error) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.Schedulable() {
		return nil, nil
	}
	// A campaign with any action still in flight is not re-evaluated until
	// that action resolves, so a slow approval cannot stack up candidates.
	blocked, err := e.store.HasUnresolvedActions(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, nil
	}

	rules, err := e.store.ListRules(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	enabled := rules[:0:0]
	window := domain.DefaultConsecutive
	needForecast := false
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		enabled = append(enabled, r)
		if w := r.Condition.Window(); w > window {
			window = w
		}
		if r.Condition.UsesForecast() {
			needForecast = true
		}
	}
	if len(enabled) == 0 {
		return nil, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()
	snapshots, err := e.metrics.RecentSnapshots(fetchCtx, campaignID, window)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshots for campaign %s: %w", campaignID, err)
	}

	in := EvalInput{Snapshots: snapshots}
	if needForecast {
		fcCtx, fcCancel := context.WithTimeout(ctx, e.fetchTimeout)
		forecast, ferr := e.predictor.Forecast(fcCtx, campaignID, snapshots)
		fcCancel()
		if ferr != nil {
			// Forecast-dependent rules simply don't fire this cycle.
			log.Printf("[rules] campaign=%s forecast unavailable: %v", campaignID, ferr)
		} else {
			in.Forecast = forecast
		}
	}

	now := time.Now().UTC()
	var candidates []candidate
	for _, r := range enabled {
		unresolved, err := e.store.UnresolvedActionForRule(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if unresolved != nil {
			// One candidate per rule per cycle, and never while a prior
			// action from the rule is still in flight.
			continue
		}
		if !EvalCondition(r.Condition, in) {
			continue
		}

		confidence := FixedConfidence
		if r.Condition.UsesForecast() && in.Forecast != nil {
			confidence = in.Forecast.Confidence
		}
		ruleID := r.ID
		candidates = append(candidates, candidate{
			rule: r,
			action: domain.Action{
				ID:         uuid.NewString(),
				CampaignID: campaignID,
				RuleID:     &ruleID,
				Type:       r.ActionType,
				Payload:    r.ActionPayload,
				Confidence: confidence,
				Reason:     fmt.Sprintf("rule %q fired: %s", r.Name, DescribeCondition(r.Condition, in)),
				State:      domain.ActionProposed,
				CreatedAt:  now,
			},
		})
	}

	if err := e.store.TouchCampaignEvaluated(ctx, campaignID, now); err != nil {
		log.Printf("[rules] campaign=%s touch evaluated: %v", campaignID, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	winner, losers := resolveConflicts(candidates)

	var out []domain.Action
	for _, l := range losers {
		l.action.State = domain.ActionRejected
		l.action.Reason = fmt.Sprintf("superseded by rule %q (%s): %s",
			winner.rule.Name, winner.rule.RiskTier, l.action.Reason)
		decided := now
		l.action.DecidedAt = &decided
		if err := e.store.CreateAction(ctx, &l.action); err != nil {
			return out, err
		}
		out = append(out, l.action)
	}

	if err := e.store.CreateAction(ctx, &winner.action); err != nil {
		return out, err
	}
	submitted, err := e.gateway.Submit(ctx, winner.action.ID)
	if err != nil {
		return out, err
	}
	out = append(out, *submitted)
	return out, nil
}

// resolveConflicts picks the single surviving candidate of one cycle: the
// highest risk tier wins, ties resolve to the lower rule identifier so the
// outcome is deterministic and stable across ticks.
func resolveConflicts(candidates []candidate) (candidate, []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := candidates[i].rule.RiskTier.Rank(), candidates[j].rule.RiskTier.Rank()
		if ri != rj {
			return ri > rj
		}
		return candidates[i].rule.ID < candidates[j].rule.ID
	})
	return candidates[0], candidates[1:]
}
