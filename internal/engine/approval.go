package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/pkg/keylock"
)

// AutoExecuteConfidence is the minimum confidence at which a medium-risk
// action skips human approval.
const AutoExecuteConfidence = 0.9

// Classify decides whether an action auto-executes or waits for a human.
// It is deterministic: the same (risk tier, confidence) pair always yields
// the same outcome. High risk always waits; medium risk waits unless the
// confidence clears AutoExecuteConfidence; low risk auto-executes.
func Classify(tier domain.RiskTier, confidence float64) domain.ActionState {
	switch tier {
	case domain.RiskHigh:
		return domain.ActionPendingApproval
	case domain.RiskMedium:
		if confidence >= AutoExecuteConfidence {
			return domain.ActionApproved
		}
		return domain.ActionPendingApproval
	default:
		return domain.ActionApproved
	}
}

// Gateway is the approval gate between candidate generation and execution.
// It classifies proposed actions, exposes the pending queue, and records
// human decisions. Decisions take the per-campaign lock so they serialize
// with evaluation and execution for the same campaign.
type Gateway struct {
	store Store
	locks keylock.Lock
}

// NewGateway creates the approval gateway.
func NewGateway(store Store, locks keylock.Lock) *Gateway {
	return &Gateway{store: store, locks: locks}
}

// Submit classifies a freshly-proposed action and persists the resulting
// state: pending_approval for the human queue, approved for auto-execution.
func (g *Gateway) Submit(ctx context.Context, actionID string) (*domain.Action, error) {
	a, err := g.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if a.State != domain.ActionProposed {
		return nil, fmt.Errorf("%w: action %s is %s, not proposed", ErrInvalidTransition, actionID, a.State)
	}

	tier := g.riskTier(ctx, a)
	next := Classify(tier, a.Confidence)
	now := time.Now().UTC()
	if err := g.store.UpdateActionState(ctx, actionID, next, "", now); err != nil {
		return nil, err
	}
	a.State = next
	if next == domain.ActionApproved {
		a.DecidedAt = &now
		log.Printf("[approval] action=%s campaign=%s auto-approved (tier=%s confidence=%.2f)",
			a.ID, a.CampaignID, tier, a.Confidence)
	} else {
		log.Printf("[approval] action=%s campaign=%s queued for approval (tier=%s confidence=%.2f)",
			a.ID, a.CampaignID, tier, a.Confidence)
	}
	return a, nil
}

// riskTier resolves the action's risk tier from its originating rule.
// Manual actions have no rule and are treated as medium risk so low
// confidence still routes them past a human.
func (g *Gateway) riskTier(ctx context.Context, a *domain.Action) domain.RiskTier {
	if a.RuleID == nil {
		return domain.RiskMedium
	}
	r, err := g.store.GetRule(ctx, *a.RuleID)
	if err != nil {
		log.Printf("[approval] action=%s rule %s lookup failed, defaulting to high risk: %v", a.ID, *a.RuleID, err)
		return domain.RiskHigh
	}
	return r.RiskTier
}

// Pending returns the actions currently waiting on a human decision.
func (g *Gateway) Pending(ctx context.Context) ([]domain.Action, error) {
	return g.store.ListActionsByState(ctx, domain.ActionPendingApproval)
}

// Decide records a human decision on a pending action. Returns ErrNotFound
// for an unknown id and ErrNotPending when the action is not currently
// pending_approval. A rejected action is terminal and never retried
// automatically.
func (g *Gateway) Decide(ctx context.Context, actionID string, decision domain.ApprovalDecision, reason, decidedBy string) (*domain.Action, error) {
	if decision != domain.DecisionApproved && decision != domain.DecisionRejected {
		return nil, fmt.Errorf("%w: unknown decision %q", ErrValidation, decision)
	}

	a, err := g.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}

	release, err := g.locks.Acquire(ctx, a.CampaignID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock; the state may have moved.
	a, err = g.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if a.State != domain.ActionPendingApproval {
		return nil, fmt.Errorf("%w: action %s is %s", ErrNotPending, actionID, a.State)
	}

	now := time.Now().UTC()
	next := domain.ActionApproved
	if decision == domain.DecisionRejected {
		next = domain.ActionRejected
	}
	if err := g.store.UpdateActionState(ctx, actionID, next, "", now); err != nil {
		return nil, err
	}
	rec := &domain.ApprovalRecord{
		ActionID:  actionID,
		Decision:  decision,
		Reason:    reason,
		DecidedBy: decidedBy,
		DecidedAt: now,
	}
	if err := g.store.CreateApproval(ctx, rec); err != nil {
		return nil, err
	}

	a.State = next
	a.DecidedAt = &now
	log.Printf("[approval] action=%s campaign=%s %s by %s", a.ID, a.CampaignID, decision, decidedBy)
	return a, nil
}

// Cancel withdraws an approved action before dispatch fires. Once execution
// has started (an execution record exists) cancellation is refused; the
// operator must issue a compensating action instead.
func (g *Gateway) Cancel(ctx context.Context, actionID, reason, decidedBy string) (*domain.Action, error) {
	a, err := g.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}

	release, err := g.locks.Acquire(ctx, a.CampaignID)
	if err != nil {
		return nil, err
	}
	defer release()

	a, err = g.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if a.State != domain.ActionApproved {
		return nil, fmt.Errorf("%w: action %s is %s, only approved actions can be cancelled", ErrInvalidTransition, actionID, a.State)
	}
	if rec, err := g.store.GetExecutionRecord(ctx, actionID); err == nil && rec != nil {
		return nil, fmt.Errorf("%w: action %s already started executing", ErrInvalidTransition, actionID)
	}

	now := time.Now().UTC()
	cancelReason := "cancelled"
	if reason != "" {
		cancelReason = "cancelled: " + reason
	}

	// A human-approved action already carries its one approval record from
	// Decide; the cancellation then lives in the action's reason trail. Only
	// auto-approved actions get a record written here, and it goes in before
	// the state moves so a failed write leaves the action approved.
	existing, err := g.store.GetApproval(ctx, actionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing == nil {
		if err := g.store.CreateApproval(ctx, &domain.ApprovalRecord{
			ActionID:  actionID,
			Decision:  domain.DecisionRejected,
			Reason:    cancelReason,
			DecidedBy: decidedBy,
			DecidedAt: now,
		}); err != nil {
			return nil, err
		}
	}
	if err := g.store.UpdateActionState(ctx, actionID, domain.ActionRejected, cancelReason, now); err != nil {
		return nil, err
	}

	a.State = domain.ActionRejected
	a.Reason = cancelReason
	a.DecidedAt = &now
	return a, nil
}
