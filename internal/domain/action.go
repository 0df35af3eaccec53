package domain

import (
	"fmt"
	"time"
)

// ActionType enumerates the state changes the engine can apply to a campaign.
type ActionType string

const (
	ActionActivate     ActionType = "activate"
	ActionPause        ActionType = "pause"
	ActionAdjustBid    ActionType = "adjust_bid"
	ActionAdjustBudget ActionType = "adjust_budget"
)

// Valid reports whether the action type is a known enum value.
func (t ActionType) Valid() bool {
	switch t {
	case ActionActivate, ActionPause, ActionAdjustBid, ActionAdjustBudget:
		return true
	}
	return false
}

// ActionState enumerates the lifecycle of an action. Transitions are
// monotonic: no state is ever revisited.
type ActionState string

const (
	ActionProposed        ActionState = "proposed"
	ActionPendingApproval ActionState = "pending_approval"
	ActionApproved        ActionState = "approved"
	ActionRejected        ActionState = "rejected"
	ActionExecuted        ActionState = "executed"
	ActionFailed          ActionState = "failed"
)

// actionEdges is the legal action state machine. proposed splits at
// classification, pending_approval at the human decision, approved at
// dispatch (or cancellation, which lands on rejected).
var actionEdges = map[ActionState][]ActionState{
	ActionProposed:        {ActionPendingApproval, ActionApproved, ActionRejected},
	ActionPendingApproval: {ActionApproved, ActionRejected},
	ActionApproved:        {ActionExecuted, ActionFailed, ActionRejected},
	ActionRejected:        {},
	ActionExecuted:        {},
	ActionFailed:          {},
}

// CanTransition reports whether moving from the current state to next is a
// legal edge of the action state machine.
func (s ActionState) CanTransition(next ActionState) bool {
	for _, t := range actionEdges[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal returns true if the action will never change state again.
func (s ActionState) Terminal() bool {
	return len(actionEdges[s]) == 0 && s != ""
}

// ActionPayload carries the type-specific parameters of an action.
type ActionPayload struct {
	BidAmount    float64 `json:"bid_amount,omitempty"`
	BudgetAmount float64 `json:"budget_amount,omitempty"`
	Note         string  `json:"note,omitempty"`
}

// Action is one proposed state change for a campaign, produced by a rule
// (or manually) and carried through classification, approval, and execution.
type Action struct {
	ID         string      `json:"id" db:"id"`
	CampaignID string      `json:"campaign_id" db:"campaign_id"`
	// RuleID is nil for manual actions submitted through the operator surface.
	RuleID     *string       `json:"rule_id,omitempty" db:"rule_id"`
	Type       ActionType    `json:"type" db:"type"`
	Payload    ActionPayload `json:"payload"`
	Confidence float64       `json:"confidence" db:"confidence"`
	// Reason is the human-readable derivation trace: which rule fired, on
	// what values, or why the action was discarded or failed.
	Reason string      `json:"reason" db:"reason"`
	State  ActionState `json:"state" db:"state"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty" db:"decided_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty" db:"executed_at"`
}

// Resolved returns true once the action no longer blocks its rule from
// firing again: terminal states only. proposed, pending_approval, and
// approved-but-not-executed all count as unresolved.
func (a *Action) Resolved() bool {
	return a.State.Terminal()
}

// Validate checks the action fields before persistence.
func (a *Action) Validate() error {
	if a.CampaignID == "" {
		return fmt.Errorf("action campaign_id is required")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %.3f", a.Confidence)
	}
	switch a.Type {
	case ActionAdjustBid:
		if a.Payload.BidAmount <= 0 {
			return fmt.Errorf("adjust_bid requires a positive bid_amount")
		}
	case ActionAdjustBudget:
		if a.Payload.BudgetAmount <= 0 {
			return fmt.Errorf("adjust_budget requires a positive budget_amount")
		}
	}
	return nil
}

// ApprovalDecision is a human verdict on a pending action.
type ApprovalDecision string

const (
	DecisionApproved ApprovalDecision = "approved"
	DecisionRejected ApprovalDecision = "rejected"
)

// ApprovalRecord is the immutable record of one human decision on one
// action. At most one record exists per action.
type ApprovalRecord struct {
	ActionID  string           `json:"action_id" db:"action_id"`
	Decision  ApprovalDecision `json:"decision" db:"decision"`
	Reason    string           `json:"reason,omitempty" db:"reason"`
	DecidedBy string           `json:"decided_by" db:"decided_by"`
	DecidedAt time.Time        `json:"decided_at" db:"decided_at"`
}

// ExecutionOutcome enumerates the recorded result of a dispatch attempt.
type ExecutionOutcome string

const (
	OutcomeInFlight ExecutionOutcome = "in_flight"
	OutcomeSuccess  ExecutionOutcome = "success"
	OutcomeFailure  ExecutionOutcome = "failure"
)

// ExecutionRecord is the idempotency bookkeeping for one action. Written
// before the external call and updated after, so a crash-and-retry can see
// whether the action already went out.
type ExecutionRecord struct {
	ActionID   string           `json:"action_id" db:"action_id"`
	Outcome    ExecutionOutcome `json:"outcome" db:"outcome"`
	Attempts   int              `json:"attempts" db:"attempts"`
	Error      string           `json:"error,omitempty" db:"error"`
	StartedAt  time.Time        `json:"started_at" db:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty" db:"finished_at"`
}
