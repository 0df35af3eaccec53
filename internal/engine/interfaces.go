package engine

import (
	"context"
	"time"

	"github.com/ignite/campaign-autopilot/internal/domain"
)

// Store is the single shared mutable state of the engine. Every component
// reads and mutates campaigns, rules, and actions through it instead of
// holding private copies; the per-campaign lock in the scheduler is the only
// other concurrency primitive.
//
// Implementations: store.Memory (tests, dev) and store.Postgres.
type Store interface {
	CampaignStore
	RuleStore
	ActionStore

	// Healthy reports whether the backing store is reachable. The scheduler
	// halts all evaluation while the store is down.
	Healthy(ctx context.Context) error
}

// CampaignStore persists campaigns.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, f domain.CampaignFilter) ([]domain.Campaign, error)
	// UpdateCampaignStatus writes the new status. Transition legality is the
	// campaign manager's job; the store only persists.
	UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error
	UpdateCampaignSpend(ctx context.Context, id string, budget, bid float64) error
	TouchCampaignEvaluated(ctx context.Context, id string, at time.Time) error
}

// RuleStore persists automation rules.
type RuleStore interface {
	CreateRule(ctx context.Context, r *domain.Rule) error
	GetRule(ctx context.Context, id string) (*domain.Rule, error)
	ListRules(ctx context.Context, campaignID string) ([]domain.Rule, error)
	UpdateRule(ctx context.Context, r *domain.Rule) error
	DeleteRule(ctx context.Context, id string) error
}

// ActionStore persists actions, approval records, and execution records.
type ActionStore interface {
	CreateAction(ctx context.Context, a *domain.Action) error
	GetAction(ctx context.Context, id string) (*domain.Action, error)
	ListActionsByState(ctx context.Context, state domain.ActionState) ([]domain.Action, error)
	ListCampaignActions(ctx context.Context, campaignID string, limit int) ([]domain.Action, error)
	// UpdateActionState persists a state change plus its timestamp and an
	// optional replacement reason (empty keeps the existing one).
	UpdateActionState(ctx context.Context, id string, state domain.ActionState, reason string, at time.Time) error

	// UnresolvedActionForRule returns the non-terminal action originated by
	// the rule, or (nil, nil) when the rule has no action in flight.
	UnresolvedActionForRule(ctx context.Context, ruleID string) (*domain.Action, error)
	// HasUnresolvedActions reports whether the campaign has any action in a
	// non-terminal state. Evaluation is blocked while one exists.
	HasUnresolvedActions(ctx context.Context, campaignID string) (bool, error)
	// LastExecutedAt returns the executed timestamp of the campaign's most
	// recently executed action, or nil when none has executed yet.
	LastExecutedAt(ctx context.Context, campaignID string) (*time.Time, error)

	CreateApproval(ctx context.Context, rec *domain.ApprovalRecord) error
	GetApproval(ctx context.Context, actionID string) (*domain.ApprovalRecord, error)

	PutExecutionRecord(ctx context.Context, rec *domain.ExecutionRecord) error
	// GetExecutionRecord returns (nil, nil) when no record exists yet.
	GetExecutionRecord(ctx context.Context, actionID string) (*domain.ExecutionRecord, error)
}

// MetricStore supplies time-series performance snapshots per campaign.
// External collaborator; transport errors surface as ErrUnavailable.
type MetricStore interface {
	// RecentSnapshots returns up to count snapshots, most-recent-first.
	RecentSnapshots(ctx context.Context, campaignID string, count int) ([]domain.MetricSnapshot, error)
}

// Predictor returns a forecast plus a confidence score for a campaign given
// its recent snapshots. External collaborator (the ACOS model is not ours).
type Predictor interface {
	Forecast(ctx context.Context, campaignID string, snapshots []domain.MetricSnapshot) (*domain.Forecast, error)
}

// Platform applies an approved action to the external ad platform.
// Transport errors and timeouts surface as ErrUnavailable so the dispatcher
// retries them; anything else is permanent.
type Platform interface {
	Apply(ctx context.Context, campaignID string, actionType domain.ActionType, payload domain.ActionPayload) error
}
