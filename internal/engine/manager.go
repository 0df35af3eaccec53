package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/campaign-autopilot/internal/domain"
)

// Manager owns campaign and rule CRUD and status transitions. It is the
// single source of truth the other components read and mutate through:
// the rule engine reads campaigns and rules from it, the dispatcher reports
// executed status changes back to it.
type Manager struct {
	store Store
}

// NewManager creates the campaign manager over the shared store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Create validates and persists a new campaign. New campaigns start in
// draft unless a valid initial status is supplied.
func (m *Manager) Create(ctx context.Context, c *domain.Campaign) (*domain.Campaign, error) {
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := m.store.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the campaign by id.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return m.store.GetCampaign(ctx, id)
}

// List returns campaigns matching the filter.
func (m *Manager) List(ctx context.Context, f domain.CampaignFilter) ([]domain.Campaign, error) {
	return m.store.ListCampaigns(ctx, f)
}

// UpdateStatus moves the campaign to a new status, enforcing the legal
// transition map. Archived is terminal.
func (m *Manager) UpdateStatus(ctx context.Context, id string, next domain.CampaignStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, next)
	}
	c, err := m.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == next {
		return nil
	}
	if !c.Status.CanTransition(next) {
		return fmt.Errorf("%w: campaign %s cannot move %s -> %s", ErrInvalidTransition, id, c.Status, next)
	}
	return m.store.UpdateCampaignStatus(ctx, id, next)
}

// SetSpend updates the campaign budget and bid. Archived campaigns are
// immutable.
func (m *Manager) SetSpend(ctx context.Context, id string, budget, bid float64) error {
	if budget < 0 || bid < 0 {
		return fmt.Errorf("%w: budget and bid must be >= 0", ErrValidation)
	}
	c, err := m.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.IsTerminal() {
		return fmt.Errorf("%w: campaign %s is archived", ErrInvalidTransition, id)
	}
	return m.store.UpdateCampaignSpend(ctx, id, budget, bid)
}

// AttachRule validates and persists a rule owned by the campaign.
func (m *Manager) AttachRule(ctx context.Context, campaignID string, r *domain.Rule) (*domain.Rule, error) {
	c, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.IsTerminal() {
		return nil, fmt.Errorf("%w: campaign %s is archived", ErrInvalidTransition, campaignID)
	}
	r.CampaignID = campaignID
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := m.store.CreateRule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRule returns the rule by id.
func (m *Manager) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	return m.store.GetRule(ctx, id)
}

// ListRules returns the campaign's rules ordered by id.
func (m *Manager) ListRules(ctx context.Context, campaignID string) ([]domain.Rule, error) {
	return m.store.ListRules(ctx, campaignID)
}

// UpdateRule validates and persists changes to an existing rule.
func (m *Manager) UpdateRule(ctx context.Context, r *domain.Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	r.UpdatedAt = time.Now().UTC()
	return m.store.UpdateRule(ctx, r)
}

// DeleteRule removes a rule.
func (m *Manager) DeleteRule(ctx context.Context, id string) error {
	return m.store.DeleteRule(ctx, id)
}

// SeedDefaultRules attaches the conservative starter rule set to a campaign
// that has none: pause on sustained high ACOS.
func (m *Manager) SeedDefaultRules(ctx context.Context, campaignID string) error {
	existing, err := m.store.ListRules(ctx, campaignID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	_, err = m.AttachRule(ctx, campaignID, &domain.Rule{
		Name: "High ACOS guard",
		Condition: domain.Condition{
			Kind:        domain.CondWindow,
			Metric:      domain.MetricACOS,
			Op:          domain.OpGT,
			Threshold:   0.35,
			Consecutive: 3,
		},
		ActionType: domain.ActionPause,
		RiskTier:   domain.RiskMedium,
		Enabled:    true,
	})
	return err
}
