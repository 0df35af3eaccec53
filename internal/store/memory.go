// Package store provides the shared-state implementations behind the
// engine.Store interface: an in-memory store for tests and single-node
// development, and a Postgres store for real deployments.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/engine"
)

// Memory is the in-memory store. It also implements engine.MetricStore so
// tests and dev mode can seed snapshots without an external metric service.
type Memory struct {
	mu sync.RWMutex

	campaigns  map[string]*domain.Campaign
	rules      map[string]*domain.Rule
	actions    map[string]*domain.Action
	approvals  map[string]*domain.ApprovalRecord
	executions map[string]*domain.ExecutionRecord
	// snapshots per campaign, oldest first.
	snapshots map[string][]domain.MetricSnapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		campaigns:  make(map[string]*domain.Campaign),
		rules:      make(map[string]*domain.Rule),
		actions:    make(map[string]*domain.Action),
		approvals:  make(map[string]*domain.ApprovalRecord),
		executions: make(map[string]*domain.ExecutionRecord),
		snapshots:  make(map[string][]domain.MetricSnapshot),
	}
}

// Healthy always succeeds for the in-memory store.
func (m *Memory) Healthy(ctx context.Context) error { return nil }

// --- Campaigns ---

func (m *Memory) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[c.ID]; ok {
		return fmt.Errorf("campaign %s already exists", c.ID)
	}
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *Memory) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s", engine.ErrNotFound, id)
	}
	cp := *c
	cp.RuleIDs = m.ruleIDsLocked(id)
	return &cp, nil
}

func (m *Memory) ListCampaigns(_ context.Context, f domain.CampaignFilter) ([]domain.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Name != "" && c.Name != f.Name {
			continue
		}
		cp := *c
		cp.RuleIDs = m.ruleIDsLocked(c.ID)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateCampaignStatus(_ context.Context, id string, status domain.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return fmt.Errorf("%w: campaign %s", engine.ErrNotFound, id)
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) UpdateCampaignSpend(_ context.Context, id string, budget, bid float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return fmt.Errorf("%w: campaign %s", engine.ErrNotFound, id)
	}
	c.Budget = budget
	c.BidAmount = bid
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) TouchCampaignEvaluated(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return fmt.Errorf("%w: campaign %s", engine.ErrNotFound, id)
	}
	c.LastEvaluatedAt = &at
	return nil
}

func (m *Memory) ruleIDsLocked(campaignID string) []string {
	var ids []string
	for _, r := range m.rules {
		if r.CampaignID == campaignID {
			ids = append(ids, r.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// --- Rules ---

func (m *Memory) CreateRule(_ context.Context, r *domain.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.ID]; ok {
		return fmt.Errorf("rule %s already exists", r.ID)
	}
	cp := *r
	m.rules[r.ID] = &cp
	return nil
}

func (m *Memory) GetRule(_ context.Context, id string) (*domain.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: rule %s", engine.ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) ListRules(_ context.Context, campaignID string) ([]domain.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Rule
	for _, r := range m.rules {
		if r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateRule(_ context.Context, r *domain.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.ID]; !ok {
		return fmt.Errorf("%w: rule %s", engine.ErrNotFound, r.ID)
	}
	cp := *r
	m.rules[r.ID] = &cp
	return nil
}

func (m *Memory) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return fmt.Errorf("%w: rule %s", engine.ErrNotFound, id)
	}
	delete(m.rules, id)
	return nil
}

// --- Actions ---

func (m *Memory) CreateAction(_ context.Context, a *domain.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[a.ID]; ok {
		return fmt.Errorf("action %s already exists", a.ID)
	}
	cp := *a
	m.actions[a.ID] = &cp
	return nil
}

func (m *Memory) GetAction(_ context.Context, id string) (*domain.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, fmt.Errorf("%w: action %s", engine.ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) ListActionsByState(_ context.Context, state domain.ActionState) ([]domain.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Action
	for _, a := range m.actions {
		if a.State == state {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListCampaignActions(_ context.Context, campaignID string, limit int) ([]domain.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Action
	for _, a := range m.actions {
		if a.CampaignID == campaignID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateActionState(_ context.Context, id string, state domain.ActionState, reason string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return fmt.Errorf("%w: action %s", engine.ErrNotFound, id)
	}
	if !a.State.CanTransition(state) {
		return fmt.Errorf("%w: action %s cannot move %s -> %s", engine.ErrInvalidTransition, id, a.State, state)
	}
	a.State = state
	if reason != "" {
		a.Reason = reason
	}
	switch state {
	case domain.ActionApproved, domain.ActionRejected:
		t := at
		a.DecidedAt = &t
	case domain.ActionExecuted, domain.ActionFailed:
		t := at
		a.ExecutedAt = &t
	}
	return nil
}

func (m *Memory) UnresolvedActionForRule(_ context.Context, ruleID string) (*domain.Action, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.actions {
		if a.RuleID != nil && *a.RuleID == ruleID && !a.State.Terminal() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) HasUnresolvedActions(_ context.Context, campaignID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.actions {
		if a.CampaignID == campaignID && !a.State.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) LastExecutedAt(_ context.Context, campaignID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *time.Time
	for _, a := range m.actions {
		if a.CampaignID != campaignID || a.State != domain.ActionExecuted || a.ExecutedAt == nil {
			continue
		}
		if last == nil || a.ExecutedAt.After(*last) {
			t := *a.ExecutedAt
			last = &t
		}
	}
	return last, nil
}

// --- Approvals ---

func (m *Memory) CreateApproval(_ context.Context, rec *domain.ApprovalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.approvals[rec.ActionID]; ok {
		return fmt.Errorf("approval for action %s already recorded", rec.ActionID)
	}
	cp := *rec
	m.approvals[rec.ActionID] = &cp
	return nil
}

func (m *Memory) GetApproval(_ context.Context, actionID string) (*domain.ApprovalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.approvals[actionID]
	if !ok {
		return nil, fmt.Errorf("%w: approval for action %s", engine.ErrNotFound, actionID)
	}
	cp := *rec
	return &cp, nil
}

// --- Execution records ---

func (m *Memory) PutExecutionRecord(_ context.Context, rec *domain.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.executions[rec.ActionID] = &cp
	return nil
}

func (m *Memory) GetExecutionRecord(_ context.Context, actionID string) (*domain.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.executions[actionID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// --- Snapshots (engine.MetricStore) ---

// AddSnapshot appends an immutable snapshot for the campaign. Snapshots
// must be appended in timestamp order.
func (m *Memory) AddSnapshot(s domain.MetricSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.CampaignID] = append(m.snapshots[s.CampaignID], s)
}

// RecentSnapshots returns up to count snapshots, most-recent-first.
func (m *Memory) RecentSnapshots(_ context.Context, campaignID string, count int) ([]domain.MetricSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.snapshots[campaignID]
	if count > len(all) {
		count = len(all)
	}
	out := make([]domain.MetricSnapshot, 0, count)
	for i := len(all) - 1; i >= len(all)-count; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

var _ engine.Store = (*Memory)(nil)
var _ engine.MetricStore = (*Memory)(nil)
