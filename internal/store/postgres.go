package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/engine"
)

// Postgres implements engine.Store over database/sql. Conditions, payloads,
// and rule metadata serialize to JSONB columns; everything else is plain
// relational.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates the Postgres store over an open connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Healthy pings the database. The scheduler halts while this fails.
func (p *Postgres) Healthy(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %v", engine.ErrUnavailable, err)
	}
	return nil
}

// --- Campaigns ---

func (p *Postgres) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO autopilot_campaigns
		(id, name, budget, bid_amount, status, cooldown_seconds, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.Name, c.Budget, c.BidAmount, c.Status, c.CooldownSeconds, c.CreatedAt, c.UpdatedAt)
	return err
}

func (p *Postgres) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, budget, bid_amount, status, cooldown_seconds,
		last_evaluated_at, created_at, updated_at
		FROM autopilot_campaigns WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Budget, &c.BidAmount, &c.Status, &c.CooldownSeconds,
		&c.LastEvaluatedAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: campaign %s", engine.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM autopilot_rules WHERE campaign_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			return nil, err
		}
		c.RuleIDs = append(c.RuleIDs, rid)
	}
	return &c, rows.Err()
}

func (p *Postgres) ListCampaigns(ctx context.Context, f domain.CampaignFilter) ([]domain.Campaign, error) {
	query := `SELECT id, name, budget, bid_amount, status, cooldown_seconds,
		last_evaluated_at, created_at, updated_at
		FROM autopilot_campaigns WHERE 1=1`
	args := []interface{}{}
	argN := 1
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, f.Status)
		argN++
	}
	if f.Name != "" {
		query += fmt.Sprintf(" AND name = $%d", argN)
		args = append(args, f.Name)
		argN++
	}
	query += " ORDER BY id"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Budget, &c.BidAmount, &c.Status,
			&c.CooldownSeconds, &c.LastEvaluatedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	return p.execOne(ctx,
		`UPDATE autopilot_campaigns SET status = $1, updated_at = NOW() WHERE id = $2`,
		fmt.Sprintf("campaign %s", id), status, id)
}

func (p *Postgres) UpdateCampaignSpend(ctx context.Context, id string, budget, bid float64) error {
	return p.execOne(ctx,
		`UPDATE autopilot_campaigns SET budget = $1, bid_amount = $2, updated_at = NOW() WHERE id = $3`,
		fmt.Sprintf("campaign %s", id), budget, bid, id)
}

func (p *Postgres) TouchCampaignEvaluated(ctx context.Context, id string, at time.Time) error {
	return p.execOne(ctx,
		`UPDATE autopilot_campaigns SET last_evaluated_at = $1 WHERE id = $2`,
		fmt.Sprintf("campaign %s", id), at, id)
}

// --- Rules ---

func (p *Postgres) CreateRule(ctx context.Context, r *domain.Rule) error {
	cond, err := json.Marshal(r.Condition)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(r.ActionPayload)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO autopilot_rules
		(id, campaign_id, name, condition, action_type, action_payload, risk_tier, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.CampaignID, r.Name, cond, r.ActionType, payload, r.RiskTier, r.Enabled, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *Postgres) GetRule(ctx context.Context, id string) (*domain.Rule, error) {
	r, err := p.scanRule(p.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, name, condition, action_type, action_payload,
		risk_tier, enabled, created_at, updated_at
		FROM autopilot_rules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %s", engine.ErrNotFound, id)
	}
	return r, err
}

func (p *Postgres) ListRules(ctx context.Context, campaignID string) ([]domain.Rule, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, campaign_id, name, condition, action_type, action_payload,
		risk_tier, enabled, created_at, updated_at
		FROM autopilot_rules WHERE campaign_id = $1 ORDER BY id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		r, err := p.scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (p *Postgres) scanRule(row rowScanner) (*domain.Rule, error) {
	var r domain.Rule
	var cond, payload []byte
	if err := row.Scan(&r.ID, &r.CampaignID, &r.Name, &cond, &r.ActionType,
		&payload, &r.RiskTier, &r.Enabled, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cond, &r.Condition); err != nil {
		return nil, fmt.Errorf("rule %s condition: %w", r.ID, err)
	}
	if err := json.Unmarshal(payload, &r.ActionPayload); err != nil {
		return nil, fmt.Errorf("rule %s payload: %w", r.ID, err)
	}
	return &r, nil
}

func (p *Postgres) UpdateRule(ctx context.Context, r *domain.Rule) error {
	cond, err := json.Marshal(r.Condition)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(r.ActionPayload)
	if err != nil {
		return err
	}
	return p.execOne(ctx,
		`UPDATE autopilot_rules SET name=$1, condition=$2, action_type=$3,
		action_payload=$4, risk_tier=$5, enabled=$6, updated_at=NOW() WHERE id=$7`,
		fmt.Sprintf("rule %s", r.ID),
		r.Name, cond, r.ActionType, payload, r.RiskTier, r.Enabled, r.ID)
}

func (p *Postgres) DeleteRule(ctx context.Context, id string) error {
	return p.execOne(ctx,
		`DELETE FROM autopilot_rules WHERE id = $1`, fmt.Sprintf("rule %s", id), id)
}

// --- Actions ---

func (p *Postgres) CreateAction(ctx context.Context, a *domain.Action) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO autopilot_actions
		(id, campaign_id, rule_id, type, payload, confidence, reason, state, created_at, decided_at, executed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.CampaignID, a.RuleID, a.Type, payload, a.Confidence, a.Reason,
		a.State, a.CreatedAt, a.DecidedAt, a.ExecutedAt)
	return err
}

func (p *Postgres) GetAction(ctx context.Context, id string) (*domain.Action, error) {
	a, err := p.scanAction(p.db.QueryRowContext(ctx,
		`SELECT id, campaign_id, rule_id, type, payload, confidence, reason, state,
		created_at, decided_at, executed_at
		FROM autopilot_actions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: action %s", engine.ErrNotFound, id)
	}
	return a, err
}

func (p *Postgres) scanAction(row rowScanner) (*domain.Action, error) {
	var a domain.Action
	var payload []byte
	if err := row.Scan(&a.ID, &a.CampaignID, &a.RuleID, &a.Type, &payload,
		&a.Confidence, &a.Reason, &a.State, &a.CreatedAt, &a.DecidedAt, &a.ExecutedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &a.Payload); err != nil {
		return nil, fmt.Errorf("action %s payload: %w", a.ID, err)
	}
	return &a, nil
}

func (p *Postgres) listActions(ctx context.Context, where string, limit int, args ...interface{}) ([]domain.Action, error) {
	query := `SELECT id, campaign_id, rule_id, type, payload, confidence, reason, state,
		created_at, decided_at, executed_at
		FROM autopilot_actions ` + where
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Action
	for rows.Next() {
		a, err := p.scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (p *Postgres) ListActionsByState(ctx context.Context, state domain.ActionState) ([]domain.Action, error) {
	return p.listActions(ctx, `WHERE state = $1 ORDER BY created_at`, 0, state)
}

func (p *Postgres) ListCampaignActions(ctx context.Context, campaignID string, limit int) ([]domain.Action, error) {
	return p.listActions(ctx, `WHERE campaign_id = $1 ORDER BY created_at DESC`, limit, campaignID)
}

func (p *Postgres) UpdateActionState(ctx context.Context, id string, state domain.ActionState, reason string, at time.Time) error {
	a, err := p.GetAction(ctx, id)
	if err != nil {
		return err
	}
	if !a.State.CanTransition(state) {
		return fmt.Errorf("%w: action %s cannot move %s -> %s", engine.ErrInvalidTransition, id, a.State, state)
	}

	query := `UPDATE autopilot_actions SET state = $1`
	args := []interface{}{state}
	argN := 2
	if reason != "" {
		query += fmt.Sprintf(", reason = $%d", argN)
		args = append(args, reason)
		argN++
	}
	switch state {
	case domain.ActionApproved, domain.ActionRejected:
		query += fmt.Sprintf(", decided_at = $%d", argN)
		args = append(args, at)
		argN++
	case domain.ActionExecuted, domain.ActionFailed:
		query += fmt.Sprintf(", executed_at = $%d", argN)
		args = append(args, at)
		argN++
	}
	query += fmt.Sprintf(" WHERE id = $%d AND state = $%d", argN, argN+1)
	args = append(args, id, a.State)

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Lost a race: the state moved between read and write.
		return fmt.Errorf("%w: action %s state changed concurrently", engine.ErrInvalidTransition, id)
	}
	return nil
}

func (p *Postgres) UnresolvedActionForRule(ctx context.Context, ruleID string) (*domain.Action, error) {
	actions, err := p.listActions(ctx,
		`WHERE rule_id = $1 AND state IN ('proposed','pending_approval','approved') ORDER BY created_at`,
		1, ruleID)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		return nil, nil
	}
	return &actions[0], nil
}

func (p *Postgres) HasUnresolvedActions(ctx context.Context, campaignID string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM autopilot_actions
		WHERE campaign_id = $1 AND state IN ('proposed','pending_approval','approved')`,
		campaignID).Scan(&count)
	return count > 0, err
}

func (p *Postgres) LastExecutedAt(ctx context.Context, campaignID string) (*time.Time, error) {
	var at sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT MAX(executed_at) FROM autopilot_actions
		WHERE campaign_id = $1 AND state = 'executed'`, campaignID).Scan(&at)
	if err != nil {
		return nil, err
	}
	if !at.Valid {
		return nil, nil
	}
	return &at.Time, nil
}

// --- Approvals ---

func (p *Postgres) CreateApproval(ctx context.Context, rec *domain.ApprovalRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO autopilot_approvals (action_id, decision, reason, decided_by, decided_at)
		VALUES ($1,$2,$3,$4,$5)`,
		rec.ActionID, rec.Decision, rec.Reason, rec.DecidedBy, rec.DecidedAt)
	return err
}

func (p *Postgres) GetApproval(ctx context.Context, actionID string) (*domain.ApprovalRecord, error) {
	var rec domain.ApprovalRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT action_id, decision, COALESCE(reason,''), decided_by, decided_at
		FROM autopilot_approvals WHERE action_id = $1`, actionID,
	).Scan(&rec.ActionID, &rec.Decision, &rec.Reason, &rec.DecidedBy, &rec.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: approval for action %s", engine.ErrNotFound, actionID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// --- Execution records ---

func (p *Postgres) PutExecutionRecord(ctx context.Context, rec *domain.ExecutionRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO autopilot_executions (action_id, outcome, attempts, error, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (action_id) DO UPDATE SET
		outcome = EXCLUDED.outcome, attempts = EXCLUDED.attempts,
		error = EXCLUDED.error, finished_at = EXCLUDED.finished_at`,
		rec.ActionID, rec.Outcome, rec.Attempts, rec.Error, rec.StartedAt, rec.FinishedAt)
	return err
}

func (p *Postgres) GetExecutionRecord(ctx context.Context, actionID string) (*domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT action_id, outcome, attempts, COALESCE(error,''), started_at, finished_at
		FROM autopilot_executions WHERE action_id = $1`, actionID,
	).Scan(&rec.ActionID, &rec.Outcome, &rec.Attempts, &rec.Error, &rec.StartedAt, &rec.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *Postgres) execOne(ctx context.Context, query, what string, args ...interface{}) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", engine.ErrNotFound, what)
	}
	return nil
}

var _ engine.Store = (*Postgres)(nil)
