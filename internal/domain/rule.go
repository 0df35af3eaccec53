package domain

import (
	"fmt"
	"strings"
	"time"
)

// RiskTier classifies how much damage a rule's action can do if it fires
// wrongly. High-tier actions always require human approval.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Rank orders risk tiers for conflict resolution: higher rank wins.
func (r RiskTier) Rank() int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	}
	return 0
}

// Valid reports whether the tier is a known enum value.
func (r RiskTier) Valid() bool {
	return r.Rank() > 0
}

// MetricField names a snapshot or forecast field a condition can test.
type MetricField string

const (
	MetricACOS          MetricField = "acos"
	MetricCTR           MetricField = "ctr"
	MetricSpend         MetricField = "spend"
	MetricRevenue       MetricField = "revenue"
	MetricClicks        MetricField = "clicks"
	MetricImpressions   MetricField = "impressions"
	MetricPredictedACOS MetricField = "predicted_acos"
)

// Forecast reports whether the field comes from the predictor rather than
// from stored snapshots.
func (m MetricField) Forecast() bool {
	return m == MetricPredictedACOS
}

// Valid reports whether the field is a known enum value.
func (m MetricField) Valid() bool {
	switch m {
	case MetricACOS, MetricCTR, MetricSpend, MetricRevenue, MetricClicks, MetricImpressions, MetricPredictedACOS:
		return true
	}
	return false
}

// CompareOp is a comparison operator for threshold conditions.
type CompareOp string

const (
	OpGT CompareOp = ">"
	OpGE CompareOp = ">="
	OpLT CompareOp = "<"
	OpLE CompareOp = "<="
)

// Valid reports whether the operator is a known enum value.
func (o CompareOp) Valid() bool {
	switch o {
	case OpGT, OpGE, OpLT, OpLE:
		return true
	}
	return false
}

// ConditionKind tags the closed set of rule condition variants.
type ConditionKind string

const (
	// CondThreshold compares the most recent value of a metric against a
	// threshold.
	CondThreshold ConditionKind = "threshold"
	// CondWindow requires the comparison to hold for N consecutive
	// snapshots, smoothing single-reading noise.
	CondWindow ConditionKind = "window"
	// CondComposite combines child conditions with AND/OR logic.
	CondComposite ConditionKind = "composite"
)

// CompositeLogic joins the children of a composite condition.
type CompositeLogic string

const (
	LogicAnd CompositeLogic = "and"
	LogicOr  CompositeLogic = "or"
)

// Condition is a tagged variant over the closed set of condition kinds.
// Exactly one shape is populated depending on Kind; evaluation is a pure
// function over a snapshot window and an optional forecast.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// Threshold and window conditions.
	Metric    MetricField `json:"metric,omitempty"`
	Op        CompareOp   `json:"op,omitempty"`
	Threshold float64     `json:"threshold,omitempty"`

	// Window conditions: required consecutive-snapshot count (default 3).
	Consecutive int `json:"consecutive,omitempty"`

	// Composite conditions.
	Logic    CompositeLogic `json:"logic,omitempty"`
	Children []Condition    `json:"children,omitempty"`
}

// Window returns the number of snapshots the condition needs to evaluate.
func (c Condition) Window() int {
	switch c.Kind {
	case CondThreshold:
		return 1
	case CondWindow:
		if c.Consecutive > 0 {
			return c.Consecutive
		}
		return DefaultConsecutive
	case CondComposite:
		max := 1
		for _, child := range c.Children {
			if w := child.Window(); w > max {
				max = w
			}
		}
		return max
	}
	return 1
}

// UsesForecast reports whether evaluating the condition needs a predictor
// forecast anywhere in its tree.
func (c Condition) UsesForecast() bool {
	if c.Metric.Forecast() {
		return true
	}
	for _, child := range c.Children {
		if child.UsesForecast() {
			return true
		}
	}
	return false
}

// Validate checks the condition tree for structural errors.
func (c Condition) Validate() error {
	switch c.Kind {
	case CondThreshold, CondWindow:
		if !c.Metric.Valid() {
			return fmt.Errorf("unknown metric %q", c.Metric)
		}
		if !c.Op.Valid() {
			return fmt.Errorf("unknown operator %q", c.Op)
		}
		if c.Kind == CondWindow && c.Consecutive < 0 {
			return fmt.Errorf("consecutive count must be >= 0, got %d", c.Consecutive)
		}
		return nil
	case CondComposite:
		if c.Logic != LogicAnd && c.Logic != LogicOr {
			return fmt.Errorf("composite condition needs logic and/or, got %q", c.Logic)
		}
		if len(c.Children) == 0 {
			return fmt.Errorf("composite condition needs at least one child")
		}
		for i, child := range c.Children {
			if err := child.Validate(); err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown condition kind %q", c.Kind)
}

// DefaultConsecutive is the window size used when a window condition does
// not specify one.
const DefaultConsecutive = 3

// Rule links a condition to the action it proposes when the condition holds.
type Rule struct {
	ID         string     `json:"id" db:"id"`
	CampaignID string     `json:"campaign_id" db:"campaign_id"`
	Name       string     `json:"name" db:"name"`
	Condition  Condition  `json:"condition"`
	ActionType ActionType `json:"action_type" db:"action_type"`
	// Payload carried by actions this rule proposes (bid/budget targets).
	ActionPayload ActionPayload `json:"action_payload"`
	RiskTier      RiskTier      `json:"risk_tier" db:"risk_tier"`
	Enabled       bool          `json:"enabled" db:"enabled"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// Validate checks the rule fields before persistence.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.CampaignID == "" {
		return fmt.Errorf("rule campaign_id is required")
	}
	if !r.ActionType.Valid() {
		return fmt.Errorf("unknown action type %q", r.ActionType)
	}
	if !r.RiskTier.Valid() {
		return fmt.Errorf("unknown risk tier %q", r.RiskTier)
	}
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	return nil
}
