package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/ignite/campaign-autopilot/internal/domain"
)

// EvalInput is the data a condition is evaluated against: a snapshot window
// ordered most-recent-first, plus an optional predictor forecast.
type EvalInput struct {
	Snapshots []domain.MetricSnapshot
	Forecast  *domain.Forecast
}

// EvalCondition evaluates a condition tree against the input. It is a pure
// function: no I/O, no clock, no randomness. A forecast-dependent condition
// with no forecast available does not fire.
func EvalCondition(c domain.Condition, in EvalInput) bool {
	switch c.Kind {
	case domain.CondThreshold:
		v, ok := latestValue(c.Metric, in)
		return ok && compare(v, c.Op, c.Threshold)

	case domain.CondWindow:
		if c.Metric.Forecast() {
			// A forecast is a single reading; there is no window to hold over.
			v, ok := latestValue(c.Metric, in)
			return ok && compare(v, c.Op, c.Threshold)
		}
		need := c.Consecutive
		if need <= 0 {
			need = domain.DefaultConsecutive
		}
		if len(in.Snapshots) < need {
			return false
		}
		for i := 0; i < need; i++ {
			if !compare(in.Snapshots[i].Field(c.Metric), c.Op, c.Threshold) {
				return false
			}
		}
		return true

	case domain.CondComposite:
		for _, child := range c.Children {
			fired := EvalCondition(child, in)
			if c.Logic == domain.LogicAnd && !fired {
				return false
			}
			if c.Logic == domain.LogicOr && fired {
				return true
			}
		}
		return c.Logic == domain.LogicAnd
	}
	return false
}

// DescribeCondition renders the condition with the observed values that made
// it fire, for the action's human-readable reason trace.
func DescribeCondition(c domain.Condition, in EvalInput) string {
	switch c.Kind {
	case domain.CondThreshold:
		v, _ := latestValue(c.Metric, in)
		return fmt.Sprintf("%s %s %s (observed %s)", c.Metric, c.Op, formatMetric(c.Threshold), formatMetric(v))

	case domain.CondWindow:
		if c.Metric.Forecast() {
			v, _ := latestValue(c.Metric, in)
			return fmt.Sprintf("%s %s %s (forecast %s)", c.Metric, c.Op, formatMetric(c.Threshold), formatMetric(v))
		}
		need := c.Consecutive
		if need <= 0 {
			need = domain.DefaultConsecutive
		}
		latest := math.NaN()
		if len(in.Snapshots) > 0 {
			latest = in.Snapshots[0].Field(c.Metric)
		}
		return fmt.Sprintf("%s %s %s for %d consecutive snapshots (latest %s)",
			c.Metric, c.Op, formatMetric(c.Threshold), need, formatMetric(latest))

	case domain.CondComposite:
		parts := make([]string, 0, len(c.Children))
		for _, child := range c.Children {
			parts = append(parts, DescribeCondition(child, in))
		}
		joiner := " AND "
		if c.Logic == domain.LogicOr {
			joiner = " OR "
		}
		return "(" + strings.Join(parts, joiner) + ")"
	}
	return string(c.Kind)
}

func latestValue(m domain.MetricField, in EvalInput) (float64, bool) {
	if m.Forecast() {
		if in.Forecast == nil {
			return 0, false
		}
		return in.Forecast.PredictedACOS, true
	}
	if len(in.Snapshots) == 0 {
		return 0, false
	}
	return in.Snapshots[0].Field(m), true
}

func compare(v float64, op domain.CompareOp, threshold float64) bool {
	if math.IsNaN(v) {
		return false
	}
	switch op {
	case domain.OpGT:
		return v > threshold
	case domain.OpGE:
		return v >= threshold
	case domain.OpLT:
		return v < threshold
	case domain.OpLE:
		return v <= threshold
	}
	return false
}

func formatMetric(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4g", v)
}
