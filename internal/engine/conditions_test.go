package engine

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ignite/campaign-autopilot/internal/domain"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// snaps builds a most-recent-first snapshot window from ACOS values by
// fixing revenue at 100 and deriving spend. An ACOS of +Inf is encoded as
// spend with zero revenue.
func snaps(acos ...float64) []domain.MetricSnapshot {
	out := make([]domain.MetricSnapshot, len(acos))
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, a := range acos {
		s := domain.MetricSnapshot{
			CampaignID:  "c1",
			Timestamp:   ts.Add(-time.Duration(i) * 5 * time.Minute),
			Impressions: 1000,
			Clicks:      50,
		}
		if math.IsInf(a, 1) {
			s.Spend = 40
			s.Revenue = 0
		} else {
			s.Revenue = 100
			s.Spend = a * 100
		}
		out[i] = s
	}
	return out
}

// =============================================================================
// THRESHOLD CONDITIONS
// =============================================================================

func TestEvalCondition_Threshold(t *testing.T) {
	tests := []struct {
		name string
		cond domain.Condition
		in   EvalInput
		want bool
	}{
		{
			name: "acos above threshold fires",
			cond: domain.Condition{Kind: domain.CondThreshold, Metric: domain.MetricACOS, Op: domain.OpGT, Threshold: 0.35},
			in:   EvalInput{Snapshots: snaps(0.50)},
			want: true,
		},
		{
			name: "acos below threshold does not fire",
			cond: domain.Condition{Kind: domain.CondThreshold, Metric: domain.MetricACOS, Op: domain.OpGT, Threshold: 0.35},
			in:   EvalInput{Snapshots: snaps(0.20)},
			want: false,
		},
		{
			name: "zero revenue acos is infinite and fires any GT",
			cond: domain.Condition{Kind: domain.CondThreshold, Metric: domain.MetricACOS, Op: domain.OpGT, Threshold: 100},
			in:   EvalInput{Snapshots: snaps(math.Inf(1))},
			want: true,
		},
		{
			name: "GE boundary fires exactly at threshold",
			cond: domain.Condition{Kind: domain.CondThreshold, Metric: domain.MetricSpend, Op: domain.OpGE, Threshold: 35},
			in:   EvalInput{Snapshots: snaps(0.35)},
			want: true,
		},
		{
			name: "GT boundary does not fire exactly at threshold",
			cond: domain.Condition{Kind: domain.CondThreshold, Metric: domain.MetricSpend, Op: domain.OpGT, Threshold: 35},
			in:   EvalInput{Snapshots: snaps(0.35)},
			want: false,
		},
		{
			name: "LT on ctr",
			cond: domain.Condition{Kind: domain.CondThreshold, Metric: domain.MetricCTR, Op: domain.OpLT, Threshold: 0.10},
			in:   EvalInput{Snapshots: snaps(0.30)},
			want: true, // 50 clicks / 1000 impressions = 0.05
		},
		{
			name: "no snapshots never fires",
			cond: domain.Condition{Kind: domain.CondThreshold, Metric: domain.MetricACOS, Op: domain.OpGT, Threshold: 0},
			in:   EvalInput{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvalCondition(tt.cond, tt.in); got != tt.want {
				t.Errorf("EvalCondition() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// WINDOW CONDITIONS
// =============================================================================

func TestEvalCondition_Window(t *testing.T) {
	cond := domain.Condition{
		Kind:        domain.CondWindow,
		Metric:      domain.MetricACOS,
		Op:          domain.OpGT,
		Threshold:   0.35,
		Consecutive: 3,
	}

	tests := []struct {
		name string
		in   EvalInput
		want bool
	}{
		{"three consecutive breaches fire", EvalInput{Snapshots: snaps(0.40, 0.45, 0.50)}, true},
		{"one good reading in the window resets", EvalInput{Snapshots: snaps(0.40, 0.20, 0.50)}, false},
		{"latest reading recovered", EvalInput{Snapshots: snaps(0.10, 0.45, 0.50)}, false},
		{"too few snapshots never fire", EvalInput{Snapshots: snaps(0.40, 0.45)}, false},
		{"extra history beyond the window is ignored", EvalInput{Snapshots: snaps(0.40, 0.45, 0.50, 0.01)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvalCondition(cond, tt.in); got != tt.want {
				t.Errorf("EvalCondition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvalCondition_WindowDefaultConsecutive(t *testing.T) {
	cond := domain.Condition{Kind: domain.CondWindow, Metric: domain.MetricACOS, Op: domain.OpGT, Threshold: 0.35}

	if EvalCondition(cond, EvalInput{Snapshots: snaps(0.40, 0.45)}) {
		t.Error("window with default consecutive should need 3 snapshots")
	}
	if !EvalCondition(cond, EvalInput{Snapshots: snaps(0.40, 0.45, 0.50)}) {
		t.Error("window with default consecutive should fire on 3 breaches")
	}
}

// =============================================================================
// FORECAST CONDITIONS
// =============================================================================

func TestEvalCondition_Forecast(t *testing.T) {
	cond := domain.Condition{
		Kind:      domain.CondThreshold,
		Metric:    domain.MetricPredictedACOS,
		Op:        domain.OpGT,
		Threshold: 0.40,
	}

	if EvalCondition(cond, EvalInput{Snapshots: snaps(0.90)}) {
		t.Error("forecast condition must not fire without a forecast")
	}

	in := EvalInput{
		Snapshots: snaps(0.20),
		Forecast:  &domain.Forecast{CampaignID: "c1", PredictedACOS: 0.55, Confidence: 0.8},
	}
	if !EvalCondition(cond, in) {
		t.Error("forecast condition should fire on predicted breach")
	}
}

// =============================================================================
// COMPOSITE CONDITIONS
// =============================================================================

func TestEvalCondition_Composite(t *testing.T) {
	high := domain.Condition{Kind: domain.CondThreshold, Metric: domain.MetricACOS, Op: domain.OpGT, Threshold: 0.35}
	lowCTR := domain.Condition{Kind: domain.CondThreshold, Metric: domain.MetricCTR, Op: domain.OpLT, Threshold: 0.01}

	in := EvalInput{Snapshots: snaps(0.50)} // acos 0.50, ctr 0.05

	and := domain.Condition{Kind: domain.CondComposite, Logic: domain.LogicAnd, Children: []domain.Condition{high, lowCTR}}
	if EvalCondition(and, in) {
		t.Error("AND should not fire when one child is false")
	}

	or := domain.Condition{Kind: domain.CondComposite, Logic: domain.LogicOr, Children: []domain.Condition{high, lowCTR}}
	if !EvalCondition(or, in) {
		t.Error("OR should fire when one child is true")
	}
}

func TestDescribeCondition(t *testing.T) {
	cond := domain.Condition{
		Kind:        domain.CondWindow,
		Metric:      domain.MetricACOS,
		Op:          domain.OpGT,
		Threshold:   0.35,
		Consecutive: 3,
	}
	got := DescribeCondition(cond, EvalInput{Snapshots: snaps(0.50, 0.45, 0.40)})
	for _, want := range []string{"acos", ">", "0.35", "3 consecutive", "0.5"} {
		if !strings.Contains(got, want) {
			t.Errorf("DescribeCondition() = %q, missing %q", got, want)
		}
	}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		tier       domain.RiskTier
		confidence float64
		want       domain.ActionState
	}{
		{"high risk always waits", domain.RiskHigh, 0.99, domain.ActionPendingApproval},
		{"medium risk high confidence auto-executes", domain.RiskMedium, 0.95, domain.ActionApproved},
		{"medium risk at exact threshold auto-executes", domain.RiskMedium, AutoExecuteConfidence, domain.ActionApproved},
		{"medium risk low confidence waits", domain.RiskMedium, 0.85, domain.ActionPendingApproval},
		{"low risk auto-executes", domain.RiskLow, 0.10, domain.ActionApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.tier, tt.confidence); got != tt.want {
				t.Errorf("Classify(%s, %.2f) = %s, want %s", tt.tier, tt.confidence, got, tt.want)
			}
			// Deterministic: same inputs, same outcome.
			if again := Classify(tt.tier, tt.confidence); again != Classify(tt.tier, tt.confidence) || again != tt.want {
				t.Error("Classify() must be deterministic")
			}
		})
	}
}

// =============================================================================
// SCHEDULER JITTER
// =============================================================================

func TestCampaignJitter(t *testing.T) {
	interval := 5 * time.Minute

	a := campaignJitter("campaign-a", interval)
	if a != campaignJitter("campaign-a", interval) {
		t.Error("jitter must be stable for a campaign")
	}
	if a < 0 || a >= interval {
		t.Errorf("jitter %s out of [0, %s)", a, interval)
	}
	if a == campaignJitter("campaign-b", interval) {
		// Not guaranteed in general, but these two inputs hash apart.
		t.Error("distinct campaigns should spread across the interval")
	}
}

func TestDispatcherBackoff(t *testing.T) {
	d := &Dispatcher{baseDelay: time.Second, maxDelay: 30 * time.Second}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := d.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
	if got := d.backoff(10); got != 30*time.Second {
		t.Errorf("backoff(10) = %s, want cap %s", got, 30*time.Second)
	}
}
