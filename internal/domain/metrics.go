package domain

import (
	"math"
	"time"
)

// MetricSnapshot is one immutable time-series performance reading for a
// campaign. Snapshots are ordered by timestamp per campaign.
type MetricSnapshot struct {
	CampaignID  string    `json:"campaign_id" db:"campaign_id"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	Impressions int64     `json:"impressions" db:"impressions"`
	Clicks      int64     `json:"clicks" db:"clicks"`
	Spend       float64   `json:"spend" db:"spend"`
	Revenue     float64   `json:"revenue" db:"revenue"`
}

// ACOS is advertising cost of sale: spend / revenue. Defined as +Inf when
// revenue is zero so threshold comparisons treat a zero-revenue spender as
// maximally unprofitable.
func (s MetricSnapshot) ACOS() float64 {
	if s.Revenue == 0 {
		return math.Inf(1)
	}
	return s.Spend / s.Revenue
}

// CTR is click-through rate: clicks / impressions, zero when there were no
// impressions.
func (s MetricSnapshot) CTR() float64 {
	if s.Impressions == 0 {
		return 0
	}
	return float64(s.Clicks) / float64(s.Impressions)
}

// Margin is the profit share of revenue: (revenue - spend) / revenue,
// zero when there was no revenue.
func (s MetricSnapshot) Margin() float64 {
	if s.Revenue == 0 {
		return 0
	}
	return (s.Revenue - s.Spend) / s.Revenue
}

// Field extracts the named metric from the snapshot. Forecast fields are
// not resolvable from a snapshot and return NaN.
func (s MetricSnapshot) Field(m MetricField) float64 {
	switch m {
	case MetricACOS:
		return s.ACOS()
	case MetricCTR:
		return s.CTR()
	case MetricSpend:
		return s.Spend
	case MetricRevenue:
		return s.Revenue
	case MetricClicks:
		return float64(s.Clicks)
	case MetricImpressions:
		return float64(s.Impressions)
	}
	return math.NaN()
}

// Forecast is the predictor's output for one campaign.
type Forecast struct {
	CampaignID    string    `json:"campaign_id"`
	PredictedACOS float64   `json:"predicted_acos"`
	Confidence    float64   `json:"confidence"`
	GeneratedAt   time.Time `json:"generated_at"`
}
