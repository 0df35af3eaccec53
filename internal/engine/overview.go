package engine

import (
	"context"
	"log"
	"math"

	"github.com/ignite/campaign-autopilot/internal/domain"
)

// Overview is the aggregate the operator dashboard renders: campaign counts
// by status, fleet-wide ACOS and margin averaged over the latest snapshot
// of each live campaign, and queue depths.
type Overview struct {
	Campaigns      int                           `json:"campaigns"`
	CountsByStatus map[domain.CampaignStatus]int `json:"counts_by_status"`
	AvgACOS        float64                       `json:"avg_acos"`
	AvgMargin      float64                       `json:"avg_margin"`
	RuleCount      int                           `json:"rule_count"`
	PendingActions int                           `json:"pending_actions"`
	FailedActions  int                           `json:"failed_actions"`
}

// BuildOverview assembles the aggregate from the store and the metric
// store. Campaigns whose snapshots are unavailable are skipped from the
// averages rather than failing the whole overview.
func BuildOverview(ctx context.Context, store Store, metrics MetricStore) (*Overview, error) {
	campaigns, err := store.ListCampaigns(ctx, domain.CampaignFilter{})
	if err != nil {
		return nil, err
	}

	ov := &Overview{
		Campaigns:      len(campaigns),
		CountsByStatus: make(map[domain.CampaignStatus]int),
	}

	var acosSum, marginSum float64
	var sampled int
	for _, c := range campaigns {
		ov.CountsByStatus[c.Status]++

		rules, err := store.ListRules(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		ov.RuleCount += len(rules)

		if c.Status == domain.CampaignArchived {
			continue
		}
		snaps, err := metrics.RecentSnapshots(ctx, c.ID, 1)
		if err != nil {
			log.Printf("[overview] campaign=%s snapshots unavailable: %v", c.ID, err)
			continue
		}
		if len(snaps) == 0 {
			continue
		}
		acos := snaps[0].ACOS()
		if math.IsInf(acos, 1) {
			// Zero-revenue spenders would swamp the average.
			continue
		}
		acosSum += acos
		marginSum += snaps[0].Margin()
		sampled++
	}
	if sampled > 0 {
		ov.AvgACOS = acosSum / float64(sampled)
		ov.AvgMargin = marginSum / float64(sampled)
	}

	pending, err := store.ListActionsByState(ctx, domain.ActionPendingApproval)
	if err != nil {
		return nil, err
	}
	ov.PendingActions = len(pending)

	failed, err := store.ListActionsByState(ctx, domain.ActionFailed)
	if err != nil {
		return nil, err
	}
	ov.FailedActions = len(failed)

	return ov, nil
}
