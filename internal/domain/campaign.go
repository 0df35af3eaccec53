package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus enumerates the lifecycle states of an advertising campaign.
type CampaignStatus string

const (
	CampaignDraft           CampaignStatus = "draft"
	CampaignActive          CampaignStatus = "active"
	CampaignPaused          CampaignStatus = "paused"
	CampaignPendingApproval CampaignStatus = "pending_approval"
	CampaignArchived        CampaignStatus = "archived"
)

// legalTransitions maps each status to the set of statuses reachable from it.
// Archived is terminal; any non-archived campaign may be archived.
var legalTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:           {CampaignActive, CampaignPendingApproval, CampaignArchived},
	CampaignActive:          {CampaignPaused, CampaignPendingApproval, CampaignArchived},
	CampaignPaused:          {CampaignActive, CampaignPendingApproval, CampaignArchived},
	CampaignPendingApproval: {CampaignActive, CampaignPaused, CampaignArchived},
	CampaignArchived:        {},
}

// CanTransition reports whether moving from the current status to next is a
// legal edge of the campaign state machine.
func (s CampaignStatus) CanTransition(next CampaignStatus) bool {
	for _, t := range legalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Valid reports whether the status is one of the known enum values.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignPendingApproval, CampaignArchived:
		return true
	}
	return false
}

// Campaign is an advertising campaign under automation. Status and budget are
// mutated only through the campaign manager and the execution dispatcher.
type Campaign struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Budget    float64        `json:"budget" db:"budget"`
	BidAmount float64        `json:"bid_amount" db:"bid_amount"`
	Status    CampaignStatus `json:"status" db:"status"`

	// CooldownSeconds overrides the engine-wide minimum gap between executed
	// actions on this campaign. Zero means use the engine default.
	CooldownSeconds int `json:"cooldown_seconds" db:"cooldown_seconds"`

	RuleIDs         []string   `json:"rule_ids"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at" db:"last_evaluated_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign can never change state again.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignArchived
}

// Schedulable returns true if the campaign participates in periodic rule
// evaluation. Archived campaigns are excluded; pending_approval campaigns
// are excluded until the pending action resolves.
func (c *Campaign) Schedulable() bool {
	return c.Status == CampaignActive
}

// Validate checks the campaign fields before persistence.
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("campaign name is required")
	}
	if c.Budget < 0 {
		return fmt.Errorf("campaign budget must be >= 0, got %.2f", c.Budget)
	}
	if c.BidAmount < 0 {
		return fmt.Errorf("campaign bid must be >= 0, got %.2f", c.BidAmount)
	}
	if c.Status != "" && !c.Status.Valid() {
		return fmt.Errorf("unknown campaign status %q", c.Status)
	}
	return nil
}

// CampaignFilter narrows List queries on the campaign store.
type CampaignFilter struct {
	Status CampaignStatus
	Name   string
}
