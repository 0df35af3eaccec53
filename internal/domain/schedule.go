package domain

import "time"

// EntryKind distinguishes a recurring evaluation entry from a one-shot
// dispatch entry.
type EntryKind string

const (
	EntryRecurring EntryKind = "recurring"
	EntryOneShot   EntryKind = "one-shot"
)

// EntryState is the per-entry scheduler state machine:
// idle → due → firing → idle (recurring) or idle → due → firing → done
// (one-shot).
type EntryState string

const (
	EntryIdle   EntryState = "idle"
	EntryDue    EntryState = "due"
	EntryFiring EntryState = "firing"
	EntryDone   EntryState = "done"
)

// FireResult records the outcome of the entry's most recent firing.
type FireResult string

const (
	FireOK      FireResult = "ok"
	FireError   FireResult = "error"
	FireMissed  FireResult = "missed"
	FireSkipped FireResult = "skipped"
)

// ScheduleEntry is one unit of scheduler-owned work: either the recurring
// evaluation tick for a campaign, or the one-shot dispatch of an approved
// action. Owned exclusively by the scheduler; other components never
// mutate entries.
type ScheduleEntry struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`

	// ActionID is set on one-shot dispatch entries only.
	ActionID string     `json:"action_id,omitempty"`
	Kind     EntryKind  `json:"kind"`
	State    EntryState `json:"state"`

	// Interval applies to recurring entries, Jitter offsets the campaign's
	// phase within the interval to avoid thundering-herd evaluation.
	Interval   time.Duration `json:"interval,omitempty"`
	Jitter     time.Duration `json:"jitter,omitempty"`
	NextFire   time.Time     `json:"next_fire"`
	LastFire   *time.Time    `json:"last_fire,omitempty"`
	LastResult FireResult    `json:"last_result,omitempty"`
}
