package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/ignite/campaign-autopilot/internal/domain"
)

// Dispatcher applies one approved action to the external platform and to
// campaign state, with idempotency bookkeeping and bounded retries.
type Dispatcher struct {
	store    Store
	platform Platform
	manager  *Manager

	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	applyTimeout time.Duration

	// sleep is swapped out in tests so retries don't wall-clock wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates the execution dispatcher. maxAttempts bounds the
// retry loop for transient platform errors (default 3).
func NewDispatcher(store Store, platform Platform, manager *Manager, maxAttempts int, applyTimeout time.Duration) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if applyTimeout <= 0 {
		applyTimeout = 15 * time.Second
	}
	return &Dispatcher{
		store:        store,
		platform:     platform,
		manager:      manager,
		maxAttempts:  maxAttempts,
		baseDelay:    time.Second,
		maxDelay:     30 * time.Second,
		applyTimeout: applyTimeout,
		sleep:        sleepCtx,
	}
}

// WithBackoff overrides the retry delay bounds. Tests shrink them so retry
// paths run without wall-clock waits.
func (d *Dispatcher) WithBackoff(base, max time.Duration) *Dispatcher {
	d.baseDelay = base
	d.maxDelay = max
	return d
}

// Dispatch executes one approved action exactly once. The caller (the
// scheduler) holds the campaign lock. Re-dispatching an action whose
// execution record already shows success is a no-op, so a crash between
// the platform call and the state update cannot apply the action twice.
func (d *Dispatcher) Dispatch(ctx context.Context, actionID string) error {
	a, err := d.store.GetAction(ctx, actionID)
	if err != nil {
		return err
	}

	rec, err := d.store.GetExecutionRecord(ctx, actionID)
	if err != nil {
		return err
	}
	if rec != nil && rec.Outcome == domain.OutcomeSuccess {
		// Crash-and-retry landed here: the platform call already went out.
		// Finish the local bookkeeping if it was interrupted.
		if a.State == domain.ActionApproved {
			return d.finishSuccess(ctx, a, rec.FinishedAt)
		}
		return nil
	}
	if a.State != domain.ActionApproved {
		return fmt.Errorf("%w: action %s is %s, not approved", ErrInvalidTransition, actionID, a.State)
	}

	started := time.Now().UTC()
	rec = &domain.ExecutionRecord{
		ActionID:  actionID,
		Outcome:   domain.OutcomeInFlight,
		StartedAt: started,
	}
	if err := d.store.PutExecutionRecord(ctx, rec); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		rec.Attempts = attempt

		applyCtx, cancel := context.WithTimeout(ctx, d.applyTimeout)
		lastErr = d.platform.Apply(applyCtx, a.CampaignID, a.Type, a.Payload)
		cancel()

		if lastErr == nil {
			now := time.Now().UTC()
			rec.Outcome = domain.OutcomeSuccess
			rec.FinishedAt = &now
			if err := d.store.PutExecutionRecord(ctx, rec); err != nil {
				return err
			}
			return d.finishSuccess(ctx, a, &now)
		}

		if !transient(lastErr) {
			break
		}
		if attempt < d.maxAttempts {
			delay := d.backoff(attempt)
			log.Printf("[dispatcher] action=%s attempt %d/%d failed (%v), retrying in %s",
				actionID, attempt, d.maxAttempts, lastErr, delay)
			if err := d.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
	}

	// Exhausted or permanent: the action fails, the campaign keeps its last
	// known-good state, and no replacement candidate is generated.
	now := time.Now().UTC()
	rec.Outcome = domain.OutcomeFailure
	rec.Error = lastErr.Error()
	rec.FinishedAt = &now
	if err := d.store.PutExecutionRecord(ctx, rec); err != nil {
		return err
	}
	failReason := fmt.Sprintf("%s | execution failed after %d attempts: %v", a.Reason, rec.Attempts, lastErr)
	if err := d.store.UpdateActionState(ctx, actionID, domain.ActionFailed, failReason, now); err != nil {
		return err
	}
	log.Printf("[dispatcher] action=%s campaign=%s failed: %v", actionID, a.CampaignID, lastErr)
	return fmt.Errorf("%w: action %s: %v", ErrExecutionFailed, actionID, lastErr)
}

// finishSuccess marks the action executed and folds its effect into
// campaign state through the manager.
func (d *Dispatcher) finishSuccess(ctx context.Context, a *domain.Action, executedAt *time.Time) error {
	at := time.Now().UTC()
	if executedAt != nil {
		at = *executedAt
	}
	if err := d.store.UpdateActionState(ctx, a.ID, domain.ActionExecuted, "", at); err != nil {
		return err
	}
	if err := d.applyCampaignEffect(ctx, a); err != nil {
		// The platform change went through; surface the local divergence
		// loudly rather than pretending the action failed.
		log.Printf("[dispatcher] action=%s executed but campaign update failed: %v", a.ID, err)
		return err
	}
	log.Printf("[dispatcher] action=%s campaign=%s executed (%s)", a.ID, a.CampaignID, a.Type)
	return nil
}

func (d *Dispatcher) applyCampaignEffect(ctx context.Context, a *domain.Action) error {
	switch a.Type {
	case domain.ActionPause:
		return d.manager.UpdateStatus(ctx, a.CampaignID, domain.CampaignPaused)
	case domain.ActionActivate:
		return d.manager.UpdateStatus(ctx, a.CampaignID, domain.CampaignActive)
	case domain.ActionAdjustBid:
		c, err := d.store.GetCampaign(ctx, a.CampaignID)
		if err != nil {
			return err
		}
		return d.manager.SetSpend(ctx, a.CampaignID, c.Budget, a.Payload.BidAmount)
	case domain.ActionAdjustBudget:
		c, err := d.store.GetCampaign(ctx, a.CampaignID)
		if err != nil {
			return err
		}
		return d.manager.SetSpend(ctx, a.CampaignID, a.Payload.BudgetAmount, c.BidAmount)
	}
	return fmt.Errorf("%w: unknown action type %q", ErrValidation, a.Type)
}

// backoff returns the exponential delay before the next retry, capped at
// maxDelay.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := float64(d.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(d.maxDelay) {
		delay = float64(d.maxDelay)
	}
	return time.Duration(delay)
}

// transient reports whether the platform error is worth retrying: an
// unreachable collaborator or a timed-out call. Timeouts are never treated
// as success.
func transient(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
