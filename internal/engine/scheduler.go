package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/campaign-autopilot/internal/domain"
	"github.com/ignite/campaign-autopilot/internal/pkg/keylock"
)

const (
	// DefaultEvalInterval is how often each active campaign is re-evaluated.
	DefaultEvalInterval = 5 * time.Minute

	// DefaultCooldown is the minimum gap between executed actions on the
	// same campaign, preventing pause/activate oscillation.
	DefaultCooldown = 15 * time.Minute

	// DefaultPollInterval is how often the central loop scans its entries.
	DefaultPollInterval = 5 * time.Second

	// DefaultWorkers is the evaluation/dispatch worker pool size.
	DefaultWorkers = 8
)

// SchedulerConfig tunes the central scheduling loop.
type SchedulerConfig struct {
	EvalInterval time.Duration
	Cooldown     time.Duration
	PollInterval time.Duration
	Workers      int
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.EvalInterval <= 0 {
		c.EvalInterval = DefaultEvalInterval
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	return c
}

// Scheduler is the single authoritative time source of the engine. One
// central loop owns every ScheduleEntry: recurring evaluation ticks per
// active campaign (jittered per campaign) and one-shot dispatch entries for
// approved actions. The loop only schedules; all I/O happens on the worker
// pool, and per-campaign locks guarantee no two units of work ever run
// concurrently for the same campaign.
type Scheduler struct {
	store      Store
	evaluator  *Evaluator
	dispatcher *Dispatcher
	locks      keylock.Lock
	cfg        SchedulerConfig

	// now is the injected time source; tests replace it.
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*domain.ScheduleEntry

	tasks chan task

	// Stats
	ticksFired  int64
	ticksMissed int64
	evalErrors  int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

type task struct {
	entryID string
	run     func(ctx context.Context) error
	release func()
}

// NewScheduler creates the central scheduler.
func NewScheduler(store Store, evaluator *Evaluator, dispatcher *Dispatcher, locks keylock.Lock, cfg SchedulerConfig) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		store:      store,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		locks:      locks,
		cfg:        cfg,
		now:        time.Now,
		entries:    make(map[string]*domain.ScheduleEntry),
		tasks:      make(chan task, cfg.Workers*2),
	}
}

// WithClock replaces the scheduler's time source. Tests drive Tick with a
// synthetic clock instead of waiting on the wall clock.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start launches the central loop and the worker pool.
func (s *Scheduler) Start() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.loop()

	log.Printf("[scheduler] started (eval=%s cooldown=%s workers=%d)",
		s.cfg.EvalInterval, s.cfg.Cooldown, s.cfg.Workers)
	return nil
}

// Stop halts the loop and waits for in-flight work to finish.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	s.runMu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Printf("[scheduler] stopped (fired=%d missed=%d errors=%d)",
		atomic.LoadInt64(&s.ticksFired), atomic.LoadInt64(&s.ticksMissed), atomic.LoadInt64(&s.evalErrors))
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.ctx)
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case t := <-s.tasks:
			err := t.run(s.ctx)
			t.release()
			s.finishEntry(t.entryID, err)
		}
	}
}

// Tick runs one scheduling pass at the current time: refresh the entry set,
// promote due entries, and hand firing work to the pool. Exported so tests
// can drive the scheduler without the wall clock.
func (s *Scheduler) Tick(ctx context.Context) {
	// Store failures are engine-fatal: scheduling halts entirely until the
	// shared store answers again. Per-campaign errors never reach here.
	if err := s.store.Healthy(ctx); err != nil {
		log.Printf("[scheduler] store unhealthy, holding all scheduling: %v", err)
		return
	}

	now := s.now().UTC()
	if err := s.syncEvalEntries(ctx, now); err != nil {
		log.Printf("[scheduler] sync eval entries: %v", err)
	}
	if err := s.syncDispatchEntries(ctx, now); err != nil {
		log.Printf("[scheduler] sync dispatch entries: %v", err)
	}
	s.fireDue(ctx, now)
}

// syncEvalEntries keeps one recurring entry per schedulable campaign.
func (s *Scheduler) syncEvalEntries(ctx context.Context, now time.Time) error {
	campaigns, err := s.store.ListCampaigns(ctx, domain.CampaignFilter{Status: domain.CampaignActive})
	if err != nil {
		return err
	}

	active := make(map[string]bool, len(campaigns))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range campaigns {
		if !c.Schedulable() {
			continue
		}
		active[c.ID] = true
		id := "eval:" + c.ID
		if _, ok := s.entries[id]; ok {
			continue
		}
		jitter := campaignJitter(c.ID, s.cfg.EvalInterval)
		s.entries[id] = &domain.ScheduleEntry{
			ID:         id,
			CampaignID: c.ID,
			Kind:       domain.EntryRecurring,
			State:      domain.EntryIdle,
			Interval:   s.cfg.EvalInterval,
			Jitter:     jitter,
			NextFire:   now.Add(jitter),
		}
	}
	// Drop recurring entries for campaigns that stopped being schedulable,
	// unless they are mid-flight.
	for id, e := range s.entries {
		if e.Kind == domain.EntryRecurring && !active[e.CampaignID] && e.State != domain.EntryFiring {
			delete(s.entries, id)
		}
	}
	return nil
}

// syncDispatchEntries keeps one one-shot entry per approved action, with
// the fire time pushed out to respect the campaign cooldown.
func (s *Scheduler) syncDispatchEntries(ctx context.Context, now time.Time) error {
	approved, err := s.store.ListActionsByState(ctx, domain.ActionApproved)
	if err != nil {
		return err
	}

	s.mu.Lock()
	missing := approved[:0]
	for _, a := range approved {
		if _, ok := s.entries["dispatch:"+a.ID]; !ok {
			missing = append(missing, a)
		}
	}
	s.mu.Unlock()

	// The cooldown lookup hits the store, so it runs outside the mutex;
	// the loop must never block workers on store latency.
	for _, a := range missing {
		fireAt, err := s.earliestDispatch(ctx, a.CampaignID, now)
		if err != nil {
			log.Printf("[scheduler] action=%s cooldown lookup: %v", a.ID, err)
			fireAt = now
		}
		id := "dispatch:" + a.ID
		s.mu.Lock()
		if _, ok := s.entries[id]; !ok {
			s.entries[id] = &domain.ScheduleEntry{
				ID:         id,
				CampaignID: a.CampaignID,
				ActionID:   a.ID,
				Kind:       domain.EntryOneShot,
				State:      domain.EntryIdle,
				NextFire:   fireAt,
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// earliestDispatch returns the first instant the campaign may execute
// another action: immediately, or last execution plus cooldown.
func (s *Scheduler) earliestDispatch(ctx context.Context, campaignID string, now time.Time) (time.Time, error) {
	last, err := s.store.LastExecutedAt(ctx, campaignID)
	if err != nil {
		return now, err
	}
	if last == nil {
		return now, nil
	}
	eligible := last.Add(s.campaignCooldown(ctx, campaignID))
	if eligible.After(now) {
		return eligible, nil
	}
	return now, nil
}

func (s *Scheduler) campaignCooldown(ctx context.Context, campaignID string) time.Duration {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err == nil && c.CooldownSeconds > 0 {
		return time.Duration(c.CooldownSeconds) * time.Second
	}
	return s.cfg.Cooldown
}

// fireDue promotes idle entries whose time has arrived and hands them to
// the worker pool under the campaign lock.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*domain.ScheduleEntry
	for _, e := range s.entries {
		if (e.State == domain.EntryIdle || e.State == domain.EntryDue) && !e.NextFire.After(now) {
			e.State = domain.EntryDue
			due = append(due, e)
		} else if e.State == domain.EntryFiring && e.Kind == domain.EntryRecurring && !e.NextFire.After(now) {
			// Still firing when the next nominal fire time arrived: skip
			// this cycle, never overlap evaluations of one campaign.
			e.NextFire = e.NextFire.Add(e.Interval)
			e.LastResult = domain.FireMissed
			atomic.AddInt64(&s.ticksMissed, 1)
			log.Printf("[scheduler] entry=%s missed tick (previous firing still running)", e.ID)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fireEntry(ctx, e, now)
	}
}

func (s *Scheduler) fireEntry(ctx context.Context, e *domain.ScheduleEntry, now time.Time) {
	release, ok, err := s.locks.TryAcquire(ctx, e.CampaignID)
	if err != nil {
		log.Printf("[scheduler] entry=%s lock error: %v", e.ID, err)
		s.requeue(e, now)
		return
	}
	if !ok {
		// Another unit of work holds the campaign. Recurring entries skip
		// the cycle; one-shots go back to idle and retry on the next poll.
		s.mu.Lock()
		if e.Kind == domain.EntryRecurring {
			e.State = domain.EntryIdle
			e.NextFire = now.Add(e.Interval)
			e.LastResult = domain.FireSkipped
			atomic.AddInt64(&s.ticksMissed, 1)
		} else {
			e.State = domain.EntryIdle
			e.NextFire = now.Add(s.cfg.PollInterval)
			e.LastResult = domain.FireSkipped
		}
		s.mu.Unlock()
		return
	}

	run := s.buildTask(e)
	if run == nil {
		release()
		s.mu.Lock()
		e.State = domain.EntryDone
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	e.State = domain.EntryFiring
	if e.Kind == domain.EntryRecurring {
		// Advance the nominal fire time now so the overlap check on the
		// next poll compares against the next cycle, not the one that
		// just started.
		e.NextFire = e.NextFire.Add(e.Interval)
	}
	s.mu.Unlock()

	select {
	case s.tasks <- task{entryID: e.ID, run: run, release: release}:
	default:
		// Pool saturated: back off rather than block the loop.
		release()
		s.requeue(e, now)
	}
}

func (s *Scheduler) buildTask(e *domain.ScheduleEntry) func(ctx context.Context) error {
	switch e.Kind {
	case domain.EntryRecurring:
		campaignID := e.CampaignID
		return func(ctx context.Context) error {
			_, err := s.evaluator.EvaluateCampaign(ctx, campaignID)
			return err
		}
	case domain.EntryOneShot:
		actionID := e.ActionID
		campaignID := e.CampaignID
		return func(ctx context.Context) error {
			// The action may have been cancelled while queued; a cooldown
			// may also have been introduced by a dispatch that executed
			// after this entry was scheduled.
			a, err := s.store.GetAction(ctx, actionID)
			if err != nil {
				return err
			}
			if a.State != domain.ActionApproved {
				return nil
			}
			eligible, err := s.earliestDispatch(ctx, campaignID, s.now().UTC())
			if err == nil && eligible.After(s.now().UTC()) {
				return errRescheduled{at: eligible}
			}
			return s.dispatcher.Dispatch(ctx, actionID)
		}
	}
	return nil
}

// errRescheduled signals that a one-shot entry must fire later instead of
// completing.
type errRescheduled struct{ at time.Time }

func (e errRescheduled) Error() string { return "rescheduled to " + e.at.Format(time.RFC3339) }

func (s *Scheduler) finishEntry(entryID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return
	}
	now := s.now().UTC()
	if resched, ok := err.(errRescheduled); ok {
		e.State = domain.EntryIdle
		e.NextFire = resched.at
		e.LastResult = domain.FireSkipped
		return
	}

	fired := now
	e.LastFire = &fired
	atomic.AddInt64(&s.ticksFired, 1)
	if err != nil {
		e.LastResult = domain.FireError
		atomic.AddInt64(&s.evalErrors, 1)
		log.Printf("[scheduler] entry=%s fire error: %v", e.ID, err)
	} else {
		e.LastResult = domain.FireOK
	}

	switch e.Kind {
	case domain.EntryRecurring:
		// NextFire was advanced when the entry started firing.
		e.State = domain.EntryIdle
		if !e.NextFire.After(now) {
			e.NextFire = now.Add(e.Interval)
		}
	case domain.EntryOneShot:
		e.State = domain.EntryDone
		delete(s.entries, entryID)
	}
}

func (s *Scheduler) requeue(e *domain.ScheduleEntry, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.State = domain.EntryIdle
	e.NextFire = now.Add(s.cfg.PollInterval)
}

// RunPending synchronously drains every task currently queued. Used by the
// run-once mode and by tests that drive Tick without the background pool.
func (s *Scheduler) RunPending(ctx context.Context) {
	for {
		select {
		case t := <-s.tasks:
			err := t.run(ctx)
			t.release()
			s.finishEntry(t.entryID, err)
		default:
			return
		}
	}
}

// Entries returns a copy of the current schedule for observability.
func (s *Scheduler) Entries() []domain.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScheduleEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// Stats reports scheduling counters.
func (s *Scheduler) Stats() (fired, missed, errors int64) {
	return atomic.LoadInt64(&s.ticksFired),
		atomic.LoadInt64(&s.ticksMissed),
		atomic.LoadInt64(&s.evalErrors)
}

// campaignJitter derives a stable per-campaign phase offset in
// [0, interval) so campaigns spread across the evaluation window instead
// of herding on one instant.
func campaignJitter(campaignID string, interval time.Duration) time.Duration {
	h := fnv.New64a()
	h.Write([]byte(campaignID))
	return time.Duration(h.Sum64() % uint64(interval))
}
