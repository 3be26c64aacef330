package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gcontrib/internal/eventbus"
	"gcontrib/internal/plan"
	"gcontrib/internal/storage"
	logx "gcontrib/pkg/logx"
)

// Service runs the daily plan/execute cycle.
type Service struct {
	cfg   Config
	store Store
	gen   plan.Generator
	exec  plan.Executor
	clock Clock
	bus   eventbus.Bus
	log   logx.Logger

	mu          sync.Mutex
	next        time.Time
	lastCycle   time.Time
	lastOutcome Outcome
	lastErr     string
}

func New(cfg Config, d Deps) (*Service, error) {
	if d.Store == nil || d.Generator == nil || d.Executor == nil {
		return nil, errors.New("scheduler: store, generator and executor are required")
	}
	if _, err := ParseTimeOfDay(cfg.At.String()); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	if d.Clock == nil {
		d.Clock = RealClock()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		store: d.Store,
		gen:   d.Generator,
		exec:  d.Executor,
		clock: d.Clock,
		bus:   d.Bus,
		log:   d.Log,
	}, nil
}

// Now is the clock's current time in the configured location.
func (s *Service) Now() time.Time { return s.clock.Now().In(s.cfg.Location) }

// Today is the current local date.
func (s *Service) Today() plan.Date { return plan.DateOf(s.Now()) }

// Run executes a cycle immediately, then one per trigger until ctx is done
// or a storage error makes further cycles pointless. Cancellation returns nil.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		logx.Stringer("at", s.cfg.At),
		logx.String("tz", s.cfg.Location.String()),
		logx.Int("horizon_days", s.cfg.HorizonDays),
	)
	defer s.log.Info("scheduler stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if storage.IsFatal(err) {
				s.log.Error("scheduler aborted", logx.Err(err))
				return err
			}
		}
		if err := s.waitForTrigger(ctx); err != nil {
			return nil
		}
	}
}

// waitForTrigger sleeps until the next trigger in chunks of at most
// MaxSleep, so a wall clock set forward or back is picked up.
func (s *Service) waitForTrigger(ctx context.Context) error {
	next := NextTrigger(s.cfg.At, s.Now())
	s.mu.Lock()
	s.next = next
	s.mu.Unlock()

	wait := next.Sub(s.clock.Now())
	s.log.Debug("next trigger", logx.Time("next", next), logx.Duration("wait", wait))
	s.publish(EventTriggerScheduled, TriggerEvent{Next: next, Wait: wait})

	for {
		now := s.clock.Now()
		if !now.Before(next) {
			return nil
		}
		d := next.Sub(now)
		if d > s.cfg.MaxSleep {
			d = s.cfg.MaxSleep
		}
		if err := s.clock.Sleep(ctx, d); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// RunOnce performs one cycle for today: ensure a plan exists, then execute
// today's entry unless it already ran.
func (s *Service) RunOnce(ctx context.Context) (Outcome, error) {
	cycle := uuid.NewString()
	today := s.Today()
	log := s.log.With(logx.String("cycle", cycle), logx.Stringer("date", today))

	out, err := s.cycle(ctx, cycle, today, log)
	s.record(out, err)
	if err != nil {
		log.Warn("cycle failed", logx.Err(err))
		s.publish(EventCycleFailed, DayEvent{Cycle: cycle, Date: today, Error: err.Error()})
	}
	return out, err
}

func (s *Service) cycle(ctx context.Context, cycle string, today plan.Date, log logx.Logger) (Outcome, error) {
	if err := s.ensurePlan(ctx, cycle, today, log); err != nil {
		return OutcomeFailed, err
	}
	return s.runDay(ctx, cycle, today, log)
}

// EnsurePlan generates and stores a plan starting today when today has no
// entry. An existing plan is left alone.
func (s *Service) EnsurePlan(ctx context.Context) error {
	return s.ensurePlan(ctx, "", s.Today(), s.log)
}

func (s *Service) ensurePlan(ctx context.Context, cycle string, today plan.Date, log logx.Logger) error {
	has, err := s.store.HasPlanForToday(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	r := plan.Range{From: today, To: today.AddDays(s.cfg.HorizonDays - 1)}
	p, err := s.gen.Generate(ctx, r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGenerate, err)
	}
	if err := s.store.WritePlan(ctx, p); err != nil {
		return err
	}
	log.Info("plan written", logx.Stringer("range", r), logx.Int("entries", len(p)))
	s.publish(EventPlanWritten, PlanEvent{Cycle: cycle, Range: r, Entries: len(p)})
	return nil
}

// RunDay executes d's entry if it exists and has not run yet.
func (s *Service) RunDay(ctx context.Context, d plan.Date) (Outcome, error) {
	return s.runDay(ctx, "", d, s.log.With(logx.Stringer("date", d)))
}

func (s *Service) runDay(ctx context.Context, cycle string, d plan.Date, log logx.Logger) (Outcome, error) {
	done, err := s.store.HasExecuted(ctx, d)
	if err != nil {
		return OutcomeFailed, err
	}
	if done {
		log.Debug("already executed")
		return OutcomeAlreadyExecuted, nil
	}

	n, err := s.store.Count(ctx, d)
	if storage.IsNotFound(err) {
		log.Warn("no plan entry, skipping day")
		s.publish(EventDaySkipped, DayEvent{Cycle: cycle, Date: d})
		return OutcomeNoEntry, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	start := s.clock.Now()
	if err := s.exec.Execute(ctx, d, n); err != nil {
		return OutcomeFailed, fmt.Errorf("%w: %w", ErrExecute, err)
	}
	if err := s.store.MarkExecuted(ctx, d); err != nil {
		return OutcomeFailed, err
	}
	log.Info("day executed", logx.Int("count", n), logx.Duration("took", s.clock.Now().Sub(start)))
	s.publish(EventDayExecuted, DayEvent{Cycle: cycle, Date: d, Count: n})
	return OutcomeExecuted, nil
}

func (s *Service) record(out Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCycle = s.clock.Now()
	s.lastOutcome = out
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
}

func (s *Service) publish(typ string, data any) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: data})
}

// horizonReader is implemented by *storage.Store.
type horizonReader interface {
	Horizon(ctx context.Context, from plan.Date) (storage.Horizon, error)
}

// Snapshot reads today's state from the store.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	now := s.Now()
	today := plan.DateOf(now)

	s.mu.Lock()
	snap := Snapshot{
		At:          s.cfg.At.String(),
		Timezone:    s.cfg.Location.String(),
		Today:       today,
		NextTrigger: s.next,
		LastCycle:   s.lastCycle,
		LastOutcome: s.lastOutcome,
		LastError:   s.lastErr,
	}
	s.mu.Unlock()
	if snap.NextTrigger.IsZero() || !snap.NextTrigger.After(now) {
		snap.NextTrigger = NextTrigger(s.cfg.At, now)
	}

	planned, err := s.store.HasPlanForToday(ctx)
	if err != nil {
		return snap, err
	}
	snap.Planned = planned
	if planned {
		if snap.Count, err = s.store.Count(ctx, today); err != nil && !storage.IsNotFound(err) {
			return snap, err
		}
	}
	if snap.Executed, err = s.store.HasExecuted(ctx, today); err != nil {
		return snap, err
	}

	if hr, ok := s.store.(horizonReader); ok {
		h, err := hr.Horizon(ctx, today)
		if err != nil {
			return snap, err
		}
		snap.Remaining = h.Remaining
		snap.Pending = h.Pending
		snap.LastDate = h.Last
	}
	return snap, nil
}
