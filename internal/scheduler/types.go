package scheduler

import (
	"context"
	"errors"
	"time"

	"gcontrib/internal/eventbus"
	"gcontrib/internal/plan"
	logx "gcontrib/pkg/logx"
)

const (
	DefaultHorizonDays = 365
	DefaultMaxSleep    = time.Hour
)

var (
	// ErrGenerate wraps plan generator failures. The store is untouched.
	ErrGenerate = errors.New("plan generation failed")
	// ErrExecute wraps executor failures. The date stays unexecuted.
	ErrExecute = errors.New("execution failed")
)

// Config controls the daily cycle.
type Config struct {
	// At is the local time of day the cycle runs.
	At TimeOfDay

	// Location for "today" and At. Nil means time.Local.
	Location *time.Location

	// HorizonDays is how many days (starting today) a generated plan covers.
	HorizonDays int

	// MaxSleep caps a single sleep so wall-clock changes are noticed
	// before the trigger instant. 0 means DefaultMaxSleep.
	MaxSleep time.Duration
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = DefaultHorizonDays
	}
	if c.MaxSleep <= 0 {
		c.MaxSleep = DefaultMaxSleep
	}
	return c
}

// Store is the subset of the plan store the scheduler needs.
type Store interface {
	WritePlan(ctx context.Context, p plan.Plan) error
	HasPlanForToday(ctx context.Context) (bool, error)
	Count(ctx context.Context, d plan.Date) (int, error)
	HasExecuted(ctx context.Context, d plan.Date) (bool, error)
	MarkExecuted(ctx context.Context, d plan.Date) error
}

// Clock is the time source and the only suspension point of the loop.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Deps are the scheduler's collaborators.
type Deps struct {
	Store     Store
	Generator plan.Generator
	Executor  plan.Executor

	Clock Clock        // nil: real clock
	Bus   eventbus.Bus // nil: events dropped
	Log   logx.Logger
}

// Outcome of one cycle.
type Outcome string

const (
	OutcomeExecuted        Outcome = "executed"
	OutcomeAlreadyExecuted Outcome = "already_executed"
	OutcomeNoEntry         Outcome = "no_entry"
	OutcomeFailed          Outcome = "failed"
)

// Event types published on the bus.
const (
	EventPlanWritten      = "plan.written"
	EventDayExecuted      = "day.executed"
	EventDaySkipped       = "day.skipped"
	EventCycleFailed      = "cycle.failed"
	EventTriggerScheduled = "trigger.scheduled"
)

// DayEvent is the Data of day/cycle events.
type DayEvent struct {
	Cycle string    `json:"cycle"`
	Date  plan.Date `json:"date"`
	Count int       `json:"count,omitempty"`
	Error string    `json:"error,omitempty"`
}

// PlanEvent is the Data of EventPlanWritten.
type PlanEvent struct {
	Cycle   string     `json:"cycle"`
	Range   plan.Range `json:"range"`
	Entries int        `json:"entries"`
}

// TriggerEvent is the Data of EventTriggerScheduled.
type TriggerEvent struct {
	Next time.Time     `json:"next"`
	Wait time.Duration `json:"wait"`
}

// Snapshot is a point-in-time status view, read live from the store.
type Snapshot struct {
	At       string `json:"at"`
	Timezone string `json:"timezone"`

	Today    plan.Date `json:"today"`
	Planned  bool      `json:"planned"`
	Executed bool      `json:"executed"`
	Count    int       `json:"count"`

	// Horizon fields are filled when the store supports it.
	Remaining int       `json:"remaining"`
	Pending   int       `json:"pending"`
	LastDate  plan.Date `json:"last_date"`

	NextTrigger time.Time `json:"next_trigger"`
	LastCycle   time.Time `json:"last_cycle,omitempty"`
	LastOutcome Outcome   `json:"last_outcome,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RealClock returns the wall clock with a context-aware sleep.
func RealClock() Clock { return realClock{} }
