package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gcontrib/internal/eventbus"
	"gcontrib/internal/plan"
	"gcontrib/internal/storage"
	logx "gcontrib/pkg/logx"
)

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int)
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

type fakeStore struct {
	mu      sync.Mutex
	clock   *fakeClock
	entries map[plan.Date]*plan.Entry
	writes  int

	countErr error
	markErr  error
}

func newFakeStore(c *fakeClock) *fakeStore {
	return &fakeStore{clock: c, entries: map[plan.Date]*plan.Entry{}}
}

func (s *fakeStore) WritePlan(_ context.Context, p plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for d := range p {
		if _, ok := s.entries[d]; ok {
			return &storage.DuplicateKeyError{Table: "plan_entries", Key: d.String(), Err: errors.New("UNIQUE")}
		}
	}
	for d, n := range p {
		s.entries[d] = &plan.Entry{Date: d, UnitCount: n}
	}
	s.writes++
	return nil
}

func (s *fakeStore) HasPlanForToday(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[plan.DateOf(s.clock.Now())]
	return ok, nil
}

func (s *fakeStore) Count(_ context.Context, d plan.Date) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	e, ok := s.entries[d]
	if !ok {
		return 0, &storage.NotFoundError{Table: "plan_entries", Key: d.String()}
	}
	return e.UnitCount, nil
}

func (s *fakeStore) HasExecuted(_ context.Context, d plan.Date) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[d]
	return ok && e.Executed, nil
}

func (s *fakeStore) MarkExecuted(_ context.Context, d plan.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	e, ok := s.entries[d]
	if !ok {
		return &storage.NotFoundError{Table: "plan_entries", Key: d.String()}
	}
	e.Executed = true
	return nil
}

type recorder struct {
	mu       sync.Mutex
	ranges   []plan.Range
	executed []plan.Date
	counts   []int
	genErr   error
	execErr  error
	skip     map[plan.Date]bool
}

func (r *recorder) Generate(_ context.Context, rg plan.Range) (plan.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ranges = append(r.ranges, rg)
	if r.genErr != nil {
		return nil, r.genErr
	}
	p := plan.Plan{}
	rg.Each(func(d plan.Date) {
		if !r.skip[d] {
			p[d] = d.Day
		}
	})
	return p, nil
}

func (r *recorder) Execute(_ context.Context, d plan.Date, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.execErr != nil {
		return r.execErr
	}
	r.executed = append(r.executed, d)
	r.counts = append(r.counts, n)
	return nil
}

func (r *recorder) Executed() []plan.Date {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]plan.Date(nil), r.executed...)
}

var (
	may1 = plan.NewDate(2024, time.May, 1)
	may2 = plan.NewDate(2024, time.May, 2)
)

type harness struct {
	svc   *Service
	clock *fakeClock
	store *fakeStore
	rec   *recorder
	bus   eventbus.Bus
}

func newHarness(t *testing.T, start time.Time, mutate func(*Config)) *harness {
	t.Helper()
	clock := &fakeClock{now: start}
	h := &harness{clock: clock, store: newFakeStore(clock), rec: &recorder{}, bus: eventbus.New()}
	cfg := Config{At: TimeOfDay{Hour: 21}, Location: time.UTC}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(cfg, Deps{
		Store:     h.store,
		Generator: h.rec,
		Executor:  h.rec,
		Clock:     clock,
		Bus:       h.bus,
		Log:       logx.Nop(),
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func drain(ch <-chan eventbus.Event) []string {
	var out []string
	for {
		select {
		case e := <-ch:
			out = append(out, e.Type)
		default:
			return out
		}
	}
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()
	_, err := New(Config{At: TimeOfDay{Hour: 21}}, Deps{})
	require.Error(t, err)

	rec := &recorder{}
	_, err = New(Config{At: TimeOfDay{Hour: 25}}, Deps{Store: newFakeStore(&fakeClock{}), Generator: rec, Executor: rec})
	require.Error(t, err)
}

func TestRunOnceGeneratesPlanAndExecutesToday(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 21, 0, 0, 0, time.UTC), nil)
	events, unsub := h.bus.Subscribe(16)
	defer unsub()

	out, err := h.svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, out)

	require.Equal(t, []plan.Range{{From: may1, To: may1.AddDays(DefaultHorizonDays - 1)}}, h.rec.ranges)
	require.Len(t, h.store.entries, DefaultHorizonDays)
	require.Equal(t, []plan.Date{may1}, h.rec.Executed())
	require.Equal(t, []int{1}, h.rec.counts)
	require.True(t, h.store.entries[may1].Executed)
	require.Equal(t, []string{EventPlanWritten, EventDayExecuted}, drain(events))
}

func TestRunOnceIsIdempotentWithinADay(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 21, 0, 0, 0, time.UTC), nil)

	_, err := h.svc.RunOnce(context.Background())
	require.NoError(t, err)
	out, err := h.svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyExecuted, out)

	require.Len(t, h.rec.ranges, 1, "existing plan must not be regenerated")
	require.Equal(t, 1, h.store.writes)
	require.Len(t, h.rec.Executed(), 1)
}

func TestRunOnceSkipsDayWithoutEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 21, 0, 0, 0, time.UTC), nil)
	h.rec.skip = map[plan.Date]bool{may1: true}
	events, unsub := h.bus.Subscribe(16, EventDaySkipped)
	defer unsub()

	out, err := h.svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeNoEntry, out)
	require.Empty(t, h.rec.Executed())
	require.Equal(t, []string{EventDaySkipped}, drain(events))
}

func TestGenerateFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 21, 0, 0, 0, time.UTC), nil)
	boom := errors.New("generator exploded")
	h.rec.genErr = boom
	events, unsub := h.bus.Subscribe(16, EventCycleFailed)
	defer unsub()

	out, err := h.svc.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrGenerate)
	require.ErrorIs(t, err, boom)
	require.False(t, storage.IsFatal(err))
	require.Equal(t, OutcomeFailed, out)
	require.Zero(t, h.store.writes)
	require.Empty(t, h.store.entries)
	require.Equal(t, []string{EventCycleFailed}, drain(events))
}

func TestExecuteFailureDoesNotMarkDate(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 21, 0, 0, 0, time.UTC), nil)
	h.rec.execErr = errors.New("push rejected")

	_, err := h.svc.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrExecute)
	require.False(t, h.store.entries[may1].Executed)

	h.rec.execErr = nil
	out, err := h.svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, out)
	require.True(t, h.store.entries[may1].Executed)
}

func TestRunLoopsOncePerDay(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 20, 0, 0, 0, time.UTC), func(c *Config) {
		c.MaxSleep = 48 * time.Hour
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onSleep = func(n int) {
		if n == 3 {
			cancel()
		}
	}

	require.NoError(t, h.svc.Run(ctx))
	require.Equal(t, []time.Duration{time.Hour, 24 * time.Hour, 24 * time.Hour}, h.clock.sleeps)
	require.Equal(t, []plan.Date{may1, may2}, h.rec.Executed())
}

func TestRunSleepsInChunks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 18, 0, 0, 0, time.UTC), func(c *Config) {
		c.MaxSleep = time.Hour
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onSleep = func(n int) {
		if n == 4 {
			cancel()
		}
	}

	require.NoError(t, h.svc.Run(ctx))
	require.Equal(t, []time.Duration{time.Hour, time.Hour, time.Hour, time.Hour}, h.clock.sleeps)
	// One execution at startup; the 21:00 cycle found the day already done.
	require.Equal(t, []plan.Date{may1}, h.rec.Executed())
}

func TestRunNoticesWallClockJump(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC), func(c *Config) {
		c.MaxSleep = time.Hour
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onSleep = func(n int) {
		switch n {
		case 1:
			// Manual clock change to the next evening.
			h.clock.Set(time.Date(2024, time.May, 2, 21, 30, 0, 0, time.UTC))
		case 2:
			cancel()
		}
	}

	require.NoError(t, h.svc.Run(ctx))
	require.Equal(t, []plan.Date{may1, may2}, h.rec.Executed())
}

func TestRunAbortsOnFatalStorageError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 21, 0, 0, 0, time.UTC), nil)
	h.store.countErr = &storage.BusyError{Op: "count", Attempts: 5, Err: errors.New("database is locked")}

	err := h.svc.Run(context.Background())
	require.ErrorIs(t, err, storage.ErrStorageUnavailable)
	require.Empty(t, h.clock.sleeps)
}

func TestRunAbortsOnInvalidState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 21, 0, 0, 0, time.UTC), nil)
	h.store.markErr = errors.Join(storage.ErrNotFound, storage.ErrInvalidState)

	err := h.svc.Run(context.Background())
	require.ErrorIs(t, err, storage.ErrInvalidState)
}

func TestRunCarriesOnAfterCollaboratorFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 21, 0, 0, 0, time.UTC), func(c *Config) {
		c.MaxSleep = 48 * time.Hour
	})
	h.rec.execErr = errors.New("remote down")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.clock.onSleep = func(n int) {
		h.rec.mu.Lock()
		h.rec.execErr = nil
		h.rec.mu.Unlock()
		if n == 2 {
			cancel()
		}
	}

	require.NoError(t, h.svc.Run(ctx))
	// May 1 failed at startup and is not retried after midnight; May 2 ran.
	require.Equal(t, []plan.Date{may2}, h.rec.Executed())
	require.False(t, h.store.entries[may1].Executed)
}

func TestRunReturnsWhenContextAlreadyDone(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 21, 0, 0, 0, time.UTC), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.svc.Run(ctx))
	require.Empty(t, h.rec.ranges)
}

func TestSnapshotWithSQLiteStore(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{now: time.Date(2024, time.May, 1, 21, 0, 0, 0, time.UTC)}
	st, err := storage.Open(context.Background(), storage.Config{
		Path: filepath.Join(t.TempDir(), "gcontrib.db"),
		Now:  clock.Now,
	}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rec := &recorder{}
	svc, err := New(Config{At: TimeOfDay{Hour: 21}, Location: time.UTC, HorizonDays: 10}, Deps{
		Store: st, Generator: rec, Executor: rec, Clock: clock,
	})
	require.NoError(t, err)

	out, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeExecuted, out)

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, may1, snap.Today)
	require.True(t, snap.Planned)
	require.True(t, snap.Executed)
	require.Equal(t, 1, snap.Count)
	require.Equal(t, 10, snap.Remaining)
	require.Equal(t, 9, snap.Pending)
	require.Equal(t, may1.AddDays(9), snap.LastDate)
	require.Equal(t, OutcomeExecuted, snap.LastOutcome)
	require.True(t, snap.NextTrigger.Equal(time.Date(2024, time.May, 2, 21, 0, 0, 0, time.UTC)))
}
