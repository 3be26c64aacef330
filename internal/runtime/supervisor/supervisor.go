// Package supervisor runs the daemon's long-lived goroutines under one
// context: named, panic-safe, optionally restarted, with first-error capture.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	logx "gcontrib/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr error
	errMu    sync.Mutex

	wg sync.WaitGroup

	mu    sync.Mutex
	stats map[string]*Stats
}

type Option func(*Supervisor)

// Stats is a best-effort per-name view for shutdown logs and status output.
type Stats struct {
	Name     string        `json:"name"`
	Active   bool          `json:"active"`
	Restarts int           `json:"restarts"`
	Panics   int           `json:"panics"`
	LastErr  string        `json:"last_err,omitempty"`
	Runtime  time.Duration `json:"runtime"`
	started  time.Time
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first error from Go.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop(), stats: map[string]*Stats{}}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err is the first error any goroutine reported, if any.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

func (s *Supervisor) setErr(err error) {
	s.errOnce.Do(func() {
		s.errMu.Lock()
		s.firstErr = err
		s.errMu.Unlock()
	})
	if s.cancelOnErr {
		s.cancel()
	}
}

// Go runs fn once. A non-nil error other than context.Canceled, or a
// panic, is recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.noteStart(name, false)
		s.log.Debug("goroutine started", logx.String("name", name))

		err := s.runSafe(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, err)
			s.setErr(err)
			return
		}
		s.noteStop(name, nil)
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

func (s *Supervisor) runSafe(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.stat(name).Panics++
			s.mu.Unlock()
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// RestartPolicy bounds GoRestart's backoff. Zero values use defaults.
type RestartPolicy struct {
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	MaxRestarts int // <= 0: unlimited
}

// GoRestart runs fn and restarts it after an error or panic with doubling
// backoff until the context ends. A nil return stops it. Giving up after
// MaxRestarts records the last error.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, p RestartPolicy) {
	if p.MinBackoff <= 0 {
		p.MinBackoff = 250 * time.Millisecond
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = 30 * time.Second
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := p.MinBackoff
		for restarts := 0; ; restarts++ {
			if s.ctx.Err() != nil {
				return
			}
			s.noteStart(name, restarts > 0)
			err := s.runSafe(name, fn)
			if s.ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				s.noteStop(name, nil)
				return
			}
			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, err)

			if p.MaxRestarts > 0 && restarts >= p.MaxRestarts {
				s.log.Error("goroutine gave up after restarts", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				s.setErr(err)
				return
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", backoff), logx.Err(err))
			t := time.NewTimer(backoff)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, p.MaxBackoff)
		}
	}()
}

// Stop cancels and waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return s.Err()
	}
}

// Snapshot lists per-name stats, active first.
func (s *Supervisor) Snapshot() []Stats {
	s.mu.Lock()
	out := make([]Stats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Supervisor) stat(name string) *Stats {
	st := s.stats[name]
	if st == nil {
		st = &Stats{Name: name}
		s.stats[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, restart bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stat(name)
	st.Active = true
	st.started = time.Now()
	if restart {
		st.Restarts++
	}
}

func (s *Supervisor) noteStop(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stat(name)
	st.Active = false
	st.Runtime += time.Since(st.started)
	if err != nil {
		st.LastErr = err.Error()
	}
}
