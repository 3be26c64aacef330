// Package app wires configuration, storage, the scheduler and its
// collaborators into one daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gcontrib/internal/config"
	"gcontrib/internal/eventbus"
	"gcontrib/internal/notifier"
	"gcontrib/internal/planner"
	"gcontrib/internal/runtime/supervisor"
	"gcontrib/internal/scheduler"
	"gcontrib/internal/storage"
	"gcontrib/internal/work"
	logx "gcontrib/pkg/logx"
	"gcontrib/pkg/systemd"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   *storage.Store
	planner *planner.Weekly
	journal *work.Journal
	sched   *scheduler.Service
	notif   *notifier.Service

	sd        systemd.Notifier
	stopGrace time.Duration
}

const defaultStopGrace = 10 * time.Second

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// New loads cfgPath (a missing file means defaults) and builds every
// component. The store is opened; call Close when done.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(logConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, cfg: cfg, log: log.With(logx.String("comp", "app")), logs: logSvc, bus: eventbus.New()}
	if err := a.build(ctx, log); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, log logx.Logger) error {
	cfg := a.cfg

	schedCfg, err := cfg.ScheduleOptions()
	if err != nil {
		return err
	}
	loc := schedCfg.Location
	clock := scheduler.RealClock()

	storeCfg, err := cfg.StoreOptions()
	if err != nil {
		return err
	}
	storeCfg.Now = func() time.Time { return clock.Now().In(loc) }
	st, err := storage.Open(ctx, storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = st

	a.planner, err = planner.NewWeekly(cfg.Planner.Weekly, cfg.Planner.Overrides)
	if err != nil {
		return err
	}

	a.journal, err = work.NewJournal(work.Options{
		Path:        cfg.Executor.Journal,
		UnitsPerSec: cfg.Executor.UnitsPerSec,
		Burst:       cfg.Executor.Burst,
		Accounts:    st,
	}, log.With(logx.String("comp", "work")))
	if err != nil {
		return err
	}

	a.sched, err = scheduler.New(schedCfg, scheduler.Deps{
		Store:     st,
		Generator: a.planner,
		Executor:  a.journal,
		Clock:     clock,
		Bus:       a.bus,
		Log:       log.With(logx.String("comp", "scheduler")),
	})
	if err != nil {
		return err
	}

	var sender notifier.Sender = notifier.Nop()
	if tg := cfg.Notifier.Telegram; tg.Enabled {
		s, err := notifier.NewTelegram(notifier.TelegramConfig{Token: tg.Token, ChatID: tg.ChatID, ThreadID: tg.ThreadID})
		if err != nil {
			return fmt.Errorf("notifier: %w", err)
		}
		sender = s
	}
	a.notif = notifier.New(notifier.Config{Events: cfg.Notifier.Telegram.Events, Prefix: "[gcontrib]"},
		sender, a.bus, log.With(logx.String("comp", "notifier")))
	return nil
}

func (a *App) Logger() logx.Logger           { return a.log }
func (a *App) Config() *config.Config        { return a.cfg }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Store() *storage.Store         { return a.store }

// Run starts the daemon and blocks until ctx is done or the scheduler hits
// a fatal error, which is returned.
func (a *App) Run(ctx context.Context) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	sup.Go("scheduler", a.sched.Run)
	sup.Go("heartbeat", func(ctx context.Context) error {
		return a.sched.Heartbeat(ctx, a.cfg.Scheduler.Heartbeat)
	})
	sup.GoRestart("notifier", a.notif.Run, supervisor.RestartPolicy{})
	sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.RestartPolicy{})
	sup.Go("config.apply", a.applyConfigLoop())
	sup.Go("config.hup", a.reloadOnHangup)
	sup.Go("status", a.statusLoop)

	if ok, err := a.sd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("daemon started",
		logx.String("store", a.store.Path()),
		logx.String("journal", a.journal.Path()),
		logx.String("config", a.cfgm.Path()),
	)

	<-sup.Context().Done()
	_, _ = a.sd.Stopping()
	return a.shutdown(sup)
}

// shutdown waits up to stopGrace for every goroutine. A goroutine error is
// returned even when the grace runs out.
func (a *App) shutdown(sup *supervisor.Supervisor) error {
	grace := a.stopGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := sup.Stop(stopCtx)
	for _, st := range sup.Snapshot() {
		if st.LastErr != "" || st.Restarts > 0 {
			a.log.Info("goroutine summary", logx.String("name", st.Name), logx.Int("restarts", st.Restarts), logx.String("last_err", st.LastErr))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("shutdown grace elapsed")
		err = errors.Join(sup.Err(), err)
	}
	if err != nil {
		a.log.Error("daemon stopped with error", logx.Err(err))
		return err
	}
	a.log.Info("daemon stopped")
	return nil
}

// applyConfigLoop subscribes right away and returns the loop that
// hot-applies the logging section; other sections are reported as needing
// a restart.
func (a *App) applyConfigLoop() func(ctx context.Context) error {
	ch := a.cfgm.Subscribe(1)
	return func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(ch)
		return a.applyConfig(ctx, ch)
	}
}

func (a *App) applyConfig(ctx context.Context, ch <-chan *config.Config) error {
	cur := a.cfg
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-ch:
			if !ok {
				return nil
			}
			changed, attrs := config.SummarizeChange(cur, next)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config changed", append(attrs, logx.String("sections", strings.Join(changed, ",")))...)
			if next.Logging != cur.Logging {
				if err := a.logs.Apply(logConfig(next)); err != nil {
					a.log.Warn("logging config partially applied", logx.Err(err))
				}
			}
			if pending := config.NeedsRestart(changed); len(pending) > 0 {
				a.log.Warn("restart required to apply config", logx.String("sections", strings.Join(pending, ",")))
			}
			cur = next
		}
	}
}

// reloadOnHangup re-reads the config file on SIGHUP.
func (a *App) reloadOnHangup(ctx context.Context) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			a.log.Info("SIGHUP received; reloading config", logx.String("path", a.cfgm.Path()))
			if err := a.cfgm.Reload(ctx); err != nil {
				a.log.Warn("config reload failed", logx.Err(err))
			}
		}
	}
}

// statusLoop mirrors scheduler events into the systemd status line.
func (a *App) statusLoop(ctx context.Context) error {
	ch, unsub := a.bus.Subscribe(8, scheduler.EventTriggerScheduled, scheduler.EventDayExecuted, scheduler.EventCycleFailed)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			_, _ = a.sd.Status(notifier.Format(ev))
		}
	}
}

// Close releases the store and log file.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
