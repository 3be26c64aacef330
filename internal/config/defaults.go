package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gcontrib/internal/plan"
	"gcontrib/internal/scheduler"
	"gcontrib/internal/storage"
	logx "gcontrib/pkg/logx"
)

const (
	DefaultAt          = "21:00"
	DefaultJournal     = "resources/work.jsonl"
	DefaultUnitsPerSec = 5
)

// Defaults returns a config usable without any file.
func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:        storage.DefaultPath(),
			BusyTimeout: storage.DefaultBusyTimeout.String(),
			RetryMax:    storage.DefaultRetryMax,
			RetryBase:   storage.DefaultRetryBase.String(),
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Scheduler: SchedulerConfig{
			At: DefaultAt,
		},
		Planner: PlannerConfig{
			HorizonDays: scheduler.DefaultHorizonDays,
			Weekly:      []int{0, 3, 3, 3, 3, 3, 1},
		},
		Executor: ExecutorConfig{
			Journal:     DefaultJournal,
			UnitsPerSec: DefaultUnitsPerSec,
			Burst:       1,
		},
	}
}

// Validate checks every section and returns all problems joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Storage.Path) == "" {
		add(errors.New("storage.path: required"))
	}
	_, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)
	_, err = ParseDurationField("storage.retry_base", cfg.Storage.RetryBase)
	add(err)
	if cfg.Storage.RetryMax < 0 {
		add(errors.New("storage.retry_max: must be >= 0"))
	}

	if _, ok := logx.ParseLevel(cfg.Logging.Level); !ok {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}

	if _, err := scheduler.ParseTimeOfDay(cfg.Scheduler.At); err != nil {
		add(fmt.Errorf("scheduler.at: %w", err))
	}
	if _, err := cfg.Location(); err != nil {
		add(err)
	}
	if strings.TrimSpace(cfg.Scheduler.Heartbeat) != "" {
		if _, err := scheduler.ParseHeartbeat(cfg.Scheduler.Heartbeat); err != nil {
			add(fmt.Errorf("scheduler.heartbeat: %w", err))
		}
	}
	_, err = ParseDurationField("scheduler.max_sleep", cfg.Scheduler.MaxSleep)
	add(err)

	if cfg.Planner.HorizonDays < 0 {
		add(errors.New("planner.horizon_days: must be >= 0"))
	}
	if len(cfg.Planner.Weekly) != 7 {
		add(fmt.Errorf("planner.weekly: need 7 counts (Sunday first), got %d", len(cfg.Planner.Weekly)))
	}
	for i, n := range cfg.Planner.Weekly {
		if n < 0 {
			add(fmt.Errorf("planner.weekly[%d]: negative count %d", i, n))
		}
	}
	for k, n := range cfg.Planner.Overrides {
		if _, err := plan.ParseDate(k); err != nil {
			add(fmt.Errorf("planner.overrides: %w", err))
		}
		if n < 0 {
			add(fmt.Errorf("planner.overrides[%s]: negative count %d", k, n))
		}
	}

	if strings.TrimSpace(cfg.Executor.Journal) == "" {
		add(errors.New("executor.journal: required"))
	}
	if cfg.Executor.UnitsPerSec < 0 {
		add(errors.New("executor.units_per_sec: must be >= 0"))
	}

	tg := cfg.Notifier.Telegram
	if tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			add(errors.New("notifier.telegram.token: required when enabled"))
		}
		if tg.ChatID == 0 {
			add(errors.New("notifier.telegram.chat_id: required when enabled"))
		}
	}
	return errors.Join(errs...)
}

// Location resolves scheduler.timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}
