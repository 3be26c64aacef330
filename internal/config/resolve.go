package config

import (
	"fmt"
	"strings"
	"time"

	"gcontrib/internal/scheduler"
	"gcontrib/internal/storage"
)

// ParseDurationField parses a Go duration string. Empty means 0; path is
// the config key used in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// StoreOptions maps the storage section onto storage.Config. Now is left
// for the caller to wire to the scheduler clock.
func (c *Config) StoreOptions() (storage.Config, error) {
	busy, err := ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, storage.DefaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	base, err := ParseDurationOrDefault("storage.retry_base", c.Storage.RetryBase, storage.DefaultRetryBase)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Path:        strings.TrimSpace(c.Storage.Path),
		BusyTimeout: busy,
		Retry:       storage.RetryPolicy{MaxAttempts: c.Storage.RetryMax, BaseDelay: base},
	}, nil
}

// ScheduleOptions maps the scheduler and planner sections onto scheduler.Config.
func (c *Config) ScheduleOptions() (scheduler.Config, error) {
	at, err := scheduler.ParseTimeOfDay(c.Scheduler.At)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.at: %w", err)
	}
	loc, err := c.Location()
	if err != nil {
		return scheduler.Config{}, err
	}
	maxSleep, err := ParseDurationOrDefault("scheduler.max_sleep", c.Scheduler.MaxSleep, scheduler.DefaultMaxSleep)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		At:          at,
		Location:    loc,
		HorizonDays: c.Planner.HorizonDays,
		MaxSleep:    maxSleep,
	}, nil
}
