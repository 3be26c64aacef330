package config

import (
	"reflect"
	"sort"
	"strings"

	logx "gcontrib/pkg/logx"
)

// LiveSections are applied without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeChange returns the changed section names (sorted) and safe
// structured attrs for logging. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.path", newCfg.Storage.Path),
			logx.String("storage.busy_timeout", newCfg.Storage.BusyTimeout),
			logx.Int("storage.retry_max", newCfg.Storage.RetryMax),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.at", newCfg.Scheduler.At),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.heartbeat", newCfg.Scheduler.Heartbeat),
		)
	}

	if !reflect.DeepEqual(oldCfg.Planner, newCfg.Planner) {
		changed = append(changed, "planner")
		attrs = append(attrs,
			logx.Int("planner.horizon_days", newCfg.Planner.HorizonDays),
			logx.Any("planner.weekly", newCfg.Planner.Weekly),
			logx.Int("planner.overrides", len(newCfg.Planner.Overrides)),
		)
	}

	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.String("executor.journal", newCfg.Executor.Journal),
			logx.Any("executor.units_per_sec", newCfg.Executor.UnitsPerSec),
		)
	}

	o, n := oldCfg.Notifier.Telegram, newCfg.Notifier.Telegram
	if o.Enabled != n.Enabled || o.ChatID != n.ChatID || o.ThreadID != n.ThreadID ||
		o.Token != n.Token || !reflect.DeepEqual(o.Events, n.Events) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.telegram.enabled", n.Enabled),
			logx.Bool("notifier.telegram.token_set", strings.TrimSpace(n.Token) != ""),
			logx.Int64("notifier.telegram.chat_id", n.ChatID),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// NeedsRestart lists changed sections that only take effect after a restart.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
