package config

// Config is the whole daemon configuration. Files may be JSON, YAML or TOML;
// all three decode through the same strict JSON path, so key names below
// are the names in every format.
type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Planner   PlannerConfig   `json:"planner"`
	Executor  ExecutorConfig  `json:"executor"`
	Notifier  NotifierConfig  `json:"notifier"`
}

// StorageConfig controls the SQLite plan store.
//
// Example:
//
//	"storage": { "path": "resources/gcontrib.db", "busy_timeout": "1s" }
type StorageConfig struct {
	Path string `json:"path"`

	// BusyTimeout bounds a single attempt (Go duration string).
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// RetryMax is the number of attempts for a busy database, RetryBase the
	// linear step between them ("100ms" waits 100ms, 200ms, ...).
	RetryMax  int    `json:"retry_max,omitempty"`
	RetryBase string `json:"retry_base,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the daily trigger.
type SchedulerConfig struct {
	// At is the local trigger time, "HH:MM".
	At string `json:"at"`

	// Timezone is an IANA name; empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`

	// Heartbeat is an optional status log schedule: cron ("*/30 * * * *"),
	// HH:MM interval or Go duration. Empty disables it.
	Heartbeat string `json:"heartbeat,omitempty"`

	// MaxSleep caps a single sleep while waiting for the trigger.
	MaxSleep string `json:"max_sleep,omitempty"`
}

// PlannerConfig shapes generated plans.
type PlannerConfig struct {
	HorizonDays int `json:"horizon_days"`

	// Weekly holds the unit count per weekday, Sunday first.
	Weekly []int `json:"weekly"`

	// Overrides pins counts for specific dates ("2024-12-25": 0).
	Overrides map[string]int `json:"overrides,omitempty"`
}

// ExecutorConfig controls the work journal.
type ExecutorConfig struct {
	Journal     string  `json:"journal"`
	UnitsPerSec float64 `json:"units_per_sec,omitempty"`
	Burst       int     `json:"burst,omitempty"`
}

type NotifierConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`

	// Events limits forwarding to these event types; empty means
	// day.executed and cycle.failed.
	Events []string `json:"events,omitempty"`
}
