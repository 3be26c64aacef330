package storage

import (
	"path/filepath"
	"time"

	"gcontrib/internal/plan"
)

const (
	DefaultDir         = "resources"
	DefaultFile        = "gcontrib.db"
	DefaultBusyTimeout = time.Second
)

// DefaultPath is the relative database location used when Config.Path is empty.
func DefaultPath() string { return filepath.Join(DefaultDir, DefaultFile) }

// Config configures the plan store.
type Config struct {
	// Path of the SQLite file; parent directories are created on open.
	Path string

	// BusyTimeout bounds how long a single attempt waits on a lock
	// (PRAGMA busy_timeout). 0 means DefaultBusyTimeout.
	BusyTimeout time.Duration

	Retry RetryPolicy

	// Now supplies "today" for HasPlanForToday. Nil uses time.Now.
	Now func() time.Time
}

// Horizon summarizes the plan from a given date onward.
type Horizon struct {
	From      plan.Date
	Remaining int       // entries on or after From
	Pending   int       // of those, not yet executed
	Last      plan.Date // zero if Remaining == 0
}
