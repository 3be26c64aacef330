package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "gcontrib/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Open creates the parent directory, opens the database and ensures the
// schema exists. It is safe to call on every startup.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = DefaultPath()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, unavailable("open", err)
		}
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}

	uri, err := dsn(path, busy)
	if err != nil {
		return nil, unavailable("open", err)
	}
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, unavailable("open", err)
	}
	// SQLite prefers a single writer; one connection also keeps
	// BEGIN IMMEDIATE and the statements that follow on the same handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			log.Debug("database busy; retrying",
				logx.Int("attempt", attempt),
				logx.Duration("delay", delay),
				logx.Err(err),
			)
		}
	}

	st := &Store{
		db:    db,
		path:  path,
		log:   log,
		retry: retry,
		now:   now,
	}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// dsn builds a file: URI for path. The path is made absolute and escaped,
// so '#', '?' and '%' in directory or file names stay part of the path.
func dsn(path string, busy time.Duration) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: q.Encode()}
	return u.String(), nil
}

// migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	err = s.retry.Do(ctx, "migrate", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, string(b))
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	// Anything else here means the file could not be used as a database.
	return unavailable("migrate", err)
}
