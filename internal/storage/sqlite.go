package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gcontrib/internal/plan"
	logx "gcontrib/pkg/logx"
)

// Store is the SQLite-backed plan store. It is safe for concurrent use.
type Store struct {
	db    *sql.DB
	path  string
	log   logx.Logger
	retry RetryPolicy
	now   func() time.Time
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Accounts ----

// RegisterAccount inserts a new account and returns the name as stored.
func (s *Store) RegisterAccount(ctx context.Context, name, repository string) (string, error) {
	name = strings.TrimSpace(name)
	repository = strings.TrimSpace(repository)
	if name == "" {
		return "", errors.New("register account: name is required")
	}
	if repository == "" {
		return "", errors.New("register account: repository is required")
	}

	var stored string
	err := s.retry.Do(ctx, "register_account", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO accounts(name, repository) VALUES(?, ?) RETURNING name`,
			name, repository,
		).Scan(&stored)
	})
	if err != nil {
		if isConstraint(err) {
			return "", &DuplicateKeyError{Table: "accounts", Key: name, Err: err}
		}
		return "", fmt.Errorf("register account %q: %w", name, err)
	}
	return stored, nil
}

// ListAccounts returns every registered account name. Callers must not
// depend on the order.
func (s *Store) ListAccounts(ctx context.Context) ([]string, error) {
	var names []string
	err := s.retry.Do(ctx, "list_accounts", func(ctx context.Context) error {
		names = names[:0]
		rows, err := s.db.QueryContext(ctx, `SELECT name FROM accounts ORDER BY rowid`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				return err
			}
			names = append(names, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return names, nil
}

// Repository returns the repository reference registered for name.
func (s *Store) Repository(ctx context.Context, name string) (string, error) {
	var repo string
	err := s.retry.Do(ctx, "get_repository", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT repository FROM accounts WHERE name = ?`, name).Scan(&repo)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", &NotFoundError{Table: "accounts", Key: name}
	}
	if err != nil {
		return "", fmt.Errorf("get repository %q: %w", name, err)
	}
	return repo, nil
}

// ---- Plan ----

// WritePlan persists every entry of p in one BEGIN IMMEDIATE transaction.
// New entries start unexecuted. If any date already exists the whole batch
// is rolled back and a *DuplicateKeyError is returned.
func (s *Store) WritePlan(ctx context.Context, p plan.Plan) error {
	if len(p) == 0 {
		return nil
	}
	if err := p.Validate(); err != nil {
		return err
	}
	dates := p.Dates()
	err := s.retry.Do(ctx, "write_plan", func(ctx context.Context) error {
		return s.writePlanOnce(ctx, p, dates)
	})
	if err != nil {
		var dup *DuplicateKeyError
		if errors.As(err, &dup) {
			return err
		}
		return fmt.Errorf("write plan (%d entries): %w", len(dates), err)
	}
	return nil
}

func (s *Store) writePlanOnce(ctx context.Context, p plan.Plan, dates []plan.Date) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Acquire the write lock up front so readers never see a partial plan.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			// Background: the rollback must run even if ctx is canceled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	stmt, err := conn.PrepareContext(ctx, `INSERT INTO plan_entries(date, unit_count, executed) VALUES(?, ?, 0)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range dates {
		if _, err := stmt.ExecContext(ctx, d.String(), p[d]); err != nil {
			if isConstraint(err) {
				return &DuplicateKeyError{Table: "plan_entries", Key: d.String(), Err: err}
			}
			return err
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return err
	}
	committed = true
	return nil
}

// Count returns the unit count planned for d.
func (s *Store) Count(ctx context.Context, d plan.Date) (int, error) {
	e, err := s.Entry(ctx, d)
	if err != nil {
		return 0, err
	}
	return e.UnitCount, nil
}

// Entry returns the full plan row for d.
func (s *Store) Entry(ctx context.Context, d plan.Date) (plan.Entry, error) {
	var (
		count    int
		executed int
	)
	err := s.retry.Do(ctx, "read_entry", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`SELECT unit_count, executed FROM plan_entries WHERE date = ?`, d.String(),
		).Scan(&count, &executed)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return plan.Entry{}, &NotFoundError{Table: "plan_entries", Key: d.String()}
	}
	if err != nil {
		return plan.Entry{}, fmt.Errorf("read entry %s: %w", d, err)
	}
	return plan.Entry{Date: d, UnitCount: count, Executed: executed != 0}, nil
}

// HasPlanForToday reports whether an entry exists for the current local date,
// regardless of its executed flag.
func (s *Store) HasPlanForToday(ctx context.Context) (bool, error) {
	today := plan.DateOf(s.now())
	var one int
	err := s.retry.Do(ctx, "has_plan_for_today", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT 1 FROM plan_entries WHERE date = ?`, today.String()).Scan(&one)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has plan for %s: %w", today, err)
	}
	return true, nil
}

// HasExecuted reports whether d is marked executed. A missing entry reports false.
func (s *Store) HasExecuted(ctx context.Context, d plan.Date) (bool, error) {
	e, err := s.Entry(ctx, d)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.Executed, nil
}

// MarkExecuted flips d's executed flag. Repeating it for an executed date
// succeeds; a missing date fails with ErrNotFound / ErrInvalidState and
// creates nothing.
func (s *Store) MarkExecuted(ctx context.Context, d plan.Date) error {
	var matched string
	err := s.retry.Do(ctx, "mark_executed", func(ctx context.Context) error {
		// RETURNING yields every row matched by WHERE, including rows whose
		// flag is already 1, so a repeat call is not mistaken for a miss.
		return s.db.QueryRowContext(ctx,
			`UPDATE plan_entries SET executed = 1 WHERE date = ? RETURNING date`, d.String(),
		).Scan(&matched)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Table: "plan_entries", Key: d.String(), transition: true}
	}
	if err != nil {
		return fmt.Errorf("mark executed %s: %w", d, err)
	}
	return nil
}

// Horizon summarizes entries on or after from.
func (s *Store) Horizon(ctx context.Context, from plan.Date) (Horizon, error) {
	h := Horizon{From: from}
	var last string
	err := s.retry.Do(ctx, "horizon", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(*),
			        COALESCE(SUM(CASE WHEN executed = 0 THEN 1 ELSE 0 END), 0),
			        COALESCE(MAX(date), '')
			   FROM plan_entries WHERE date >= ?`, from.String(),
		).Scan(&h.Remaining, &h.Pending, &last)
	})
	if err != nil {
		return Horizon{}, fmt.Errorf("horizon from %s: %w", from, err)
	}
	if last != "" {
		d, err := plan.ParseDate(last)
		if err != nil {
			return Horizon{}, fmt.Errorf("horizon: corrupt date %q: %w", last, err)
		}
		h.Last = d
	}
	return h, nil
}
