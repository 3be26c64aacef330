// Package work executes plan entries by appending units to a JSONL journal.
package work

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"gcontrib/internal/plan"
	logx "gcontrib/pkg/logx"
)

// Record is one produced unit, one JSON object per line.
type Record struct {
	ID         string    `json:"id"`
	Date       plan.Date `json:"date"`
	Seq        int       `json:"seq"`
	Account    string    `json:"account,omitempty"`
	Repository string    `json:"repository,omitempty"`
	At         time.Time `json:"at"`
}

// Accounts resolves which account the units are attributed to.
type Accounts interface {
	ListAccounts(ctx context.Context) ([]string, error)
	Repository(ctx context.Context, name string) (string, error)
}

type Options struct {
	Path string

	// UnitsPerSec paces writes; <= 0 means unlimited.
	UnitsPerSec float64
	Burst       int

	Accounts Accounts
	Now      func() time.Time
}

// Journal is a plan.Executor. Execute is safe to repeat for a date: units
// already in the journal count toward the total.
type Journal struct {
	path     string
	limiter  *rate.Limiter
	accounts Accounts
	now      func() time.Time
	log      logx.Logger

	mu sync.Mutex
}

func NewJournal(opts Options, log logx.Logger) (*Journal, error) {
	if opts.Path == "" {
		return nil, errors.New("work: journal path required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	limit := rate.Inf
	if opts.UnitsPerSec > 0 {
		limit = rate.Limit(opts.UnitsPerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Journal{
		path:     opts.Path,
		limiter:  rate.NewLimiter(limit, burst),
		accounts: opts.Accounts,
		now:      opts.Now,
		log:      log,
	}, nil
}

func (j *Journal) Path() string { return j.path }

// Execute appends units for d until the journal holds count of them.
func (j *Journal) Execute(ctx context.Context, d plan.Date, count int) error {
	if count < 0 {
		return fmt.Errorf("work: negative count %d for %s", count, d)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	existing, err := j.records(d)
	if err != nil {
		return err
	}
	if len(existing) >= count {
		if count > 0 {
			j.log.Debug("journal already complete", logx.Stringer("date", d), logx.Int("count", count))
		}
		return nil
	}

	account, repo, err := j.attribution(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("work: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("work: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if torn, err := endsMidLine(f); err != nil {
		return fmt.Errorf("work: %w", err)
	} else if torn {
		_ = w.WriteByte('\n')
	}
	enc := json.NewEncoder(w)
	written := 0
	for seq := len(existing) + 1; seq <= count; seq++ {
		if err := j.limiter.Wait(ctx); err != nil {
			return j.finish(w, f, written, fmt.Errorf("work: %w", err))
		}
		rec := Record{ID: uuid.NewString(), Date: d, Seq: seq, Account: account, Repository: repo, At: j.now()}
		if err := enc.Encode(rec); err != nil {
			return j.finish(w, f, written, fmt.Errorf("work: encode: %w", err))
		}
		written++
	}
	if err := j.finish(w, f, written, nil); err != nil {
		return err
	}
	j.log.Info("units written",
		logx.Stringer("date", d),
		logx.Int("written", written),
		logx.Int("resumed_from", len(existing)),
		logx.String("account", account),
	)
	return nil
}

// finish flushes whatever was encoded so a partial run is resumable.
func (j *Journal) finish(w *bufio.Writer, f *os.File, written int, cause error) error {
	err := w.Flush()
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		err = fmt.Errorf("work: flush: %w", err)
	}
	if cause != nil {
		j.log.Warn("journal write interrupted", logx.Int("written", written), logx.Err(cause))
		return errors.Join(cause, err)
	}
	return err
}

func endsMidLine(f *os.File) (bool, error) {
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return false, err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

func (j *Journal) attribution(ctx context.Context) (string, string, error) {
	if j.accounts == nil {
		return "", "", nil
	}
	names, err := j.accounts.ListAccounts(ctx)
	if err != nil {
		return "", "", fmt.Errorf("work: accounts: %w", err)
	}
	if len(names) == 0 {
		return "", "", nil
	}
	repo, err := j.accounts.Repository(ctx, names[0])
	if err != nil {
		return "", "", fmt.Errorf("work: accounts: %w", err)
	}
	return names[0], repo, nil
}

// Records returns the units recorded for d.
func (j *Journal) Records(d plan.Date) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records(d)
}

func (j *Journal) records(d plan.Date) ([]Record, error) {
	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("work: %w", err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			// A torn last line from a crash; the unit is rewritten.
			j.log.Warn("skipping unreadable journal line", logx.Int("line", line), logx.Err(err))
			continue
		}
		if rec.Date == d {
			out = append(out, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("work: read journal: %w", err)
	}
	return out, nil
}
