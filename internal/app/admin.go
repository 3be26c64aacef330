package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gcontrib/internal/scheduler"
	logx "gcontrib/pkg/logx"
)

// Account is a registered account with its repository.
type Account struct {
	Name       string `json:"name"`
	Repository string `json:"repository"`
}

// RegisterAccount stores a new account. Duplicates are rejected.
func (a *App) RegisterAccount(ctx context.Context, name, repo string) error {
	got, err := a.store.RegisterAccount(ctx, strings.TrimSpace(name), strings.TrimSpace(repo))
	if err != nil {
		return err
	}
	a.log.Info("account registered", logx.String("account", got), logx.String("repository", strings.TrimSpace(repo)))
	return nil
}

// Accounts lists accounts in registration order.
func (a *App) Accounts(ctx context.Context) ([]Account, error) {
	names, err := a.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(names))
	for _, n := range names {
		repo, err := a.store.Repository(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, Account{Name: n, Repository: repo})
	}
	return out, nil
}

func (a *App) Repository(ctx context.Context, name string) (string, error) {
	return a.store.Repository(ctx, strings.TrimSpace(name))
}

// RunOnce performs a single plan/execute cycle for today.
func (a *App) RunOnce(ctx context.Context) (scheduler.Outcome, error) {
	return a.sched.RunOnce(ctx)
}

func (a *App) Status(ctx context.Context) (scheduler.Snapshot, error) {
	return a.sched.Snapshot(ctx)
}

// WriteStatus renders a snapshot as aligned key/value lines.
func WriteStatus(w io.Writer, s scheduler.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	last := "-"
	if !s.LastDate.IsZero() {
		last = s.LastDate.String()
	}
	rows := [][2]string{
		{"today", s.Today.String()},
		{"trigger", s.At + " " + s.Timezone},
		{"next run", s.NextTrigger.Format(time.RFC3339)},
		{"planned", fmt.Sprint(s.Planned)},
		{"executed", fmt.Sprint(s.Executed)},
		{"count", fmt.Sprint(s.Count)},
		{"remaining", fmt.Sprint(s.Remaining)},
		{"pending", fmt.Sprint(s.Pending)},
		{"plan ends", last},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}
