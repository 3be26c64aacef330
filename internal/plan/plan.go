// Package plan holds the commit-plan domain types shared by the store,
// the scheduler and the collaborators that generate and execute plans.
package plan

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Plan maps a date to the number of units to produce on it.
type Plan map[Date]int

// Dates returns the plan's dates in ascending order.
func (p Plan) Dates() []Date {
	out := make([]Date, 0, len(p))
	for d := range p {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Validate rejects negative counts and zero dates.
func (p Plan) Validate() error {
	for d, n := range p {
		if d.IsZero() {
			return errors.New("plan contains a zero date")
		}
		if n < 0 {
			return fmt.Errorf("plan: negative unit count %d on %s", n, d)
		}
	}
	return nil
}

// Entry is one persisted plan row.
type Entry struct {
	Date      Date
	UnitCount int
	Executed  bool
}

// Range is an inclusive date range.
type Range struct {
	From Date
	To   Date
}

// Days returns the number of dates in r (0 if To is before From).
func (r Range) Days() int {
	if r.To.Before(r.From) {
		return 0
	}
	return r.From.DaysUntil(r.To) + 1
}

// Each calls fn for every date in r, ascending.
func (r Range) Each(fn func(Date)) {
	for d := r.From; !d.After(r.To); d = d.AddDays(1) {
		fn(d)
	}
}

func (r Range) String() string { return r.From.String() + ".." + r.To.String() }

// Generator produces a plan for a date range. A failure must leave no
// side effects; the caller writes the result atomically.
type Generator interface {
	Generate(ctx context.Context, r Range) (Plan, error)
}

// Executor produces count units for date.
//
// The scheduler calls it at most once per date under normal operation, but a
// crash between Execute and the executed flag being persisted can re-invoke
// it, so implementations should tolerate a repeat call.
type Executor interface {
	Execute(ctx context.Context, date Date, count int) error
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, r Range) (Plan, error)

func (f GeneratorFunc) Generate(ctx context.Context, r Range) (Plan, error) { return f(ctx, r) }

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, date Date, count int) error

func (f ExecutorFunc) Execute(ctx context.Context, date Date, count int) error {
	return f(ctx, date, count)
}
