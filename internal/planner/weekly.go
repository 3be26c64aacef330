// Package planner generates commit plans from a weekly pattern.
package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gcontrib/internal/plan"
)

// Weekly assigns each date the count for its weekday, unless an override
// pins that date.
type Weekly struct {
	counts    [7]int
	overrides map[plan.Date]int
}

// NewWeekly takes seven counts, Sunday first, and optional per-date overrides
// keyed "YYYY-MM-DD".
func NewWeekly(counts []int, overrides map[string]int) (*Weekly, error) {
	if len(counts) != 7 {
		return nil, fmt.Errorf("planner: need 7 weekday counts, got %d", len(counts))
	}
	w := &Weekly{overrides: make(map[plan.Date]int, len(overrides))}
	for i, n := range counts {
		if n < 0 {
			return nil, fmt.Errorf("planner: negative count %d for %s", n, time.Weekday(i))
		}
		w.counts[i] = n
	}
	for k, n := range overrides {
		d, err := plan.ParseDate(k)
		if err != nil {
			return nil, fmt.Errorf("planner: override: %w", err)
		}
		if n < 0 {
			return nil, fmt.Errorf("planner: negative override %d on %s", n, d)
		}
		w.overrides[d] = n
	}
	return w, nil
}

// Count is the planned count for d.
func (w *Weekly) Count(d plan.Date) int {
	if n, ok := w.overrides[d]; ok {
		return n
	}
	return w.counts[d.Weekday()]
}

// Generate returns one entry per date in r, zero counts included, so the
// store knows the whole range was planned.
func (w *Weekly) Generate(ctx context.Context, r plan.Range) (plan.Plan, error) {
	if r.Days() == 0 {
		return nil, fmt.Errorf("planner: empty range %s", r)
	}
	p := make(plan.Plan, r.Days())
	r.Each(func(d plan.Date) { p[d] = w.Count(d) })
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// Overrides lists override dates in order.
func (w *Weekly) Overrides() []plan.Date {
	out := make([]plan.Date, 0, len(w.overrides))
	for d := range w.overrides {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
