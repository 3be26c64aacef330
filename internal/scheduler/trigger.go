package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gcontrib/internal/plan"
)

// TimeOfDay is a local wall-clock time (hour:minute).
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// ParseTimeOfDay parses "HH:MM" (00-23, 00-59).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, err := parseHHMM(s)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// NextTrigger returns the first instant strictly after now at which the
// wall clock in now's location reads at. It must be recomputed every cycle.
func NextTrigger(at TimeOfDay, now time.Time) time.Time {
	loc := now.Location()
	today := plan.DateOf(now)
	if cand := WallClock(today, at, loc); cand.After(now) {
		return cand
	}
	return WallClock(today.AddDays(1), at, loc)
}

// WallClock returns the instant at which the clock in loc reads at on d.
//
// Daylight-saving edges resolve deterministically:
//   - a repeated wall clock (fall back) resolves to the earlier instant
//   - a skipped wall clock (spring forward) resolves past the gap by the
//     same distance, so 02:30 in a 02:00-03:00 gap becomes 03:30
func WallClock(d plan.Date, at TimeOfDay, loc *time.Location) time.Time {
	wall := time.Date(d.Year, d.Month, d.Day, at.Hour, at.Minute, 0, 0, time.UTC)

	// Offsets in effect around the wall clock; transitions are far more
	// than a day apart, so these cover both sides of any edge on d.
	offsets := [3]int{}
	for i, shift := range []time.Duration{-24 * time.Hour, 0, 24 * time.Hour} {
		_, offsets[i] = wall.Add(shift).In(loc).Zone()
	}

	var (
		best  time.Time
		found bool
	)
	for _, off := range offsets {
		t := wall.Add(-time.Duration(off) * time.Second).In(loc)
		if !sameWall(t, wall) {
			continue
		}
		if !found || t.Before(best) {
			best, found = t, true
		}
	}
	if found {
		return best
	}
	// Skipped: interpret the wall clock with the offset from before the gap.
	return wall.Add(-time.Duration(offsets[0]) * time.Second).In(loc)
}

func sameWall(t, wall time.Time) bool {
	y, m, d := t.Date()
	wy, wm, wd := wall.Date()
	return y == wy && m == wm && d == wd && t.Hour() == wall.Hour() && t.Minute() == wall.Minute()
}
