package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "gcontrib/pkg/logx"
)

// HeartbeatSpec is a parsed status heartbeat schedule: either a cron
// expression or a fixed interval.
//
// Accepted forms:
//   - cron: "*/30 * * * *", "@hourly", "cron:0 9 * * *"
//   - duration: "15m", "every:2h"
//   - HH:MM as an interval: "01:30" is every 90 minutes
type HeartbeatSpec struct {
	Cron  string
	Every time.Duration
}

func (h HeartbeatSpec) String() string {
	if h.Cron != "" {
		return h.Cron
	}
	return "every " + h.Every.String()
}

var reIntervalHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// cronParser accepts 5- and 6-field specs plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseHeartbeat parses a heartbeat schedule. The cron expression is
// validated here so a bad config fails at startup.
func ParseHeartbeat(raw string) (HeartbeatSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return HeartbeatSpec{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "cron:"):
		return cronSpec(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return cronSpec(s)
	}
	return intervalSpec(s)
}

func cronSpec(expr string) (HeartbeatSpec, error) {
	if expr == "" {
		return HeartbeatSpec{}, fmt.Errorf("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return HeartbeatSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return HeartbeatSpec{Cron: expr}, nil
}

func intervalSpec(v string) (HeartbeatSpec, error) {
	var d time.Duration
	if m := reIntervalHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return HeartbeatSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return HeartbeatSpec{}, fmt.Errorf("invalid schedule %q (use cron like '*/30 * * * *', HH:MM like '01:30', or duration like '15m')", v)
		}
	}
	if d <= 0 {
		return HeartbeatSpec{}, fmt.Errorf("interval must be > 0")
	}
	return HeartbeatSpec{Every: d}, nil
}

// Heartbeat logs a status snapshot on spec until ctx is done. An empty
// spec disables it and returns immediately.
func (s *Service) Heartbeat(ctx context.Context, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	spec, err := ParseHeartbeat(raw)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(s.cfg.Location))
	job := cron.FuncJob(func() { s.logStatus(ctx) })
	if spec.Cron != "" {
		if _, err := c.AddJob(spec.Cron, job); err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
	} else {
		c.Schedule(cron.Every(spec.Every), job)
	}

	c.Start()
	s.log.Debug("heartbeat started", logx.Stringer("schedule", spec))
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-c.Stop().Done():
	case <-stopCtx.Done():
	}
	return nil
}

func (s *Service) logStatus(ctx context.Context) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		s.log.Warn("status snapshot failed", logx.Err(err))
		return
	}
	fields := []logx.Field{
		logx.Stringer("today", snap.Today),
		logx.Bool("planned", snap.Planned),
		logx.Bool("executed", snap.Executed),
		logx.Int("count", snap.Count),
		logx.Int("remaining", snap.Remaining),
		logx.Int("pending", snap.Pending),
		logx.Time("next_trigger", snap.NextTrigger),
	}
	if snap.LastOutcome != "" {
		fields = append(fields, logx.String("last_outcome", string(snap.LastOutcome)))
	}
	if snap.LastError != "" {
		fields = append(fields, logx.String("last_error", snap.LastError))
	}
	s.log.Info("status", fields...)
}
