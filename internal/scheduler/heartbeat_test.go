package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestParseHeartbeatVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw   string
		cron  string
		every time.Duration
	}{
		{raw: "*/30 * * * *", cron: "*/30 * * * *"},
		{raw: "@hourly", cron: "@hourly"},
		{raw: "cron:0 9 * * *", cron: "0 9 * * *"},
		{raw: "15m", every: 15 * time.Minute},
		{raw: "every:2h", every: 2 * time.Hour},
		{raw: "01:30", every: 90 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseHeartbeat(tt.raw)
			if err != nil {
				t.Fatalf("ParseHeartbeat(%q) error: %v", tt.raw, err)
			}
			if got.Cron != tt.cron || got.Every != tt.every {
				t.Fatalf("ParseHeartbeat(%q) = %+v", tt.raw, got)
			}
		})
	}
}

func TestParseHeartbeatInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "soon", "0s", "cron:", "* * *", "01:75"} {
		if _, err := ParseHeartbeat(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestHeartbeatDisabledReturnsImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC), nil)
	if err := h.svc.Heartbeat(context.Background(), "  "); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := h.svc.Heartbeat(context.Background(), "bogus"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestHeartbeatStopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Heartbeat(ctx, "1h") }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Heartbeat: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Heartbeat did not stop")
	}
}
