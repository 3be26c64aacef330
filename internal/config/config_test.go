package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gcontrib/internal/plan"
	"gcontrib/internal/storage"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestParseMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.json"))
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
	require.Same(t, cfg, m.Get())
}

func TestParseJSONKeepsDefaultsForOmittedKeys(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{
		"scheduler": {"at": "07:30", "timezone": "UTC"},
		"planner": {"weekly": [1, 2, 3, 4, 5, 6, 7]}
	}`)
	cfg, err := NewManager(p).Load()
	require.NoError(t, err)
	require.Equal(t, "07:30", cfg.Scheduler.At)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, cfg.Planner.Weekly)
	require.Equal(t, storage.DefaultPath(), cfg.Storage.Path)
	require.True(t, cfg.Logging.Console)
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", `
storage:
  path: data/plan.db
  busy_timeout: 2s
scheduler:
  at: "21:00"
  heartbeat: "@hourly"
planner:
  horizon_days: 30
  weekly: [0, 1, 1, 1, 1, 1, 0]
  overrides:
    2024-12-25: 0
    "2024-12-31": 9
`)
	cfg, err := NewManager(p).Load()
	require.NoError(t, err)
	require.Equal(t, "data/plan.db", cfg.Storage.Path)
	require.Equal(t, 30, cfg.Planner.HorizonDays)
	require.Equal(t, map[string]int{"2024-12-25": 0, "2024-12-31": 9}, cfg.Planner.Overrides)

	opts, err := cfg.StoreOptions()
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, opts.BusyTimeout)
	require.Equal(t, storage.DefaultRetryBase, opts.Retry.BaseDelay)
}

func TestParseTOML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.toml", `
[scheduler]
at = "06:15"
timezone = "UTC"

[executor]
journal = "out/work.jsonl"
units_per_sec = 2.5

[notifier.telegram]
enabled = true
token = "123:abc"
chat_id = -100123
`)
	cfg, err := NewManager(p).Load()
	require.NoError(t, err)
	require.Equal(t, "out/work.jsonl", cfg.Executor.Journal)
	require.InDelta(t, 2.5, cfg.Executor.UnitsPerSec, 1e-9)
	require.Equal(t, int64(-100123), cfg.Notifier.Telegram.ChatID)

	sc, err := cfg.ScheduleOptions()
	require.NoError(t, err)
	require.Equal(t, 6, sc.At.Hour)
	require.Equal(t, 15, sc.At.Minute)
	require.Equal(t, time.UTC, sc.Location)
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := NewManager(writeFile(t, dir, "unknown.json", `{"schedular": {}}`)).Parse()
	require.Error(t, err)

	_, err = NewManager(writeFile(t, dir, "trailing.json", `{} {}`)).Parse()
	require.Error(t, err)

	_, err = NewManager(writeFile(t, dir, "unknown.yaml", "planner:\n  weeks: 3\n")).Parse()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, Validate(Defaults()))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad at", func(c *Config) { c.Scheduler.At = "25:00" }},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }},
		{"bad heartbeat", func(c *Config) { c.Scheduler.Heartbeat = "sometimes" }},
		{"short weekly", func(c *Config) { c.Planner.Weekly = []int{1, 2} }},
		{"negative weekly", func(c *Config) { c.Planner.Weekly = []int{0, 0, 0, -1, 0, 0, 0} }},
		{"bad override date", func(c *Config) { c.Planner.Overrides = map[string]int{"tomorrow": 1} }},
		{"bad busy timeout", func(c *Config) { c.Storage.BusyTimeout = "soon" }},
		{"empty store path", func(c *Config) { c.Storage.Path = " " }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"telegram without token", func(c *Config) { c.Notifier.Telegram = TelegramConfig{Enabled: true, ChatID: 1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			require.Error(t, Validate(cfg))
		})
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{"scheduler": {"at": "9pm"}}`)
	_, err := NewManager(p).Load()
	require.ErrorContains(t, err, "scheduler.at")
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := Defaults()
	newCfg := Defaults()
	newCfg.Logging.Level = "debug"
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	require.Equal(t, []string{"logging"}, changed)
	require.NotEmpty(t, attrs)
	require.Empty(t, NeedsRestart(changed))

	newCfg.Notifier.Telegram.Token = "secret"
	newCfg.Planner.Overrides = map[string]int{plan.NewDate(2024, 1, 1).String(): 3}
	changed, _ = SummarizeChange(oldCfg, newCfg)
	require.Equal(t, []string{"logging", "notifier", "planner"}, changed)
	require.Equal(t, []string{"notifier", "planner"}, NeedsRestart(changed))
}

func TestWatchPublishesChangedFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"logging": {"level": "info"}}`)

	m := NewManager(p)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Keep rewriting until the watcher is registered and picks it up.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			require.Equal(t, "debug", cfg.Logging.Level)
			require.Equal(t, "debug", m.Get().Logging.Level)
			return
		case <-tick.C:
			writeFile(t, dir, "config.json", `{"logging": {"level": "debug"}}`)
		case <-deadline:
			t.Fatal("no config published")
		}
	}
}

func TestWatchIgnoresInvalidRewrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{}`)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	writeFile(t, dir, "config.json", `{"scheduler": {"at": "99:99"}}`)
	require.Error(t, m.Reload(context.Background()))
	select {
	case <-ch:
		t.Fatal("invalid config must not be published")
	default:
	}
	require.Equal(t, DefaultAt, m.Get().Scheduler.At)
}
