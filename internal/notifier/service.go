package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gcontrib/internal/eventbus"
	"gcontrib/internal/scheduler"
	logx "gcontrib/pkg/logx"
)

// DefaultEvents are forwarded when Config.Events is empty.
var DefaultEvents = []string{scheduler.EventDayExecuted, scheduler.EventCycleFailed}

const historySize = 100

// Service is safe for concurrent use.
type Service struct {
	cfg     Config
	sender  Sender
	bus     eventbus.Bus
	log     logx.Logger
	limiter *rate.Limiter

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sender == nil {
		sender = Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if len(cfg.Events) == 0 {
		cfg.Events = DefaultEvents
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	return &Service{
		cfg:     cfg,
		sender:  sender,
		bus:     bus,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
}

// Run forwards events until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ch, unsub := s.bus.Subscribe(32, s.cfg.Events...)
	defer unsub()
	s.log.Debug("notifier started", logx.Any("events", s.cfg.Events))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			text := Format(ev)
			if s.cfg.Prefix != "" {
				text = s.cfg.Prefix + " " + text
			}
			err := s.deliver(ctx, text)
			s.appendHistory(ev.Type, text, err)
			switch {
			case err == nil:
			case errors.Is(err, ErrDisabled), ctx.Err() != nil:
			default:
				s.log.Warn("notification dropped", logx.String("event", ev.Type), logx.Err(err))
			}
		}
	}
}

// deliver sends with linear backoff between attempts.
func (s *Service) deliver(ctx context.Context, text string) error {
	var err error
	for attempt := 1; attempt <= s.cfg.RetryMax; attempt++ {
		if werr := s.limiter.Wait(ctx); werr != nil {
			return werr
		}
		if err = s.sender.Send(ctx, text); err == nil || errors.Is(err, ErrDisabled) {
			return err
		}
		if attempt == s.cfg.RetryMax {
			break
		}
		t := time.NewTimer(time.Duration(attempt) * s.cfg.RetryBase)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("send failed after %d attempts: %w", s.cfg.RetryMax, err)
}

// History returns recent notifications, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(event, text string, err error) {
	it := HistoryItem{At: time.Now(), Event: event, Text: text}
	if err != nil {
		it.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

// Format renders a scheduler event as a one-line message.
func Format(ev eventbus.Event) string {
	switch d := ev.Data.(type) {
	case scheduler.DayEvent:
		switch ev.Type {
		case scheduler.EventDayExecuted:
			return fmt.Sprintf("✅ %s: %d unit(s) done", d.Date, d.Count)
		case scheduler.EventDaySkipped:
			return fmt.Sprintf("⏭ %s: no plan entry, skipped", d.Date)
		case scheduler.EventCycleFailed:
			return fmt.Sprintf("❌ %s: cycle failed: %s", d.Date, d.Error)
		}
	case scheduler.PlanEvent:
		return fmt.Sprintf("🗓 plan written for %s (%d entries)", d.Range, d.Entries)
	case scheduler.TriggerEvent:
		return fmt.Sprintf("⏰ next run %s", d.Next.Format(time.RFC3339))
	}
	if ev.Data == nil {
		return ev.Type
	}
	return strings.TrimSpace(fmt.Sprintf("%s %v", ev.Type, ev.Data))
}
