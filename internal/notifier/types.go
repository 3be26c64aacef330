package notifier

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("notifier disabled")

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

type nopSender struct{}

func (nopSender) Send(context.Context, string) error { return ErrDisabled }

// Nop is a Sender that is always disabled.
func Nop() Sender { return nopSender{} }

type Config struct {
	// Events to forward; empty means DefaultEvents.
	Events     []string
	RatePerSec float64
	RetryMax   int
	RetryBase  time.Duration
	Prefix     string
}

type HistoryItem struct {
	At    time.Time
	Event string
	Text  string
	Error string
}
