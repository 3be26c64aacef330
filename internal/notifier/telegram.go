package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int

	// APIURL overrides the Bot API endpoint (tests, local bot servers).
	APIURL string
}

// Telegram sends through the Bot API. It never polls for updates.
type Telegram struct {
	bot  *tele.Bot
	chat *tele.Chat
	opts *tele.SendOptions
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		opts: &tele.SendOptions{ThreadID: cfg.ThreadID, DisableWebPagePreview: true},
	}, nil
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, t.opts)
	return err
}
