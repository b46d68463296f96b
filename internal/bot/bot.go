// Package bot is the Telegram surface: command routing, the per-chat input
// modes for subgroup setup, and delivery of schedule notifications.
//
// Every handler that touches subscriber state runs as a unit on the global
// serialization queue, so command handling never races with a background
// sweep.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"poweronbot/internal/config"
	"poweronbot/internal/serial"
	"poweronbot/internal/store"
	"poweronbot/pkg/logx"
)

type Bot struct {
	tb      *tele.Bot
	store   *store.Store
	queue   *serial.Queue
	checker *Checker
	send    Sender
	log     logx.Logger
}

func New(cfg config.TelegramConfig, st *store.Store, q *serial.Queue, f Fetcher, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.PollTimeout, 10*time.Second)

	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}

	d := NewDispatcher(tb, cfg.SendRatePerSec, log)
	b := &Bot{
		tb:      tb,
		store:   st,
		queue:   q,
		checker: NewChecker(st, f, d, log),
		send:    d,
		log:     log,
	}
	b.routes()
	return b, nil
}

// EnqueueSweep hands one background sweep to the serialization queue. Used as
// the poll runner's trigger; a full queue drops the sweep, the next tick
// covers it.
func (b *Bot) EnqueueSweep() {
	err := b.queue.Enqueue(serial.Unit{Name: "sweep", Run: b.checker.CheckAll})
	if err != nil {
		b.log.Warn("sweep not enqueued", logx.Err(err))
	}
}

// Start launches the long-poll loop in the background.
func (b *Bot) Start() {
	go func() {
		b.log.Info("telegram polling started")
		b.tb.Start()
	}()
}

// Stop halts the long-poll loop. Bounded by a grace timer because a pending
// getUpdates call can hold Stop for the full poll timeout.
func (b *Bot) Stop() {
	done := make(chan struct{})
	go func() {
		b.tb.Stop()
		close(done)
	}()
	select {
	case <-done:
		b.log.Info("telegram polling stopped")
	case <-time.After(3 * time.Second):
		b.log.Warn("telegram stop grace elapsed, continuing shutdown")
	}
}

func (b *Bot) routes() {
	b.serialized("/start", b.cmdStart)
	b.serialized("/subgroups", b.cmdSubgroups)
	b.serialized("/add", b.cmdAdd)
	b.serialized("/remove", b.cmdRemove)
	b.serialized("/check", b.cmdCheck)
	b.serialized("/watch", b.cmdWatch)
	b.serialized("/stop", b.cmdStop)

	// Read-only commands answer straight from the store snapshot.
	b.tb.Handle("/help", func(c tele.Context) error {
		return c.Send(textHelp)
	})
	b.tb.Handle("/list", func(c tele.Context) error {
		if c.Chat() == nil {
			return nil
		}
		return c.Send(b.listText(c.Chat().ID))
	})
	b.tb.Handle("/status", func(c tele.Context) error {
		if c.Chat() == nil {
			return nil
		}
		return c.Send(b.statusText(c.Chat().ID))
	})

	b.tb.Handle(tele.OnText, func(c tele.Context) error {
		ch := c.Chat()
		if ch == nil {
			return nil
		}
		text := strings.TrimSpace(c.Text())
		if strings.HasPrefix(text, "/") {
			return c.Send(textUnknown)
		}
		return b.enqueue("text", ch.ID, func(ctx context.Context) error {
			return b.handleText(ctx, ch.ID, text)
		})
	})
}

// serialized registers a command whose handler runs on the queue. The
// command's inline argument (everything after "/cmd ") is passed through so
// e.g. "/add 1.1" applies without a collecting round-trip.
func (b *Bot) serialized(command string, fn func(ctx context.Context, chatID int64, payload string) error) {
	name := strings.TrimPrefix(command, "/")
	b.tb.Handle(command, func(c tele.Context) error {
		ch := c.Chat()
		if ch == nil {
			return nil
		}
		var payload string
		if m := c.Message(); m != nil {
			payload = m.Payload
		}
		return b.enqueue(name, ch.ID, func(ctx context.Context) error {
			return fn(ctx, ch.ID, payload)
		})
	})
}

func (b *Bot) enqueue(name string, chatID int64, fn func(ctx context.Context) error) error {
	err := b.queue.Enqueue(serial.Unit{Name: name, Run: fn})
	if err == nil {
		return nil
	}
	b.log.Warn("command not enqueued",
		logx.String("command", name), logx.Int64("chat_id", chatID), logx.Err(err))
	return b.send.Send(context.Background(), chatID, textBusy)
}
