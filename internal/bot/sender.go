package bot

import (
	"context"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"poweronbot/pkg/logx"
)

// Sender delivers one text message to one chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

const defaultSendRatePerSec = 20

// Dispatcher sends through the Telegram API behind a global token-bucket
// limiter, staying under the Bot API's flood ceiling. A failed send is logged
// and dropped; schedule state has already been persisted by then and the next
// change will produce a fresh message anyway.
type Dispatcher struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	log     logx.Logger
}

func NewDispatcher(b *tele.Bot, ratePerSec int, log logx.Logger) *Dispatcher {
	if ratePerSec <= 0 {
		ratePerSec = defaultSendRatePerSec
	}
	return &Dispatcher{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
	}
}

func (d *Dispatcher) Send(ctx context.Context, chatID int64, text string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := d.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		DisableWebPagePreview: true,
	})
	if err != nil {
		d.log.Warn("telegram send failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	return err
}
