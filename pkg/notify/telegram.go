// Package notify reaches the gate operator over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"github.com/MrCodeEU/gatekeeper/pkg/metrics"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Callback data carried by the two operator buttons.
const (
	CallbackOpen   = "open_gate"
	CallbackCancel = "cancel"
)

// ErrNotConfigured is returned when no bot token or chat id is set.
var ErrNotConfigured = errors.New("telegram not configured")

// Reply is the operator's answer to a button message.
type Reply int

const (
	ReplyTimeout Reply = iota
	ReplyOpen
	ReplyCancel
)

func (r Reply) String() string {
	switch r {
	case ReplyOpen:
		return "+1"
	case ReplyCancel:
		return "-1"
	}
	return "timeout"
}

// Button is one inline button, one per row.
type Button struct {
	Text string
	Data string
}

// BotAPI is the subset of tgbotapi.BotAPI the notifier uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// Telegram posts to one chat and waits for inline button presses.
type Telegram struct {
	bot    BotAPI
	chatID int64

	pollTimeout int
	retryDelay  time.Duration
	now         func() time.Time
}

// NewTelegram connects a bot with token and authorizes it.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, ErrNotConfigured
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	bot.Debug = false

	logging.Component("notify").WithField("account", bot.Self.UserName).Info("Authorized on Telegram")
	return NewTelegramWithBot(bot, chatID), nil
}

// NewTelegramWithBot wraps an existing bot client.
func NewTelegramWithBot(bot BotAPI, chatID int64) *Telegram {
	return &Telegram{
		bot:         bot,
		chatID:      chatID,
		pollTimeout: 1,
		retryDelay:  time.Second,
		now:         time.Now,
	}
}

// Post sends text, as a photo caption when photo is set, with optional buttons.
// It returns the id of the posted message.
func (t *Telegram) Post(ctx context.Context, text string, photo []byte, buttons []Button) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var msg tgbotapi.Chattable
	if len(photo) > 0 {
		p := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{Name: "face.jpg", Bytes: photo})
		p.Caption = text
		if len(buttons) > 0 {
			p.ReplyMarkup = keyboard(buttons)
		}
		msg = p
	} else {
		m := tgbotapi.NewMessage(t.chatID, text)
		if len(buttons) > 0 {
			m.ReplyMarkup = keyboard(buttons)
		}
		msg = m
	}

	sent, err := t.bot.Send(msg)
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("send telegram message: %w", err)
	}

	metrics.Notifications.WithLabelValues("posted").Inc()
	logging.Component("notify").WithFields(logging.Fields{
		"message_id": sent.MessageID,
		"buttons":    len(buttons),
	}).Debug("Message posted")
	return sent.MessageID, nil
}

func keyboard(buttons []Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// PollForButton waits for a button press on messageID. Updates queued before
// the call are skipped. The deadline is checked between polls, so the wait can
// overrun timeout by one poll.
func (t *Telegram) PollForButton(ctx context.Context, messageID int, timeout time.Duration) (Reply, error) {
	log := logging.Component("notify").WithField("message_id", messageID)

	offset, err := t.latestUpdateID()
	if err != nil {
		log.WithError(err).Warn("Reading pending updates failed")
	}
	offset++

	start := t.now()
	for {
		if err := ctx.Err(); err != nil {
			return ReplyTimeout, err
		}
		if t.now().Sub(start) > timeout {
			metrics.Notifications.WithLabelValues("timeout").Inc()
			log.Info("No operator reply")
			return ReplyTimeout, nil
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = t.pollTimeout
		updates, err := t.bot.GetUpdates(u)
		if err != nil {
			log.WithError(err).Warn("Polling updates failed")
			if err := sleep(ctx, t.retryDelay); err != nil {
				return ReplyTimeout, err
			}
			continue
		}

		for _, upd := range updates {
			offset = upd.UpdateID + 1

			cq := upd.CallbackQuery
			if cq == nil || cq.Message == nil || cq.Message.MessageID != messageID {
				continue
			}

			if _, err := t.bot.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
				log.WithError(err).Warn("Answering callback failed")
			}

			switch cq.Data {
			case CallbackOpen:
				metrics.Notifications.WithLabelValues("open").Inc()
				log.Info("Operator opened the gate")
				return ReplyOpen, nil
			case CallbackCancel:
				metrics.Notifications.WithLabelValues("cancel").Inc()
				log.Info("Operator refused")
				return ReplyCancel, nil
			}
		}
	}
}

func (t *Telegram) latestUpdateID() (int, error) {
	updates, err := t.bot.GetUpdates(tgbotapi.NewUpdate(0))
	if err != nil {
		return 0, err
	}
	latest := 0
	for _, u := range updates {
		if u.UpdateID > latest {
			latest = u.UpdateID
		}
	}
	return latest, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
