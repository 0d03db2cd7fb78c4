// Package notify delivers match notifications to users. The pipeline
// guarantees each (subscription, message) pair reaches the Notifier at most
// once; delivery itself is best-effort.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notification carries everything needed to tell a user about a match.
type Notification struct {
	UserID            int64
	GroupID           int64
	GroupTitle        string
	MessageID         int64
	MessageText       string
	SenderName        string
	SubscriptionQuery string
	Reasoning         string
}

// Notifier receives confirmed matches for delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Discard drops every notification. Used by preview-mode backfill scans and
// tooling that only wants matches recorded.
type Discard struct{}

// Notify implements Notifier by doing nothing.
func (Discard) Notify(context.Context, Notification) error { return nil }

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends notifications as Telegram direct messages.
type Telegram struct {
	api telegramAPI
	log *slog.Logger
}

// NewTelegram creates a Telegram notifier over an existing bot API.
func NewTelegram(api telegramAPI, log *slog.Logger) *Telegram {
	return &Telegram{api: api, log: log}
}

// Notify formats and sends one notification to the subscribing user.
func (t *Telegram) Notify(_ context.Context, n Notification) error {
	msg := tgbotapi.NewMessage(n.UserID, FormatNotification(n))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send notification",
			"user_id", n.UserID, "group_id", n.GroupID, "message_id", n.MessageID, "error", err)
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}
