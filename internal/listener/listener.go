// Package listener consumes live Telegram updates and feeds every monitored
// group message through the matching pipeline.
package listener

import (
	"context"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"groupwatch/internal/model"
	"groupwatch/internal/storage"
)

type telegramAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Processor runs one message through the matching pipeline.
type Processor interface {
	Process(ctx context.Context, msg model.IncomingMessage) error
}

// Listener is the live ingestion path: one long-lived update stream fanning
// out into bounded-concurrency per-message processing.
type Listener struct {
	updates       telegramAPI
	processor     Processor
	store         storage.Storage
	log           *slog.Logger
	concurrency   int
	allowChannels bool
}

// New creates a Listener.
func New(api telegramAPI, processor Processor, store storage.Storage, log *slog.Logger, concurrency int, allowChannels bool) *Listener {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Listener{
		updates:       api,
		processor:     processor,
		store:         store,
		log:           log,
		concurrency:   concurrency,
		allowChannels: allowChannels,
	}
}

// Run consumes updates until ctx is cancelled. Message N+1 may begin scoring
// before message N's verification completes; the errgroup limit bounds the
// in-flight set. A failure processing one message never stops the loop.
func (l *Listener) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "channel_post"}

	updates := l.updates.GetUpdatesChan(u)

	var g errgroup.Group
	g.SetLimit(l.concurrency)

	for {
		select {
		case <-ctx.Done():
			l.updates.StopReceivingUpdates()
			_ = g.Wait()
			return
		case update, ok := <-updates:
			if !ok {
				_ = g.Wait()
				return
			}
			msg, ok := l.normalize(update)
			if !ok {
				continue
			}
			g.Go(func() error {
				l.handle(ctx, msg)
				return nil
			})
		}
	}
}

// handle processes one normalized message, containing panics and errors so
// the listener itself never dies.
func (l *Listener) handle(ctx context.Context, msg model.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic processing message",
				"group_id", msg.GroupID, "message_id", msg.ID, "panic", r)
		}
	}()

	// The message cache feeds backfill scans and example lookups.
	if err := l.store.SaveMessage(ctx, &msg); err != nil {
		l.log.Error("cache message", "group_id", msg.GroupID, "message_id", msg.ID, "error", err)
	}

	if err := l.processor.Process(ctx, msg); err != nil {
		l.log.Error("process message", "group_id", msg.GroupID, "message_id", msg.ID, "error", err)
	}
}

// normalize converts a raw update into an IncomingMessage, dropping updates
// the pipeline does not watch: direct messages, empty texts and, unless
// configured otherwise, broadcast channels.
func (l *Listener) normalize(update tgbotapi.Update) (model.IncomingMessage, bool) {
	raw := update.Message
	if raw == nil && l.allowChannels {
		raw = update.ChannelPost
	}
	if raw == nil || raw.Chat == nil {
		return model.IncomingMessage{}, false
	}

	switch {
	case raw.Chat.IsGroup(), raw.Chat.IsSuperGroup():
	case raw.Chat.IsChannel():
		if !l.allowChannels {
			return model.IncomingMessage{}, false
		}
	default:
		// Private chats are never monitored.
		return model.IncomingMessage{}, false
	}

	text := raw.Text
	if text == "" {
		text = raw.Caption
	}
	if strings.TrimSpace(text) == "" {
		return model.IncomingMessage{}, false
	}

	return model.IncomingMessage{
		ID:         int64(raw.MessageID),
		GroupID:    raw.Chat.ID,
		GroupTitle: raw.Chat.Title,
		Text:       text,
		SenderName: senderName(raw),
		Timestamp:  raw.Time(),
	}, true
}

func senderName(msg *tgbotapi.Message) string {
	if msg.From == nil {
		return ""
	}
	name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	if name == "" {
		name = msg.From.UserName
	}
	return name
}
