package listener

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"groupwatch/internal/model"
	"groupwatch/internal/storage"
)

type fakeAPI struct {
	updates chan tgbotapi.Update
	stopped bool
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.stopped = true
	close(f.updates)
}

type recordingProcessor struct {
	mu        sync.Mutex
	processed []model.IncomingMessage
}

func (r *recordingProcessor) Process(ctx context.Context, msg model.IncomingMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, msg)
	return nil
}

func (r *recordingProcessor) snapshot() []model.IncomingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.IncomingMessage(nil), r.processed...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func groupUpdate(chatType string, messageID int, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: messageID,
			Chat:      &tgbotapi.Chat{ID: -1001, Type: chatType, Title: "Flea Market"},
			From:      &tgbotapi.User{FirstName: "Ivan", LastName: "Petrov"},
			Text:      text,
			Date:      int(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Unix()),
		},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name          string
		update        tgbotapi.Update
		allowChannels bool
		want          model.IncomingMessage
		wantOK        bool
	}{
		{
			name:   "group message",
			update: groupUpdate("group", 10, "Продам велосипед"),
			want: model.IncomingMessage{
				ID:         10,
				GroupID:    -1001,
				GroupTitle: "Flea Market",
				Text:       "Продам велосипед",
				SenderName: "Ivan Petrov",
				Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			},
			wantOK: true,
		},
		{
			name:   "supergroup message",
			update: groupUpdate("supergroup", 11, "selling a bike"),
			want: model.IncomingMessage{
				ID:         11,
				GroupID:    -1001,
				GroupTitle: "Flea Market",
				Text:       "selling a bike",
				SenderName: "Ivan Petrov",
				Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			},
			wantOK: true,
		},
		{
			name:   "private chat dropped",
			update: groupUpdate("private", 12, "hello bot"),
			wantOK: false,
		},
		{
			name:   "channel dropped by default",
			update: groupUpdate("channel", 13, "broadcast"),
			wantOK: false,
		},
		{
			name:          "channel accepted when allowed",
			update:        groupUpdate("channel", 14, "broadcast"),
			allowChannels: true,
			want: model.IncomingMessage{
				ID:         14,
				GroupID:    -1001,
				GroupTitle: "Flea Market",
				Text:       "broadcast",
				SenderName: "Ivan Petrov",
				Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			},
			wantOK: true,
		},
		{
			name: "channel post accepted when allowed",
			update: tgbotapi.Update{
				ChannelPost: &tgbotapi.Message{
					MessageID: 15,
					Chat:      &tgbotapi.Chat{ID: -1002, Type: "channel", Title: "Deals"},
					Text:      "new deal",
					Date:      int(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Unix()),
				},
			},
			allowChannels: true,
			want: model.IncomingMessage{
				ID:         15,
				GroupID:    -1002,
				GroupTitle: "Deals",
				Text:       "new deal",
				Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			},
			wantOK: true,
		},
		{
			name: "channel post dropped by default",
			update: tgbotapi.Update{
				ChannelPost: &tgbotapi.Message{
					MessageID: 16,
					Chat:      &tgbotapi.Chat{ID: -1002, Type: "channel"},
					Text:      "new deal",
				},
			},
			wantOK: false,
		},
		{
			name:   "empty text dropped",
			update: groupUpdate("group", 17, "   "),
			wantOK: false,
		},
		{
			name: "caption used when text empty",
			update: tgbotapi.Update{
				Message: &tgbotapi.Message{
					MessageID: 18,
					Chat:      &tgbotapi.Chat{ID: -1001, Type: "group", Title: "Flea Market"},
					Caption:   "Продам робот пылесос, фото",
					Date:      int(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Unix()),
				},
			},
			want: model.IncomingMessage{
				ID:         18,
				GroupID:    -1001,
				GroupTitle: "Flea Market",
				Text:       "Продам робот пылесос, фото",
				Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			},
			wantOK: true,
		},
		{
			name:   "no message in update",
			update: tgbotapi.Update{},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &Listener{allowChannels: tt.allowChannels, log: testLogger()}
			got, ok := l.normalize(tt.update)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateApproxTime(time.Second)); diff != "" {
				t.Errorf("normalize mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSenderName(t *testing.T) {
	tests := []struct {
		name string
		from *tgbotapi.User
		want string
	}{
		{name: "first and last", from: &tgbotapi.User{FirstName: "Ivan", LastName: "Petrov"}, want: "Ivan Petrov"},
		{name: "first only", from: &tgbotapi.User{FirstName: "Ivan"}, want: "Ivan"},
		{name: "username fallback", from: &tgbotapi.User{UserName: "ivan42"}, want: "ivan42"},
		{name: "no sender", from: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := senderName(&tgbotapi.Message{From: tt.from}); got != tt.want {
				t.Errorf("senderName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunProcessesAndCaches(t *testing.T) {
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &fakeAPI{updates: make(chan tgbotapi.Update, 4)}
	proc := &recordingProcessor{}
	l := New(api, proc, store, testLogger(), 2, false)

	api.updates <- groupUpdate("group", 1, "Продам велосипед")
	api.updates <- groupUpdate("private", 2, "ignored")
	api.updates <- groupUpdate("group", 3, "Куплю самокат")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		if len(proc.snapshot()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for processing, got %d messages", len(proc.snapshot()))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
	if !api.stopped {
		t.Error("listener must stop the update stream on shutdown")
	}

	var ids []int64
	for _, m := range proc.snapshot() {
		ids = append(ids, m.ID)
	}
	want := map[int64]bool{1: true, 3: true}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("unexpected message %d processed", id)
		}
	}

	// Both monitored messages land in the history cache.
	cached, err := store.ListGroupMessages(context.Background(), -1001, 10, 0)
	if err != nil {
		t.Fatalf("list cached: %v", err)
	}
	if len(cached) != 2 {
		t.Errorf("cached messages = %d, want 2", len(cached))
	}
}
