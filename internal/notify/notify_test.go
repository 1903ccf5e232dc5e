package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scalping-engine/internal/model"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Name() string { return "mock" }

func (m *MockNotifier) Notify(ctx context.Context, e Event) error {
	return m.Called(ctx, e).Error(0)
}

// recorder collects delivered events
type recorder struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Notify(_ context.Context, e Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func Test_Dispatcher_FanOutAndDrain(t *testing.T) {
	failing := new(MockNotifier)
	failing.On("Notify", mock.Anything, mock.Anything).Return(errors.New("webhook down"))
	rec := &recorder{}

	d := NewDispatcher(8, time.Second, zap.NewNop(), failing, rec)
	go d.Run()

	d.Publish(Event{Type: EventSignalDetected, Instrument: "BTCUSDT"})
	d.Publish(Event{Type: EventPositionOpened, Instrument: "BTCUSDT"})
	d.Publish(Event{Type: EventPositionClosed, Instrument: "BTCUSDT"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	assert.Equal(t, []EventType{EventSignalDetected, EventPositionOpened, EventPositionClosed}, rec.types())
	failing.AssertNumberOfCalls(t, "Notify", 3)

	// publishing after close is a no-op
	d.Publish(Event{Type: EventError})
	assert.Len(t, rec.types(), 3)
}

func Test_Dispatcher_DropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	d := NewDispatcher(2, time.Second, zap.NewNop(), rec)

	// not running yet: queue holds two, the rest are dropped without blocking
	for i := 0; i < 5; i++ {
		d.Publish(Event{Type: EventStatus})
	}
	assert.Equal(t, int64(3), d.Dropped())

	close(rec.block)
	go d.Run()
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, rec.types(), 2)
}

func Test_DiscordNotifier(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL)
	trade := &model.TradeRecord{
		Instrument: "BTCUSDT",
		Direction:  model.DirLong,
		EntryPrice: 100,
		ExitPrice:  99,
		PnLPct:     -1,
		ExitReason: model.ExitStopLoss,
	}
	err := n.Notify(context.Background(), Event{Type: EventPositionClosed, Instrument: "BTCUSDT", Trade: trade, Time: time.Now()})
	require.NoError(t, err)

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Position closed (loss)", got.Embeds[0].Title)
	assert.Equal(t, colorLoss, got.Embeds[0].Color)
	assert.Contains(t, got.Embeds[0].Fields, discordField{Name: "Reason", Value: "stop_loss", Inline: true})
}

func Test_DiscordNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Notify(context.Background(), Event{Type: EventError, Message: "boom"})
	assert.ErrorContains(t, err, "429")
}

type fakeSender struct {
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func Test_TelegramNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := &TelegramNotifier{bot: sender, chatID: 42}

	summary := &model.DailySummary{Instrument: "BTCUSDT", Day: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Trades: 4, Wins: 3, WinRate: 0.75, TotalPnL: 1.2}
	require.NoError(t, n.Notify(context.Background(), Event{Type: EventDailySummary, Summary: summary}))

	require.Len(t, sender.sent, 1)
	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "Daily summary")
	assert.Contains(t, msg.Text, "2024-03-01")
	assert.Contains(t, msg.Text, "75.0%")
}

func Test_Event_Text(t *testing.T) {
	rej := Event{Type: EventSignalRejected, Instrument: "ETHUSDT", Rejection: &model.RejectionError{Reason: model.RejectSignalGap}}
	assert.Equal(t, "[ETHUSDT] signal rejected: signal_gap", rej.Text())

	plain := Event{Type: EventStatus, Message: "engine started"}
	assert.Equal(t, "engine started", plain.Text())
	assert.Equal(t, "Engine status", plain.Title())
}
