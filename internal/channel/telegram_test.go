package channel

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/nova/internal/bus"
	"github.com/stellarlinkco/nova/internal/config"
)

type fakeBot struct {
	updates chan tgbotapi.Update
	stopped atomic.Bool

	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return f.updates }
func (f *fakeBot) StopReceivingUpdates() { f.stopped.Store(true) }

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

// waitSent blocks until n messages were sent and returns them.
func (f *fakeBot) waitSent(t *testing.T, n int) []tgbotapi.MessageConfig {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.sent) >= n {
			out := append([]tgbotapi.MessageConfig(nil), f.sent...)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d sent messages", n)
	return nil
}

func textUpdate(from, chat int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 42,
		From:      &tgbotapi.User{ID: from, UserName: "ana"},
		Chat:      &tgbotapi.Chat{ID: chat},
		Text:      text,
		Date:      1700000000,
	}}
}

func startTelegram(t *testing.T, allow []string, cmds *Commands) (*TelegramChannel, *fakeBot, *bus.MessageBus) {
	t.Helper()
	b := bus.NewMessageBus(8)
	bot := newFakeBot()
	tg, err := NewTelegramChannel(config.TelegramConfig{Token: "t0k", AllowFrom: allow}, b,
		WithCommands(cmds),
		WithDialer(func(string, *http.Client) (Bot, error) { return bot, nil }),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := tg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tg.Stop() })
	return tg, bot, b
}

func nextInbound(t *testing.T, b *bus.MessageBus) bus.InboundMessage {
	t.Helper()
	select {
	case m := <-b.Inbound:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message")
	}
	return bus.InboundMessage{}
}

func TestBaseChannel_IsAllowed(t *testing.T) {
	open := NewBaseChannel("x", nil, nil)
	if !open.IsAllowed("anyone") {
		t.Error("empty allow-list admits everyone")
	}
	closed := NewBaseChannel("x", nil, []string{"7"})
	if !closed.IsAllowed("7") || closed.IsAllowed("8") {
		t.Error("allow-list not enforced")
	}
	if closed.Name() != "x" {
		t.Errorf("name = %q", closed.Name())
	}
}

func TestNewTelegramChannel_NeedsToken(t *testing.T) {
	if _, err := NewTelegramChannel(config.TelegramConfig{Token: "  "}, bus.NewMessageBus(1)); err == nil {
		t.Fatal("expected an error without a token")
	}
}

func TestTelegramChannel_ForwardsChatToBus(t *testing.T) {
	_, bot, b := startTelegram(t, []string{"7"}, nil)

	bot.updates <- tgbotapi.Update{}                // no message
	bot.updates <- textUpdate(9, 100, "let me in") // stranger
	bot.updates <- textUpdate(7, 100, "   ")       // blank
	bot.updates <- textUpdate(7, 100, "hello nova")

	got := nextInbound(t, b)
	if got.Content != "hello nova" || got.SenderID != "7" || got.ChatID != "100" {
		t.Fatalf("inbound = %+v", got)
	}
	if got.Channel != TelegramName || got.SessionKey() != "telegram:100" {
		t.Errorf("session = %q", got.SessionKey())
	}
	if got.Timestamp.Unix() != 1700000000 {
		t.Errorf("timestamp = %v", got.Timestamp)
	}

	captioned := textUpdate(7, 100, "")
	captioned.Message.Caption = "look at this"
	bot.updates <- captioned
	if got := nextInbound(t, b); got.Content != "look at this" {
		t.Errorf("caption content = %q", got.Content)
	}
}

func TestTelegramChannel_AnswersCommandsInPlace(t *testing.T) {
	cmds, runs := newCommands(t)
	_, bot, b := startTelegram(t, []string{"7"}, cmds)

	bot.updates <- textUpdate(7, 100, `/run echo {"text":"hi"}`)
	sent := bot.waitSent(t, 1)

	msg := sent[0]
	if msg.ChatID != 100 || msg.ReplyToMessageID != 42 {
		t.Errorf("reply addressed to chat %d / message %d", msg.ChatID, msg.ReplyToMessageID)
	}
	if !strings.Contains(msg.Text, `"text": "hi"`) {
		t.Errorf("text = %q", msg.Text)
	}
	if len(msg.Entities) != 1 || msg.Entities[0].Type != "pre" || msg.Entities[0].Length != utf16Len(msg.Text) {
		t.Errorf("entities = %+v", msg.Entities)
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d", runs.Load())
	}
	select {
	case m := <-b.Inbound:
		t.Errorf("command leaked to the agent: %+v", m)
	default:
	}
}

func TestTelegramChannel_RunNeedsAllowList(t *testing.T) {
	cmds, runs := newCommands(t)
	_, bot, _ := startTelegram(t, nil, cmds)

	bot.updates <- textUpdate(9, 100, `/run echo {"text":"hi"}`)
	sent := bot.waitSent(t, 1)
	if !strings.Contains(sent[0].Text, "disabled") {
		t.Errorf("text = %q", sent[0].Text)
	}
	if runs.Load() != 0 {
		t.Errorf("tool ran %d times for an unknown sender", runs.Load())
	}

	bot.updates <- textUpdate(9, 100, "/tools")
	if sent := bot.waitSent(t, 2); !strings.Contains(sent[1].Text, "echo") {
		t.Errorf("/tools should stay available: %q", sent[1].Text)
	}
}

func TestTelegramChannel_SendClipsLongText(t *testing.T) {
	tg, bot, _ := startTelegram(t, nil, nil)

	if err := tg.Send(bus.OutboundMessage{ChatID: "100", Content: strings.Repeat("é", 5000), ReplyTo: "3"}); err != nil {
		t.Fatal(err)
	}
	msg := bot.waitSent(t, 1)[0]
	if n := utf16Len(msg.Text); n != telegramTextLimit {
		t.Errorf("length = %d, want %d", n, telegramTextLimit)
	}
	if !strings.HasSuffix(msg.Text, "…") {
		t.Error("clipped text should end with an ellipsis")
	}
	if msg.ReplyToMessageID != 3 || msg.Entities != nil {
		t.Errorf("reply=%d entities=%v", msg.ReplyToMessageID, msg.Entities)
	}
}

func TestTelegramChannel_SendErrors(t *testing.T) {
	idle, err := NewTelegramChannel(config.TelegramConfig{Token: "x"}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := idle.Send(bus.OutboundMessage{ChatID: "1", Content: "hi"}); !errors.Is(err, errTelegramNotStarted) {
		t.Errorf("err = %v", err)
	}
	if err := idle.Stop(); err != nil {
		t.Errorf("stop before start: %v", err)
	}

	tg, bot, _ := startTelegram(t, nil, nil)
	if err := tg.Send(bus.OutboundMessage{ChatID: "general", Content: "hi"}); err == nil {
		t.Error("expected an error for a non-numeric chat id")
	}
	bot.mu.Lock()
	bot.err = errors.New("429 too many requests")
	bot.mu.Unlock()
	if err := tg.Send(bus.OutboundMessage{ChatID: "1", Content: "hi"}); err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v", err)
	}
}

func TestTelegramChannel_ProxyAndDialErrors(t *testing.T) {
	var gotClient *http.Client
	b := bus.NewMessageBus(1)
	tg, _ := NewTelegramChannel(config.TelegramConfig{Token: "x", Proxy: "http://127.0.0.1:3128"}, b,
		WithDialer(func(_ string, c *http.Client) (Bot, error) {
			gotClient = c
			return newFakeBot(), nil
		}))
	if err := tg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tg.Stop()
	tr, ok := gotClient.Transport.(*http.Transport)
	if !ok || tr.Proxy == nil {
		t.Fatal("proxy transport not configured")
	}

	bad, _ := NewTelegramChannel(config.TelegramConfig{Token: "x", Proxy: "::nope"}, b)
	if err := bad.Start(context.Background()); err == nil {
		t.Error("expected an error for a bad proxy")
	}

	failing, _ := NewTelegramChannel(config.TelegramConfig{Token: "x"}, b,
		WithDialer(func(string, *http.Client) (Bot, error) { return nil, errors.New("unauthorized") }))
	if err := failing.Start(context.Background()); err == nil || !strings.Contains(err.Error(), "unauthorized") {
		t.Errorf("err = %v", err)
	}
}

func TestTelegramChannel_StopEndsPolling(t *testing.T) {
	tg, bot, _ := startTelegram(t, nil, nil)
	if err := tg.Stop(); err != nil {
		t.Fatal(err)
	}
	if !bot.stopped.Load() {
		t.Error("updates were not stopped")
	}
}

func TestClipUTF16(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"abcdef", 4, "abc…"},
		{"a😀b", 3, "a…"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := clipUTF16(tt.in, tt.limit); got != tt.want {
			t.Errorf("clipUTF16(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
