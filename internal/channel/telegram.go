package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/stellarlinkco/nova/internal/bus"
	"github.com/stellarlinkco/nova/internal/config"
)

const (
	TelegramName = "telegram"

	// telegramTextLimit is the Bot API message cap in UTF-16 code units.
	telegramTextLimit = 4096
	pollTimeout       = 30
)

var errTelegramNotStarted = errors.New("telegram: bot not started")

// Bot is the part of the Bot API the channel drives. *tgbotapi.BotAPI
// satisfies it.
type Bot interface {
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Dialer connects to the Bot API with the given HTTP client.
type Dialer func(token string, client *http.Client) (Bot, error)

func dialBotAPI(token string, client *http.Client) (Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	return api, nil
}

// TelegramOption customizes a TelegramChannel.
type TelegramOption func(*TelegramChannel)

// WithDialer replaces the Bot API connection.
func WithDialer(d Dialer) TelegramOption {
	return func(t *TelegramChannel) { t.dial = d }
}

// WithCommands answers slash commands inside the channel.
func WithCommands(c *Commands) TelegramOption {
	return func(t *TelegramChannel) { t.commands = c }
}

// TelegramChannel long-polls the Bot API. Chat text goes to the agent, slash
// commands are answered in place, and outbound messages are sent to chats.
type TelegramChannel struct {
	BaseChannel
	token    string
	proxy    string
	dial     Dialer
	commands *Commands

	mu   sync.Mutex
	bot  Bot
	stop context.CancelFunc
	done chan struct{}
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus, opts ...TelegramOption) (*TelegramChannel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	t := &TelegramChannel{
		BaseChannel: NewBaseChannel(TelegramName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		dial:        dialBotAPI,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *TelegramChannel) httpClient() (*http.Client, error) {
	if t.proxy == "" {
		return http.DefaultClient, nil
	}
	u, err := url.Parse(t.proxy)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("telegram: bad proxy %q", t.proxy)
	}
	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(u)}}, nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	client, err := t.httpClient()
	if err != nil {
		return err
	}
	bot, err := t.dial(t.token, client)
	if err != nil {
		return fmt.Errorf("telegram: connect: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := bot.GetUpdatesChan(cfg)

	t.mu.Lock()
	t.bot, t.stop, t.done = bot, cancel, make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-updates:
				if !ok {
					return
				}
				t.dispatch(ctx, u.Message)
			}
		}
	}()
	t.logger.Info("polling", zap.Bool("run_enabled", t.canRun()))
	return nil
}

// canRun reports whether /run is open: only with an explicit allow-list.
func (t *TelegramChannel) canRun() bool { return len(t.allowFrom) > 0 }

func (t *TelegramChannel) dispatch(ctx context.Context, m *tgbotapi.Message) {
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}
	sender := strconv.FormatInt(m.From.ID, 10)
	if !t.IsAllowed(sender) {
		t.logger.Info("sender not allowed", zap.String("sender", sender), zap.String("username", m.From.UserName))
		return
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	if text == "" {
		return
	}

	if reply, ok := t.commands.Handle(ctx, text, t.canRun()); ok {
		if err := t.deliver(m.Chat.ID, m.MessageID, reply); err != nil {
			t.logger.Warn("command reply", zap.Error(err))
		}
		return
	}

	in := bus.InboundMessage{
		Channel:   TelegramName,
		SenderID:  sender,
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(m.Date), 0),
		Metadata:  map[string]any{"username": m.From.UserName, "message_id": m.MessageID},
	}
	if err := t.bus.PublishInbound(ctx, in); err != nil {
		t.logger.Debug("inbound dropped", zap.Error(err))
	}
}

func (t *TelegramChannel) Stop() error {
	t.mu.Lock()
	bot, stop, done := t.bot, t.stop, t.done
	t.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	bot.StopReceivingUpdates()
	<-done
	t.logger.Info("stopped")
	return nil
}

func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: chat id %q: %w", msg.ChatID, err)
	}
	replyTo, _ := strconv.Atoi(msg.ReplyTo)
	return t.deliver(chatID, replyTo, Reply{Text: msg.Content})
}

func (t *TelegramChannel) deliver(chatID int64, replyTo int, r Reply) error {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()
	if bot == nil {
		return errTelegramNotStarted
	}

	out := tgbotapi.NewMessage(chatID, clipUTF16(r.Text, telegramTextLimit))
	out.ReplyToMessageID = replyTo
	if r.Code {
		out.Entities = []tgbotapi.MessageEntity{{Type: "pre", Offset: 0, Length: utf16Len(out.Text)}}
	}
	if _, err := bot.Send(out); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// clipUTF16 shortens s to at most limit UTF-16 units, marking the cut with an
// ellipsis.
func clipUTF16(s string, limit int) string {
	if utf16Len(s) <= limit {
		return s
	}
	n := 0
	for i, r := range s {
		n += utf16.RuneLen(r)
		if n > limit-1 {
			return s[:i] + "…"
		}
	}
	return s
}
