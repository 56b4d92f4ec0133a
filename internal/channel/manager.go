package channel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/stellarlinkco/nova/internal/bus"
	"github.com/stellarlinkco/nova/internal/config"
)

// Manager owns the configured channels and routes outbound bus messages to
// them by name.
type Manager struct {
	bus    *bus.MessageBus
	logger *zap.Logger

	mu       sync.Mutex
	channels map[string]Channel
	webui    *WebUIChannel
}

// NewManager builds the channels enabled in cfg. cmds may be nil, which
// forwards slash commands to the agent as plain text.
func NewManager(cfg config.ChannelsConfig, b *bus.MessageBus, cmds *Commands, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		bus:      b,
		logger:   logger.Named("channels"),
		channels: make(map[string]Channel),
	}

	if cfg.Telegram.Enabled {
		tg, err := NewTelegramChannel(cfg.Telegram, b, WithCommands(cmds))
		if err != nil {
			return nil, err
		}
		tg.SetLogger(logger)
		m.Add(tg)
	}
	if cfg.WebUI.Enabled {
		m.webui = NewWebUIChannel(b, cmds)
		m.webui.SetLogger(logger)
		m.Add(m.webui)
	}
	return m, nil
}

// WebUI returns the browser socket channel, or nil when it is disabled.
func (m *Manager) WebUI() *WebUIChannel { return m.webui }

// Add registers ch and routes outbound messages for its name to Send.
func (m *Manager) Add(ch Channel) {
	name := ch.Name()
	m.mu.Lock()
	m.channels[name] = ch
	m.mu.Unlock()

	m.bus.SubscribeOutbound(name, func(msg bus.OutboundMessage) {
		if err := ch.Send(msg); err != nil {
			m.logger.Warn("deliver", zap.String("channel", name), zap.String("chat", msg.ChatID), zap.Error(err))
		}
	})
}

// Start starts every channel and reports all failures together.
func (m *Manager) Start(ctx context.Context) error {
	var errs []error
	for _, name := range m.Names() {
		if err := m.get(name).Start(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Stop stops every channel, logging failures.
func (m *Manager) Stop() {
	for _, name := range m.Names() {
		if err := m.get(name).Stop(); err != nil {
			m.logger.Warn("stop", zap.String("channel", name), zap.Error(err))
		}
	}
}

// Names lists the registered channels in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Manager) get(name string) Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[name]
}
