// Package bus moves messages between channels and the agent loop.
package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// OutboundHandler delivers a message on one channel.
type OutboundHandler func(OutboundMessage)

type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string][]OutboundHandler
	logger      *zap.Logger
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize < 0 {
		bufSize = 0
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string][]OutboundHandler),
		logger:      zap.NewNop(),
	}
}

// SetLogger replaces the bus logger.
func (b *MessageBus) SetLogger(logger *zap.Logger) {
	if logger != nil {
		b.logger = logger.Named("bus")
	}
}

// SubscribeOutbound registers fn for messages addressed to channel.
func (b *MessageBus) SubscribeOutbound(channel string, fn OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], fn)
}

// DispatchOutbound delivers outbound messages to their channel subscribers
// until ctx is done. Messages for channels nobody subscribed to are dropped.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.mu.RLock()
			handlers := b.subscribers[msg.Channel]
			b.mu.RUnlock()
			if len(handlers) == 0 {
				b.logger.Warn("no subscriber for outbound message", zap.String("channel", msg.Channel))
				continue
			}
			for _, h := range handlers {
				h(msg)
			}
		case <-ctx.Done():
			return
		}
	}
}

// PublishInbound queues msg for the agent loop. It gives up when ctx ends.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.Inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishOutbound queues msg for delivery. It gives up when ctx ends.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.Outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
