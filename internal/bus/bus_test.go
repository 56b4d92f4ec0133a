package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchOutbound(t *testing.T) {
	b := NewMessageBus(4)
	got := make(chan OutboundMessage, 2)
	b.SubscribeOutbound("telegram", func(m OutboundMessage) { got <- m })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.DispatchOutbound(ctx)
		close(done)
	}()

	b.Outbound <- OutboundMessage{Channel: "nowhere", Content: "dropped"}
	b.Outbound <- OutboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"}

	select {
	case m := <-got:
		assert.Equal(t, "hi", m.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	require.Empty(t, got)
}

func TestSessionKey(t *testing.T) {
	m := InboundMessage{Channel: "telegram", ChatID: "42"}
	assert.Equal(t, "telegram:42", m.SessionKey())
}

func TestPublish_GivesUpWhenContextEnds(t *testing.T) {
	b := NewMessageBus(0)
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 2)
	go func() { errs <- b.PublishOutbound(ctx, OutboundMessage{Channel: "telegram", Content: "late"}) }()
	go func() { errs <- b.PublishInbound(ctx, InboundMessage{Channel: "telegram", Content: "late"}) }()
	cancel()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("publish blocked on a full bus after cancel")
		}
	}
}

func TestPublish_Delivers(t *testing.T) {
	b := NewMessageBus(1)
	require.NoError(t, b.PublishOutbound(context.Background(), OutboundMessage{Channel: "webui", Content: "hi"}))
	require.NoError(t, b.PublishInbound(context.Background(), InboundMessage{Channel: "webui", Content: "yo"}))
	assert.Equal(t, "hi", (<-b.Outbound).Content)
	assert.Equal(t, "yo", (<-b.Inbound).Content)
}
