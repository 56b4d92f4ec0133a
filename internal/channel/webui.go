package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/stellarlinkco/nova/internal/bus"
)

const (
	WebUIName = "webui"

	writeTimeout = 5 * time.Second
)

// Frame is the JSON message exchanged with browser clients.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
	Code    bool   `json:"code,omitempty"`
}

// WebUIChannel pushes messages to browser clients over websockets and
// accepts chat from them. It is an http.Handler mounted by the API server,
// which authenticates the upgrade.
type WebUIChannel struct {
	BaseChannel
	commands *Commands
	clients  sync.Map // chat id -> *websocket.Conn
	seq      atomic.Int64
}

func NewWebUIChannel(b *bus.MessageBus, cmds *Commands) *WebUIChannel {
	return &WebUIChannel{
		BaseChannel: NewBaseChannel(WebUIName, b, nil),
		commands:    cmds,
	}
}

func (w *WebUIChannel) Start(context.Context) error { return nil }

func (w *WebUIChannel) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(rw, r, nil)
	if err != nil {
		w.logger.Warn("accept", zap.Error(err))
		return
	}
	id := fmt.Sprintf("webui-%d", w.seq.Add(1))
	w.clients.Store(id, conn)
	w.logger.Info("client connected", zap.String("chat", id))
	defer func() {
		w.clients.Delete(id)
		conn.CloseNow() //nolint:errcheck
		w.logger.Info("client gone", zap.String("chat", id))
	}()

	ctx := r.Context()
	if err := w.write(ctx, conn, Frame{Type: "hello", ChatID: id}); err != nil {
		return
	}
	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		text := strings.TrimSpace(f.Content)
		if f.Type != "message" || text == "" {
			continue
		}
		// The socket sits behind bearer auth, so /run is open here.
		if reply, ok := w.commands.Handle(ctx, text, true); ok {
			_ = w.write(ctx, conn, Frame{Type: "message", Content: reply.Text, Code: reply.Code, ChatID: id})
			continue
		}
		err := w.bus.PublishInbound(ctx, bus.InboundMessage{
			Channel:   WebUIName,
			SenderID:  id,
			ChatID:    id,
			Content:   text,
			Timestamp: time.Now(),
		})
		if err != nil {
			return
		}
	}
}

func (w *WebUIChannel) write(ctx context.Context, conn *websocket.Conn, f Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}

// Send delivers to one client, or to every connected client when ChatID is
// empty.
func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	f := Frame{Type: "message", Content: msg.Content, ChatID: msg.ChatID}
	if msg.ChatID != "" {
		v, ok := w.clients.Load(msg.ChatID)
		if !ok {
			return fmt.Errorf("webui: client %q not connected", msg.ChatID)
		}
		return w.write(context.Background(), v.(*websocket.Conn), f)
	}

	var errs []error
	w.clients.Range(func(key, v any) bool {
		f.ChatID = key.(string)
		if err := w.write(context.Background(), v.(*websocket.Conn), f); err != nil {
			errs = append(errs, fmt.Errorf("webui: %s: %w", key, err))
		}
		return true
	})
	return errors.Join(errs...)
}

// Clients returns the number of connected browsers.
func (w *WebUIChannel) Clients() int {
	n := 0
	w.clients.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

func (w *WebUIChannel) Stop() error {
	w.clients.Range(func(key, v any) bool {
		_ = v.(*websocket.Conn).Close(websocket.StatusGoingAway, "shutting down")
		w.clients.Delete(key)
		return true
	})
	return nil
}
