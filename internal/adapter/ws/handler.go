// Package ws implements the WebSocket adapter: event broadcast plus live
// process log streaming.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/worklift/worklift/internal/domain/execution"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub manages all active event-stream connections and broadcasts typed
// events to them.
type Hub struct {
	logger *slog.Logger
	mu     sync.RWMutex
	conns  map[*conn]struct{}
}

// NewHub creates a WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  make(map[*conn]struct{}),
	}
}

// HandleEvents upgrades the connection and registers it for broadcast
// events. Client frames are drained only to detect disconnects.
func (h *Hub) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("event stream connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// BroadcastEvent sends a typed event to every connected client. It satisfies
// the broadcast port.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("event payload marshal failed", "type", eventType, "error", err)
		return
	}
	raw, err := json.Marshal(Message{Type: eventType, Payload: data})
	if err != nil {
		h.logger.Error("event marshal failed", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if err := c.ws.Write(ctx, websocket.MessageText, raw); err != nil {
			h.logger.Debug("event write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active event-stream connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.logger.Info("event stream disconnected")
	}
}

// rawFrame converts one stored or live log message into a raw-stream frame.
// Raw output lines become JSON Patch appends with a per-connection index;
// agent-side messages are not part of the raw stream. The boolean reports
// whether the message produced a frame.
func rawFrame(index *int, msg execution.LogMsg) (Message, bool) {
	switch msg.Type {
	case execution.LogStdout, execution.LogStderr:
		patch := execution.AppendLinePatch(*index, msg.Type, msg.Content)
		*index++
		return Message{Type: "json_patch", Payload: patch}, true
	case execution.LogFinished:
		return Message{Type: "finished"}, true
	default:
		return Message{}, false
	}
}

// normalizedFrame converts one log message into a normalized-stream frame.
// Stdout maps to info, stderr to error, and agent patches pass through.
func normalizedFrame(index *int, msg execution.LogMsg) (Message, bool) {
	var level string
	switch msg.Type {
	case execution.LogStdout:
		level = "info"
	case execution.LogStderr:
		level = "error"
	case execution.LogJSONPatch:
		*index++
		return Message{Type: "json_patch", Payload: json.RawMessage(msg.Content)}, true
	case execution.LogFinished:
		return Message{Type: "finished"}, true
	default:
		return Message{}, false
	}

	entry := execution.NormalizedLogEntry{Index: *index, Level: level, Message: msg.Content}
	data, err := json.Marshal(entry)
	if err != nil {
		return Message{}, false
	}
	*index++
	return Message{Type: "entry", Payload: data}, true
}
