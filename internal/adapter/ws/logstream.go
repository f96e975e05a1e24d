package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/domain/execution"
	"github.com/worklift/worklift/internal/service"
)

// LogStreams serves per-process WebSocket log streams: stored history is
// replayed first, then live messages until the process finishes or the
// client disconnects.
type LogStreams struct {
	logs   *service.LogService
	logger *slog.Logger
}

// NewLogStreams creates a LogStreams handler.
func NewLogStreams(logs *service.LogService, logger *slog.Logger) *LogStreams {
	return &LogStreams{logs: logs, logger: logger}
}

// frameFunc converts one log message into zero or one wire frames, tracking
// the connection's entry index.
type frameFunc func(index *int, msg execution.LogMsg) (Message, bool)

// HandleRaw streams the raw stdout/stderr channels of a process as JSON
// Patch frames. Agent-side messages have no place on this channel; one
// showing up is a programmer error, logged rather than silently dropped.
func (s *LogStreams) HandleRaw(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, s.rawFrameChecked)
}

func (s *LogStreams) rawFrameChecked(index *int, msg execution.LogMsg) (Message, bool) {
	out, ok := rawFrame(index, msg)
	if !ok {
		s.logger.Warn("unexpected message type on raw log stream", "type", msg.Type)
	}
	return out, ok
}

// HandleNormalized streams the normalized view of a process's logs.
func (s *LogStreams) HandleNormalized(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, normalizedFrame)
}

func (s *LogStreams) stream(w http.ResponseWriter, r *http.Request, frame frameFunc) {
	processID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid process id", http.StatusBadRequest)
		return
	}

	// Subscribe before replaying history so no live message is missed; a
	// message ingested during the replay may be seen twice.
	live, cancel := s.logs.Follow(processID)
	defer cancel()

	history, err := s.logs.History(r.Context(), processID)
	if err != nil {
		http.Error(w, "process not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	// Drain client frames to detect disconnects.
	go func() {
		defer stop()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()

	index := 0
	finished := false
	for _, page := range history {
		for _, msg := range page.Msgs {
			if msg.Type == execution.LogFinished {
				finished = true
				continue
			}
			if err := s.write(ctx, ws, frame, &index, msg); err != nil {
				return
			}
		}
	}
	if finished {
		// The process already ended; the live subscription will never fire.
		_ = s.write(ctx, ws, frame, &index, execution.FinishedMsg())
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-live:
			if !ok {
				_ = s.write(ctx, ws, frame, &index, execution.FinishedMsg())
				return
			}
			if err := s.write(ctx, ws, frame, &index, msg); err != nil {
				return
			}
		}
	}
}

func (s *LogStreams) write(ctx context.Context, ws *websocket.Conn, frame frameFunc,
	index *int, msg execution.LogMsg) error {

	out, ok := frame(index, msg)
	if !ok {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		s.logger.Error("log frame marshal failed", "error", err)
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
