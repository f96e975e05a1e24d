package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/port/database"
	"github.com/worklift/worklift/internal/service"
)

// DiffStream serves the diff of an attempt's worktree against its target
// branch over a WebSocket, using the same envelope as the log streams.
type DiffStream struct {
	store  database.Store
	git    service.GitClient
	logger *slog.Logger
}

// NewDiffStream creates a DiffStream handler.
func NewDiffStream(store database.Store, git service.GitClient, logger *slog.Logger) *DiffStream {
	return &DiffStream{store: store, git: git, logger: logger}
}

type diffPayload struct {
	TargetBranch string `json:"target_branch"`
	StatsOnly    bool   `json:"stats_only"`
	Content      string `json:"content"`
}

// HandleDiff sends the current diff (or its --shortstat summary when
// stats_only=true) followed by a finished frame.
func (s *DiffStream) HandleDiff(w http.ResponseWriter, r *http.Request) {
	attemptID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid attempt id", http.StatusBadRequest)
		return
	}
	statsOnly := r.URL.Query().Get("stats_only") == "true"

	a, err := s.store.GetAttempt(r.Context(), attemptID)
	if err != nil {
		http.Error(w, "attempt not found", http.StatusNotFound)
		return
	}
	if a.ContainerRef == "" || a.WorktreeDeleted {
		http.Error(w, "attempt worktree is not available", http.StatusConflict)
		return
	}

	var content string
	if statsOnly {
		content, err = s.git.DiffStats(r.Context(), a.ContainerRef, a.TargetBranch)
	} else {
		content, err = s.git.Diff(r.Context(), a.ContainerRef, a.TargetBranch)
	}
	if err != nil {
		s.logger.Error("diff failed", "attempt_id", attemptID, "error", err)
		http.Error(w, "diff failed", http.StatusInternalServerError)
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

	payload, err := json.Marshal(diffPayload{
		TargetBranch: a.TargetBranch,
		StatsOnly:    statsOnly,
		Content:      content,
	})
	if err != nil {
		return
	}
	for _, msg := range []Message{{Type: "diff", Payload: payload}, {Type: "finished"}} {
		data, err := json.Marshal(msg)
		if err != nil {
			return
		}
		if err := ws.Write(r.Context(), websocket.MessageText, data); err != nil {
			return
		}
	}
}
