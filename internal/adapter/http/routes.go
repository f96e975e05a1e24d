package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/worklift/worklift/internal/adapter/ws"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, streams *ws.LogStreams, diffs *ws.DiffStream, hub *ws.Hub) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Task attempts
		r.Post("/task-attempts", h.CreateAttempt)
		r.Get("/task-attempts", h.ListAttempts)
		r.Get("/task-attempts/{id}", h.GetAttempt)
		r.Delete("/task-attempts/{id}", h.DeleteAttempt)
		r.Post("/task-attempts/{id}/follow-up", h.FollowUp)
		r.Post("/task-attempts/{id}/replace-process", h.ReplaceProcess)
		r.Post("/task-attempts/{id}/stop", h.StopAttempt)
		r.Get("/task-attempts/{id}/branch-status", h.BranchStatus)
		r.Post("/task-attempts/{id}/start-dev-server", h.StartDevServer)
		r.Get("/task-attempts/{id}/draft", h.GetDraft)
		r.Put("/task-attempts/{id}/draft", h.SaveDraft)
		r.Get("/task-attempts/{id}/diff/ws", diffs.HandleDiff)

		// Git coordination
		r.Post("/task-attempts/{id}/merge", h.Merge)
		r.Post("/task-attempts/{id}/rebase", h.Rebase)
		r.Post("/task-attempts/{id}/conflicts/abort", h.AbortConflicts)
		r.Post("/task-attempts/{id}/push", h.Push)
		r.Post("/task-attempts/{id}/pr", h.CreatePR)
		r.Post("/task-attempts/{id}/pr/attach", h.AttachPR)
		r.Post("/task-attempts/{id}/pr/refresh", h.RefreshPRStatus)
		r.Post("/task-attempts/{id}/change-target-branch", h.ChangeTargetBranch)
		r.Get("/task-attempts/{id}/commit-info", h.GetCommitInfo)

		// Execution processes
		r.Get("/execution-processes", h.ListProcesses)
		r.Get("/execution-processes/stream/ws", hub.HandleEvents)
		r.Get("/execution-processes/{id}", h.GetProcess)
		r.Post("/execution-processes/{id}/stop", h.StopProcess)
		r.Get("/execution-processes/{id}/logs", h.GetProcessLogs)
		r.Get("/execution-processes/{id}/normalized-logs", h.GetNormalizedLogs)
		r.Get("/execution-processes/{id}/raw-logs/ws", streams.HandleRaw)
		r.Get("/execution-processes/{id}/normalized-logs/ws", streams.HandleNormalized)
	})
}
