package http

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/domain/attempt"
	"github.com/worklift/worklift/internal/port/database"
	"github.com/worklift/worklift/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Attempts  *service.AttemptService
	Retry     *service.RetryService
	Processes *service.ProcessService
	GitOps    *service.GitOpsService
	Status    *service.BranchStatusService
	Logs      *service.LogService
	Store     database.Store
	Logger    *slog.Logger
}

// CreateAttempt starts a new attempt on a task.
func (h *Handlers) CreateAttempt(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[attempt.CreateRequest](w, r)
	if !ok {
		return
	}
	a, err := h.Attempts.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAttempts lists a task's attempts, newest first.
func (h *Handlers) ListAttempts(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.URL.Query().Get("task_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "task_id query parameter is required")
		return
	}
	attempts, err := h.Attempts.ListByTask(r.Context(), taskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	if attempts == nil {
		attempts = []attempt.TaskAttempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

// GetAttempt returns one attempt.
func (h *Handlers) GetAttempt(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	a, err := h.Attempts.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// FollowUp sends a new prompt to the attempt's agent, optionally replacing
// an earlier process.
func (h *Handlers) FollowUp(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := readJSON[service.FollowUpRequest](w, r)
	if !ok {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	proc, err := h.Retry.FollowUp(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	writeJSON(w, http.StatusOK, proc)
}

// ReplaceProcess rewinds the attempt to before the named process and starts
// a replacement run.
func (h *Handlers) ReplaceProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := readJSON[service.ReplaceRequest](w, r)
	if !ok {
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	result, err := h.Retry.ReplaceProcess(r.Context(), id, req)
	if err != nil {
		writeDomainError(w, err, "attempt or process not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// StopAttempt stops all running processes of the attempt.
func (h *Handlers) StopAttempt(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Processes.StopAttemptExecutions(r.Context(), id); err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BranchStatus returns the attempt's derived branch status.
func (h *Handlers) BranchStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	status, err := h.Status.GetBranchStatus(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// StartDevServer starts the project's dev server in the attempt worktree,
// stopping any dev server already running for the project.
func (h *Handlers) StartDevServer(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	a, err := h.Attempts.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	t, err := h.Store.GetTask(r.Context(), a.TaskID)
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	proj, err := h.Store.GetProject(r.Context(), t.ProjectID)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	proc, err := h.Processes.StartDevServer(r.Context(), a, proj)
	if err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	writeJSON(w, http.StatusCreated, proc)
}

// DeleteAttempt stops the attempt's work and removes its worktree. The
// branch survives for later resumption.
func (h *Handlers) DeleteAttempt(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Attempts.Cleanup(r.Context(), id); err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDraft returns the attempt's stored draft of the given type.
func (h *Handlers) GetDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	draftType := attempt.DraftType(r.URL.Query().Get("type"))
	if draftType == "" {
		draftType = attempt.DraftFollowUp
	}
	d, err := h.Attempts.GetDraft(r.Context(), id, draftType)
	if err != nil {
		writeDomainError(w, err, "draft not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// SaveDraft stores an unsent prompt for the attempt.
func (h *Handlers) SaveDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	d, ok := readJSON[attempt.Draft](w, r)
	if !ok {
		return
	}
	d.TaskAttemptID = id
	if d.Type == "" {
		d.Type = attempt.DraftFollowUp
	}
	if err := h.Attempts.SaveDraft(r.Context(), &d); err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
