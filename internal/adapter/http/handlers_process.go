package http

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/domain/execution"
)

// ListProcesses lists an attempt's execution processes, oldest first.
// show_soft_deleted=true includes dropped processes.
func (h *Handlers) ListProcesses(w http.ResponseWriter, r *http.Request) {
	attemptID, err := uuid.Parse(r.URL.Query().Get("task_attempt_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "task_attempt_id query parameter is required")
		return
	}
	includeDropped := r.URL.Query().Get("show_soft_deleted") == "true"

	procs, err := h.Processes.FindByAttempt(r.Context(), attemptID, includeDropped)
	if err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	if procs == nil {
		procs = []execution.Process{}
	}
	writeJSON(w, http.StatusOK, procs)
}

// GetProcess returns one execution process.
func (h *Handlers) GetProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	proc, err := h.Store.GetProcess(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "process not found")
		return
	}
	writeJSON(w, http.StatusOK, proc)
}

// StopProcess stops one running execution process.
func (h *Handlers) StopProcess(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Processes.StopExecution(r.Context(), id); err != nil {
		writeDomainError(w, err, "process not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetProcessLogs returns the stored raw log messages of a process.
func (h *Handlers) GetProcessLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	msgs, err := h.Logs.RawHistory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "process not found")
		return
	}
	if msgs == nil {
		msgs = []execution.LogMsg{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// GetNormalizedLogs returns the normalized display entries of a process.
func (h *Handlers) GetNormalizedLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.Logs.Normalized(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "process not found")
		return
	}
	if entries == nil {
		entries = []execution.NormalizedLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
