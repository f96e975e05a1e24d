package http

import "net/http"

// Merge squash-merges the attempt branch into its target. A conflicted
// merge is an error (409); only rebase conflicts come back as data.
func (h *Handlers) Merge(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	result, err := h.GitOps.Merge(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type rebaseRequest struct {
	NewTargetBranch string `json:"new_target_branch,omitempty"`
}

// Rebase replays the attempt branch onto its (possibly new) target branch.
func (h *Handlers) Rebase(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req rebaseRequest
	if r.ContentLength > 0 {
		var parsed bool
		req, parsed = readJSON[rebaseRequest](w, r)
		if !parsed {
			return
		}
	}
	result, err := h.GitOps.Rebase(r.Context(), id, req.NewTargetBranch)
	if err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AbortConflicts aborts the conflicted operation in the attempt worktree.
func (h *Handlers) AbortConflicts(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.GitOps.AbortConflicts(r.Context(), id); err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Push pushes the attempt branch to the remote.
func (h *Handlers) Push(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.GitOps.Push(r.Context(), id); err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createPRRequest struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// CreatePR pushes the branch and opens a pull request against the target.
func (h *Handlers) CreatePR(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req createPRRequest
	if r.ContentLength > 0 {
		var parsed bool
		req, parsed = readJSON[createPRRequest](w, r)
		if !parsed {
			return
		}
	}
	m, err := h.GitOps.CreatePR(r.Context(), id, req.Title, req.Body)
	if err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// AttachPR discovers and records an existing pull request for the branch.
func (h *Handlers) AttachPR(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	m, err := h.GitOps.AttachPR(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "no pull request found for this branch")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RefreshPRStatus re-reads the newest PR merge from the hosting service.
func (h *Handlers) RefreshPRStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	m, err := h.GitOps.RefreshPRStatus(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetCommitInfo describes a commit in the attempt's repository. Without a
// sha query parameter it describes the attempt branch head.
func (h *Handlers) GetCommitInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	info, err := h.GitOps.GetCommitInfo(r.Context(), id, r.URL.Query().Get("sha"))
	if err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type changeTargetRequest struct {
	Branch string `json:"branch"`
}

// ChangeTargetBranch retargets the attempt onto another existing branch.
func (h *Handlers) ChangeTargetBranch(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	req, ok := readJSON[changeTargetRequest](w, r)
	if !ok {
		return
	}
	if req.Branch == "" {
		writeError(w, http.StatusBadRequest, "branch is required")
		return
	}
	if err := h.GitOps.ChangeTargetBranch(r.Context(), id, req.Branch); err != nil {
		writeDomainError(w, err, "attempt not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
