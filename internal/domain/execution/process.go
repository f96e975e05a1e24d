// Package execution defines the execution-process model: every script or
// agent run inside an attempt's worktree, its lifecycle states, and the
// normalized log stream it produces.
package execution

import (
	"time"

	"github.com/google/uuid"
)

// RunReason says why a process was started.
type RunReason string

const (
	ReasonSetupScript   RunReason = "setupscript"
	ReasonCleanupScript RunReason = "cleanupscript"
	ReasonCodingAgent   RunReason = "codingagent"
	ReasonDevServer     RunReason = "devserver"
)

// Status is the lifecycle state of a process.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// Terminal reports whether the status is final. Terminal statuses are never
// overwritten by later completion reports.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusKilled
}

// Process is one execution inside an attempt's worktree. Before/AfterHeadCommit
// snapshot the worktree HEAD around the run so later retries can locate reset
// points. Dropped processes are soft-deleted: kept for history, excluded from
// session and HEAD lookups.
type Process struct {
	ID               uuid.UUID  `json:"id"`
	TaskAttemptID    uuid.UUID  `json:"task_attempt_id"`
	RunReason        RunReason  `json:"run_reason"`
	Status           Status     `json:"status"`
	ExitCode         *int64     `json:"exit_code,omitempty"`
	BeforeHeadCommit *string    `json:"before_head_commit,omitempty"`
	AfterHeadCommit  *string    `json:"after_head_commit,omitempty"`
	SessionID        *string    `json:"session_id,omitempty"`
	Action           Action     `json:"action"`
	Dropped          bool       `json:"dropped"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
