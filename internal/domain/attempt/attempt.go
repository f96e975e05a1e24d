// Package attempt defines the TaskAttempt aggregate: an isolated,
// branch-scoped unit of agent work on a task, the merge records that
// integrate it, and the derived branch-status model.
package attempt

import (
	"time"

	"github.com/google/uuid"
)

// TaskAttempt is one isolated unit of work on a task. It owns at most one
// live worktree at a time; the worktree is owned exclusively by the attempt.
type TaskAttempt struct {
	ID           uuid.UUID `json:"id"`
	TaskID       uuid.UUID `json:"task_id"`
	Branch       string    `json:"branch"`
	TargetBranch string    `json:"target_branch"`
	// ContainerRef is the materialized worktree path; empty until the
	// worktree exists.
	ContainerRef     string     `json:"container_ref,omitempty"`
	Executor         string     `json:"executor"`
	WorktreeDeleted  bool       `json:"worktree_deleted"`
	SetupCompletedAt *time.Time `json:"setup_completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CreateRequest holds the fields needed to start a new attempt.
type CreateRequest struct {
	TaskID       uuid.UUID `json:"task_id"`
	Executor     string    `json:"executor"`
	Variant      string    `json:"variant,omitempty"`
	BaseBranch   string    `json:"base_branch"`
	Prompt       string    `json:"prompt"`
	BranchPrefix string    `json:"-"`
}

// DraftType distinguishes the pending draft texts an attempt can carry.
type DraftType string

const (
	DraftFollowUp DraftType = "follow_up"
	DraftRetry    DraftType = "retry"
)

// Draft is an unsent prompt associated with an attempt, cleared after send.
type Draft struct {
	TaskAttemptID uuid.UUID `json:"task_attempt_id"`
	Type          DraftType `json:"type"`
	Prompt        string    `json:"prompt"`
	UpdatedAt     time.Time `json:"updated_at"`
}
