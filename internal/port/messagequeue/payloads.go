package messagequeue

// ExecStartedPayload is the schema for exec.started messages.
type ExecStartedPayload struct {
	ExecutionID   string `json:"execution_id"`
	TaskAttemptID string `json:"task_attempt_id"`
	RunReason     string `json:"run_reason"`
}

// ExecCompletedPayload is the schema for exec.completed messages.
type ExecCompletedPayload struct {
	ExecutionID   string `json:"execution_id"`
	TaskAttemptID string `json:"task_attempt_id"`
	Status        string `json:"status"`
	ExitCode      *int64 `json:"exit_code,omitempty"`
}

// ExecDroppedPayload is the schema for exec.dropped messages.
type ExecDroppedPayload struct {
	TaskAttemptID string `json:"task_attempt_id"`
	FromExecution string `json:"from_execution"`
	DroppedCount  int64  `json:"dropped_count"`
}

// AttemptMergedPayload is the schema for attempt.merged messages.
type AttemptMergedPayload struct {
	TaskAttemptID string `json:"task_attempt_id"`
	TargetBranch  string `json:"target_branch"`
	MergeCommit   string `json:"merge_commit,omitempty"`
	PRNumber      int64  `json:"pr_number,omitempty"`
}
