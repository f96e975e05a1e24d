package attempt

import (
	"time"

	"github.com/google/uuid"
)

// MergeKind discriminates how an attempt branch was integrated.
type MergeKind string

const (
	MergeDirect MergeKind = "direct"
	MergePR     MergeKind = "pr"
)

// MergeStatus is the state of a pull-request merge, refreshed from the
// hosting service. Direct merges are always "merged".
type MergeStatus string

const (
	MergeStatusOpen   MergeStatus = "open"
	MergeStatusMerged MergeStatus = "merged"
	MergeStatusClosed MergeStatus = "closed"
)

// Merge records one integration of an attempt branch into its target branch,
// either a direct merge commit or an attached pull request.
type Merge struct {
	ID            uuid.UUID   `json:"id"`
	TaskAttemptID uuid.UUID   `json:"task_attempt_id"`
	Kind          MergeKind   `json:"kind"`
	TargetBranch  string      `json:"target_branch"`
	MergeCommit   string      `json:"merge_commit,omitempty"`
	PRNumber      int64       `json:"pr_number,omitempty"`
	PRURL         string      `json:"pr_url,omitempty"`
	Status        MergeStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

// IsOpenPR reports whether this merge is a pull request still open remotely.
func (m Merge) IsOpenPR() bool {
	return m.Kind == MergePR && m.Status == MergeStatusOpen
}
