package attempt

import "fmt"

// ConflictOp is the kind of git operation currently producing unresolved
// conflicts in a worktree.
type ConflictOp string

const (
	OpRebase     ConflictOp = "rebase"
	OpMerge      ConflictOp = "merge"
	OpCherryPick ConflictOp = "cherry_pick"
	OpRevert     ConflictOp = "revert"
)

// SyncStatus summarizes an attempt branch's relationship to its target.
type SyncStatus string

const (
	SyncHasConflicts     SyncStatus = "HasConflicts"
	SyncRebaseInProgress SyncStatus = "RebaseInProgress"
	SyncUpToDate         SyncStatus = "UpToDate"
	SyncUpToDateDirty    SyncStatus = "UpToDateWithUncommittedChanges"
	SyncAhead            SyncStatus = "Ahead"
	SyncAheadDirty       SyncStatus = "AheadWithUncommittedChanges"
	SyncBehind           SyncStatus = "Behind"
	SyncBehindDirty      SyncStatus = "BehindWithUncommittedChanges"
	SyncDiverged         SyncStatus = "Diverged"
	SyncDivergedDirty    SyncStatus = "DivergedWithUncommittedChanges"
	SyncUnknown          SyncStatus = "Unknown"
)

// BranchStatus is the full derived status of an attempt branch, assembled
// from repository facts. Pointer fields are nil when the underlying fact
// could not be collected (best-effort reads).
type BranchStatus struct {
	CommitsAhead          *int       `json:"commits_ahead"`
	CommitsBehind         *int       `json:"commits_behind"`
	HasUncommittedChanges *bool      `json:"has_uncommitted_changes"`
	HeadOID               string     `json:"head_oid,omitempty"`
	UncommittedCount      *int       `json:"uncommitted_count"`
	UntrackedCount        *int       `json:"untracked_count"`
	TargetBranchName      string     `json:"target_branch_name"`
	RemoteCommitsAhead    *int       `json:"remote_commits_ahead"`
	RemoteCommitsBehind   *int       `json:"remote_commits_behind"`
	Merges                []Merge    `json:"merges"`
	IsRebaseInProgress    bool       `json:"is_rebase_in_progress"`
	ConflictOp            ConflictOp `json:"conflict_op,omitempty"`
	ConflictedFiles       []string   `json:"conflicted_files"`
	SyncStatus            SyncStatus `json:"sync_status"`
	SuggestedActions      []string   `json:"suggested_actions"`
}

// DetermineSyncStatus classifies collected branch facts into a single label.
// It is a pure function: identical inputs always yield identical labels.
// Precedence, highest first: conflicts, rebase-in-progress, then the
// (ahead, behind, dirty) combination.
func DetermineSyncStatus(ahead, behind int, hasUncommitted, isRebasing, hasConflicts bool) SyncStatus {
	switch {
	case hasConflicts:
		return SyncHasConflicts
	case isRebasing:
		return SyncRebaseInProgress
	}

	switch {
	case ahead == 0 && behind == 0 && !hasUncommitted:
		return SyncUpToDate
	case ahead == 0 && behind == 0:
		return SyncUpToDateDirty
	case ahead > 0 && behind == 0 && !hasUncommitted:
		return SyncAhead
	case ahead > 0 && behind == 0:
		return SyncAheadDirty
	case ahead == 0 && behind > 0 && !hasUncommitted:
		return SyncBehind
	case ahead == 0 && behind > 0:
		return SyncBehindDirty
	case ahead > 0 && behind > 0 && !hasUncommitted:
		return SyncDiverged
	case ahead > 0 && behind > 0:
		return SyncDivergedDirty
	}
	return SyncUnknown
}

// SuggestActions returns a human-readable, never-empty list of next steps
// for the given branch facts. Conflicts dominate, then an in-progress
// rebase, then a checklist combining dirtiness, divergence, and pushing.
func SuggestActions(ahead, behind int, hasUncommitted, isRebasing, hasConflicts bool) []string {
	if hasConflicts {
		return []string{
			"Resolve the conflicted files and continue the operation",
			"Or abort the conflicted operation to restore a clean state",
		}
	}
	if isRebasing {
		return []string{
			"Complete the rebase in progress",
			"Or abort the rebase to restore the previous branch state",
		}
	}

	var actions []string
	if hasUncommitted {
		actions = append(actions, "Commit or stash uncommitted changes")
	}
	if behind > 0 {
		actions = append(actions, fmt.Sprintf("Rebase onto the target branch (%d commits behind)", behind))
	}
	if ahead > 0 && !hasUncommitted {
		actions = append(actions, fmt.Sprintf("Push the branch or create a pull request (%d commits ahead)", ahead))
	}
	if len(actions) == 0 {
		actions = append(actions, "Branch is up to date; start or continue agent work")
	}
	return actions
}
