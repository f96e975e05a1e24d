package attempt

import (
	"strings"
	"testing"
)

func TestDetermineSyncStatus(t *testing.T) {
	cases := []struct {
		name          string
		ahead, behind int
		dirty         bool
		rebasing      bool
		conflicts     bool
		want          SyncStatus
	}{
		{"clean up to date", 0, 0, false, false, false, SyncUpToDate},
		{"dirty up to date", 0, 0, true, false, false, SyncUpToDateDirty},
		{"ahead clean", 3, 0, false, false, false, SyncAhead},
		{"ahead dirty", 3, 0, true, false, false, SyncAheadDirty},
		{"behind clean", 0, 2, false, false, false, SyncBehind},
		{"behind dirty", 0, 2, true, false, false, SyncBehindDirty},
		{"diverged clean", 1, 1, false, false, false, SyncDiverged},
		{"diverged dirty", 1, 1, true, false, false, SyncDivergedDirty},
		{"conflicts override everything", 5, 5, true, true, true, SyncHasConflicts},
		{"rebase in progress overrides counts", 5, 5, true, true, false, SyncRebaseInProgress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetermineSyncStatus(tc.ahead, tc.behind, tc.dirty, tc.rebasing, tc.conflicts)
			if got != tc.want {
				t.Fatalf("DetermineSyncStatus(%d,%d,%v,%v,%v) = %q, want %q",
					tc.ahead, tc.behind, tc.dirty, tc.rebasing, tc.conflicts, got, tc.want)
			}
		})
	}
}

func TestDetermineSyncStatusIsPure(t *testing.T) {
	first := DetermineSyncStatus(2, 1, true, false, false)
	for i := 0; i < 10; i++ {
		if got := DetermineSyncStatus(2, 1, true, false, false); got != first {
			t.Fatalf("classification changed between calls: %q then %q", first, got)
		}
	}
}

func TestSuggestActionsNeverEmpty(t *testing.T) {
	for _, ahead := range []int{0, 1} {
		for _, behind := range []int{0, 1} {
			for _, dirty := range []bool{false, true} {
				for _, rebasing := range []bool{false, true} {
					for _, conflicts := range []bool{false, true} {
						got := SuggestActions(ahead, behind, dirty, rebasing, conflicts)
						if len(got) == 0 {
							t.Fatalf("no actions for ahead=%d behind=%d dirty=%v rebasing=%v conflicts=%v",
								ahead, behind, dirty, rebasing, conflicts)
						}
					}
				}
			}
		}
	}
}

func TestSuggestActionsAheadCleanMentionsPR(t *testing.T) {
	actions := SuggestActions(3, 0, false, false, false)
	found := false
	for _, a := range actions {
		if strings.Contains(a, "pull request") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a pull-request suggestion for a clean ahead branch, got %v", actions)
	}
	if status := DetermineSyncStatus(3, 0, false, false, false); status != SyncAhead {
		t.Fatalf("status = %q, want %q", status, SyncAhead)
	}
}

func TestSuggestActionsConflictsDominate(t *testing.T) {
	actions := SuggestActions(2, 2, true, true, true)
	for _, a := range actions {
		if strings.Contains(a, "pull request") || strings.Contains(a, "Rebase onto") {
			t.Fatalf("conflict suggestions should not include divergence actions: %v", actions)
		}
	}
	if !strings.Contains(actions[0], "conflicted") {
		t.Fatalf("first action should address conflicts, got %v", actions)
	}
}
