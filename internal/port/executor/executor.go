// Package executor defines the port for coding-agent executors: the engines
// that run prompts inside an attempt's worktree and stream logs back.
package executor

import (
	"context"

	"github.com/worklift/worklift/internal/domain/execution"
)

// StartSpec describes one agent run.
type StartSpec struct {
	WorktreeDir string
	Action      execution.Action
}

// Handle is a live agent run. Logs yields the stream until the run ends;
// the channel is closed after the final message. Wait blocks for the exit
// code. Stop asks the run to terminate and is safe to call more than once.
type Handle interface {
	Logs() <-chan execution.LogMsg
	Wait(ctx context.Context) (exitCode int64, err error)
	Stop(ctx context.Context) error
}

// Executor starts coding-agent runs for one executor profile.
type Executor interface {
	// Name returns the unique identifier for this executor (e.g. "claude-code").
	Name() string

	// Start launches an agent run in the given worktree.
	Start(ctx context.Context, spec StartSpec) (Handle, error)
}
