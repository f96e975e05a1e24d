// Package scriptexec runs project lifecycle scripts (setup, cleanup, dev
// server) as shell subprocesses and streams their output as log messages.
package scriptexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"github.com/worklift/worklift/internal/domain/execution"
	"github.com/worklift/worklift/internal/port/executor"
)

const execName = "script"

func init() {
	executor.Register(execName, func(_ map[string]string) (executor.Executor, error) {
		return New(), nil
	})
}

// Executor runs script actions with the interpreter named by the action's
// language, defaulting to bash.
type Executor struct{}

// New creates a script executor.
func New() *Executor { return &Executor{} }

// Name returns "script".
func (e *Executor) Name() string { return execName }

// Start launches the script in the worktree. The subprocess gets its own
// process group so Stop can kill the whole tree, including dev-server
// children.
func (e *Executor) Start(ctx context.Context, spec executor.StartSpec) (executor.Handle, error) {
	if spec.Action.Type != execution.ActionScript || spec.Action.Script == nil {
		return nil, fmt.Errorf("scriptexec: action %q is not a script", spec.Action.Type)
	}

	argv := interpreter(spec.Action.Script.Language)
	argv = append(argv, spec.Action.Script.Script)
	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // scripts come from project config
	cmd.Dir = spec.WorktreeDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("scriptexec: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("scriptexec: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("scriptexec: start: %w", err)
	}

	h := &handle{
		cmd:  cmd,
		logs: make(chan execution.LogMsg, 256),
		done: make(chan struct{}),
	}

	var scanners sync.WaitGroup
	scanners.Add(2)
	go h.scan(stdout, execution.StdoutMsg, &scanners)
	go h.scan(stderr, execution.StderrMsg, &scanners)

	go func() {
		scanners.Wait()
		err := cmd.Wait()
		h.exitCode = int64(cmd.ProcessState.ExitCode())
		if err != nil && h.exitCode < 0 {
			h.waitErr = err
		}
		h.logs <- execution.FinishedMsg()
		close(h.logs)
		close(h.done)
	}()

	return h, nil
}

// interpreter maps a script language onto the command prefix that runs it.
func interpreter(language string) []string {
	switch language {
	case "", "bash":
		return []string{"bash", "-c"}
	case "sh":
		return []string{"sh", "-c"}
	case "node":
		return []string{"node", "-e"}
	case "python":
		return []string{"python3", "-c"}
	default:
		return []string{language, "-c"}
	}
}

type handle struct {
	cmd      *exec.Cmd
	logs     chan execution.LogMsg
	done     chan struct{}
	exitCode int64
	waitErr  error
	stopOnce sync.Once
}

func (h *handle) scan(r io.Reader, wrap func(string) execution.LogMsg, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		h.logs <- wrap(sc.Text())
	}
}

// Logs yields the stream until the run ends.
func (h *handle) Logs() <-chan execution.LogMsg { return h.logs }

// Wait blocks for the exit code.
func (h *handle) Wait(ctx context.Context) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.done:
		return h.exitCode, h.waitErr
	}
}

// Stop kills the script's process group. Safe to call more than once.
func (h *handle) Stop(_ context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		if h.cmd.Process == nil {
			return
		}
		// Negative pid targets the process group created at Start.
		err = syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
	})
	return err
}
