// Package agentexec runs coding agents as CLI subprocesses that emit
// stream-json output, and translates that stream into Worklift log messages:
// the session id is surfaced as soon as the agent announces it, and every
// assistant event becomes a JSON Patch against the normalized log view.
package agentexec

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"github.com/worklift/worklift/internal/domain/execution"
	"github.com/worklift/worklift/internal/port/executor"
)

func init() {
	executor.Register("claude-code", func(cfg map[string]string) (executor.Executor, error) {
		return New("claude-code", []string{"claude", "-p", "--output-format", "stream-json", "--verbose"}, cfg), nil
	})
}

// Executor launches one agent CLI.
type Executor struct {
	name    string
	command []string
}

// New creates an Executor for the given base command. A "command" entry in
// cfg overrides the binary, for pinned or wrapped installations.
func New(name string, command []string, cfg map[string]string) *Executor {
	if override, ok := cfg["command"]; ok && override != "" {
		command = append([]string{override}, command[1:]...)
	}
	return &Executor{name: name, command: command}
}

// Name returns the executor identifier.
func (e *Executor) Name() string { return e.name }

// Start launches an agent run. Initial actions start a fresh session;
// follow-up actions resume the recorded one. The prompt is fed over stdin.
func (e *Executor) Start(ctx context.Context, spec executor.StartSpec) (executor.Handle, error) {
	var prompt string
	args := append([]string(nil), e.command[1:]...)

	switch spec.Action.Type {
	case execution.ActionCodingAgentInitial:
		if spec.Action.Initial == nil {
			return nil, fmt.Errorf("agentexec: initial action missing payload")
		}
		prompt = spec.Action.Initial.Prompt
	case execution.ActionCodingAgentFollowUp:
		if spec.Action.FollowUp == nil {
			return nil, fmt.Errorf("agentexec: follow-up action missing payload")
		}
		prompt = spec.Action.FollowUp.Prompt
		args = append(args, "--resume", spec.Action.FollowUp.SessionID)
	default:
		return nil, fmt.Errorf("agentexec: action %q is not an agent action", spec.Action.Type)
	}

	cmd := exec.Command(e.command[0], args...) //nolint:gosec // command comes from executor registration
	cmd.Dir = spec.WorktreeDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agentexec: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agentexec: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("agentexec: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agentexec: start %s: %w", e.command[0], err)
	}

	go func() {
		_, _ = io.WriteString(stdin, prompt)
		_ = stdin.Close()
	}()

	h := &handle{
		cmd:  cmd,
		logs: make(chan execution.LogMsg, 256),
		done: make(chan struct{}),
	}

	var scanners sync.WaitGroup
	scanners.Add(2)
	go h.scanEvents(stdout, &scanners)
	go h.scanStderr(stderr, &scanners)

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

type handle struct {
	cmd      *exec.Cmd
	logs     chan execution.LogMsg
	done     chan struct{}
	exitCode int64
	waitErr  error
	stopOnce sync.Once
}

// agentEvent is the subset of the agent's stream-json events we care about.
type agentEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// scanEvents consumes the agent's stream-json stdout. Each event line is
// forwarded as a JSON Patch entry; the first event carrying a session id
// additionally emits a session_id message so callers can persist it.
func (h *handle) scanEvents(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	index := 0
	sessionSent := false
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}

		var ev agentEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			// Non-JSON output from the agent is still worth keeping.
			h.logs <- execution.StdoutMsg(line)
			continue
		}
		if !sessionSent && ev.SessionID != "" {
			h.logs <- execution.SessionMsg(ev.SessionID)
			sessionSent = true
		}
		h.logs <- execution.PatchMsg(execution.AppendLinePatch(index, execution.LogJSONPatch, line))
		index++
	}
}

func (h *handle) scanStderr(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		h.logs <- execution.StderrMsg(sc.Text())
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

// Stop kills the agent's process group. Safe to call more than once.
func (h *handle) Stop(_ context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		if h.cmd.Process == nil {
			return
		}
		err = syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
	})
	return err
}
