package scriptexec

import (
	"context"
	"testing"
	"time"

	"github.com/worklift/worklift/internal/domain/execution"
	"github.com/worklift/worklift/internal/port/executor"
)

func collect(t *testing.T, h executor.Handle) []execution.LogMsg {
	t.Helper()
	var msgs []execution.LogMsg
	for msg := range h.Logs() {
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestScriptStreamsOutputAndExitCode(t *testing.T) {
	e := New()
	ctx := context.Background()

	h, err := e.Start(ctx, executor.StartSpec{
		WorktreeDir: t.TempDir(),
		Action:      execution.NewScriptAction("echo hello; echo oops >&2; exit 3", "", "setupscript"),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	msgs := collect(t, h)
	var sawStdout, sawStderr, sawFinished bool
	for _, m := range msgs {
		switch {
		case m.Type == execution.LogStdout && m.Content == "hello":
			sawStdout = true
		case m.Type == execution.LogStderr && m.Content == "oops":
			sawStderr = true
		case m.Type == execution.LogFinished:
			sawFinished = true
		}
	}
	if !sawStdout || !sawStderr || !sawFinished {
		t.Fatalf("missing messages: stdout=%v stderr=%v finished=%v (%v)", sawStdout, sawStderr, sawFinished, msgs)
	}
	if msgs[len(msgs)-1].Type != execution.LogFinished {
		t.Fatalf("last message should be finished, got %v", msgs[len(msgs)-1])
	}

	code, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
}

func TestScriptLanguageSelectsInterpreter(t *testing.T) {
	e := New()
	ctx := context.Background()

	// BASH_VERSION is only set when bash itself runs the script.
	h, err := e.Start(ctx, executor.StartSpec{
		WorktreeDir: t.TempDir(),
		Action:      execution.NewScriptAction(`test -z "$BASH_VERSION"`, "sh", "setupscript"),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	collect(t, h)
	if code, err := h.Wait(ctx); err != nil || code != 0 {
		t.Fatalf("sh script: code=%d err=%v", code, err)
	}
}

func TestInterpreterDefaultsToBash(t *testing.T) {
	cases := map[string][]string{
		"":     {"bash", "-c"},
		"bash": {"bash", "-c"},
		"sh":   {"sh", "-c"},
		"zsh":  {"zsh", "-c"},
	}
	for lang, want := range cases {
		got := interpreter(lang)
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Fatalf("interpreter(%q) = %v, want %v", lang, got, want)
		}
	}
}

func TestScriptRejectsNonScriptAction(t *testing.T) {
	e := New()
	_, err := e.Start(context.Background(), executor.StartSpec{
		WorktreeDir: t.TempDir(),
		Action:      execution.NewInitialAction("prompt", execution.Profile{Executor: "claude-code"}),
	})
	if err == nil {
		t.Fatal("expected error for agent action")
	}
}

func TestStopKillsLongRunningScript(t *testing.T) {
	e := New()
	ctx := context.Background()

	h, err := e.Start(ctx, executor.StartSpec{
		WorktreeDir: t.TempDir(),
		Action:      execution.NewScriptAction("sleep 60", "", "devserver"),
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// Second stop must be a no-op.
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	code, _ := h.Wait(waitCtx)
	if code == 0 {
		t.Fatalf("killed script should not exit 0")
	}
}
