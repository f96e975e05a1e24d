package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/domain/execution"
)

// seedProcess creates a bare running process row so log appends have an owner.
func seedProcess(t *testing.T, env *testEnv) uuid.UUID {
	t.Helper()
	a := env.newAttempt(t)
	proc := &execution.Process{
		TaskAttemptID: a.ID,
		RunReason:     execution.ReasonCodingAgent,
		Status:        execution.StatusRunning,
		Action:        execution.NewInitialAction("go", execution.Profile{Executor: "claude-code"}),
	}
	if err := env.store.CreateProcess(context.Background(), proc); err != nil {
		t.Fatalf("create process: %v", err)
	}
	return proc.ID
}

func ingestAll(t *testing.T, logs *LogService, id uuid.UUID, msgs ...execution.LogMsg) {
	t.Helper()
	for _, m := range msgs {
		if err := logs.Ingest(context.Background(), id, m); err != nil {
			t.Fatalf("ingest %q: %v", m.Type, err)
		}
	}
}

func TestIngestCapturesSessionID(t *testing.T) {
	env := newTestEnv(t)
	id := seedProcess(t, env)

	ingestAll(t, env.logs, id, execution.SessionMsg("sess-9"), execution.StdoutMsg("hello"))

	got, _ := env.store.GetProcess(context.Background(), id)
	if got.SessionID == nil || *got.SessionID != "sess-9" {
		t.Fatalf("session id = %v, want sess-9", got.SessionID)
	}
}

func TestFollowReceivesLiveMessages(t *testing.T) {
	env := newTestEnv(t)
	id := seedProcess(t, env)

	ch1, cancel1 := env.logs.Follow(id)
	ch2, cancel2 := env.logs.Follow(id)
	defer cancel1()
	defer cancel2()

	ingestAll(t, env.logs, id, execution.StdoutMsg("one"), execution.StderrMsg("two"))

	for _, ch := range []<-chan execution.LogMsg{ch1, ch2} {
		first := <-ch
		second := <-ch
		if first.Content != "one" || second.Content != "two" {
			t.Fatalf("follower saw %q, %q", first.Content, second.Content)
		}
	}
}

func TestFinishClosesFollowers(t *testing.T) {
	env := newTestEnv(t)
	id := seedProcess(t, env)

	ch, cancel := env.logs.Follow(id)
	defer cancel()

	if err := env.logs.Finish(context.Background(), id); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	msg, ok := <-ch
	if !ok || msg.Type != execution.LogFinished {
		t.Fatalf("first read = %+v, %v; want finished message", msg, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after finish")
	}
}

func TestSlowFollowerDropsInsteadOfStalling(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedProcess(t, env)

	ch, cancel := env.logs.Follow(id)
	defer cancel()

	// Never read: once the buffer is full, ingestion must keep going.
	for i := 0; i < followerBuffer+10; i++ {
		if err := env.logs.Ingest(ctx, id, execution.StdoutMsg("line")); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	if len(ch) != followerBuffer {
		t.Fatalf("buffered = %d, want %d", len(ch), followerBuffer)
	}

	// Everything was still persisted.
	raw, err := env.logs.RawHistory(ctx, id)
	if err != nil {
		t.Fatalf("RawHistory: %v", err)
	}
	if len(raw) != followerBuffer+10 {
		t.Fatalf("persisted = %d, want %d", len(raw), followerBuffer+10)
	}
}

func TestCancelledFollowerStopsReceiving(t *testing.T) {
	env := newTestEnv(t)
	id := seedProcess(t, env)

	ch, cancel := env.logs.Follow(id)
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("cancelled follower channel should be closed")
	}

	// A later finish must not double-close the channel.
	if err := env.logs.Finish(context.Background(), id); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestRawHistoryFiltersAgentMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedProcess(t, env)

	ingestAll(t, env.logs, id,
		execution.StdoutMsg("out"),
		execution.SessionMsg("sess-1"),
		execution.PatchMsg(json.RawMessage(`[{"op":"add"}]`)),
		execution.StderrMsg("err"),
	)

	raw, err := env.logs.RawHistory(ctx, id)
	if err != nil {
		t.Fatalf("RawHistory: %v", err)
	}
	if len(raw) != 2 || raw[0].Type != execution.LogStdout || raw[1].Type != execution.LogStderr {
		t.Fatalf("raw = %+v", raw)
	}
}

func TestNormalizedFlattensByLevel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := seedProcess(t, env)

	ingestAll(t, env.logs, id,
		execution.StdoutMsg("building"),
		execution.StderrMsg("warning: deprecated"),
		execution.SessionMsg("sess-1"),
		execution.PatchMsg(json.RawMessage(`[{"op":"add"}]`)),
	)
	if err := env.logs.Finish(ctx, id); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	entries, err := env.logs.Normalized(ctx, id)
	if err != nil {
		t.Fatalf("Normalized: %v", err)
	}
	want := []struct {
		level   string
		message string
	}{
		{"info", "building"},
		{"error", "warning: deprecated"},
		{"agent", `[{"op":"add"}]`},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(entries), len(want))
	}
	for i, w := range want {
		e := entries[i]
		if e.Index != i || e.Level != w.level || e.Message != w.message {
			t.Fatalf("entry %d = %+v, want %+v", i, e, w)
		}
	}
}
