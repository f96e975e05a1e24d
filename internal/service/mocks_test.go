package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/adapter/otel"
	"github.com/worklift/worklift/internal/domain"
	"github.com/worklift/worklift/internal/domain/attempt"
	"github.com/worklift/worklift/internal/domain/execution"
	"github.com/worklift/worklift/internal/domain/project"
	"github.com/worklift/worklift/internal/domain/task"
	"github.com/worklift/worklift/internal/port/executor"
	"github.com/worklift/worklift/internal/port/messagequeue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testMetrics() *otel.Metrics {
	m, err := otel.NewMetrics()
	if err != nil {
		panic(err)
	}
	return m
}

// --- fake store ---

type storedLog struct {
	msg        execution.LogMsg
	insertedAt time.Time
}

type fakeStore struct {
	mu        sync.Mutex
	projects  map[uuid.UUID]*project.Project
	tasks     map[uuid.UUID]*task.Task
	attempts  map[uuid.UUID]*attempt.TaskAttempt
	processes map[uuid.UUID]*execution.Process
	logs      map[uuid.UUID][]storedLog
	merges    map[uuid.UUID]*attempt.Merge
	drafts    map[string]*attempt.Draft
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:  make(map[uuid.UUID]*project.Project),
		tasks:     make(map[uuid.UUID]*task.Task),
		attempts:  make(map[uuid.UUID]*attempt.TaskAttempt),
		processes: make(map[uuid.UUID]*execution.Process),
		logs:      make(map[uuid.UUID][]storedLog),
		merges:    make(map[uuid.UUID]*attempt.Merge),
		drafts:    make(map[string]*attempt.Draft),
	}
}

func (f *fakeStore) addProject(p *project.Project) *project.Project {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	f.projects[p.ID] = p
	return p
}

func (f *fakeStore) addTask(t *task.Task) *task.Task {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	f.tasks[t.ID] = t
	return t
}

func (f *fakeStore) GetProject(_ context.Context, id uuid.UUID) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetTask(_ context.Context, id uuid.UUID) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) UpdateTaskStatus(_ context.Context, id uuid.UUID, status task.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	return nil
}

func (f *fakeStore) CreateAttempt(_ context.Context, a *attempt.TaskAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	f.attempts[a.ID] = &cp
	return nil
}

func (f *fakeStore) GetAttempt(_ context.Context, id uuid.UUID) (*attempt.TaskAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) ListAttemptsByTask(_ context.Context, taskID uuid.UUID) ([]attempt.TaskAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []attempt.TaskAttempt
	for _, a := range f.attempts {
		if a.TaskID == taskID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateAttemptTargetBranch(_ context.Context, id uuid.UUID, targetBranch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.TargetBranch = targetBranch
	return nil
}

func (f *fakeStore) UpdateAttemptContainerRef(_ context.Context, id uuid.UUID, ref string, deleted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.ContainerRef = ref
	a.WorktreeDeleted = deleted
	return nil
}

func (f *fakeStore) SetAttemptSetupCompleted(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	a.SetupCompletedAt = &now
	return nil
}

func (f *fakeStore) CreateProcess(_ context.Context, p *execution.Process) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = execution.StatusRunning
	f.seq++
	p.StartedAt = time.Now().Add(time.Duration(f.seq) * time.Millisecond)
	p.CreatedAt = p.StartedAt
	cp := *p
	f.processes[p.ID] = &cp
	return nil
}

func (f *fakeStore) GetProcess(_ context.Context, id uuid.UUID) (*execution.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.processes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) sortedProcesses(attemptID uuid.UUID, includeDropped bool) []*execution.Process {
	var procs []*execution.Process
	for _, p := range f.processes {
		if p.TaskAttemptID != attemptID {
			continue
		}
		if !includeDropped && p.Dropped {
			continue
		}
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].StartedAt.Before(procs[j].StartedAt) })
	return procs
}

func (f *fakeStore) ListProcessesByAttempt(_ context.Context, attemptID uuid.UUID, includeDropped bool) ([]execution.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []execution.Process
	for _, p := range f.sortedProcesses(attemptID, includeDropped) {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) CompleteProcess(_ context.Context, id uuid.UUID, status execution.Status, exitCode *int64, afterHead *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.processes[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.Status != execution.StatusRunning {
		return false, nil
	}
	now := time.Now()
	p.Status = status
	p.ExitCode = exitCode
	p.AfterHeadCommit = afterHead
	p.CompletedAt = &now
	return true, nil
}

func (f *fakeStore) MarkProcessKilled(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.processes[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if p.Status != execution.StatusRunning {
		return false, nil
	}
	now := time.Now()
	p.Status = execution.StatusKilled
	p.CompletedAt = &now
	return true, nil
}

func (f *fakeStore) SetProcessSessionID(_ context.Context, id uuid.UUID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.processes[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.SessionID = &sessionID
	return nil
}

func (f *fakeStore) LatestSessionID(_ context.Context, attemptID uuid.UUID) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	procs := f.sortedProcesses(attemptID, false)
	for i := len(procs) - 1; i >= 0; i-- {
		if procs[i].RunReason == execution.ReasonCodingAgent && procs[i].SessionID != nil {
			s := *procs[i].SessionID
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) LatestExecutorProfile(_ context.Context, attemptID uuid.UUID) (*execution.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	procs := f.sortedProcesses(attemptID, false)
	for i := len(procs) - 1; i >= 0; i-- {
		if procs[i].RunReason != execution.ReasonCodingAgent {
			continue
		}
		if p, ok := procs[i].Action.Profile(); ok {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) PrevAfterHeadCommit(_ context.Context, attemptID, beforeProcessID uuid.UUID) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.processes[beforeProcessID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	procs := f.sortedProcesses(attemptID, false)
	var found *string
	for _, p := range procs {
		if !p.StartedAt.Before(target.StartedAt) {
			break
		}
		if p.AfterHeadCommit != nil {
			s := *p.AfterHeadCommit
			found = &s
		}
	}
	return found, nil
}

func (f *fakeStore) DropProcessesAtAndAfter(_ context.Context, attemptID, processID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	target, ok := f.processes[processID]
	if !ok || target.Dropped {
		return 0, domain.ErrNotFound
	}
	var dropped int64
	for _, p := range f.sortedProcesses(attemptID, false) {
		if !p.StartedAt.Before(target.StartedAt) {
			p.Dropped = true
			dropped++
		}
	}
	return dropped, nil
}

func (f *fakeStore) RunningProcesses(_ context.Context, attemptID uuid.UUID) ([]execution.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []execution.Process
	for _, p := range f.sortedProcesses(attemptID, true) {
		if p.Status == execution.StatusRunning {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) RunningDevServers(_ context.Context, projectID uuid.UUID) ([]execution.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []execution.Process
	for _, p := range f.processes {
		if p.RunReason != execution.ReasonDevServer || p.Status != execution.StatusRunning {
			continue
		}
		a, ok := f.attempts[p.TaskAttemptID]
		if !ok {
			continue
		}
		t, ok := f.tasks[a.TaskID]
		if !ok || t.ProjectID != projectID {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) AppendProcessLog(_ context.Context, executionID uuid.UUID, msg execution.LogMsg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs[executionID] = append(f.logs[executionID], storedLog{msg: msg, insertedAt: time.Now()})
	return nil
}

func (f *fakeStore) GetProcessLogs(_ context.Context, executionID uuid.UUID) ([]execution.ProcessLogs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pages []execution.ProcessLogs
	for _, l := range f.logs[executionID] {
		pages = append(pages, execution.ProcessLogs{
			ExecutionID: executionID.String(),
			Msgs:        []execution.LogMsg{l.msg},
			InsertedAt:  l.insertedAt,
		})
	}
	return pages, nil
}

func (f *fakeStore) CreateDirectMerge(_ context.Context, m *attempt.Merge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = uuid.New()
	m.Kind = attempt.MergeDirect
	m.Status = attempt.MergeStatusMerged
	m.CreatedAt = time.Now()
	cp := *m
	f.merges[m.ID] = &cp
	return nil
}

func (f *fakeStore) CreatePRMerge(_ context.Context, m *attempt.Merge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = uuid.New()
	m.Kind = attempt.MergePR
	m.CreatedAt = time.Now()
	cp := *m
	f.merges[m.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateMergeStatus(_ context.Context, id uuid.UUID, status attempt.MergeStatus, mergeCommit *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.merges[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = status
	if mergeCommit != nil {
		m.MergeCommit = *mergeCommit
	}
	return nil
}

func (f *fakeStore) ListMergesByAttempt(_ context.Context, attemptID uuid.UUID) ([]attempt.Merge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []attempt.Merge
	for _, m := range f.merges {
		if m.TaskAttemptID == attemptID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) LatestMergeByAttempt(ctx context.Context, attemptID uuid.UUID) (*attempt.Merge, error) {
	merges, err := f.ListMergesByAttempt(ctx, attemptID)
	if err != nil || len(merges) == 0 {
		return nil, err
	}
	return &merges[0], nil
}

func draftKey(attemptID uuid.UUID, t attempt.DraftType) string {
	return attemptID.String() + "/" + string(t)
}

func (f *fakeStore) SaveDraft(_ context.Context, d *attempt.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	cp.UpdatedAt = time.Now()
	f.drafts[draftKey(d.TaskAttemptID, d.Type)] = &cp
	return nil
}

func (f *fakeStore) GetDraft(_ context.Context, attemptID uuid.UUID, t attempt.DraftType) (*attempt.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[draftKey(attemptID, t)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) ClearDraft(_ context.Context, attemptID uuid.UUID, t attempt.DraftType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.drafts, draftKey(attemptID, t))
	return nil
}

// --- fake git ---

type fakeGit struct {
	mu               sync.Mutex
	head             string
	branchHeads      map[string]string
	branches         map[string]bool
	remoteBranches   map[string]bool
	dirty            bool
	rebasing         bool
	conflicted       []string
	conflictOp       attempt.ConflictOp
	ahead, behind    int
	uncommitted      int
	untracked        int
	remoteURL        string
	resets           []string
	addedWorktrees   []string
	removedWorktrees []string
	pushes           []string
	rebaseErr        error
	mergeCommit      string
	mergeErr         error
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		head:        "headoid",
		branchHeads: map[string]string{},
		branches:    map[string]bool{"main": true},
		remoteURL:   "https://github.com/acme/widgets.git",
		mergeCommit: "mergecommitoid",
	}
}

func (g *fakeGit) setHead(oid string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.head = oid
}

func (g *fakeGit) HeadCommit(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head, nil
}

func (g *fakeGit) BranchExists(_ context.Context, _, branch string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.branches[branch], nil
}

func (g *fakeGit) RemoteBranchExists(_ context.Context, _, branch string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remoteBranches[branch], nil
}

func (g *fakeGit) BranchHead(_ context.Context, _, branch string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if oid, ok := g.branchHeads[branch]; ok {
		return oid, nil
	}
	return g.head, nil
}

func (g *fakeGit) AheadBehind(context.Context, string, string, string) (int, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ahead, g.behind, nil
}

func (g *fakeGit) RemoteAheadBehind(context.Context, string, string) (int, int, error) {
	return 0, 0, nil
}

func (g *fakeGit) IsDirty(context.Context, string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dirty, nil
}

func (g *fakeGit) ChangeCounts(context.Context, string) (int, int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.uncommitted, g.untracked, nil
}

func (g *fakeGit) HardReset(_ context.Context, _, commit string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resets = append(g.resets, commit)
	g.head = commit
	return nil
}

func (g *fakeGit) AddWorktree(_ context.Context, _, path, branch, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addedWorktrees = append(g.addedWorktrees, path)
	g.branches[branch] = true
	return nil
}

func (g *fakeGit) RemoveWorktree(_ context.Context, _, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removedWorktrees = append(g.removedWorktrees, path)
	return nil
}

func (g *fakeGit) SquashMerge(context.Context, string, string, string, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mergeErr != nil {
		return "", g.mergeErr
	}
	return g.mergeCommit, nil
}

func (g *fakeGit) Rebase(context.Context, string, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rebaseErr
}

func (g *fakeGit) RebaseInProgress(context.Context, string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rebasing, nil
}

func (g *fakeGit) ConflictedFiles(context.Context, string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conflicted, nil
}

func (g *fakeGit) ConflictOpInProgress(context.Context, string) (attempt.ConflictOp, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conflictOp, g.conflictOp != "", nil
}

func (g *fakeGit) AbortConflicts(context.Context, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conflicted = nil
	g.conflictOp = ""
	g.rebasing = false
	return nil
}

func (g *fakeGit) Push(_ context.Context, _, branch string, _ bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, branch)
	return nil
}

func (g *fakeGit) CommitSubject(context.Context, string, string) (string, error) {
	return "subject", nil
}

func (g *fakeGit) RemoteURL(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remoteURL, nil
}

func (g *fakeGit) Diff(context.Context, string, string) (string, error) {
	return "", nil
}

func (g *fakeGit) DiffStats(context.Context, string, string) (string, error) {
	return "", nil
}

// --- fake queue / cache / executor ---

type fakeQueue struct {
	mu       sync.Mutex
	messages map[string]int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{messages: make(map[string]int)}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages[subject]++
	return nil
}

func (q *fakeQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// fakeHandle is a scripted executor handle.
type fakeHandle struct {
	logs     chan execution.LogMsg
	done     chan struct{}
	exitCode int64
	stopped  bool
	mu       sync.Mutex
}

func newFakeHandle(exitCode int64, msgs ...execution.LogMsg) *fakeHandle {
	h := &fakeHandle{
		logs:     make(chan execution.LogMsg, len(msgs)+1),
		done:     make(chan struct{}),
		exitCode: exitCode,
	}
	go func() {
		for _, m := range msgs {
			h.logs <- m
		}
		h.logs <- execution.FinishedMsg()
		close(h.logs)
		close(h.done)
	}()
	return h
}

func (h *fakeHandle) Logs() <-chan execution.LogMsg { return h.logs }

func (h *fakeHandle) Wait(ctx context.Context) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.done:
		return h.exitCode, nil
	}
}

func (h *fakeHandle) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	return nil
}

type fakeExecutor struct {
	name   string
	mu     sync.Mutex
	starts []executor.StartSpec
	next   func() *fakeHandle
}

func newFakeExecutor(name string) *fakeExecutor {
	return &fakeExecutor{
		name: name,
		next: func() *fakeHandle { return newFakeHandle(0) },
	}
}

func (e *fakeExecutor) Name() string { return e.name }

func (e *fakeExecutor) Start(_ context.Context, spec executor.StartSpec) (executor.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts = append(e.starts, spec)
	return e.next(), nil
}

func (e *fakeExecutor) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.starts)
}

func (e *fakeExecutor) lastStart() (executor.StartSpec, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.starts) == 0 {
		return executor.StartSpec{}, false
	}
	return e.starts[len(e.starts)-1], true
}

func resolverFor(execs ...*fakeExecutor) ExecutorResolver {
	return func(name string) (executor.Executor, error) {
		for _, e := range execs {
			if e.name == name {
				return e, nil
			}
		}
		return nil, fmt.Errorf("unknown executor %q", name)
	}
}

func waitABit() { time.Sleep(5 * time.Millisecond) }

// waitForProcessTerminal polls the fake store until the process leaves the
// running state.
func waitForProcessTerminal(store *fakeStore, id uuid.UUID) *execution.Process {
	deadline := time.After(5 * time.Second)
	for {
		p, err := store.GetProcess(context.Background(), id)
		if err == nil && p.Status.Terminal() {
			return p
		}
		select {
		case <-deadline:
			return p
		case <-time.After(5 * time.Millisecond):
		}
	}
}
