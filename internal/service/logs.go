package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/worklift/worklift/internal/domain/execution"
	"github.com/worklift/worklift/internal/port/database"
)

// followerBuffer is how many messages a follower may lag before its channel
// drops messages rather than stalling ingestion.
const followerBuffer = 256

// LogService persists process log streams and fans them out to live
// followers. Ingestion never blocks on a slow follower.
type LogService struct {
	store  database.Store
	logger *slog.Logger

	mu        sync.Mutex
	followers map[uuid.UUID]map[int]chan execution.LogMsg
	nextID    int
}

// NewLogService creates a LogService.
func NewLogService(store database.Store, logger *slog.Logger) *LogService {
	return &LogService{
		store:     store,
		logger:    logger,
		followers: make(map[uuid.UUID]map[int]chan execution.LogMsg),
	}
}

// Ingest records one log message for a process: session ids are captured
// onto the process row, the message is persisted, and live followers are
// notified.
func (s *LogService) Ingest(ctx context.Context, executionID uuid.UUID, msg execution.LogMsg) error {
	if msg.Type == execution.LogSessionID && msg.Content != "" {
		if err := s.store.SetProcessSessionID(ctx, executionID, msg.Content); err != nil {
			return err
		}
	}
	if err := s.store.AppendProcessLog(ctx, executionID, msg); err != nil {
		return err
	}
	s.broadcast(executionID, msg)
	return nil
}

// Finish terminates the stream: the finished message is persisted and
// broadcast, then all follower channels are closed.
func (s *LogService) Finish(ctx context.Context, executionID uuid.UUID) error {
	if err := s.Ingest(ctx, executionID, execution.FinishedMsg()); err != nil {
		return err
	}

	s.mu.Lock()
	chans := s.followers[executionID]
	delete(s.followers, executionID)
	s.mu.Unlock()

	for _, ch := range chans {
		close(ch)
	}
	return nil
}

func (s *LogService) broadcast(executionID uuid.UUID, msg execution.LogMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.followers[executionID] {
		select {
		case ch <- msg:
		default:
			// Follower is not draining; drop rather than stall the run.
			s.logger.Warn("log follower lagging, message dropped",
				"execution_id", executionID, "follower", id)
		}
	}
}

// Follow subscribes to the live stream of a process. The returned cancel
// must be called when the follower disconnects. Callers wanting history
// should read History first, then Follow; messages ingested between the two
// calls may be observed in both.
func (s *LogService) Follow(executionID uuid.UUID) (<-chan execution.LogMsg, func()) {
	ch := make(chan execution.LogMsg, followerBuffer)

	s.mu.Lock()
	if s.followers[executionID] == nil {
		s.followers[executionID] = make(map[int]chan execution.LogMsg)
	}
	id := s.nextID
	s.nextID++
	s.followers[executionID][id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if chans, ok := s.followers[executionID]; ok {
			if _, live := chans[id]; live {
				delete(chans, id)
				close(ch)
			}
			if len(chans) == 0 {
				delete(s.followers, executionID)
			}
		}
	}
	return ch, cancel
}

// History returns every stored log message for a process, oldest first,
// paired with insertion timestamps.
func (s *LogService) History(ctx context.Context, executionID uuid.UUID) ([]execution.ProcessLogs, error) {
	return s.store.GetProcessLogs(ctx, executionID)
}

// RawHistory returns only the raw channel messages (stdout, stderr,
// finished), the subset raw log consumers understand.
func (s *LogService) RawHistory(ctx context.Context, executionID uuid.UUID) ([]execution.LogMsg, error) {
	pages, err := s.store.GetProcessLogs(ctx, executionID)
	if err != nil {
		return nil, err
	}
	var msgs []execution.LogMsg
	for _, page := range pages {
		for _, msg := range page.Msgs {
			if isRawMsg(msg.Type) {
				msgs = append(msgs, msg)
			}
		}
	}
	return msgs, nil
}

func isRawMsg(t execution.LogMsgType) bool {
	return t == execution.LogStdout || t == execution.LogStderr || t == execution.LogFinished
}

// Normalized flattens a process's stored stream into indexed display
// entries: stdout as info, stderr as error, agent patches as agent entries.
func (s *LogService) Normalized(ctx context.Context, executionID uuid.UUID) ([]execution.NormalizedLogEntry, error) {
	pages, err := s.store.GetProcessLogs(ctx, executionID)
	if err != nil {
		return nil, err
	}
	var entries []execution.NormalizedLogEntry
	for _, page := range pages {
		for _, msg := range page.Msgs {
			entry, ok := normalizeMsg(msg)
			if !ok {
				continue
			}
			entry.Index = len(entries)
			entry.Timestamp = page.InsertedAt
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func normalizeMsg(msg execution.LogMsg) (execution.NormalizedLogEntry, bool) {
	switch msg.Type {
	case execution.LogStdout:
		return execution.NormalizedLogEntry{Level: "info", Message: msg.Content}, true
	case execution.LogStderr:
		return execution.NormalizedLogEntry{Level: "error", Message: msg.Content}, true
	case execution.LogJSONPatch:
		return execution.NormalizedLogEntry{Level: "agent", Message: msg.Content}, true
	default:
		return execution.NormalizedLogEntry{}, false
	}
}
