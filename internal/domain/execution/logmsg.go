package execution

import (
	"encoding/json"
	"time"
)

// LogMsgType tags one message on a process's log stream.
type LogMsgType string

const (
	LogStdout    LogMsgType = "stdout"
	LogStderr    LogMsgType = "stderr"
	LogJSONPatch LogMsgType = "json_patch"
	LogSessionID LogMsgType = "session_id"
	LogFinished  LogMsgType = "finished"
)

// LogMsg is one entry on a process's log stream. Content carries the raw
// line for stdout/stderr, the session identifier for session_id messages,
// and a serialized JSON Patch for json_patch messages. Finished messages
// carry no content.
type LogMsg struct {
	Type    LogMsgType `json:"type"`
	Content string     `json:"content,omitempty"`
}

// StdoutMsg wraps a raw stdout chunk.
func StdoutMsg(line string) LogMsg { return LogMsg{Type: LogStdout, Content: line} }

// StderrMsg wraps a raw stderr chunk.
func StderrMsg(line string) LogMsg { return LogMsg{Type: LogStderr, Content: line} }

// PatchMsg wraps a serialized JSON Patch produced by a log normalizer.
func PatchMsg(patch json.RawMessage) LogMsg {
	return LogMsg{Type: LogJSONPatch, Content: string(patch)}
}

// SessionMsg announces the agent session identifier once it is known.
func SessionMsg(sessionID string) LogMsg { return LogMsg{Type: LogSessionID, Content: sessionID} }

// FinishedMsg terminates a log stream.
func FinishedMsg() LogMsg { return LogMsg{Type: LogFinished} }

// NormalizedLogEntry is one rendered line of a process's normalized view.
type NormalizedLogEntry struct {
	Index     int       `json:"index"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ProcessLogs is a stored page of a process's log history.
type ProcessLogs struct {
	ExecutionID string    `json:"execution_id"`
	Msgs        []LogMsg  `json:"msgs"`
	ByteSize    int64     `json:"byte_size"`
	InsertedAt  time.Time `json:"inserted_at"`
}
