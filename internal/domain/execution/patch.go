package execution

import (
	"encoding/json"
	"strconv"
)

type patchOp struct {
	Op    string     `json:"op"`
	Path  string     `json:"path"`
	Value patchEntry `json:"value"`
}

type patchEntry struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// AppendLinePatch renders a single-op JSON Patch that appends one raw line
// at the given entry index. Raw websocket streams use this to convert
// stdout/stderr messages into the same wire shape normalized streams emit,
// so clients consume one format.
func AppendLinePatch(index int, channel LogMsgType, content string) json.RawMessage {
	ops := []patchOp{{
		Op:    "add",
		Path:  "/entries/" + strconv.Itoa(index),
		Value: patchEntry{Type: string(channel), Content: content},
	}}
	b, err := json.Marshal(ops)
	if err != nil {
		// Marshal of a fixed struct shape cannot fail.
		panic(err)
	}
	return b
}
