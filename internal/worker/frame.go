// Package worker implements the wire protocol spoken with the analyzer
// fleet: framed JSON over a websocket connection, one request per
// connection, zero or more progress frames followed by at most one
// terminal frame.
package worker

import (
	"encoding/json"
	"strings"
	"time"
)

// Frame is one JSON message received from (or sent to) a worker.
type Frame map[string]any

const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

// Type returns the frame's type field, or "" when absent.
func (f Frame) Type() string {
	s, _ := f["type"].(string)
	return s
}

// Status returns the frame's status field, or "" when absent.
func (f Frame) Status() string {
	s, _ := f["status"].(string)
	return s
}

// ID returns the correlation token the frame carries, or "" when absent.
func (f Frame) ID() string {
	s, _ := f["id"].(string)
	return s
}

// Analysis returns the nested analysis object, or nil when absent or empty.
func (f Frame) Analysis() map[string]any {
	m, _ := f["analysis"].(map[string]any)
	if len(m) == 0 {
		return nil
	}
	return m
}

// IsTerminal reports whether the frame ends the request. An explicit
// boolean "final" field wins when present; otherwise the legacy heuristic
// applies: the type contains "analysis_result" and a non-empty analysis
// object is attached.
func (f Frame) IsTerminal() bool {
	if final, ok := f["final"].(bool); ok {
		return final
	}
	return strings.Contains(f.Type(), "analysis_result") && f.Analysis() != nil
}

// Err returns the frame's error field, or "" when absent.
func (f Frame) Err() string {
	s, _ := f["error"].(string)
	return s
}

func parseFrame(data []byte) (Frame, bool) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false
	}
	return f, true
}

// invalidFrame degrades a malformed frame body to an error-shaped frame so
// it can still serve as a progress fallback.
func invalidFrame(raw []byte) Frame {
	return Frame{
		"status": StatusError,
		"error":  "invalid_json_frame",
		"raw":    string(raw),
	}
}

// timeoutFrame is the synthetic result for a request whose deadline
// elapsed before any terminal frame arrived.
func timeoutFrame(id string, elapsed time.Duration) Frame {
	return Frame{
		"status":     StatusTimeout,
		"id":         id,
		"error":      "no terminal frame before deadline",
		"elapsed_ms": elapsed.Milliseconds(),
	}
}

// errorFrame is the synthetic result for a connection-level failure.
func errorFrame(id string, err error) Frame {
	return Frame{
		"status": StatusError,
		"id":     id,
		"error":  err.Error(),
	}
}
