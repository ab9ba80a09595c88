// Package trace implements the server's append-only JSONL audit trail.
// Every connection, execution, gate decision, and cache action leaves a
// line that can be replayed to reconstruct what a session did.
package trace

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// EventType enumerates all audit event types.
type EventType string

const (
	EventConnOpen      EventType = "conn_open"
	EventConnClose     EventType = "conn_close"
	EventExecStart     EventType = "exec_start"
	EventChunkSent     EventType = "chunk_sent"
	EventGatePaused    EventType = "gate_paused"
	EventGateExecuted  EventType = "gate_executed"
	EventFormSubmitted EventType = "form_submitted"
	EventExecComplete  EventType = "exec_complete"
	EventExecAborted   EventType = "exec_aborted"
	EventExecFailed    EventType = "exec_failed"
	EventAccessDenied  EventType = "access_denied"
	EventCacheHit      EventType = "cache_hit"
	EventCacheStore    EventType = "cache_store"
	EventCacheCleared  EventType = "cache_cleared"
)

// Event is a single audit line.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ConnID    string         `json:"conn_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type encoder interface {
	Encode(v any) error
}

// Writer appends audit events to a JSONL stream. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc encoder
	c   io.Closer
}

// NewWriter creates a writer over any stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: sonic.ConfigDefault.NewEncoder(w)}
}

// NewFileWriter creates a writer that appends to a JSONL file.
func NewFileWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := NewWriter(f)
	w.c = f
	return w, nil
}

// Emit writes a single event.
func (tw *Writer) Emit(connID string, eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.enc.Encode(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ConnID:    connID,
		Data:      data,
	})
}

// EmitExecStart records an execution request.
func (tw *Writer) EmitExecStart(connID, section, correlationID string) error {
	return tw.Emit(connID, EventExecStart, map[string]any{
		"section":        section,
		"correlation_id": correlationID,
	})
}

// EmitChunk records a transmitted chunk.
func (tw *Writer) EmitChunk(connID string, num int, keys []string, isGate bool) error {
	return tw.Emit(connID, EventChunkSent, map[string]any{
		"num":     num,
		"keys":    keys,
		"is_gate": isGate,
	})
}

// EmitTerminal records how an execution ended.
func (tw *Writer) EmitTerminal(connID, state, section string, err error) error {
	data := map[string]any{"section": section}
	et := EventExecComplete
	switch state {
	case "aborted":
		et = EventExecAborted
	case "failed":
		et = EventExecFailed
		if err != nil {
			data["error"] = err.Error()
		}
	case "paused_at_gate":
		et = EventGatePaused
	}
	return tw.Emit(connID, et, data)
}

// Close flushes and closes the underlying file, if any.
func (tw *Writer) Close() error {
	if tw == nil || tw.c == nil {
		return nil
	}
	return tw.c.Close()
}
