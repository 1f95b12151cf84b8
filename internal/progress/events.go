package progress

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dhowlett/pulsewire/internal/connection"
)

// Message types on the stream.
const (
	TypeProgress   = "progress"
	TypeToolStatus = "tool_status"
	TypeError      = "error"
)

// Tool execution states.
const (
	ToolQueued    = "queued"
	ToolRunning   = "running"
	ToolSucceeded = "succeeded"
	ToolFailed    = "failed"
)

// ProgressUpdate reports how far a task has advanced.
type ProgressUpdate struct {
	TaskID    uuid.UUID `json:"task_id"`
	Stage     string    `json:"stage"`
	Percent   float64   `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Timestamp int64     `json:"ts"` // Unix timestamp (seconds)
}

// ToolStatus reports the execution state of a single tool run.
type ToolStatus struct {
	TaskID    uuid.UUID `json:"task_id"`
	Tool      string    `json:"tool"`
	State     string    `json:"state"` // "queued", "running", "succeeded", "failed"
	Detail    string    `json:"detail,omitempty"`
	Timestamp int64     `json:"ts"`
}

// StreamError is a server-reported failure for a task.
type StreamError struct {
	TaskID  uuid.UUID `json:"task_id"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// EventHandler receives decoded stream events.
type EventHandler interface {
	HandleProgress(u ProgressUpdate)
	HandleToolStatus(s ToolStatus)
	HandleStreamError(e StreamError)
}

// subscribeRequest asks the server to stream events for a task.
type subscribeRequest struct {
	Type   string    `json:"type"` // "subscribe" or "unsubscribe"
	TaskID uuid.UUID `json:"task_id"`
}

// dispatch decodes an envelope payload and routes it to the handler.
// Unknown types are skipped without error; the server may add types
// older clients do not know.
func dispatch(env connection.Envelope, h EventHandler) error {
	switch env.Type {
	case TypeProgress:
		var u ProgressUpdate
		if err := json.Unmarshal(env.Payload, &u); err != nil {
			return fmt.Errorf("decode progress: %w", err)
		}
		h.HandleProgress(u)

	case TypeToolStatus:
		var s ToolStatus
		if err := json.Unmarshal(env.Payload, &s); err != nil {
			return fmt.Errorf("decode tool status: %w", err)
		}
		h.HandleToolStatus(s)

	case TypeError:
		var e StreamError
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return fmt.Errorf("decode stream error: %w", err)
		}
		h.HandleStreamError(e)
	}

	return nil
}
