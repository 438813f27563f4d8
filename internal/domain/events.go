package domain

import "time"

// EventType tags structured frames on a session's stream
type EventType string

const (
	EventStatus      EventType = "status"
	EventFileChanged EventType = "file_changed"
	EventError       EventType = "error"
)

// Event is a structured lifecycle frame delivered alongside raw process
// output on a session's stream. Raw output bytes travel separately as
// binary frames and never through this type.
type Event struct {
	Type        EventType     `json:"type"`
	SessionID   string        `json:"sessionId"`
	Status      SessionStatus `json:"status,omitempty"`
	ProcessID   int           `json:"processId,omitempty"`
	Paths       []string      `json:"paths,omitempty"`
	Message     string        `json:"message,omitempty"`
	Recoverable bool          `json:"recoverable,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// StatusEvent builds a status transition frame
func StatusEvent(sessionID string, status SessionStatus, pid int) Event {
	return Event{
		Type:      EventStatus,
		SessionID: sessionID,
		Status:    status,
		ProcessID: pid,
		Timestamp: time.Now().UTC(),
	}
}

// ErrorEvent builds an error frame; recoverable tells viewers whether to
// expect automatic retry (tunnel reconnects) or a final failure
func ErrorEvent(sessionID, message string, recoverable bool) Event {
	return Event{
		Type:        EventError,
		SessionID:   sessionID,
		Message:     message,
		Recoverable: recoverable,
		Timestamp:   time.Now().UTC(),
	}
}

// FileChangedEvent builds a file-change notice frame
func FileChangedEvent(sessionID string, paths []string) Event {
	return Event{
		Type:      EventFileChanged,
		SessionID: sessionID,
		Paths:     paths,
		Timestamp: time.Now().UTC(),
	}
}
