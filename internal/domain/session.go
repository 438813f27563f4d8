package domain

import (
	"path/filepath"
	"time"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	StatusQueued    SessionStatus = "queued"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// Terminal reports whether the status is an end state. Terminal sessions
// hold no worker slot and may be continued or deleted.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session represents one agent process bound to a working directory on
// one worker (domain entity)
type Session struct {
	ID            string
	AgentRunID    string // reported by the agent process once it announces itself
	WorkerID      string // empty while queued
	Status        SessionStatus
	WorkingDir    string
	Title         string
	PID           int // 0 unless active
	NeedsInput    bool
	Locked        bool // exempt from automatic eviction
	Continuations int
	Position      int // queue arrival order
	FailureReason string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LastUpdated   time.Time
}

// CanTransition validates a status change against the session state machine:
// queued→active, active→completed|failed, completed|failed→active (continue).
func (s *Session) CanTransition(to SessionStatus) bool {
	switch s.Status {
	case StatusQueued:
		// Spawn failures may fail a session straight out of the queue.
		return to == StatusActive || to == StatusFailed
	case StatusActive:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted, StatusFailed:
		return to == StatusActive || to == StatusQueued
	}
	return false
}

// DefaultTitle derives a display title from the working directory
func DefaultTitle(workingDir string) string {
	base := filepath.Base(filepath.Clean(workingDir))
	if base == "." || base == string(filepath.Separator) {
		return workingDir
	}
	return base
}
