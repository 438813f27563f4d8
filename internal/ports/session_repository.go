package ports

import (
	"context"

	"helmsman/internal/domain"
)

// SessionReader reads session records
type SessionReader interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	List(ctx context.Context) ([]domain.Session, error)
	ListByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.Session, error)
	ListByWorker(ctx context.Context, workerID string) ([]domain.Session, error)
}

// SessionWriter creates and deletes session records
type SessionWriter interface {
	Add(ctx context.Context, session domain.Session) error
	Delete(ctx context.Context, id string) error
}

// SessionStateUpdater drives the session state machine in durable storage.
// All transition writes funnel through here so invariants (worker/pid set
// iff active) hold in one place.
type SessionStateUpdater interface {
	// MarkActive records the queued→active transition with the assigned
	// worker and process id.
	MarkActive(ctx context.Context, id, workerID string, pid int) error
	// MarkExited records active→completed/failed, clearing worker and pid.
	MarkExited(ctx context.Context, id string, status domain.SessionStatus, reason string) error
	// Requeue puts a terminal or orphaned-active session back in the queue
	// at the given position, clearing worker and pid.
	Requeue(ctx context.Context, id string, position int, bumpContinuations bool) error
	// RequeueActive resets every active session to queued; called once at
	// startup, before the dispatcher runs.
	RequeueActive(ctx context.Context) (int, error)
	UpdateAgentRunID(ctx context.Context, id, agentRunID string) error
	UpdateNeedsInput(ctx context.Context, id string, needsInput bool) error
}

// SessionMetadataUpdater updates user-editable session fields
type SessionMetadataUpdater interface {
	UpdateTitle(ctx context.Context, id, title string) error
	UpdateLock(ctx context.Context, id string, locked bool) error
	UpdatePosition(ctx context.Context, id string, position int) error
}

// SessionRepository is the composite interface
type SessionRepository interface {
	SessionReader
	SessionWriter
	SessionStateUpdater
	SessionMetadataUpdater
	// NextPosition returns the next queue arrival position.
	NextPosition(ctx context.Context) (int, error)
	Close() error
}
