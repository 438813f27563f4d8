package services

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"helmsman/internal/domain"
	"helmsman/internal/logging"
	"helmsman/internal/ports"
)

const sessionLockStripes = 64

// DefaultNeedsInputAfter is how long a session's output must stay idle
// before it is flagged as waiting for the operator
const DefaultNeedsInputAfter = 10 * time.Second

// CreateSessionParams carries the operator's session request
type CreateSessionParams struct {
	WorkingDir string
	Title      string
	// WorkerID pins the session to one worker; empty means any.
	WorkerID string
}

// SessionService handles session lifecycle operations. Mutating calls for
// the same session serialize on a striped lock so concurrent API requests
// cannot interleave state transitions.
type SessionService struct {
	sessions ports.SessionRepository
	workers  ports.WorkerRepository
	sink     ports.EventSink
	handles  *HandleRegistry

	locks [sessionLockStripes]sync.Mutex

	idleMu     sync.Mutex
	idleTimers map[string]*time.Timer
	idleAfter  time.Duration

	// kick wakes the dispatcher; set via SetDispatchKick after wiring.
	kickMu sync.RWMutex
	kick   func()
}

// NewSessionService creates a new SessionService
func NewSessionService(
	sessions ports.SessionRepository,
	workers ports.WorkerRepository,
	sink ports.EventSink,
	handles *HandleRegistry,
) *SessionService {
	return &SessionService{
		sessions:   sessions,
		workers:    workers,
		sink:       sink,
		handles:    handles,
		idleTimers: make(map[string]*time.Timer),
		idleAfter:  DefaultNeedsInputAfter,
	}
}

// SetDispatchKick registers the dispatcher wake-up. Wired after both
// services exist; nil-safe before that.
func (s *SessionService) SetDispatchKick(kick func()) {
	s.kickMu.Lock()
	s.kick = kick
	s.kickMu.Unlock()
}

// SetNeedsInputAfter overrides the idle threshold
func (s *SessionService) SetNeedsInputAfter(d time.Duration) {
	s.idleMu.Lock()
	s.idleAfter = d
	s.idleMu.Unlock()
}

func (s *SessionService) kickDispatcher() {
	s.kickMu.RLock()
	kick := s.kick
	s.kickMu.RUnlock()
	if kick != nil {
		kick()
	}
}

func (s *SessionService) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.locks[h.Sum32()%sessionLockStripes]
}

// Create validates the request, persists a queued session at the back of
// the queue, and wakes the dispatcher
func (s *SessionService) Create(ctx context.Context, params CreateSessionParams) (*domain.Session, error) {
	workingDir := strings.TrimSpace(params.WorkingDir)
	if workingDir == "" {
		return nil, domain.ValidationError("working directory cannot be empty")
	}

	if params.WorkerID != "" {
		if _, err := s.workers.Get(ctx, params.WorkerID); err != nil {
			return nil, err
		}
	}

	title := strings.TrimSpace(params.Title)
	if title == "" {
		title = domain.DefaultTitle(workingDir)
	}

	position, err := s.sessions.NextPosition(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := domain.Session{
		ID:          uuid.New().String(),
		WorkerID:    params.WorkerID,
		Status:      domain.StatusQueued,
		WorkingDir:  workingDir,
		Title:       title,
		Position:    position,
		CreatedAt:   now,
		LastUpdated: now,
	}

	if err := s.sessions.Add(ctx, session); err != nil {
		return nil, err
	}

	logging.Logger.Info("session queued",
		"session_id", session.ID,
		"working_dir", workingDir,
		"position", position,
		"pinned_worker", params.WorkerID)

	s.kickDispatcher()
	return &session, nil
}

func (s *SessionService) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.sessions.Get(ctx, id)
}

func (s *SessionService) List(ctx context.Context) ([]domain.Session, error) {
	return s.sessions.List(ctx)
}

// Rename updates the display title
func (s *SessionService) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.ValidationError("title cannot be empty")
	}
	return s.sessions.UpdateTitle(ctx, id, title)
}

// SetLocked marks a session exempt from (or eligible for) automatic
// eviction
func (s *SessionService) SetLocked(ctx context.Context, id string, locked bool) error {
	return s.sessions.UpdateLock(ctx, id, locked)
}

// Reorder moves a queued session to a new position
func (s *SessionService) Reorder(ctx context.Context, id string, position int) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusQueued {
		return domain.ConflictError("session %s is %s, only queued sessions can be reordered", id, session.Status)
	}
	return s.sessions.UpdatePosition(ctx, id, position)
}

// Delete removes a session record. Active sessions must be killed first.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if session.Status == domain.StatusActive {
		return domain.ConflictError("session %s is active, kill it before deleting", id)
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return err
	}

	s.stopIdleWatch(id)
	s.sink.CloseSession(id)
	logging.Logger.Info("session deleted", "session_id", id)
	return nil
}

// Continue re-queues a completed or failed session at the back of the
// queue and counts the continuation
func (s *SessionService) Continue(ctx context.Context, id string) (*domain.Session, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Status.Terminal() {
		return nil, domain.ConflictError("session %s is %s, only completed or failed sessions can be continued", id, session.Status)
	}

	position, err := s.sessions.NextPosition(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Requeue(ctx, id, position, true); err != nil {
		return nil, err
	}

	logging.Logger.Info("session continued",
		"session_id", id,
		"position", position,
		"continuations", session.Continuations+1)

	s.kickDispatcher()
	return s.sessions.Get(ctx, id)
}

// Kill terminates an active session's process. The exit callback handles
// the status transition; Kill only signals.
func (s *SessionService) Kill(ctx context.Context, id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusActive {
		return domain.ConflictError("session %s is %s, nothing to kill", id, session.Status)
	}

	h, ok := s.handles.get(id)
	if !ok {
		// Active row without a handle: a crash left it behind. Repair by
		// failing the session directly.
		logging.Logger.Warn("active session has no handle, failing it", "session_id", id)
		return s.sessions.MarkExited(ctx, id, domain.StatusFailed, "process handle lost")
	}

	logging.Logger.Info("killing session", "session_id", id, "pid", h.PID())
	return h.Kill()
}

// SendInput writes keystrokes to an active session's terminal
func (s *SessionService) SendInput(ctx context.Context, id string, data []byte) error {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusActive {
		return domain.ConflictError("session %s is %s, cannot receive input", id, session.Status)
	}
	h, ok := s.handles.get(id)
	if !ok {
		return domain.ConflictError("session %s has no live process", id)
	}
	if err := h.Write(data); err != nil {
		return err
	}
	if session.NeedsInput {
		if err := s.sessions.UpdateNeedsInput(ctx, id, false); err != nil {
			logging.Logger.Warn("failed to clear needs-input flag", "session_id", id, "error", err)
		}
	}
	s.resetIdleWatch(id)
	return nil
}

// Resize propagates new terminal dimensions to the session's PTY
func (s *SessionService) Resize(ctx context.Context, id string, cols, rows uint16) error {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusActive {
		return nil
	}
	h, ok := s.handles.get(id)
	if !ok {
		return nil
	}
	return h.Resize(cols, rows)
}

// RecoverStartup requeues sessions a previous run left active. Must run
// before the dispatcher starts.
func (s *SessionService) RecoverStartup(ctx context.Context) error {
	n, err := s.sessions.RequeueActive(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logging.Logger.Info("requeued orphaned active sessions", "count", n)
	}
	return nil
}

// Shutdown kills every live handle and closes idle timers. Sessions stay
// active in storage; the next startup requeues them.
func (s *SessionService) Shutdown() {
	for id, h := range s.handles.all() {
		logging.Logger.Info("killing session on shutdown", "session_id", id, "pid", h.PID())
		if err := h.Kill(); err != nil {
			logging.Logger.Warn("shutdown kill failed", "session_id", id, "error", err)
		}
	}
	s.idleMu.Lock()
	for id, timer := range s.idleTimers {
		timer.Stop()
		delete(s.idleTimers, id)
	}
	s.idleMu.Unlock()
}

// HandleOutput is the dispatcher's output callback target: fan out to
// viewers and restart the needs-input idle timer.
func (s *SessionService) HandleOutput(sessionID string, data []byte) {
	s.sink.Output(sessionID, data)
	s.resetIdleWatch(sessionID)
}

// resetIdleWatch arms (or re-arms) the needs-input timer. Firing marks
// the session as waiting for the operator.
func (s *SessionService) resetIdleWatch(sessionID string) {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()

	if timer, ok := s.idleTimers[sessionID]; ok {
		timer.Stop()
	}
	after := s.idleAfter
	s.idleTimers[sessionID] = time.AfterFunc(after, func() {
		s.markNeedsInput(sessionID)
	})
}

func (s *SessionService) stopIdleWatch(sessionID string) {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	if timer, ok := s.idleTimers[sessionID]; ok {
		timer.Stop()
		delete(s.idleTimers, sessionID)
	}
}

func (s *SessionService) markNeedsInput(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil || session.Status != domain.StatusActive || session.NeedsInput {
		return
	}
	if err := s.sessions.UpdateNeedsInput(ctx, sessionID, true); err != nil {
		logging.Logger.Warn("failed to set needs-input flag", "session_id", sessionID, "error", err)
		return
	}
	logging.Logger.Debug("session idle, flagged needs-input", "session_id", sessionID)
	s.sink.Event(domain.StatusEvent(sessionID, domain.StatusActive, session.PID))
}
