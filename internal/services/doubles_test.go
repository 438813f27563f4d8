package services

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"helmsman/internal/domain"
	"helmsman/internal/ports"
)

// In-memory doubles for the ports. Kept deliberately dumb: they enforce
// the same not-found/conflict behavior as the sqlite adapter and nothing
// else.

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	nextPos  int
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]domain.Session), nextPos: 1}
}

func (r *memSessionRepo) Add(_ context.Context, s domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return domain.ConflictError("session %s already exists", s.ID)
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.NotFoundError("session %s not found", id)
	}
	return &s, nil
}

func (r *memSessionRepo) List(_ context.Context) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *memSessionRepo) ListByStatus(_ context.Context, status domain.SessionStatus) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, s := range r.sessions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *memSessionRepo) ListByWorker(_ context.Context, workerID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, s := range r.sessions {
		if s.WorkerID == workerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return domain.NotFoundError("session %s not found", id)
	}
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) MarkActive(_ context.Context, id, workerID string, pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.NotFoundError("session %s not found", id)
	}
	if !s.CanTransition(domain.StatusActive) {
		return domain.ConflictError("session %s cannot go active from %s", id, s.Status)
	}
	now := time.Now().UTC()
	s.Status = domain.StatusActive
	s.WorkerID = workerID
	s.PID = pid
	s.StartedAt = &now
	s.LastUpdated = now
	r.sessions[id] = s
	return nil
}

func (r *memSessionRepo) MarkExited(_ context.Context, id string, status domain.SessionStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.NotFoundError("session %s not found", id)
	}
	now := time.Now().UTC()
	s.Status = status
	s.WorkerID = ""
	s.PID = 0
	s.FailureReason = reason
	s.CompletedAt = &now
	s.LastUpdated = now
	r.sessions[id] = s
	return nil
}

func (r *memSessionRepo) Requeue(_ context.Context, id string, position int, bumpContinuations bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.NotFoundError("session %s not found", id)
	}
	s.Status = domain.StatusQueued
	s.WorkerID = ""
	s.PID = 0
	s.Position = position
	s.FailureReason = ""
	if bumpContinuations {
		s.Continuations++
	}
	s.LastUpdated = time.Now().UTC()
	r.sessions[id] = s
	return nil
}

func (r *memSessionRepo) RequeueActive(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.Status == domain.StatusActive {
			s.Status = domain.StatusQueued
			s.WorkerID = ""
			s.PID = 0
			r.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) UpdateAgentRunID(_ context.Context, id, agentRunID string) error {
	return r.update(id, func(s *domain.Session) { s.AgentRunID = agentRunID })
}

func (r *memSessionRepo) UpdateNeedsInput(_ context.Context, id string, needsInput bool) error {
	return r.update(id, func(s *domain.Session) { s.NeedsInput = needsInput })
}

func (r *memSessionRepo) UpdateTitle(_ context.Context, id, title string) error {
	return r.update(id, func(s *domain.Session) { s.Title = title })
}

func (r *memSessionRepo) UpdateLock(_ context.Context, id string, locked bool) error {
	return r.update(id, func(s *domain.Session) { s.Locked = locked })
}

func (r *memSessionRepo) UpdatePosition(_ context.Context, id string, position int) error {
	return r.update(id, func(s *domain.Session) { s.Position = position })
}

func (r *memSessionRepo) update(id string, fn func(*domain.Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.NotFoundError("session %s not found", id)
	}
	fn(&s)
	s.LastUpdated = time.Now().UTC()
	r.sessions[id] = s
	return nil
}

func (r *memSessionRepo) NextPosition(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := r.nextPos
	r.nextPos++
	return pos, nil
}

func (r *memSessionRepo) Close() error { return nil }

type memWorkerRepo struct {
	mu      sync.Mutex
	workers map[string]domain.Worker
}

func newMemWorkerRepo() *memWorkerRepo {
	return &memWorkerRepo{workers: make(map[string]domain.Worker)}
}

func (r *memWorkerRepo) Add(_ context.Context, w domain.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[w.ID]; exists {
		return domain.ConflictError("worker %s already exists", w.ID)
	}
	r.workers[w.ID] = w
	return nil
}

func (r *memWorkerRepo) Get(_ context.Context, id string) (*domain.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, domain.NotFoundError("worker %s not found", id)
	}
	return &w, nil
}

func (r *memWorkerRepo) List(_ context.Context) ([]domain.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memWorkerRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[id]; !ok {
		return domain.NotFoundError("worker %s not found", id)
	}
	delete(r.workers, id)
	return nil
}

func (r *memWorkerRepo) UpdateStatus(_ context.Context, id string, status domain.WorkerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return domain.NotFoundError("worker %s not found", id)
	}
	w.Status = status
	r.workers[id] = w
	return nil
}

func (r *memWorkerRepo) UpdateHeartbeat(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return domain.NotFoundError("worker %s not found", id)
	}
	w.LastHeartbeat = at
	r.workers[id] = w
	return nil
}

// recordingSink captures everything published
type recordingSink struct {
	mu     sync.Mutex
	output map[string][][]byte
	events []domain.Event
	closed []string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{output: make(map[string][][]byte)}
}

func (s *recordingSink) Output(sessionID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.output[sessionID] = append(s.output[sessionID], buf)
}

func (s *recordingSink) Event(event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) CloseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, sessionID)
}

func (s *recordingSink) eventTypes(sessionID string) []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EventType
	for _, ev := range s.events {
		if ev.SessionID == sessionID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// scriptedSpawner hands out fakeHandles and records specs
type scriptedSpawner struct {
	mu       sync.Mutex
	spawnErr error
	spawned  []ports.SpawnSpec
	handles  map[string]*fakeHandle
	nextPID  int
}

func newScriptedSpawner() *scriptedSpawner {
	return &scriptedSpawner{handles: make(map[string]*fakeHandle), nextPID: 1000}
}

func (s *scriptedSpawner) Spawn(_ context.Context, spec ports.SpawnSpec, onOutput ports.OutputFunc, onExit ports.ExitFunc) (ports.ProcessHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spawnErr != nil {
		return nil, s.spawnErr
	}
	s.spawned = append(s.spawned, spec)
	s.nextPID++
	h := &fakeHandle{
		sessionID: spec.SessionID,
		pid:       s.nextPID,
		onOutput:  onOutput,
		onExit:    onExit,
	}
	s.handles[spec.SessionID] = h
	return h, nil
}

func (s *scriptedSpawner) handle(sessionID string) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[sessionID]
}

func (s *scriptedSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawned)
}

type fakeHandle struct {
	sessionID string
	pid       int
	onOutput  ports.OutputFunc
	onExit    ports.ExitFunc

	mu     sync.Mutex
	input  [][]byte
	cols   uint16
	rows   uint16
	killed bool
	exited sync.Once
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Write(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	h.input = append(h.input, buf)
	return nil
}

func (h *fakeHandle) Resize(cols, rows uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cols, h.rows = cols, rows
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	h.exit(nil)
	return nil
}

func (h *fakeHandle) emitOutput(data []byte) { h.onOutput(h.sessionID, data) }

func (h *fakeHandle) exit(err error) {
	h.exited.Do(func() { h.onExit(h.sessionID, err) })
}

func (h *fakeHandle) wasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

// stubTunnels records tunnel manager calls
type stubTunnels struct {
	mu       sync.Mutex
	ensured  []string
	dropped  []string
	probeErr map[string]error
}

func newStubTunnels() *stubTunnels {
	return &stubTunnels{probeErr: make(map[string]error)}
}

func (t *stubTunnels) Ensure(worker domain.Worker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensured = append(t.ensured, worker.ID)
}

func (t *stubTunnels) Drop(workerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped = append(t.dropped, workerID)
}

func (t *stubTunnels) Probe(_ context.Context, workerID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.probeErr[workerID]
}

func (t *stubTunnels) setProbeErr(workerID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.probeErr[workerID] = err
}

func (t *stubTunnels) Exec(context.Context, string, string) ([]byte, error) { return nil, nil }
func (t *stubTunnels) OpenChannel(context.Context, string, string) (io.ReadWriteCloser, error) {
	return nil, domain.TransportError("no channel in stub", nil)
}
func (t *stubTunnels) ForwardReverse(context.Context, string, string) (int, error) { return 0, nil }
func (t *stubTunnels) Close() error                                                { return nil }
