package server

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"helmsman/internal/domain"
)

// In-memory repositories for handler tests. Same contract surface as the
// sqlite adapter, minus persistence.

type stubSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	nextPos  int
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{sessions: make(map[string]domain.Session), nextPos: 1}
}

func (r *stubSessionRepo) Add(_ context.Context, s domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return domain.ConflictError("session %s already exists", s.ID)
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *stubSessionRepo) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.NotFoundError("session %s not found", id)
	}
	return &s, nil
}

func (r *stubSessionRepo) List(_ context.Context) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *stubSessionRepo) ListByStatus(_ context.Context, status domain.SessionStatus) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	for _, s := range r.sessions {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *stubSessionRepo) ListByWorker(_ context.Context, workerID string) ([]domain.Session, error) {
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

func (r *stubSessionRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return domain.NotFoundError("session %s not found", id)
	}
	delete(r.sessions, id)
	return nil
}

func (r *stubSessionRepo) MarkActive(_ context.Context, id, workerID string, pid int) error {
	return r.update(id, func(s *domain.Session) {
		now := time.Now().UTC()
		s.Status = domain.StatusActive
		s.WorkerID = workerID
		s.PID = pid
		s.StartedAt = &now
	})
}

func (r *stubSessionRepo) MarkExited(_ context.Context, id string, status domain.SessionStatus, reason string) error {
	return r.update(id, func(s *domain.Session) {
		now := time.Now().UTC()
		s.Status = status
		s.WorkerID = ""
		s.PID = 0
		s.FailureReason = reason
		s.CompletedAt = &now
	})
}

func (r *stubSessionRepo) Requeue(_ context.Context, id string, position int, bumpContinuations bool) error {
	return r.update(id, func(s *domain.Session) {
		s.Status = domain.StatusQueued
		s.WorkerID = ""
		s.PID = 0
		s.Position = position
		s.FailureReason = ""
		if bumpContinuations {
			s.Continuations++
		}
	})
}

func (r *stubSessionRepo) RequeueActive(_ context.Context) (int, error) {
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

func (r *stubSessionRepo) UpdateAgentRunID(_ context.Context, id, agentRunID string) error {
	return r.update(id, func(s *domain.Session) { s.AgentRunID = agentRunID })
}

func (r *stubSessionRepo) UpdateNeedsInput(_ context.Context, id string, needsInput bool) error {
	return r.update(id, func(s *domain.Session) { s.NeedsInput = needsInput })
}

func (r *stubSessionRepo) UpdateTitle(_ context.Context, id, title string) error {
	return r.update(id, func(s *domain.Session) { s.Title = title })
}

func (r *stubSessionRepo) UpdateLock(_ context.Context, id string, locked bool) error {
	return r.update(id, func(s *domain.Session) { s.Locked = locked })
}

func (r *stubSessionRepo) UpdatePosition(_ context.Context, id string, position int) error {
	return r.update(id, func(s *domain.Session) { s.Position = position })
}

func (r *stubSessionRepo) update(id string, fn func(*domain.Session)) error {
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

func (r *stubSessionRepo) NextPosition(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := r.nextPos
	r.nextPos++
	return pos, nil
}

func (r *stubSessionRepo) Close() error { return nil }

type stubWorkerRepo struct {
	mu      sync.Mutex
	workers map[string]domain.Worker
}

func newStubWorkerRepo() *stubWorkerRepo {
	return &stubWorkerRepo{workers: make(map[string]domain.Worker)}
}

func (r *stubWorkerRepo) Add(_ context.Context, w domain.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[w.ID]; exists {
		return domain.ConflictError("worker %s already exists", w.ID)
	}
	r.workers[w.ID] = w
	return nil
}

func (r *stubWorkerRepo) Get(_ context.Context, id string) (*domain.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, domain.NotFoundError("worker %s not found", id)
	}
	return &w, nil
}

func (r *stubWorkerRepo) List(_ context.Context) ([]domain.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubWorkerRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[id]; !ok {
		return domain.NotFoundError("worker %s not found", id)
	}
	delete(r.workers, id)
	return nil
}

func (r *stubWorkerRepo) UpdateStatus(_ context.Context, id string, status domain.WorkerStatus) error {
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

func (r *stubWorkerRepo) UpdateHeartbeat(_ context.Context, id string, at time.Time) error {
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

type noopTunnels struct{}

func (noopTunnels) Ensure(domain.Worker)                {}
func (noopTunnels) Drop(string)                         {}
func (noopTunnels) Probe(context.Context, string) error { return nil }
func (noopTunnels) Exec(context.Context, string, string) ([]byte, error) {
	return nil, nil
}
func (noopTunnels) OpenChannel(context.Context, string, string) (io.ReadWriteCloser, error) {
	return nil, domain.TransportError("no tunnels in tests", nil)
}
func (noopTunnels) ForwardReverse(context.Context, string, string) (int, error) { return 0, nil }
func (noopTunnels) Close() error                                                { return nil }
