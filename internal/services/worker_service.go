package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"helmsman/internal/domain"
	"helmsman/internal/logging"
	"helmsman/internal/ports"
)

// ConnectionTester dials a worker without registering it, for the
// pre-registration probe
type ConnectionTester func(ctx context.Context, worker domain.Worker, timeout time.Duration) error

// RegisterWorkerParams carries a remote worker registration request
type RegisterWorkerParams struct {
	Name        string
	Host        string
	Port        int
	User        string
	KeyPath     string
	MaxSessions int
}

// WorkerService manages the worker fleet: the one auto-registered local
// worker plus SSH remotes
type WorkerService struct {
	workers  ports.WorkerRepository
	sessions ports.SessionReader
	tunnels  ports.TunnelManager
	testConn ConnectionTester

	localMaxSessions int
}

func NewWorkerService(
	workers ports.WorkerRepository,
	sessions ports.SessionReader,
	tunnels ports.TunnelManager,
	testConn ConnectionTester,
	localMaxSessions int,
) *WorkerService {
	return &WorkerService{
		workers:          workers,
		sessions:         sessions,
		tunnels:          tunnels,
		testConn:         testConn,
		localMaxSessions: localMaxSessions,
	}
}

// EnsureLocal registers the local worker if this installation has none.
// The local worker is always connected; no tunnel backs it.
func (s *WorkerService) EnsureLocal(ctx context.Context) error {
	_, err := s.workers.Get(ctx, domain.LocalWorkerID)
	if err == nil {
		// Status may be stale from an unclean shutdown.
		return s.workers.UpdateStatus(ctx, domain.LocalWorkerID, domain.WorkerConnected)
	}
	if !domain.IsKind(err, domain.KindNotFound) {
		return err
	}

	now := time.Now().UTC()
	local := domain.Worker{
		ID:          domain.LocalWorkerID,
		Name:        "local",
		Kind:        domain.WorkerLocal,
		MaxSessions: s.localMaxSessions,
		Status:      domain.WorkerConnected,
		CreatedAt:   now,
	}
	if err := s.workers.Add(ctx, local); err != nil {
		return err
	}
	logging.Logger.Info("registered local worker", "max_sessions", s.localMaxSessions)
	return nil
}

// Register validates and persists a remote worker, then starts its tunnel
func (s *WorkerService) Register(ctx context.Context, params RegisterWorkerParams) (*domain.Worker, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, domain.ValidationError("worker name cannot be empty")
	}
	host := strings.TrimSpace(params.Host)
	if host == "" {
		return nil, domain.ValidationError("worker host cannot be empty")
	}
	if params.User == "" {
		return nil, domain.ValidationError("worker user cannot be empty")
	}
	maxSessions := params.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 1
	}

	now := time.Now().UTC()
	worker := domain.Worker{
		ID:          uuid.New().String(),
		Name:        name,
		Kind:        domain.WorkerRemote,
		Host:        host,
		Port:        params.Port,
		User:        params.User,
		KeyPath:     params.KeyPath,
		MaxSessions: maxSessions,
		Status:      domain.WorkerDisconnected,
		CreatedAt:   now,
	}

	if err := s.workers.Add(ctx, worker); err != nil {
		return nil, err
	}

	logging.Logger.Info("registered worker",
		"worker_id", worker.ID,
		"name", name,
		"addr", worker.Addr(),
		"max_sessions", maxSessions)

	s.tunnels.Ensure(worker)
	return &worker, nil
}

// Unregister removes a worker with no bound non-terminal sessions and
// drops its tunnel
func (s *WorkerService) Unregister(ctx context.Context, id string) error {
	worker, err := s.workers.Get(ctx, id)
	if err != nil {
		return err
	}
	if worker.Kind == domain.WorkerLocal {
		return domain.ConflictError("the local worker cannot be removed")
	}

	bound, err := s.sessions.ListByWorker(ctx, id)
	if err != nil {
		return err
	}
	for _, session := range bound {
		if !session.Status.Terminal() {
			return domain.ConflictError("worker %s has session %s in status %s", id, session.ID, session.Status)
		}
	}

	s.tunnels.Drop(id)
	if err := s.workers.Delete(ctx, id); err != nil {
		return err
	}
	logging.Logger.Info("unregistered worker", "worker_id", id, "name", worker.Name)
	return nil
}

func (s *WorkerService) Get(ctx context.Context, id string) (*domain.Worker, error) {
	return s.workers.Get(ctx, id)
}

func (s *WorkerService) List(ctx context.Context) ([]domain.Worker, error) {
	return s.workers.List(ctx)
}

// Heartbeat records liveness for a worker
func (s *WorkerService) Heartbeat(ctx context.Context, id string) error {
	return s.workers.UpdateHeartbeat(ctx, id, time.Now().UTC())
}

// TestConnection probes an SSH endpoint without registering anything
func (s *WorkerService) TestConnection(ctx context.Context, params RegisterWorkerParams, timeout time.Duration) error {
	if s.testConn == nil {
		return domain.ValidationError("connection testing is not available")
	}
	worker := domain.Worker{
		Kind:    domain.WorkerRemote,
		Host:    strings.TrimSpace(params.Host),
		Port:    params.Port,
		User:    params.User,
		KeyPath: params.KeyPath,
	}
	if worker.Host == "" {
		return domain.ValidationError("worker host cannot be empty")
	}
	return s.testConn(ctx, worker, timeout)
}

// ResumeTunnels starts tunnels for every persisted remote worker; called
// once at startup
func (s *WorkerService) ResumeTunnels(ctx context.Context) error {
	workers, err := s.workers.List(ctx)
	if err != nil {
		return err
	}
	for _, w := range workers {
		if w.Remote() {
			s.tunnels.Ensure(w)
		}
	}
	return nil
}
