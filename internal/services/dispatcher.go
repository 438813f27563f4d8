package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"helmsman/internal/domain"
	"helmsman/internal/logging"
	"helmsman/internal/ports"
)

// DefaultDispatchInterval is the periodic pass; event-driven kicks make
// dispatch prompt, the ticker makes it eventual
const DefaultDispatchInterval = 5 * time.Second

// SpawnerFactory resolves the spawner for a worker. Local workers get the
// PTY spawner, remote workers a tunnel-channel spawner.
type SpawnerFactory func(worker domain.Worker) ports.Spawner

// DispatcherConfig tunes the dispatch loop
type DispatcherConfig struct {
	Interval     time.Duration
	SpawnCommand string
}

// Dispatcher admits queued sessions onto workers with free slots. One
// dispatch pass runs at a time; per-session admission guards keep a
// session from being spawned twice when passes overlap a slow spawn.
type Dispatcher struct {
	sessions   ports.SessionRepository
	workers    ports.WorkerRepository
	spawnerFor SpawnerFactory
	sink       ports.EventSink
	handles    *HandleRegistry
	service    *SessionService
	cfg        DispatcherConfig

	passMu sync.Mutex

	// admitting maps session id → destination worker id while a spawn is
	// in flight, so overlapping passes neither double-spawn a session nor
	// oversubscribe a worker whose MarkActive has not landed yet.
	admitMu   sync.Mutex
	admitting map[string]string

	kick chan struct{}
}

func NewDispatcher(
	sessions ports.SessionRepository,
	workers ports.WorkerRepository,
	spawnerFor SpawnerFactory,
	sink ports.EventSink,
	handles *HandleRegistry,
	service *SessionService,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultDispatchInterval
	}
	if cfg.SpawnCommand == "" {
		cfg.SpawnCommand = "claude"
	}
	return &Dispatcher{
		sessions:   sessions,
		workers:    workers,
		spawnerFor: spawnerFor,
		sink:       sink,
		handles:    handles,
		service:    service,
		cfg:        cfg,
		admitting:  make(map[string]string),
		kick:       make(chan struct{}, 1),
	}
}

// Kick requests a dispatch pass; coalesces when one is already pending
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run drives periodic and kicked dispatch passes until ctx is done
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	// Initial pass picks up sessions recovered at startup.
	d.Dispatch(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.Dispatch(ctx)
		case <-d.kick:
			d.Dispatch(ctx)
		}
	}
}

// Dispatch runs one admission pass over the queue in arrival order.
// Idempotent: a pass that finds nothing admissible changes nothing.
func (d *Dispatcher) Dispatch(ctx context.Context) {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	queued, err := d.sessions.ListByStatus(ctx, domain.StatusQueued)
	if err != nil {
		logging.Logger.Error("dispatch pass failed to list queue", "error", err)
		return
	}
	if len(queued) == 0 {
		return
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].Position < queued[j].Position })

	workers, err := d.workers.List(ctx)
	if err != nil {
		logging.Logger.Error("dispatch pass failed to list workers", "error", err)
		return
	}

	free, err := d.freeSlots(ctx, workers)
	if err != nil {
		logging.Logger.Error("dispatch pass failed to count active sessions", "error", err)
		return
	}

	for _, session := range queued {
		workerID, ok := d.pickWorker(session, workers, free)
		if !ok {
			continue
		}
		if !d.beginAdmission(session.ID, workerID) {
			continue
		}
		free[workerID]--
		// Spawn off the pass goroutine so one slow worker does not stall
		// the rest of the queue.
		go d.admit(ctx, session, d.workerByID(workers, workerID))
	}
}

// freeSlots returns remaining capacity per connected worker
func (d *Dispatcher) freeSlots(ctx context.Context, workers []domain.Worker) (map[string]int, error) {
	free := make(map[string]int, len(workers))
	for _, w := range workers {
		if w.Status != domain.WorkerConnected {
			continue
		}
		active, err := d.sessions.ListByWorker(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		used := 0
		for _, s := range active {
			if s.Status == domain.StatusActive {
				used++
			}
		}
		if slots := w.MaxSessions - used; slots > 0 {
			free[w.ID] = slots
		}
	}

	d.admitMu.Lock()
	for _, workerID := range d.admitting {
		if free[workerID] > 0 {
			free[workerID]--
		}
	}
	d.admitMu.Unlock()
	return free, nil
}

// pickWorker chooses a destination: pinned sessions only match their
// worker; unpinned prefer the local worker, then the lowest worker id
// among connected workers with capacity. Workers arrive sorted by id.
func (d *Dispatcher) pickWorker(session domain.Session, workers []domain.Worker, free map[string]int) (string, bool) {
	if session.WorkerID != "" {
		if free[session.WorkerID] > 0 {
			return session.WorkerID, true
		}
		return "", false
	}
	if free[domain.LocalWorkerID] > 0 {
		return domain.LocalWorkerID, true
	}
	for _, w := range workers {
		if free[w.ID] > 0 {
			return w.ID, true
		}
	}
	return "", false
}

func (d *Dispatcher) workerByID(workers []domain.Worker, id string) domain.Worker {
	for _, w := range workers {
		if w.ID == id {
			return w
		}
	}
	return domain.Worker{ID: id}
}

func (d *Dispatcher) beginAdmission(sessionID, workerID string) bool {
	d.admitMu.Lock()
	defer d.admitMu.Unlock()
	if _, busy := d.admitting[sessionID]; busy {
		return false
	}
	d.admitting[sessionID] = workerID
	return true
}

func (d *Dispatcher) endAdmission(sessionID string) {
	d.admitMu.Lock()
	delete(d.admitting, sessionID)
	d.admitMu.Unlock()
}

// admit spawns the session on the worker and records the transition. The
// admission guard stays held until the session is active or failed, so a
// slow spawn cannot be admitted twice.
func (d *Dispatcher) admit(ctx context.Context, session domain.Session, worker domain.Worker) {
	defer d.endAdmission(session.ID)

	logging.Logger.Info("admitting session",
		"session_id", session.ID,
		"worker_id", worker.ID,
		"working_dir", session.WorkingDir)

	spawner := d.spawnerFor(worker)
	if spawner == nil {
		d.failAdmission(ctx, session.ID, fmt.Sprintf("no spawner for worker %s", worker.ID))
		return
	}

	spec := ports.SpawnSpec{
		SessionID:  session.ID,
		WorkingDir: session.WorkingDir,
		Command:    d.cfg.SpawnCommand,
		Cols:       80,
		Rows:       24,
	}

	h, err := spawner.Spawn(ctx, spec, d.onOutput, d.onExit)
	if err != nil {
		logging.Logger.Error("spawn failed",
			"session_id", session.ID,
			"worker_id", worker.ID,
			"error", err)
		d.failAdmission(ctx, session.ID, err.Error())
		return
	}

	d.handles.put(session.ID, h)
	if err := d.sessions.MarkActive(ctx, session.ID, worker.ID, h.PID()); err != nil {
		// Session vanished between the pass and the spawn. Kill the
		// orphan process rather than leak it.
		logging.Logger.Error("failed to mark session active, killing process",
			"session_id", session.ID,
			"error", err)
		d.handles.drop(session.ID)
		_ = h.Kill()
		return
	}

	logging.Logger.Info("session active",
		"session_id", session.ID,
		"worker_id", worker.ID,
		"pid", h.PID())
	d.sink.Event(domain.StatusEvent(session.ID, domain.StatusActive, h.PID()))
}

func (d *Dispatcher) failAdmission(ctx context.Context, sessionID, reason string) {
	if err := d.sessions.MarkExited(ctx, sessionID, domain.StatusFailed, reason); err != nil {
		logging.Logger.Error("failed to record spawn failure",
			"session_id", sessionID,
			"error", err)
	}
	d.sink.Event(domain.ErrorEvent(sessionID, reason, false))
	d.sink.Event(domain.StatusEvent(sessionID, domain.StatusFailed, 0))
}

func (d *Dispatcher) onOutput(sessionID string, data []byte) {
	if d.service != nil {
		d.service.HandleOutput(sessionID, data)
		return
	}
	d.sink.Output(sessionID, data)
}

// onExit releases the slot and records the terminal transition, then
// kicks another pass so the freed slot is reused promptly
func (d *Dispatcher) onExit(sessionID string, exitErr error) {
	d.handles.drop(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := domain.StatusCompleted
	reason := ""
	if exitErr != nil {
		status = domain.StatusFailed
		reason = exitErr.Error()
	}

	if err := d.sessions.MarkExited(ctx, sessionID, status, reason); err != nil {
		logging.Logger.Error("failed to record session exit",
			"session_id", sessionID,
			"error", err)
	} else {
		logging.Logger.Info("session exited",
			"session_id", sessionID,
			"status", status,
			"reason", reason)
	}

	if exitErr != nil {
		recoverable := domain.IsKind(exitErr, domain.KindTransport)
		d.sink.Event(domain.ErrorEvent(sessionID, exitErr.Error(), recoverable))
	}
	d.sink.Event(domain.StatusEvent(sessionID, status, 0))
	d.Kick()
}
