package services

import (
	"context"
	"sync"
	"time"

	"helmsman/internal/domain"
	"helmsman/internal/logging"
	"helmsman/internal/ports"
)

const (
	// DefaultHealthInterval is the probe period per remote worker
	DefaultHealthInterval = 15 * time.Second
	// healthFailureThreshold is how many consecutive probe failures mark a
	// worker disconnected
	healthFailureThreshold = 3
	healthProbeTimeout     = 5 * time.Second
)

// HealthMonitor probes remote workers' tunnels at a fixed interval. Three
// consecutive failures mark the worker disconnected and force a fresh
// tunnel; the first success afterwards marks it connected again and
// triggers a dispatch pass so waiting sessions land promptly.
type HealthMonitor struct {
	workers  ports.WorkerRepository
	tunnels  ports.TunnelManager
	interval time.Duration

	// onRecover is invoked when a worker comes back; wired to the
	// dispatcher's Kick.
	onRecover func()

	mu       sync.Mutex
	failures map[string]int
}

func NewHealthMonitor(
	workers ports.WorkerRepository,
	tunnels ports.TunnelManager,
	interval time.Duration,
	onRecover func(),
) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthMonitor{
		workers:   workers,
		tunnels:   tunnels,
		interval:  interval,
		onRecover: onRecover,
		failures:  make(map[string]int),
	}
}

// Run probes until ctx is done
func (m *HealthMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every remote worker once
func (m *HealthMonitor) Sweep(ctx context.Context) {
	workers, err := m.workers.List(ctx)
	if err != nil {
		logging.Logger.Error("health sweep failed to list workers", "error", err)
		return
	}

	for _, w := range workers {
		if !w.Remote() {
			continue
		}
		m.probe(ctx, w)
	}
}

func (m *HealthMonitor) probe(ctx context.Context, worker domain.Worker) {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	err := m.tunnels.Probe(probeCtx, worker.ID)
	cancel()

	if err != nil {
		m.recordFailure(ctx, worker, err)
		return
	}
	m.recordSuccess(ctx, worker)
}

func (m *HealthMonitor) recordFailure(ctx context.Context, worker domain.Worker, probeErr error) {
	m.mu.Lock()
	m.failures[worker.ID]++
	count := m.failures[worker.ID]
	m.mu.Unlock()

	logging.Logger.Warn("worker probe failed",
		"worker_id", worker.ID,
		"consecutive", count,
		"error", probeErr)

	if count != healthFailureThreshold {
		return
	}

	if err := m.workers.UpdateStatus(ctx, worker.ID, domain.WorkerDisconnected); err != nil {
		logging.Logger.Error("failed to mark worker disconnected", "worker_id", worker.ID, "error", err)
	}
	// Force a fresh supervisor rather than waiting out a wedged transport.
	m.tunnels.Drop(worker.ID)
	m.tunnels.Ensure(worker)
	logging.Logger.Warn("worker marked disconnected, tunnel restarted", "worker_id", worker.ID)
}

func (m *HealthMonitor) recordSuccess(ctx context.Context, worker domain.Worker) {
	m.mu.Lock()
	hadFailures := m.failures[worker.ID] > 0
	m.failures[worker.ID] = 0
	m.mu.Unlock()

	if err := m.workers.UpdateHeartbeat(ctx, worker.ID, time.Now().UTC()); err != nil {
		logging.Logger.Warn("failed to record heartbeat", "worker_id", worker.ID, "error", err)
	}

	if !hadFailures && worker.Status == domain.WorkerConnected {
		return
	}

	if err := m.workers.UpdateStatus(ctx, worker.ID, domain.WorkerConnected); err != nil {
		logging.Logger.Error("failed to mark worker connected", "worker_id", worker.ID, "error", err)
		return
	}
	logging.Logger.Info("worker recovered", "worker_id", worker.ID)
	if m.onRecover != nil {
		m.onRecover()
	}
}
