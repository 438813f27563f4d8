package cmd

import (
	"context"
	"time"

	adapterpty "helmsman/internal/adapters/pty"
	"helmsman/internal/adapters/remote"
	"helmsman/internal/adapters/sshtunnel"
	adapterstorage "helmsman/internal/adapters/storage"
	"helmsman/internal/bus"
	"helmsman/internal/config"
	"helmsman/internal/domain"
	"helmsman/internal/logging"
	"helmsman/internal/ports"
	"helmsman/internal/services"
)

// Container holds all dependencies for the hub
type Container struct {
	SessionService *services.SessionService
	WorkerService  *services.WorkerService
	Dispatcher     *services.Dispatcher
	Health         *services.HealthMonitor
	Streams        *bus.Bus
	Tunnels        *sshtunnel.Manager

	// Internal - cleanup and tunnel state callbacks
	sessionRepo ports.SessionRepository
	workerRepo  ports.WorkerRepository
}

// NewContainer creates a Container with all dependencies wired
func NewContainer(settings *config.Settings) (*Container, error) {
	repo, err := adapterstorage.NewSQLiteRepository(config.GetDBPath())
	if err != nil {
		return nil, err
	}

	streams := bus.New(bus.DefaultSubscriberBuffer)
	handles := services.NewHandleRegistry()

	c := &Container{
		Streams:     streams,
		sessionRepo: repo,
		workerRepo:  repo.Workers(),
	}

	tunnelCfg := sshtunnel.ManagerConfig{
		ReconnectBase: secondsOrZero(settings.ReconnectBase),
		ReconnectMax:  secondsOrZero(settings.ReconnectMax),
	}
	c.Tunnels = sshtunnel.NewManager(tunnelCfg, c.onTunnelState)

	localSpawner := adapterpty.NewSpawner()
	spawnerFor := func(worker domain.Worker) ports.Spawner {
		if worker.Remote() {
			return remote.NewSpawner(worker.ID, c.Tunnels)
		}
		return localSpawner
	}

	c.SessionService = services.NewSessionService(repo, repo.Workers(), streams, handles)
	if settings.NeedsInputSeconds != nil && *settings.NeedsInputSeconds > 0 {
		c.SessionService.SetNeedsInputAfter(time.Duration(*settings.NeedsInputSeconds) * time.Second)
	}

	localMax := config.DefaultLocalMaxSessions
	if settings.LocalMaxSessions != nil && *settings.LocalMaxSessions > 0 {
		localMax = *settings.LocalMaxSessions
	}
	c.WorkerService = services.NewWorkerService(
		repo.Workers(),
		repo,
		c.Tunnels,
		sshtunnel.TestConnection,
		localMax,
	)

	c.Dispatcher = services.NewDispatcher(
		repo,
		repo.Workers(),
		spawnerFor,
		streams,
		handles,
		c.SessionService,
		services.DispatcherConfig{
			Interval:     secondsOrZero(settings.DispatchInterval),
			SpawnCommand: settings.SpawnCommand,
		},
	)
	c.SessionService.SetDispatchKick(c.Dispatcher.Kick)

	c.Health = services.NewHealthMonitor(
		repo.Workers(),
		c.Tunnels,
		secondsOrZero(settings.HealthInterval),
		c.Dispatcher.Kick,
	)

	return c, nil
}

// onTunnelState mirrors transport state into the worker registry and
// wakes the dispatcher on reconnect
func (c *Container) onTunnelState(workerID string, connected bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := domain.WorkerDisconnected
	if connected {
		status = domain.WorkerConnected
	}
	if err := c.workerRepo.UpdateStatus(ctx, workerID, status); err != nil {
		logging.Logger.Warn("failed to record tunnel state",
			"worker_id", workerID,
			"connected", connected,
			"error", err)
	}
	if connected && c.Dispatcher != nil {
		c.Dispatcher.Kick()
	}
}

// Close closes all resources held by the container
func (c *Container) Close() error {
	if c.Tunnels != nil {
		_ = c.Tunnels.Close()
	}
	if c.sessionRepo != nil {
		return c.sessionRepo.Close()
	}
	return nil
}

func secondsOrZero(v *int) time.Duration {
	if v == nil || *v <= 0 {
		return 0
	}
	return time.Duration(*v) * time.Second
}
