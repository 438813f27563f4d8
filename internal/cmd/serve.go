package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"helmsman/internal/config"
	"helmsman/internal/logging"
	"helmsman/internal/server"
	"helmsman/internal/version"
)

// ServeCmd runs the hub
type ServeCmd struct {
	ListenAddr string `help:"Control API listen address" default:"${default_listen_addr}"`
	AttachAddr string `help:"SSH attach gateway listen address" default:"${default_attach_addr}"`
	NoAttach   bool   `help:"Disable the SSH attach gateway"`
}

// Run starts every hub component and blocks until a signal arrives
func (s *ServeCmd) Run(cli *CLI) error {
	settings := cli.settings
	if settings == nil {
		settings = &config.Settings{}
	}

	if s.ListenAddr == config.DefaultListenAddr && settings.ListenAddr != "" {
		s.ListenAddr = settings.ListenAddr
	}
	if s.AttachAddr == config.DefaultAttachAddr && settings.AttachAddr != "" {
		s.AttachAddr = settings.AttachAddr
	}

	container, err := NewContainer(settings)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer container.Close()

	logging.Logger.Info("starting hub", "version", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Crash recovery before anything can race the queue.
	if err := container.SessionService.RecoverStartup(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}
	if err := container.WorkerService.EnsureLocal(ctx); err != nil {
		return fmt.Errorf("failed to register local worker: %w", err)
	}
	if err := container.WorkerService.ResumeTunnels(ctx); err != nil {
		return fmt.Errorf("failed to resume tunnels: %w", err)
	}

	api := server.New(server.Config{ListenAddr: s.ListenAddr},
		container.SessionService, container.WorkerService, container.Streams)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return container.Dispatcher.Run(ctx) })
	g.Go(func() error { return container.Health.Run(ctx) })
	g.Go(func() error { return api.Run(ctx) })

	if !s.NoAttach {
		gateway, err := server.NewAttachGateway(
			s.AttachAddr,
			config.GetHostKeyPath(),
			container.SessionService,
			container.Streams,
		)
		if err != nil {
			return err
		}
		g.Go(func() error { return gateway.Run(ctx) })
	}

	fmt.Printf("helmsman hub listening on %s\n", s.ListenAddr)

	err = g.Wait()
	logging.Logger.Info("hub shutting down")
	container.SessionService.Shutdown()

	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
