package cmd

import (
	"context"
	"os"

	"helmsman/internal/adapters/pty"
	"helmsman/internal/agent"
	"helmsman/internal/logging"
)

// AgentCmd runs the worker-side runtime. The hub executes `helmsman
// agent` on the far end of a tunnel channel; requests arrive on stdin,
// events leave on stdout. Not intended for interactive use.
type AgentCmd struct{}

func (a *AgentCmd) Run(cli *CLI) error {
	logging.Logger.Info("agent runtime starting", "pid", os.Getpid())

	runtime := agent.NewRuntime(pty.NewSpawner(), os.Stdout)
	err := runtime.Run(context.Background(), os.Stdin)

	logging.Logger.Info("agent runtime exiting", "error", err)
	return err
}
