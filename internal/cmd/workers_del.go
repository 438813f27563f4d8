package cmd

import (
	"context"
	"fmt"

	"helmsman/internal/logging"
)

// WorkersDelCmd removes a worker and tears down its tunnel
type WorkersDelCmd struct {
	ID string `arg:"" help:"Worker ID"`
}

func (c *WorkersDelCmd) Run(cli *CLI) error {
	logging.Logger.Info("removing worker", "id", c.ID)

	client := newAPIClient(cli, cli.Workers.Addr)
	if err := client.do(context.Background(), "DELETE", "/api/workers/"+c.ID, nil, nil); err != nil {
		return err
	}

	fmt.Printf("Worker '%s' removed\n", c.ID)
	return nil
}
