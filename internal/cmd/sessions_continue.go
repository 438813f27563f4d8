package cmd

import (
	"context"
	"fmt"

	"helmsman/internal/logging"
)

// SessionsContinueCmd puts a completed or failed session back in the queue
type SessionsContinueCmd struct {
	ID string `arg:"" help:"Session ID"`
}

func (c *SessionsContinueCmd) Run(cli *CLI) error {
	logging.Logger.Info("continuing session", "id", c.ID)

	client := newAPIClient(cli, cli.Sessions.Addr)
	var updated sessionRecord
	if err := client.do(context.Background(), "POST", "/api/sessions/"+c.ID+"/continue", nil, &updated); err != nil {
		return err
	}

	fmt.Printf("Session '%s' requeued at position %d (continuation %d)\n",
		updated.Title, updated.Position, updated.Continuations)
	return nil
}
