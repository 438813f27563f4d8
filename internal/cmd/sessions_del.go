package cmd

import (
	"context"
	"fmt"

	"helmsman/internal/logging"
)

// SessionsDelCmd deletes a session that is not currently running
type SessionsDelCmd struct {
	ID string `arg:"" help:"Session ID"`
}

func (c *SessionsDelCmd) Run(cli *CLI) error {
	logging.Logger.Info("deleting session", "id", c.ID)

	client := newAPIClient(cli, cli.Sessions.Addr)
	if err := client.do(context.Background(), "DELETE", "/api/sessions/"+c.ID, nil, nil); err != nil {
		return err
	}

	fmt.Printf("Session '%s' deleted\n", c.ID)
	return nil
}
