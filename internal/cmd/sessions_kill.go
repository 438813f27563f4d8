package cmd

import (
	"context"
	"fmt"

	"helmsman/internal/logging"
)

// SessionsKillCmd terminates the process behind an active session
type SessionsKillCmd struct {
	ID string `arg:"" help:"Session ID"`
}

func (c *SessionsKillCmd) Run(cli *CLI) error {
	logging.Logger.Info("killing session", "id", c.ID)

	client := newAPIClient(cli, cli.Sessions.Addr)
	if err := client.do(context.Background(), "POST", "/api/sessions/"+c.ID+"/kill", nil, nil); err != nil {
		return err
	}

	fmt.Printf("Session '%s' killed\n", c.ID)
	return nil
}
