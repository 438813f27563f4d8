package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"helmsman/internal/logging"
)

// SessionsAddCmd queues a new session in the given working directory
type SessionsAddCmd struct {
	Dir    string `arg:"" help:"Working directory for the session"`
	Title  string `help:"Session title (defaults to the directory name)"`
	Worker string `help:"Pin the session to a specific worker ID"`
}

func (c *SessionsAddCmd) Run(cli *CLI) error {
	logging.Logger.Info("adding session", "dir", c.Dir, "worker", c.Worker)

	dir, err := filepath.Abs(c.Dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}

	client := newAPIClient(cli, cli.Sessions.Addr)
	var created sessionRecord
	err = client.do(context.Background(), "POST", "/api/sessions", map[string]string{
		"workingDir": dir,
		"title":      c.Title,
		"workerId":   c.Worker,
	}, &created)
	if err != nil {
		return err
	}

	fmt.Printf("Session '%s' queued at position %d (%s)\n", created.Title, created.Position, created.ID)
	return nil
}
