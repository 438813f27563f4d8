package cmd

import (
	"context"
	"fmt"

	"helmsman/internal/logging"
)

// WorkersAddCmd registers a remote SSH worker with the hub
type WorkersAddCmd struct {
	Name        string `arg:"" help:"Worker name"`
	Host        string `required:"" help:"SSH host"`
	User        string `required:"" help:"SSH user"`
	Port        int    `default:"22" help:"SSH port"`
	Key         string `help:"Path to the SSH private key"`
	MaxSessions int    `default:"1" help:"Concurrent session limit"`
}

func (c *WorkersAddCmd) Run(cli *CLI) error {
	logging.Logger.Info("registering worker", "name", c.Name, "host", c.Host)

	client := newAPIClient(cli, cli.Workers.Addr)
	var created workerRecord
	err := client.do(context.Background(), "POST", "/api/workers", map[string]any{
		"name":        c.Name,
		"host":        c.Host,
		"port":        c.Port,
		"user":        c.User,
		"keyPath":     c.Key,
		"maxSessions": c.MaxSessions,
	}, &created)
	if err != nil {
		return err
	}

	fmt.Printf("Worker '%s' registered (%s)\n", created.Name, created.ID)
	return nil
}
