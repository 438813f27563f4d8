package cmd

import (
	"context"
	"fmt"

	"helmsman/internal/logging"
)

// WorkersTestCmd probes SSH connectivity for a prospective worker
// without registering it.
type WorkersTestCmd struct {
	Host string `required:"" help:"SSH host"`
	User string `required:"" help:"SSH user"`
	Port int    `default:"22" help:"SSH port"`
	Key  string `help:"Path to the SSH private key"`
}

func (c *WorkersTestCmd) Run(cli *CLI) error {
	logging.Logger.Info("testing worker connection", "host", c.Host, "user", c.User)

	client := newAPIClient(cli, cli.Workers.Addr)
	err := client.do(context.Background(), "POST", "/api/workers/test", map[string]any{
		"name": "probe",
		"host": c.Host,
		"port": c.Port,
		"user": c.User,
		"keyPath": c.Key,
	}, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Connection to %s@%s:%d OK\n", c.User, c.Host, c.Port)
	return nil
}
