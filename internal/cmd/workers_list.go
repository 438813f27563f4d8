package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// WorkersListCmd lists all registered workers
type WorkersListCmd struct{}

func (c *WorkersListCmd) Run(cli *CLI) error {
	client := newAPIClient(cli, cli.Workers.Addr)

	var workers []workerRecord
	if err := client.do(context.Background(), "GET", "/api/workers", nil, &workers); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tSTATUS\tMAX\tTARGET")
	for _, wk := range workers {
		target := "-"
		if wk.Kind == "remote" {
			target = fmt.Sprintf("%s@%s:%d", wk.User, wk.Host, wk.Port)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(wk.ID), wk.Name, wk.Kind, wk.Status, wk.MaxSessions, target)
	}
	return w.Flush()
}
