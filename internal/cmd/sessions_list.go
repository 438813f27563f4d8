package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
)

// SessionsListCmd lists all sessions known to the hub
type SessionsListCmd struct{}

func (c *SessionsListCmd) Run(cli *CLI) error {
	client := newAPIClient(cli, cli.Sessions.Addr)

	var sessions []sessionRecord
	if err := client.do(context.Background(), "GET", "/api/sessions", nil, &sessions); err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTITLE\tSTATUS\tWORKER\tPID\tDIR")
	for _, s := range sessions {
		pid := "-"
		if s.PID > 0 {
			pid = fmt.Sprintf("%d", s.PID)
		}
		worker := s.WorkerID
		if worker == "" {
			worker = "-"
		}
		status := s.Status
		if s.NeedsInput {
			status += " (input?)"
		}
		fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\t%s\t%s\n",
			statusGlyph(s.Status), shortID(s.ID), s.Title, status, worker, pid, s.WorkingDir)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
