package cmd

import (
	"context"
	"fmt"
)

// SessionsInputCmd writes a line of input to an active session's terminal
type SessionsInputCmd struct {
	ID   string `arg:"" help:"Session ID"`
	Data string `arg:"" help:"Text to send"`
	Raw  bool   `help:"Send the text as-is without appending a newline"`
}

func (c *SessionsInputCmd) Run(cli *CLI) error {
	data := c.Data
	if !c.Raw {
		data += "\n"
	}

	client := newAPIClient(cli, cli.Sessions.Addr)
	err := client.do(context.Background(), "POST", "/api/sessions/"+c.ID+"/input",
		map[string]string{"data": data}, nil)
	if err != nil {
		return err
	}

	fmt.Printf("Input sent to session '%s'\n", c.ID)
	return nil
}
