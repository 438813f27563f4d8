// Package cmd defines the helmsman CLI: the hub (serve), the worker-side
// runtime (agent), and operator conveniences for sessions and workers.
package cmd

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"helmsman/internal/config"
	"helmsman/internal/logging"
)

// CLI represents the command-line interface structure
type CLI struct {
	Version     kong.VersionFlag `help:"Show version information"`
	Debug       bool             `help:"Enable debug logging to file" short:"d"`
	DebugFile   string           `help:"Custom path for debug log file (disables automatic cleanup)"`
	MaxLogFiles int              `help:"Maximum number of log files to keep (0 = unlimited)" default:"1000"`

	Serve    ServeCmd    `cmd:"" help:"Run the hub: control API, attach gateway, dispatcher"`
	Agent    AgentCmd    `cmd:"" help:"Worker-side runtime driven over a tunnel channel" hidden:""`
	Sessions SessionsCmd `cmd:"" help:"Manage sessions (add, list, del, continue, kill, input)"`
	Workers  WorkersCmd  `cmd:"" help:"Manage workers (add, list, del, test)"`

	// Internal fields (not flags)
	settings *config.Settings `kong:"-"`
}

// SetSettings sets the settings on the CLI struct
func (c *CLI) SetSettings(settings *config.Settings) {
	c.settings = settings
}

// AfterApply initializes logging after CLI parsing and applies settings.
// Precedence: CLI flags > env vars > settings.json > defaults.
func (c *CLI) AfterApply() error {
	if c.settings != nil {
		if c.MaxLogFiles == 1000 {
			if _, hasEnv := os.LookupEnv("HELMSMAN_MAX_LOG_FILES"); !hasEnv {
				if c.settings.MaxLogFiles != nil {
					c.MaxLogFiles = *c.settings.MaxLogFiles
				}
			}
		}

		if !c.Debug {
			if _, hasEnv := os.LookupEnv("HELMSMAN_DEBUG"); !hasEnv {
				if c.settings.Debug != nil && *c.settings.Debug {
					c.Debug = true
				}
			}
		}
	}

	logFilePath, err := logging.Initialize(c.Debug, c.DebugFile, c.MaxLogFiles)
	if err != nil {
		return err
	}

	// Export AFTER initialization so child processes inherit debug
	// settings and append to the same file.
	if c.Debug || c.DebugFile != "" {
		os.Setenv("HELMSMAN_DEBUG", "1")
		if logFilePath != "" {
			os.Setenv("HELMSMAN_DEBUG_FILE", logFilePath)
		}
	}
	if c.MaxLogFiles != 1000 {
		os.Setenv("HELMSMAN_MAX_LOG_FILES", fmt.Sprintf("%d", c.MaxLogFiles))
	}

	return nil
}
