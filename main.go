package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"helmsman/internal/cmd"
	"helmsman/internal/config"
	"helmsman/internal/version"
)

// Tagline is the application's tagline used in help text
const Tagline = "One helm for a fleet of coding agents"

func main() {
	// Load settings from ~/.helmsman/settings.json
	settings, err := config.LoadSettings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load settings: %v\n", err)
		settings = &config.Settings{}
	}

	// Parse CLI arguments with Kong
	var cli cmd.CLI
	cli.SetSettings(settings) // Set settings before parsing
	ctx := kong.Parse(&cli,
		kong.Name("helmsman"),
		kong.Description(Tagline),
		kong.Vars{
			"version":             version.String(),
			"default_listen_addr": config.DefaultListenAddr,
			"default_attach_addr": config.DefaultAttachAddr,
		},
		kong.UsageOnError(),
		kong.Bind(&cli),
	)

	// Execute the selected command
	if err := ctx.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
