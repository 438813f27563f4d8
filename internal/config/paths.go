package config

import (
	"os"
	"path/filepath"
)

// GetHelmsmanHome returns HELMSMAN_HOME or ~/.helmsman default
func GetHelmsmanHome() string {
	home := os.Getenv("HELMSMAN_HOME")
	if home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ".helmsman"
		}
		return filepath.Join(homeDir, ".helmsman")
	}
	return ExpandPath(home)
}

// GetDBPath returns $HELMSMAN_HOME/state.db
func GetDBPath() string {
	return filepath.Join(GetHelmsmanHome(), "state.db")
}

// GetSettingsPath returns $HELMSMAN_HOME/settings.json
func GetSettingsPath() string {
	return filepath.Join(GetHelmsmanHome(), "settings.json")
}

// GetHostKeyPath returns the attach gateway's SSH host key location
func GetHostKeyPath() string {
	return filepath.Join(GetHelmsmanHome(), "ssh", "id_ed25519")
}

// ExpandPath expands ~ to home directory
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			if len(path) == 1 {
				return homeDir
			}
			return filepath.Join(homeDir, path[1:])
		}
	}
	return path
}
