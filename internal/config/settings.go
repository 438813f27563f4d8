package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Defaults applied when neither flags, env vars, nor settings.json say
// otherwise.
const (
	DefaultListenAddr       = "127.0.0.1:7420"
	DefaultAttachAddr       = "127.0.0.1:7422"
	DefaultLocalMaxSessions = 4
)

// Settings represents the structure of ~/.helmsman/settings.json
type Settings struct {
	AttachAddr        string `json:"attach_addr,omitempty"`
	Debug             *bool  `json:"debug,omitempty"`
	DispatchInterval  *int   `json:"dispatch_interval_seconds,omitempty"`
	HealthInterval    *int   `json:"health_interval_seconds,omitempty"`
	ListenAddr        string `json:"listen_addr,omitempty"`
	LocalMaxSessions  *int   `json:"local_max_sessions,omitempty"`
	MaxLogFiles       *int   `json:"max_log_files,omitempty"`
	SpawnCommand      string `json:"spawn_command,omitempty"`
	SpawnTimeout      *int   `json:"spawn_timeout_seconds,omitempty"`
	ReconnectBase     *int   `json:"reconnect_base_seconds,omitempty"`
	ReconnectMax      *int   `json:"reconnect_max_seconds,omitempty"`
	NeedsInputSeconds *int   `json:"needs_input_seconds,omitempty"`
}

// LoadSettings loads settings from $HELMSMAN_HOME/settings.json.
// Returns empty Settings if the file doesn't exist (not an error).
func LoadSettings() (*Settings, error) {
	path := GetSettingsPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("invalid settings.json: %w", err)
	}

	if settings.SpawnCommand != "" {
		settings.SpawnCommand = ExpandPath(settings.SpawnCommand)
	}

	return &settings, nil
}

// SaveSettings saves settings to $HELMSMAN_HOME/settings.json
func SaveSettings(settings *Settings) error {
	path := GetSettingsPath()
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}
