// Package agent implements the worker-side runtime that the hub drives
// over a tunnel channel. The wire format is JSON lines on stdio: the hub
// writes requests, the agent writes events. Output bytes are base64 in
// the JSON frames.
package agent

// Request commands, hub → agent
const (
	CmdSpawn  = "spawn"
	CmdInput  = "input"
	CmdResize = "resize"
	CmdKill   = "kill"
	CmdPing   = "ping"
)

// Event types, agent → hub
const (
	EventSpawned = "spawned"
	EventOutput  = "output"
	EventExit    = "exit"
	EventError   = "error"
	EventPong    = "pong"
)

// Request is one hub → agent frame
type Request struct {
	Cmd       string `json:"cmd"`
	SessionID string `json:"sessionId,omitempty"`
	Directory string `json:"directory,omitempty"`
	Command   string `json:"command,omitempty"`
	Env       []string `json:"env,omitempty"`
	Data      string `json:"data,omitempty"` // base64 for input
	Cols      uint16 `json:"cols,omitempty"`
	Rows      uint16 `json:"rows,omitempty"`
}

// Event is one agent → hub frame
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	ProcessID int    `json:"processId,omitempty"`
	Data      string `json:"data,omitempty"` // base64 for output
	OK        bool   `json:"ok,omitempty"`
	Message   string `json:"message,omitempty"`
}
