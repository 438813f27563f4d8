package ports

import "context"

// SpawnSpec describes the process to start for a session
type SpawnSpec struct {
	SessionID  string
	WorkingDir string
	Command    string
	Env        []string
	Cols       uint16
	Rows       uint16
}

// OutputFunc receives raw process output tagged with the session id, in
// the order the process produced it
type OutputFunc func(sessionID string, data []byte)

// ExitFunc is invoked exactly once when the process is gone. A nil err
// means a clean exit; anything else is a failure (including tunnel
// teardown for remote processes).
type ExitFunc func(sessionID string, err error)

// ProcessHandle controls one live interactive process. Handles are owned
// by the spawner's registry; callers hold the interface, never the
// underlying PTY.
type ProcessHandle interface {
	PID() int
	Write(data []byte) error
	Resize(cols, rows uint16) error
	// Kill signals the whole process group and is idempotent; killing an
	// already-dead process is a no-op.
	Kill() error
}

// Spawner starts an interactive process attached to a pseudo-terminal.
// Spawn returns only after the process (or remote channel) is confirmed
// live, so output can never race a not-yet-registered handle.
type Spawner interface {
	Spawn(ctx context.Context, spec SpawnSpec, onOutput OutputFunc, onExit ExitFunc) (ProcessHandle, error)
}
