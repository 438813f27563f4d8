package ports

import (
	"context"
	"io"

	"helmsman/internal/domain"
)

// TunnelManager maintains persistent encrypted transports to remote
// workers. Each worker's transport is owned by a supervising goroutine
// inside the manager; callers never touch the connection directly.
type TunnelManager interface {
	// Ensure starts (or keeps) a supervisor for the worker's tunnel. Safe
	// to call repeatedly.
	Ensure(worker domain.Worker)
	// Drop tears down the worker's tunnel and stops its supervisor. All
	// in-flight channels are closed.
	Drop(workerID string)
	// Probe checks transport liveness with a bounded round trip. Used by
	// the health monitor.
	Probe(ctx context.Context, workerID string) error
	// Exec runs a command on the remote host and returns combined output.
	Exec(ctx context.Context, workerID, command string) ([]byte, error)
	// OpenChannel starts command on the remote host and returns its stdio
	// as a duplex stream. The stream is closed when the tunnel drops.
	OpenChannel(ctx context.Context, workerID, command string) (io.ReadWriteCloser, error)
	// ForwardReverse lets processes on the remote host reach localAddr by
	// dialing the returned port on their loopback interface. Ports come
	// from a private ephemeral range per worker; mappings die with the
	// tunnel.
	ForwardReverse(ctx context.Context, workerID string, localAddr string) (int, error)
	Close() error
}

// EventSink receives process output and lifecycle events for distribution
// to connected viewers
type EventSink interface {
	Output(sessionID string, data []byte)
	Event(event domain.Event)
	// CloseSession ends the session's stream; viewers see their
	// subscription close.
	CloseSession(sessionID string)
}
