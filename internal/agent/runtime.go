package agent

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"helmsman/internal/logging"
	"helmsman/internal/ports"
)

// maxFrameBytes bounds one JSON line on the wire. Output is chunked well
// below this by the PTY read buffer.
const maxFrameBytes = 1024 * 1024

// Runtime executes hub requests against a local spawner and relays
// process output back as events. One Runtime serves one tunnel channel.
type Runtime struct {
	spawner ports.Spawner

	encMu sync.Mutex
	enc   *json.Encoder

	handleMu sync.Mutex
	handles  map[string]ports.ProcessHandle
}

// NewRuntime creates a Runtime writing events to out
func NewRuntime(spawner ports.Spawner, out io.Writer) *Runtime {
	return &Runtime{
		spawner: spawner,
		enc:     json.NewEncoder(out),
		handles: make(map[string]ports.ProcessHandle),
	}
}

// Run reads requests from in until EOF or ctx cancellation, then kills
// every process it spawned. The hub treats channel teardown as process
// exit, so orphans must not linger.
func (r *Runtime) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	defer r.killAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			r.handleLine(ctx, line)
		}
	}
}

func (r *Runtime) handleLine(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		r.emit(Event{Type: EventError, Message: fmt.Sprintf("bad frame: %v", err)})
		return
	}

	switch req.Cmd {
	case CmdSpawn:
		r.handleSpawn(ctx, req)
	case CmdInput:
		r.handleInput(req)
	case CmdResize:
		r.handleResize(req)
	case CmdKill:
		r.handleKill(req)
	case CmdPing:
		r.emit(Event{Type: EventPong})
	default:
		r.emit(Event{Type: EventError, SessionID: req.SessionID,
			Message: fmt.Sprintf("unknown command %q", req.Cmd)})
	}
}

func (r *Runtime) handleSpawn(ctx context.Context, req Request) {
	r.handleMu.Lock()
	if _, exists := r.handles[req.SessionID]; exists {
		r.handleMu.Unlock()
		r.emit(Event{Type: EventError, SessionID: req.SessionID,
			Message: "session already running"})
		return
	}
	r.handleMu.Unlock()

	spec := ports.SpawnSpec{
		SessionID:  req.SessionID,
		WorkingDir: req.Directory,
		Command:    req.Command,
		Env:        req.Env,
		Cols:       req.Cols,
		Rows:       req.Rows,
	}

	handle, err := r.spawner.Spawn(ctx, spec, r.relayOutput, r.relayExit)
	if err != nil {
		r.emit(Event{Type: EventError, SessionID: req.SessionID, Message: err.Error()})
		return
	}

	r.handleMu.Lock()
	r.handles[req.SessionID] = handle
	r.handleMu.Unlock()

	// Confirms the spawn handshake; the hub's Spawn call blocks on this.
	r.emit(Event{Type: EventSpawned, SessionID: req.SessionID, ProcessID: handle.PID()})
}

func (r *Runtime) handleInput(req Request) {
	handle := r.getHandle(req.SessionID)
	if handle == nil {
		r.emit(Event{Type: EventError, SessionID: req.SessionID, Message: "no such session"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		r.emit(Event{Type: EventError, SessionID: req.SessionID, Message: "bad input encoding"})
		return
	}
	if err := handle.Write(data); err != nil {
		r.emit(Event{Type: EventError, SessionID: req.SessionID, Message: err.Error()})
	}
}

func (r *Runtime) handleResize(req Request) {
	handle := r.getHandle(req.SessionID)
	if handle == nil {
		return
	}
	if err := handle.Resize(req.Cols, req.Rows); err != nil {
		logging.Logger.Warn("resize failed", "session_id", req.SessionID, "error", err)
	}
}

func (r *Runtime) handleKill(req Request) {
	handle := r.getHandle(req.SessionID)
	if handle == nil {
		// Idempotent: killing an unknown session is a no-op.
		return
	}
	if err := handle.Kill(); err != nil {
		r.emit(Event{Type: EventError, SessionID: req.SessionID, Message: err.Error()})
	}
}

func (r *Runtime) relayOutput(sessionID string, data []byte) {
	r.emit(Event{
		Type:      EventOutput,
		SessionID: sessionID,
		Data:      base64.StdEncoding.EncodeToString(data),
	})
}

func (r *Runtime) relayExit(sessionID string, err error) {
	r.handleMu.Lock()
	delete(r.handles, sessionID)
	r.handleMu.Unlock()

	event := Event{Type: EventExit, SessionID: sessionID, OK: err == nil}
	if err != nil {
		event.Message = err.Error()
	}
	r.emit(event)
}

func (r *Runtime) getHandle(sessionID string) ports.ProcessHandle {
	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	return r.handles[sessionID]
}

func (r *Runtime) killAll() {
	r.handleMu.Lock()
	handles := make([]ports.ProcessHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]ports.ProcessHandle)
	r.handleMu.Unlock()

	for _, h := range handles {
		_ = h.Kill()
	}
}

func (r *Runtime) emit(event Event) {
	r.encMu.Lock()
	defer r.encMu.Unlock()
	if err := r.enc.Encode(event); err != nil {
		logging.Logger.Error("failed to write event frame", "error", err)
	}
}
