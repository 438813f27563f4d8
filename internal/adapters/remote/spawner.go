// Package remote spawns session processes on SSH workers by driving the
// agent runtime over a tunnel channel. One channel carries one session;
// the JSON-line protocol on it is defined in the agent package.
package remote

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"helmsman/internal/agent"
	"helmsman/internal/domain"
	"helmsman/internal/logging"
	"helmsman/internal/ports"
)

// AgentCommand is what runs on the worker's side of the channel
const AgentCommand = "helmsman agent"

const (
	defaultSpawnTimeout = 30 * time.Second
	maxFrameBytes       = 1024 * 1024
)

// Spawner implements ports.Spawner for remote workers. Spawn opens a
// fresh agent channel through the tunnel and blocks until the agent
// confirms the process is live.
type Spawner struct {
	workerID     string
	tunnels      ports.TunnelManager
	spawnTimeout time.Duration
}

func NewSpawner(workerID string, tunnels ports.TunnelManager) *Spawner {
	return &Spawner{
		workerID:     workerID,
		tunnels:      tunnels,
		spawnTimeout: defaultSpawnTimeout,
	}
}

func (s *Spawner) Spawn(ctx context.Context, spec ports.SpawnSpec, onOutput ports.OutputFunc, onExit ports.ExitFunc) (ports.ProcessHandle, error) {
	if spec.Command == "" {
		return nil, domain.ValidationError("command cannot be empty")
	}

	ch, err := s.tunnels.OpenChannel(ctx, s.workerID, AgentCommand)
	if err != nil {
		return nil, domain.SpawnError(fmt.Sprintf("failed to reach worker %s", s.workerID), err)
	}

	h := &handle{
		sessionID: spec.SessionID,
		channel:   ch,
		enc:       json.NewEncoder(ch),
		onOutput:  onOutput,
		onExit:    onExit,
		spawned:   make(chan agent.Event, 1),
	}
	go h.readLoop()

	req := agent.Request{
		Cmd:       agent.CmdSpawn,
		SessionID: spec.SessionID,
		Directory: spec.WorkingDir,
		Command:   spec.Command,
		Env:       spec.Env,
		Cols:      spec.Cols,
		Rows:      spec.Rows,
	}
	if err := h.send(req); err != nil {
		_ = ch.Close()
		return nil, domain.SpawnError("failed to send spawn request", err)
	}

	select {
	case ev, ok := <-h.spawned:
		if !ok {
			_ = ch.Close()
			return nil, domain.SpawnError(fmt.Sprintf("worker %s closed the channel before confirming spawn", s.workerID), nil)
		}
		if ev.Type == agent.EventError || !ev.OK {
			_ = ch.Close()
			return nil, domain.SpawnError(ev.Message, nil)
		}
		h.pid = ev.ProcessID
		h.confirmed.Store(true)
		return h, nil
	case <-time.After(s.spawnTimeout):
		_ = ch.Close()
		return nil, domain.SpawnError(fmt.Sprintf("worker %s did not confirm spawn within %s", s.workerID, s.spawnTimeout), nil)
	case <-ctx.Done():
		_ = ch.Close()
		return nil, ctx.Err()
	}
}

// handle drives one remote process over its agent channel
type handle struct {
	sessionID string
	channel   io.ReadWriteCloser
	onOutput  ports.OutputFunc
	onExit    ports.ExitFunc

	writeMu sync.Mutex
	enc     *json.Encoder

	pid       int
	confirmed atomic.Bool
	spawned   chan agent.Event

	exitOnce sync.Once
}

func (h *handle) PID() int { return h.pid }

func (h *handle) Write(data []byte) error {
	return h.send(agent.Request{
		Cmd:       agent.CmdInput,
		SessionID: h.sessionID,
		Data:      base64.StdEncoding.EncodeToString(data),
	})
}

func (h *handle) Resize(cols, rows uint16) error {
	return h.send(agent.Request{
		Cmd:       agent.CmdResize,
		SessionID: h.sessionID,
		Cols:      cols,
		Rows:      rows,
	})
}

func (h *handle) Kill() error {
	err := h.send(agent.Request{Cmd: agent.CmdKill, SessionID: h.sessionID})
	if err != nil && domain.IsKind(err, domain.KindTransport) {
		// Channel already gone: the process group died with the agent.
		return nil
	}
	return err
}

func (h *handle) send(req agent.Request) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.enc.Encode(req); err != nil {
		return domain.TransportError("failed to write agent frame", err)
	}
	return nil
}

// readLoop translates agent events into the spawner callbacks. A channel
// EOF before an exit event means the transport died under the process,
// which counts as a failure.
func (h *handle) readLoop() {
	scanner := bufio.NewScanner(h.channel)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	sawExit := false
	for scanner.Scan() {
		var ev agent.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			logging.Logger.Warn("discarding malformed agent frame",
				"session_id", h.sessionID,
				"error", err)
			continue
		}

		switch ev.Type {
		case agent.EventSpawned, agent.EventError:
			if !h.confirmed.Load() {
				h.spawned <- ev
				continue
			}
			if ev.Type == agent.EventError {
				logging.Logger.Warn("agent reported error",
					"session_id", h.sessionID,
					"message", ev.Message)
			}
		case agent.EventOutput:
			data, err := base64.StdEncoding.DecodeString(ev.Data)
			if err != nil {
				logging.Logger.Warn("discarding undecodable output frame",
					"session_id", h.sessionID,
					"error", err)
				continue
			}
			h.onOutput(h.sessionID, data)
		case agent.EventExit:
			sawExit = true
			var exitErr error
			if !ev.OK {
				exitErr = domain.SpawnError(ev.Message, nil)
			}
			h.finish(exitErr)
		case agent.EventPong:
			// Liveness reply, nothing to deliver.
		}
	}

	if !h.confirmed.Load() {
		close(h.spawned)
		return
	}
	if !sawExit {
		h.finish(domain.TransportError("worker channel closed while process was running", nil))
	}
	_ = h.channel.Close()
}

func (h *handle) finish(err error) {
	h.exitOnce.Do(func() {
		h.onExit(h.sessionID, err)
		_ = h.channel.Close()
	})
}
