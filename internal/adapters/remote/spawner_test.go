package remote

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/agent"
	"helmsman/internal/domain"
	"helmsman/internal/ports"
)

// fakeTunnels hands Spawn one end of an in-memory pipe; the test drives
// the other end as the agent would.
type fakeTunnels struct {
	mu      sync.Mutex
	agentCh net.Conn
	openErr error
	command string
}

func (f *fakeTunnels) OpenChannel(_ context.Context, _ string, command string) (io.ReadWriteCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.command = command
	hub, agentSide := net.Pipe()
	f.agentCh = agentSide
	return hub, nil
}

func (f *fakeTunnels) Ensure(domain.Worker)                      {}
func (f *fakeTunnels) Drop(string)                               {}
func (f *fakeTunnels) Probe(context.Context, string) error       { return nil }
func (f *fakeTunnels) Exec(context.Context, string, string) ([]byte, error) {
	return nil, nil
}
func (f *fakeTunnels) ForwardReverse(context.Context, string, string) (int, error) {
	return 0, nil
}
func (f *fakeTunnels) Close() error { return nil }

// fakeAgent reads requests and answers with canned events
type fakeAgent struct {
	conn net.Conn
	enc  *json.Encoder
	reqs chan agent.Request
}

func newFakeAgent(conn net.Conn) *fakeAgent {
	a := &fakeAgent{
		conn: conn,
		enc:  json.NewEncoder(conn),
		reqs: make(chan agent.Request, 16),
	}
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var req agent.Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err == nil {
				a.reqs <- req
			}
		}
		close(a.reqs)
	}()
	return a
}

func (a *fakeAgent) emit(t *testing.T, ev agent.Event) {
	t.Helper()
	require.NoError(t, a.enc.Encode(ev))
}

func (a *fakeAgent) nextRequest(t *testing.T) agent.Request {
	t.Helper()
	select {
	case req, ok := <-a.reqs:
		require.True(t, ok, "agent channel closed before request arrived")
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for agent request")
		return agent.Request{}
	}
}

type capture struct {
	mu     sync.Mutex
	output [][]byte
	exits  []error
	exited chan struct{}
}

func newCapture() *capture {
	return &capture{exited: make(chan struct{})}
}

func (c *capture) onOutput(_ string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	c.output = append(c.output, buf)
}

func (c *capture) onExit(_ string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exits = append(c.exits, err)
	close(c.exited)
}

func (c *capture) waitExit(t *testing.T) error {
	t.Helper()
	select {
	case <-c.exited:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit callback")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.exits, 1)
	return c.exits[0]
}

func waitForChannel(t *testing.T, tunnels *fakeTunnels) net.Conn {
	t.Helper()
	require.Eventually(t, func() bool {
		tunnels.mu.Lock()
		defer tunnels.mu.Unlock()
		return tunnels.agentCh != nil
	}, 2*time.Second, 10*time.Millisecond)
	tunnels.mu.Lock()
	defer tunnels.mu.Unlock()
	return tunnels.agentCh
}

func spawnOK(t *testing.T, tunnels *fakeTunnels, cap *capture) (ports.ProcessHandle, *fakeAgent) {
	t.Helper()
	s := NewSpawner("w1", tunnels)

	type result struct {
		h   ports.ProcessHandle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := s.Spawn(context.Background(), ports.SpawnSpec{
			SessionID:  "sess-1",
			WorkingDir: "/tmp",
			Command:    "claude",
			Cols:       80,
			Rows:       24,
		}, cap.onOutput, cap.onExit)
		done <- result{h, err}
	}()

	fa := newFakeAgent(waitForChannel(t, tunnels))

	req := fa.nextRequest(t)
	require.Equal(t, agent.CmdSpawn, req.Cmd)
	require.Equal(t, "sess-1", req.SessionID)
	fa.emit(t, agent.Event{Type: agent.EventSpawned, SessionID: "sess-1", ProcessID: 4242, OK: true})

	r := <-done
	require.NoError(t, r.err)
	require.NotNil(t, r.h)
	return r.h, fa
}

func TestSpawnHandshakeReturnsPID(t *testing.T) {
	tunnels := &fakeTunnels{}
	cap := newCapture()

	h, _ := spawnOK(t, tunnels, cap)

	assert.Equal(t, 4242, h.PID())
	tunnels.mu.Lock()
	defer tunnels.mu.Unlock()
	assert.Equal(t, AgentCommand, tunnels.command)
}

func TestSpawnErrorFromAgent(t *testing.T) {
	tunnels := &fakeTunnels{}
	s := NewSpawner("w1", tunnels)
	cap := newCapture()

	done := make(chan error, 1)
	go func() {
		_, err := s.Spawn(context.Background(), ports.SpawnSpec{
			SessionID: "sess-1",
			Command:   "claude",
		}, cap.onOutput, cap.onExit)
		done <- err
	}()

	fa := newFakeAgent(waitForChannel(t, tunnels))
	fa.nextRequest(t)
	fa.emit(t, agent.Event{Type: agent.EventError, SessionID: "sess-1", Message: "no such directory"})

	err := <-done
	require.Error(t, err)
	assert.Equal(t, domain.KindSpawn, domain.KindOf(err))
	assert.Contains(t, err.Error(), "no such directory")
}

func TestSpawnRejectsEmptyCommand(t *testing.T) {
	s := NewSpawner("w1", &fakeTunnels{})
	cap := newCapture()

	_, err := s.Spawn(context.Background(), ports.SpawnSpec{SessionID: "sess-1"}, cap.onOutput, cap.onExit)

	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestSpawnFailsWhenChannelCannotOpen(t *testing.T) {
	tunnels := &fakeTunnels{openErr: domain.TransportError("worker w1 is disconnected", nil)}
	s := NewSpawner("w1", tunnels)
	cap := newCapture()

	_, err := s.Spawn(context.Background(), ports.SpawnSpec{SessionID: "sess-1", Command: "claude"}, cap.onOutput, cap.onExit)

	require.Error(t, err)
	assert.Equal(t, domain.KindSpawn, domain.KindOf(err))
}

func TestOutputFramesAreDecodedInOrder(t *testing.T) {
	tunnels := &fakeTunnels{}
	cap := newCapture()
	_, fa := spawnOK(t, tunnels, cap)

	fa.emit(t, agent.Event{
		Type:      agent.EventOutput,
		SessionID: "sess-1",
		Data:      base64.StdEncoding.EncodeToString([]byte("hello ")),
	})
	fa.emit(t, agent.Event{
		Type:      agent.EventOutput,
		SessionID: "sess-1",
		Data:      base64.StdEncoding.EncodeToString([]byte("world")),
	})
	fa.emit(t, agent.Event{Type: agent.EventExit, SessionID: "sess-1", OK: true})

	require.NoError(t, cap.waitExit(t))
	cap.mu.Lock()
	defer cap.mu.Unlock()
	var got []byte
	for _, chunk := range cap.output {
		got = append(got, chunk...)
	}
	assert.Equal(t, "hello world", string(got))
}

func TestWriteSendsBase64Input(t *testing.T) {
	tunnels := &fakeTunnels{}
	cap := newCapture()
	h, fa := spawnOK(t, tunnels, cap)

	require.NoError(t, h.Write([]byte("ls -la\n")))

	req := fa.nextRequest(t)
	assert.Equal(t, agent.CmdInput, req.Cmd)
	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	require.NoError(t, err)
	assert.Equal(t, "ls -la\n", string(decoded))
}

func TestResizeForwardsDimensions(t *testing.T) {
	tunnels := &fakeTunnels{}
	cap := newCapture()
	h, fa := spawnOK(t, tunnels, cap)

	require.NoError(t, h.Resize(120, 40))

	req := fa.nextRequest(t)
	assert.Equal(t, agent.CmdResize, req.Cmd)
	assert.Equal(t, uint16(120), req.Cols)
	assert.Equal(t, uint16(40), req.Rows)
}

func TestFailedExitCarriesReason(t *testing.T) {
	tunnels := &fakeTunnels{}
	cap := newCapture()
	_, fa := spawnOK(t, tunnels, cap)

	fa.emit(t, agent.Event{Type: agent.EventExit, SessionID: "sess-1", OK: false, Message: "exit status 1"})

	err := cap.waitExit(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestChannelTeardownBecomesFailure(t *testing.T) {
	tunnels := &fakeTunnels{}
	cap := newCapture()
	_, fa := spawnOK(t, tunnels, cap)

	// Tunnel drop: channel closes without an exit event.
	require.NoError(t, fa.conn.Close())

	err := cap.waitExit(t)
	require.Error(t, err)
	assert.Equal(t, domain.KindTransport, domain.KindOf(err))
}
