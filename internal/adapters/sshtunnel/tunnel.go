package sshtunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"helmsman/internal/domain"
	"helmsman/internal/logging"
)

// reverseForwardPortBase opens the private range reverse forwards are
// allocated from, per worker.
const (
	reverseForwardPortBase = 49800
	reverseForwardPortSpan = 100
)

type tunnelState string

const (
	stateDisconnected tunnelState = "disconnected"
	stateConnecting   tunnelState = "connecting"
	stateConnected    tunnelState = "connected"
)

// tunnel supervises one worker's SSH transport. The supervisor goroutine
// owns client and retry state; other goroutines only read the client
// under mu through snapshot().
type tunnel struct {
	worker  domain.Worker
	cfg     ManagerConfig
	onState StateFunc

	mu       sync.Mutex
	state    tunnelState
	client   *ssh.Client
	sessions map[*ssh.Session]struct{}
	forwards []net.Listener
	nextPort int

	kick chan struct{}
	done chan struct{}
	once sync.Once
}

func newTunnel(worker domain.Worker, cfg ManagerConfig, onState StateFunc) *tunnel {
	return &tunnel{
		worker:   worker,
		cfg:      cfg,
		onState:  onState,
		state:    stateDisconnected,
		sessions: make(map[*ssh.Session]struct{}),
		nextPort: reverseForwardPortBase,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// supervise runs the per-worker connection state machine:
// disconnected → connecting → connected → disconnected, with exponential
// backoff between attempts, reset on every successful connect.
func (t *tunnel) supervise() {
	retry := newBackoff(t.cfg.ReconnectBase, t.cfg.ReconnectMax)

	for {
		select {
		case <-t.done:
			return
		default:
		}

		t.setState(stateConnecting, nil)
		client, err := dial(t.worker, t.cfg.DialTimeout)
		if err != nil {
			t.setState(stateDisconnected, nil)
			delay := retry.next()
			logging.Logger.Warn("tunnel connect failed",
				"worker_id", t.worker.ID,
				"addr", t.worker.Addr(),
				"retry_in", delay,
				"error", err)
			select {
			case <-t.done:
				return
			case <-t.kick:
				// Health monitor requested an immediate attempt.
			case <-time.After(delay):
			}
			continue
		}

		retry.reset()
		t.setState(stateConnected, client)
		logging.Logger.Info("tunnel connected",
			"worker_id", t.worker.ID,
			"addr", t.worker.Addr())
		if t.onState != nil {
			t.onState(t.worker.ID, true)
		}

		// Block until the transport dies or the tunnel is stopped.
		waitCh := make(chan error, 1)
		go func() { waitCh <- client.Wait() }()

		select {
		case <-t.done:
			t.teardown(client)
			return
		case err := <-waitCh:
			t.teardown(client)
			logging.Logger.Warn("tunnel dropped",
				"worker_id", t.worker.ID,
				"error", err)
			if t.onState != nil {
				t.onState(t.worker.ID, false)
			}
		}
	}
}

// stop shuts the supervisor down and closes the transport
func (t *tunnel) stop() {
	t.once.Do(func() { close(t.done) })

	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client != nil {
		t.teardown(client)
	}
}

// teardown closes all in-flight sessions and forwards with the client.
// Channel consumers observe EOF and must treat it as a process exit.
func (t *tunnel) teardown(client *ssh.Client) {
	t.mu.Lock()
	sessions := make([]*ssh.Session, 0, len(t.sessions))
	for s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.sessions = make(map[*ssh.Session]struct{})
	forwards := t.forwards
	t.forwards = nil
	if t.client == client {
		t.client = nil
		t.state = stateDisconnected
	}
	t.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
	for _, l := range forwards {
		_ = l.Close()
	}
	_ = client.Close()
}

func (t *tunnel) setState(state tunnelState, client *ssh.Client) {
	t.mu.Lock()
	t.state = state
	if state == stateConnected {
		t.client = client
	}
	t.mu.Unlock()
}

// snapshot returns the live client or a transport error
func (t *tunnel) snapshot() (*ssh.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateConnected || t.client == nil {
		return nil, domain.TransportError(fmt.Sprintf("worker %s is %s", t.worker.ID, t.state), nil)
	}
	return t.client, nil
}

// probe performs one bounded keepalive round trip
func (t *tunnel) probe(ctx context.Context) error {
	client, err := t.snapshot()
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	go func() {
		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		result <- err
	}()

	timeout := t.cfg.ProbeTimeout
	select {
	case err := <-result:
		if err != nil {
			return domain.TransportError(fmt.Sprintf("worker %s probe failed", t.worker.ID), err)
		}
		return nil
	case <-time.After(timeout):
		return domain.TransportError(fmt.Sprintf("worker %s probe timed out", t.worker.ID), nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exec runs a command remotely and returns combined output
func (t *tunnel) exec(ctx context.Context, command string) ([]byte, error) {
	client, err := t.snapshot()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, domain.TransportError("failed to open exec session", err)
	}
	t.trackSession(session)
	defer t.untrackSession(session)
	defer session.Close()

	type execResult struct {
		out []byte
		err error
	}
	result := make(chan execResult, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		result <- execResult{out, err}
	}()

	select {
	case r := <-result:
		return r.out, r.err
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	}
}

// openChannel starts command remotely and returns its stdio as a duplex
// stream; the stream dies with the tunnel
func (t *tunnel) openChannel(ctx context.Context, command string) (io.ReadWriteCloser, error) {
	client, err := t.snapshot()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, domain.TransportError("failed to open channel session", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, domain.TransportError("failed to open channel stdin", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, domain.TransportError("failed to open channel stdout", err)
	}

	if err := session.Start(command); err != nil {
		_ = session.Close()
		return nil, domain.TransportError(fmt.Sprintf("failed to start %q on worker", command), err)
	}

	t.trackSession(session)

	return &channel{
		tunnel:  t,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

// forwardReverse listens on the next port of the worker's private range
// on the remote host and pipes connections back to localAddr
func (t *tunnel) forwardReverse(localAddr string) (int, error) {
	client, err := t.snapshot()
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	port := t.nextPort
	t.nextPort++
	if t.nextPort >= reverseForwardPortBase+reverseForwardPortSpan {
		t.nextPort = reverseForwardPortBase
	}
	t.mu.Unlock()

	listener, err := client.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return 0, domain.TransportError(fmt.Sprintf("failed to listen on remote port %d", port), err)
	}

	t.mu.Lock()
	t.forwards = append(t.forwards, listener)
	t.mu.Unlock()

	go t.acceptReverse(listener, localAddr)

	logging.Logger.Info("reverse forward established",
		"worker_id", t.worker.ID,
		"remote_port", port,
		"local_addr", localAddr)
	return port, nil
}

func (t *tunnel) acceptReverse(listener net.Listener, localAddr string) {
	for {
		remote, err := listener.Accept()
		if err != nil {
			return
		}
		go func() {
			local, err := net.Dial("tcp", localAddr)
			if err != nil {
				logging.Logger.Warn("reverse forward dial failed",
					"worker_id", t.worker.ID,
					"local_addr", localAddr,
					"error", err)
				_ = remote.Close()
				return
			}
			pipe := func(dst io.WriteCloser, src io.Reader) {
				_, _ = io.Copy(dst, src)
				_ = dst.Close()
			}
			go pipe(local, remote)
			pipe(remote, local)
		}()
	}
}

func (t *tunnel) trackSession(s *ssh.Session) {
	t.mu.Lock()
	t.sessions[s] = struct{}{}
	t.mu.Unlock()
}

func (t *tunnel) untrackSession(s *ssh.Session) {
	t.mu.Lock()
	delete(t.sessions, s)
	t.mu.Unlock()
}

// channel is the duplex stream returned by openChannel
type channel struct {
	tunnel  *tunnel
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	closeOnce sync.Once
}

func (c *channel) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *channel) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		c.tunnel.untrackSession(c.session)
		_ = c.stdin.Close()
		_ = c.session.Close()
	})
	return nil
}
