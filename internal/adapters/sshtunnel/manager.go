// Package sshtunnel maintains persistent SSH transports to remote
// workers. Each worker gets a supervising goroutine that owns the
// connection, reconnecting with bounded exponential backoff; callers
// reach the transport only through the Manager API.
package sshtunnel

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"helmsman/internal/config"
	"helmsman/internal/domain"
	"helmsman/internal/logging"
	"helmsman/internal/ports"
)

const (
	// DefaultReconnectBase and DefaultReconnectMax bound the reconnect
	// backoff window.
	DefaultReconnectBase = 1 * time.Second
	DefaultReconnectMax  = 60 * time.Second
	// DefaultDialTimeout bounds one connection attempt.
	DefaultDialTimeout = 10 * time.Second
	// DefaultProbeTimeout bounds one liveness round trip.
	DefaultProbeTimeout = 5 * time.Second
)

// StateFunc is notified when a worker's transport connects or drops
type StateFunc func(workerID string, connected bool)

// ManagerConfig tunes timeouts; zero values take defaults
type ManagerConfig struct {
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	DialTimeout   time.Duration
	ProbeTimeout  time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = DefaultReconnectBase
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = DefaultReconnectMax
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	return c
}

// Manager implements ports.TunnelManager over SSH
type Manager struct {
	cfg     ManagerConfig
	onState StateFunc

	mu      sync.Mutex
	tunnels map[string]*tunnel
	closed  bool
}

// Verify interface compliance at compile time
var _ ports.TunnelManager = (*Manager)(nil)

// NewManager creates a Manager; onState may be nil
func NewManager(cfg ManagerConfig, onState StateFunc) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		onState: onState,
		tunnels: make(map[string]*tunnel),
	}
}

// Ensure implements TunnelManager.Ensure
func (m *Manager) Ensure(worker domain.Worker) {
	if !worker.Remote() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, exists := m.tunnels[worker.ID]; exists {
		return
	}

	t := newTunnel(worker, m.cfg, m.onState)
	m.tunnels[worker.ID] = t
	go t.supervise()
}

// Drop implements TunnelManager.Drop
func (m *Manager) Drop(workerID string) {
	m.mu.Lock()
	t := m.tunnels[workerID]
	delete(m.tunnels, workerID)
	m.mu.Unlock()

	if t != nil {
		t.stop()
	}
}

// Probe implements TunnelManager.Probe
func (m *Manager) Probe(ctx context.Context, workerID string) error {
	t, err := m.get(workerID)
	if err != nil {
		return err
	}
	return t.probe(ctx)
}

// Exec implements TunnelManager.Exec
func (m *Manager) Exec(ctx context.Context, workerID, command string) ([]byte, error) {
	t, err := m.get(workerID)
	if err != nil {
		return nil, err
	}
	return t.exec(ctx, command)
}

// OpenChannel implements TunnelManager.OpenChannel
func (m *Manager) OpenChannel(ctx context.Context, workerID, command string) (io.ReadWriteCloser, error) {
	t, err := m.get(workerID)
	if err != nil {
		return nil, err
	}
	return t.openChannel(ctx, command)
}

// ForwardReverse implements TunnelManager.ForwardReverse. The remote
// port is allocated from the worker's private ephemeral range and
// returned to the caller.
func (m *Manager) ForwardReverse(ctx context.Context, workerID string, localAddr string) (int, error) {
	t, err := m.get(workerID)
	if err != nil {
		return 0, err
	}
	return t.forwardReverse(localAddr)
}

// Close stops every supervisor and closes all transports
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	tunnels := make([]*tunnel, 0, len(m.tunnels))
	for _, t := range m.tunnels {
		tunnels = append(tunnels, t)
	}
	m.tunnels = make(map[string]*tunnel)
	m.mu.Unlock()

	for _, t := range tunnels {
		t.stop()
	}
	return nil
}

func (m *Manager) get(workerID string) (*tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tunnels[workerID]
	if !ok {
		return nil, domain.NotFoundError("no tunnel for worker %s", workerID)
	}
	return t, nil
}

// TestConnection dials a worker once, without registering a supervisor.
// Used by the control API's test-connection operation.
func TestConnection(ctx context.Context, worker domain.Worker, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	client, err := dial(worker, timeout)
	if err != nil {
		return err
	}
	defer client.Close()

	_, _, err = client.SendRequest("keepalive@openssh.com", true, nil)
	if err != nil {
		return domain.TransportError(fmt.Sprintf("worker %s unresponsive after connect", worker.Name), err)
	}
	return nil
}

// dial establishes one SSH connection to the worker
func dial(worker domain.Worker, timeout time.Duration) (*ssh.Client, error) {
	keyPath := config.ExpandPath(worker.KeyPath)
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, domain.TransportError(fmt.Sprintf("cannot read key %s", keyPath), err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, domain.TransportError(fmt.Sprintf("cannot parse key %s", keyPath), err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            worker.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback(),
		Timeout:         timeout,
	}

	client, err := ssh.Dial("tcp", worker.Addr(), sshConfig)
	if err != nil {
		return nil, domain.TransportError(fmt.Sprintf("cannot reach %s", worker.Addr()), err)
	}
	return client, nil
}

// hostKeyCallback verifies against ~/.ssh/known_hosts when present.
// Without a known_hosts file, verification is skipped; the tunnel is
// still encrypted and key-authenticated.
func hostKeyCallback() ssh.HostKeyCallback {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		knownHostsPath := filepath.Join(homeDir, ".ssh", "known_hosts")
		if _, statErr := os.Stat(knownHostsPath); statErr == nil {
			if cb, khErr := knownhosts.New(knownHostsPath); khErr == nil {
				return cb
			}
			logging.Logger.Warn("failed to load known_hosts, skipping host verification")
		}
	}
	return ssh.InsecureIgnoreHostKey()
}

