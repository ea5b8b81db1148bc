package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/agentide/c3/log"
)

// Connection states. A connection cycles disconnected → connecting →
// connected, drops back to reconnecting on transport loss, and ends in
// destroyed when removed from the pool.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateReconnecting = "reconnecting"
	StateDestroyed    = "destroyed"
)

// Worker status strings reported through the status callback; they mirror
// the store's worker statuses.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

var (
	// ErrNotConnected is returned for operations on workers with no pool entry.
	ErrNotConnected = errors.New("worker is not connected")
	// ErrConnectionLost is returned while a dropped connection is backing off.
	ErrConnectionLost = errors.New("connection lost, reconnecting")
	// ErrTimeout is returned when a remote operation exceeds its deadline.
	ErrTimeout = errors.New("ssh operation timed out")
	// ErrKeyEncrypted rejects passphrase-protected private keys.
	ErrKeyEncrypted = errors.New("private key is encrypted; only unencrypted keys are supported")
	// ErrNotPrivateKey rejects files that do not parse as SSH private keys.
	ErrNotPrivateKey = errors.New("file is not an SSH private key")
)

const (
	dialTimeout       = 10 * time.Second
	execTimeout       = 10 * time.Second
	keepaliveInterval = 30 * time.Second
	initialBackoff    = time.Second
	maxBackoff        = 60 * time.Second
)

// Endpoint identifies a remote worker's SSH coordinates.
type Endpoint struct {
	WorkerID       string
	Host           string
	Port           int
	User           string
	PrivateKeyPath string
}

func (e Endpoint) addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// StatusFunc receives worker status transitions (connected, disconnected,
// error) as the pool observes them.
type StatusFunc func(workerID, status string)

// dialFunc abstracts ssh.Dial so tests can substitute failures.
type dialFunc func(ctx context.Context, ep Endpoint, cfg *ssh.ClientConfig) (*ssh.Client, error)

// Manager is the SSH connection pool, keyed by worker id. Each entry owns a
// keepalive loop and a reconnect loop; operations multiplex channels over
// the shared client, which is safe in x/crypto/ssh.
type Manager struct {
	mu       sync.Mutex
	conns    map[string]*Conn
	onStatus StatusFunc
	dial     dialFunc
}

// NewManager builds an empty pool. onStatus may be nil.
func NewManager(onStatus StatusFunc) *Manager {
	return &Manager{
		conns:    make(map[string]*Conn),
		onStatus: onStatus,
		dial:     dialSSH,
	}
}

func dialSSH(ctx context.Context, ep Endpoint, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	raw, err := d.DialContext(ctx, "tcp", ep.addr())
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(raw, ep.addr(), cfg)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// Connect dials a worker and installs it in the pool, replacing any previous
// entry. Worker status moves to connected on success, error on auth/key
// problems, disconnected on transport failure.
func (m *Manager) Connect(ctx context.Context, ep Endpoint) error {
	signer, err := loadSigner(ep.PrivateKeyPath)
	if err != nil {
		m.emit(ep.WorkerID, StatusError)
		return err
	}

	cfg := &ssh.ClientConfig{
		User: ep.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Workers are user-registered machines; host key pinning is the
		// user's known_hosts problem, not the hub's.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := m.dial(dialCtx, ep, cfg)
	if err != nil {
		if isAuthErr(err) {
			m.emit(ep.WorkerID, StatusError)
			return fmt.Errorf("ssh authentication to %s failed: %w", ep.addr(), err)
		}
		m.emit(ep.WorkerID, StatusDisconnected)
		return fmt.Errorf("dialing %s: %w", ep.addr(), err)
	}

	conn := newConn(m, ep, cfg, client)

	m.mu.Lock()
	if old, ok := m.conns[ep.WorkerID]; ok {
		old.destroy()
	}
	m.conns[ep.WorkerID] = conn
	m.mu.Unlock()

	conn.start()
	m.emit(ep.WorkerID, StatusConnected)
	log.Info().Str("workerId", ep.WorkerID).Str("addr", ep.addr()).Msg("ssh connected")
	return nil
}

// get returns the pool entry for a worker.
func (m *Manager) get(workerID string) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[workerID]
	if !ok {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Shell opens an interactive PTY channel on a connected worker.
func (m *Manager) Shell(workerID string, cols, rows uint16) (*ShellChannel, error) {
	conn, err := m.get(workerID)
	if err != nil {
		return nil, err
	}
	return conn.shell(cols, rows)
}

// Exec runs a one-shot command on a connected worker and returns its
// combined output. The context bounds the whole operation; callers without
// special needs should pass a context with the default 10 s budget.
func (m *Manager) Exec(ctx context.Context, workerID, command string) (string, error) {
	conn, err := m.get(workerID)
	if err != nil {
		return "", err
	}
	return conn.exec(ctx, command)
}

// ForwardPort listens on an ephemeral local port and proxies every
// connection to 127.0.0.1:remotePort on the worker. The returned stop
// function closes the listener and all live proxies.
func (m *Manager) ForwardPort(workerID string, remotePort int) (int, func(), error) {
	conn, err := m.get(workerID)
	if err != nil {
		return 0, nil, err
	}
	return conn.forwardPort(remotePort)
}

// Disconnect tears down one worker's connection and removes it from the
// pool. No reconnect is attempted afterwards.
func (m *Manager) Disconnect(workerID string) {
	m.mu.Lock()
	conn, ok := m.conns[workerID]
	if ok {
		delete(m.conns, workerID)
	}
	m.mu.Unlock()

	if ok {
		conn.destroy()
		m.emit(workerID, StatusDisconnected)
	}
}

// DestroyAll tears down every connection. Used at shutdown.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*Conn)
	m.mu.Unlock()

	for _, c := range conns {
		c.destroy()
	}
}

// State reports a worker's connection state, StateDisconnected when the
// worker has no pool entry.
func (m *Manager) State(workerID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[workerID]
	if !ok {
		return StateDisconnected
	}
	return conn.currentState()
}

func (m *Manager) emit(workerID, status string) {
	if m.onStatus != nil {
		m.onStatus(workerID, status)
	}
}

// loadSigner reads and parses a private key file, rejecting encrypted keys
// up front so the error is actionable.
func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	if strings.Contains(string(data), "ENCRYPTED") {
		return nil, ErrKeyEncrypted
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, ErrNotPrivateKey
	}
	return signer, nil
}

func isAuthErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

// nextBackoff doubles the reconnect delay up to the cap.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
