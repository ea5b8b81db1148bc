package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/agentide/c3/log"
)

// Conn is one pooled SSH connection. The embedded client is shared by every
// caller; each operation opens its own channel, which x/crypto/ssh multiplexes
// safely. A supervise goroutine watches for transport loss and hands off to
// the reconnect loop; a keepalive goroutine probes the peer every 30 s.
type Conn struct {
	mgr *Manager
	ep  Endpoint
	cfg *ssh.ClientConfig

	mu        sync.Mutex
	client    *ssh.Client
	state     string
	destroyed bool

	done chan struct{}
}

func newConn(mgr *Manager, ep Endpoint, cfg *ssh.ClientConfig, client *ssh.Client) *Conn {
	return &Conn{
		mgr:    mgr,
		ep:     ep,
		cfg:    cfg,
		client: client,
		state:  StateConnected,
		done:   make(chan struct{}),
	}
}

func (c *Conn) start() {
	go c.supervise(c.client)
}

func (c *Conn) currentState() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(state string) {
	c.mu.Lock()
	if !c.destroyed {
		c.state = state
	}
	c.mu.Unlock()
}

// liveClient returns the client while connected, or the error callers should
// surface while the connection is down.
func (c *Conn) liveClient() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnected:
		return c.client, nil
	case StateConnecting, StateReconnecting:
		return nil, ErrConnectionLost
	default:
		return nil, ErrNotConnected
	}
}

func (c *Conn) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// destroy closes the connection and stops every loop. Terminal: a destroyed
// Conn never reconnects.
func (c *Conn) destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.state = StateDestroyed
	client := c.client
	c.mu.Unlock()

	close(c.done)
	if client != nil {
		client.Close()
	}
}

// supervise blocks on the transport and reacts to its death. Each new client
// (initial dial and every reconnect) gets its own supervise goroutine.
func (c *Conn) supervise(client *ssh.Client) {
	go c.keepalive(client)

	err := client.Wait()
	if c.isDestroyed() {
		return
	}

	log.Warn().
		Str("workerId", c.ep.WorkerID).
		Str("addr", c.ep.addr()).
		Err(err).
		Msg("ssh connection dropped, reconnecting")

	c.setState(StateReconnecting)
	c.mgr.emit(c.ep.WorkerID, StatusDisconnected)
	c.reconnect()
}

// reconnect retries the dial with exponential backoff (1 s doubling, 60 s
// cap) until it succeeds or the Conn is destroyed.
func (c *Conn) reconnect() {
	backoff := initialBackoff
	for {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.setState(StateConnecting)

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		client, err := c.mgr.dial(ctx, c.ep, c.cfg)
		cancel()

		if err != nil {
			log.Debug().
				Str("workerId", c.ep.WorkerID).
				Dur("backoff", backoff).
				Err(err).
				Msg("ssh reconnect attempt failed")
			c.setState(StateReconnecting)
			backoff = nextBackoff(backoff)
			continue
		}

		c.mu.Lock()
		if c.destroyed {
			c.mu.Unlock()
			client.Close()
			return
		}
		c.client = client
		c.state = StateConnected
		c.mu.Unlock()

		log.Info().Str("workerId", c.ep.WorkerID).Str("addr", c.ep.addr()).Msg("ssh reconnected")
		c.mgr.emit(c.ep.WorkerID, StatusConnected)
		go c.supervise(client)
		return
	}
}

// keepalive probes the peer every 30 s. Two consecutive failures close the
// client, which wakes supervise. A successful probe is reported upstream so
// the worker heartbeat stays fresh.
func (c *Conn) keepalive(client *ssh.Client) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		superseded := c.client != client
		c.mu.Unlock()
		if superseded {
			return
		}

		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		if err != nil {
			failures++
			log.Debug().
				Str("workerId", c.ep.WorkerID).
				Int("failures", failures).
				Err(err).
				Msg("ssh keepalive failed")
			if failures >= 2 {
				client.Close()
				return
			}
			continue
		}
		failures = 0
		c.mgr.emit(c.ep.WorkerID, StatusConnected)
	}
}

// exec runs a one-shot command in its own session channel. The context bounds
// the whole call; expiry closes the channel and returns ErrTimeout.
func (c *Conn) exec(ctx context.Context, command string) (string, error) {
	client, err := c.liveClient()
	if err != nil {
		return "", err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, execTimeout)
		defer cancel()
	}

	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("opening exec channel: %w", err)
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		ch <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		sess.Close()
		return "", ErrTimeout
	case r := <-ch:
		if r.err != nil {
			return string(r.out), fmt.Errorf("remote command failed: %w", r.err)
		}
		return string(r.out), nil
	}
}

// forwardPort listens on an ephemeral loopback port and proxies each accepted
// connection to 127.0.0.1:remotePort through the SSH client.
func (c *Conn) forwardPort(remotePort int) (int, func(), error) {
	client, err := c.liveClient()
	if err != nil {
		return 0, nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, nil, fmt.Errorf("allocating local port: %w", err)
	}
	localPort := ln.Addr().(*net.TCPAddr).Port

	stop := make(chan struct{})
	var stopOnce sync.Once
	var live sync.WaitGroup

	go func() {
		for {
			local, err := ln.Accept()
			if err != nil {
				return
			}
			live.Add(1)
			go func() {
				defer live.Done()
				defer local.Close()

				remote, err := client.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", remotePort))
				if err != nil {
					log.Debug().
						Str("workerId", c.ep.WorkerID).
						Int("remotePort", remotePort).
						Err(err).
						Msg("port forward dial failed")
					return
				}
				defer remote.Close()
				proxyConns(local, remote, stop)
			}()
		}
	}()

	log.Info().
		Str("workerId", c.ep.WorkerID).
		Int("localPort", localPort).
		Int("remotePort", remotePort).
		Msg("port forward established")

	return localPort, func() {
		stopOnce.Do(func() {
			close(stop)
			ln.Close()
			live.Wait()
		})
	}, nil
}

// proxyConns shuttles bytes both ways until either side closes or stop fires.
func proxyConns(a, b net.Conn, stop <-chan struct{}) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()

	select {
	case <-done:
	case <-stop:
	}
	a.Close()
	b.Close()
}
