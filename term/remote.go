package term

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/ssh"

	"github.com/agentide/c3/log"
	"github.com/agentide/c3/tunnel"
)

// RemoteOptions configures an agent process on an SSH worker.
type RemoteOptions struct {
	SessionID string
	WorkerID  string
	Command   string
	Args      []string
	Dir       string
	HubPort   int
	Cols      uint16
	Rows      uint16
}

// RemoteProcess runs the agent CLI inside a PTY-allocated shell channel on a
// worker. The hub never learns the remote PID; lifecycle is tracked through
// the channel itself.
type RemoteProcess struct {
	sessionID string
	workerID  string
	tunnels   *tunnel.Manager
	shell     *tunnel.ShellChannel
	events    chan Event
	killed    atomic.Bool
}

// StartRemote opens a shell channel on the worker's tunnel and launches the
// agent in the session's working directory. The bootstrap command line is
// written by the hub itself, so it never counts as user input.
func StartRemote(tunnels *tunnel.Manager, opts RemoteOptions) (*RemoteProcess, error) {
	if opts.Command == "" {
		opts.Command = "claude"
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}

	shell, err := tunnels.Shell(opts.WorkerID, opts.Cols, opts.Rows)
	if err != nil {
		return nil, err
	}

	p := &RemoteProcess{
		sessionID: opts.SessionID,
		workerID:  opts.WorkerID,
		tunnels:   tunnels,
		shell:     shell,
		events:    make(chan Event, eventBufSize),
	}

	bootstrap := remoteCommandLine(opts)
	if _, err := shell.Write([]byte(bootstrap)); err != nil {
		_ = shell.Close()
		return nil, fmt.Errorf("bootstrap remote session: %w", err)
	}
	go p.readLoop()

	log.Debug().
		Str("sessionId", opts.SessionID).
		Str("workerId", opts.WorkerID).
		Str("dir", opts.Dir).
		Strs("args", opts.Args).
		Msg("remote agent process started")
	return p, nil
}

// remoteCommandLine builds the single line typed into the remote shell:
// load the user's profile, enter the working directory, report the shell's
// pid through the board channel, and exec the agent with the session
// identity exported. exec replaces the shell, so the reported pid is the
// agent's own and roots its process tree for the port scanner.
func remoteCommandLine(opts RemoteOptions) string {
	var b strings.Builder
	b.WriteString("source ~/.bashrc 2>/dev/null; cd ")
	b.WriteString(shellQuote(opts.Dir))
	b.WriteString(` && printf '\033]1337;c3:pid:%d\007' "$$"`)
	b.WriteString(" && exec env TERM=xterm-256color")
	b.WriteString(" C3_SESSION_ID=" + shellQuote(opts.SessionID))
	fmt.Fprintf(&b, " C3_HUB_PORT=%d", opts.HubPort)
	b.WriteString(" " + opts.Command)
	for _, arg := range opts.Args {
		b.WriteString(" " + shellQuote(arg))
	}
	b.WriteString("\n")
	return b.String()
}

// shellQuote wraps s in single quotes, escaping embedded single quotes so
// the remote shell treats the value as one literal word.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (p *RemoteProcess) readLoop() {
	stdout := p.shell.Stdout()
	buf := make([]byte, readBufSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.events <- Event{Type: EventData, SessionID: p.sessionID, Data: data}
		}
		if err != nil {
			break
		}
	}

	// EOF on the channel either means the agent exited or the transport
	// dropped. The tunnel state tells the two apart: a supervised tunnel
	// that lost its link is already reconnecting by the time reads fail.
	if !p.killed.Load() && p.tunnels.State(p.workerID) != tunnel.StateConnected {
		p.events <- Event{Type: EventConnectionLost, SessionID: p.sessionID}
		p.events <- Event{
			Type:      EventExit,
			SessionID: p.sessionID,
			ExitCode:  -1,
			ExitErr:   tunnel.ErrConnectionLost,
		}
		close(p.events)
		return
	}

	waitErr := p.shell.Wait()
	code := 0
	if waitErr != nil {
		code = sshExitCode(waitErr)
	}
	p.events <- Event{
		Type:      EventExit,
		SessionID: p.sessionID,
		ExitCode:  code,
		Killed:    p.killed.Load(),
		ExitErr:   waitErr,
	}
	close(p.events)
}

// sshExitCode extracts the remote exit status from a Wait error. A session
// that ended without reporting a status (hangup, channel torn down) maps
// to -1.
func sshExitCode(err error) int {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}

// Write sends user input down the shell channel.
func (p *RemoteProcess) Write(data []byte) (int, error) {
	return p.shell.Write(data)
}

// Resize forwards new dimensions as a window-change request.
func (p *RemoteProcess) Resize(cols, rows uint16) error {
	return p.shell.Resize(cols, rows)
}

// Kill closes the shell channel. The remote side receives a hangup and the
// agent exits; the exit surfaces through the event stream as a clean kill.
func (p *RemoteProcess) Kill() error {
	p.killed.Store(true)
	return p.shell.Close()
}

// Events returns the output stream. The channel closes after the Exit event.
func (p *RemoteProcess) Events() <-chan Event {
	return p.events
}

// Pid always returns 0: remote process ids are not visible to the hub.
func (p *RemoteProcess) Pid() int {
	return 0
}
