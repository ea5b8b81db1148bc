package term

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/agentide/c3/log"
)

// LocalOptions configures a local PTY-backed agent process.
type LocalOptions struct {
	SessionID string
	Command   string
	Args      []string
	Dir       string
	HubPort   int
	Cols      uint16
	Rows      uint16
}

// LocalProcess runs the agent CLI under a pseudo-terminal on the hub host.
// The child is its own process group leader, so Kill can signal the whole
// tree at once.
type LocalProcess struct {
	sessionID string
	cmd       *exec.Cmd
	ptmx      *os.File
	events    chan Event
	killed    atomic.Bool
	closeOnce sync.Once
}

// StartLocal spawns the agent subprocess attached to a fresh PTY and begins
// pumping its output. The returned process emits Data events followed by a
// single Exit event.
func StartLocal(opts LocalOptions) (*LocalProcess, error) {
	if opts.Command == "" {
		opts.Command = "claude"
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}

	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = childEnv(os.Environ(), opts.SessionID, opts.HubPort)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Command, err)
	}

	p := &LocalProcess{
		sessionID: opts.SessionID,
		cmd:       cmd,
		ptmx:      ptmx,
		events:    make(chan Event, eventBufSize),
	}
	go p.readLoop()

	log.Debug().
		Str("sessionId", opts.SessionID).
		Int("pid", cmd.Process.Pid).
		Str("dir", opts.Dir).
		Strs("args", opts.Args).
		Msg("local agent process started")
	return p, nil
}

// childEnv builds the subprocess environment: the hub's environment with
// nested-agent variables stripped and the session identity variables added.
// Stripping CLAUDECODE* keeps the spawned CLI from treating the hub as an
// enclosing agent session.
func childEnv(base []string, sessionID string, hubPort int) []string {
	env := make([]string, 0, len(base)+3)
	for _, kv := range base {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(name, "CLAUDECODE") || name == "CLAUDE_CODE_ENTRYPOINT" {
			continue
		}
		if name == "TERM" || name == "C3_SESSION_ID" || name == "C3_HUB_PORT" {
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		"TERM=xterm-256color",
		"C3_SESSION_ID="+sessionID,
		fmt.Sprintf("C3_HUB_PORT=%d", hubPort),
	)
	return env
}

func (p *LocalProcess) readLoop() {
	buf := make([]byte, readBufSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			p.events <- Event{Type: EventData, SessionID: p.sessionID, Data: data}
		}
		if err != nil {
			break
		}
	}

	// The PTY read fails once the child exits (or the fd is closed on
	// kill); reap the process and surface the outcome.
	waitErr := p.cmd.Wait()
	code := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	p.closeOnce.Do(func() { _ = p.ptmx.Close() })

	p.events <- Event{
		Type:      EventExit,
		SessionID: p.sessionID,
		ExitCode:  code,
		Killed:    p.killed.Load(),
		ExitErr:   waitErr,
	}
	close(p.events)
}

// Write sends user input to the subprocess.
func (p *LocalProcess) Write(data []byte) (int, error) {
	return p.ptmx.Write(data)
}

// Resize adjusts the PTY dimensions.
func (p *LocalProcess) Resize(cols, rows uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Kill terminates the whole process group with SIGTERM, falling back to a
// direct signal when the group signal fails. The exit is reported through
// the event stream, not here.
func (p *LocalProcess) Kill() error {
	p.killed.Store(true)
	pid := p.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("kill pid %d: %w", pid, err)
		}
	}
	// Unblock the reader if the child ignores SIGTERM and holds the PTY
	// open; closing the master fd forces an EOF after a grace period.
	time.AfterFunc(5*time.Second, func() {
		p.closeOnce.Do(func() { _ = p.ptmx.Close() })
	})
	return nil
}

// Events returns the output stream. The channel closes after the Exit event.
func (p *LocalProcess) Events() <-chan Event {
	return p.events
}

// Pid returns the subprocess PID (also its process group id).
func (p *LocalProcess) Pid() int {
	return p.cmd.Process.Pid
}
