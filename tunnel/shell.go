package tunnel

import (
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// windowChange is the SSH "window-change" request payload (RFC 4254 §6.7).
type windowChange struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

// ShellChannel is one interactive remote PTY. Bytes written go to the remote
// shell's stdin; Stdout carries the PTY output (stderr is folded in by the
// remote PTY). Close tears down the channel; the remote side sees a hangup.
type ShellChannel struct {
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout io.Reader
}

// shell opens a new session channel with a PTY and starts a login shell.
func (c *Conn) shell(cols, rows uint16) (*ShellChannel, error) {
	client, err := c.liveClient()
	if err != nil {
		return nil, err
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening shell channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", int(rows), int(cols), modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("requesting pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("opening stdout pipe: %w", err)
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("starting shell: %w", err)
	}

	return &ShellChannel{sess: sess, stdin: stdin, stdout: stdout}, nil
}

// Write sends bytes to the remote shell's stdin.
func (sc *ShellChannel) Write(p []byte) (int, error) {
	return sc.stdin.Write(p)
}

// Stdout is the remote PTY output stream. It EOFs when the channel closes,
// whether because the remote process exited or the transport dropped.
func (sc *ShellChannel) Stdout() io.Reader {
	return sc.stdout
}

// Resize updates the remote PTY dimensions via a window-change request.
func (sc *ShellChannel) Resize(cols, rows uint16) error {
	_, err := sc.sess.SendRequest("window-change", false, ssh.Marshal(windowChange{
		Columns: uint32(cols),
		Rows:    uint32(rows),
	}))
	return err
}

// Wait blocks until the remote command finishes and returns its exit error,
// nil on a zero exit status.
func (sc *ShellChannel) Wait() error {
	return sc.sess.Wait()
}

// Close tears down the channel. Safe to call more than once.
func (sc *ShellChannel) Close() error {
	sc.stdin.Close()
	return sc.sess.Close()
}
