package term

// EventType discriminates events on a session's stream. Data events carry
// raw terminal bytes; everything else is a lifecycle or advisory event the
// WebSocket bridge forwards as JSON.
type EventType string

const (
	EventData               EventType = "data"
	EventExit               EventType = "exit"
	EventConnectionLost     EventType = "connection_lost"
	EventConnectionRestored EventType = "connection_restored"
	EventBoardCommand       EventType = "board_command"
	EventNeedsInput         EventType = "needs_input"
	EventSessionIdle        EventType = "session_idle"
	EventPortDetected       EventType = "port_detected"
	EventPortClosed         EventType = "port_closed"
	EventDroppedOutput      EventType = "dropped_output"
)

// Event is one occurrence on a session stream. Only the fields relevant to
// the Type are set.
type Event struct {
	Type      EventType
	SessionID string

	// EventData
	Data []byte

	// EventExit
	ExitCode int
	Killed   bool
	ExitErr  error

	// EventBoardCommand
	Command *BoardCommand

	// EventPortDetected / EventPortClosed
	Port      int
	LocalPort int

	// EventDroppedOutput
	DroppedBytes int
}

// ExitResult summarizes how a managed process ended. TransportLost marks
// remote sessions whose SSH connection dropped under them.
type ExitResult struct {
	Code          int
	Killed        bool
	TransportLost bool
	Err           error
}

// Clean reports whether the end of the process should count as a completed
// session rather than a failed one. A kill (suspension or explicit) is clean.
func (r ExitResult) Clean() bool {
	return !r.TransportLost && (r.Killed || r.Code == 0)
}

// ManagedProcess is the uniform interface over a local PTY subprocess and a
// remote SSH shell channel. Implementations emit Data events until the
// process ends, then exactly one Exit event (remote transport loss emits a
// ConnectionLost event first), and close the channel.
type ManagedProcess interface {
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Kill() error
	Events() <-chan Event
	Pid() int // 0 for remote processes
}

const (
	// readBufSize is the chunk size for PTY and shell channel reads.
	readBufSize = 4096
	// eventBufSize bounds the per-process event channel.
	eventBufSize = 64
)
