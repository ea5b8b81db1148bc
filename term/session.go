package term

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// maxSubscriberBytes bounds the output bytes queued per subscriber. A slow
// client sheds its oldest data frames instead of stalling the session or
// growing without limit.
const maxSubscriberBytes = 4 << 20

// Session wraps one managed process with everything the hub layers on top:
// scrollback persistence, board-command extraction, idle tracking, and
// fan-out to any number of attached clients.
type Session struct {
	ID string

	proc   ManagedProcess
	store  *ScrollbackStore
	osc    *oscParser
	onExit func(ExitResult)

	// mu linearizes scrollback appends, subscriber changes, and event
	// publication, so Subscribe's snapshot never misses or duplicates a
	// frame.
	mu   sync.Mutex
	subs map[*Subscriber]struct{}

	lastOutput   atomic.Int64
	idleNotified atomic.Bool
	inputSeen    atomic.Bool
	ended        atomic.Bool
	treePid      atomic.Int64

	done chan struct{}
}

// NewSession wraps proc and starts pumping its events. onExit runs exactly
// once, after the final event has been fanned out and scrollback flushed.
func NewSession(id string, proc ManagedProcess, store *ScrollbackStore, onExit func(ExitResult)) *Session {
	s := &Session{
		ID:     id,
		proc:   proc,
		store:  store,
		osc:    newOSCParser(),
		onExit: onExit,
		subs:   make(map[*Subscriber]struct{}),
		done:   make(chan struct{}),
	}
	s.lastOutput.Store(time.Now().UnixNano())
	s.treePid.Store(int64(proc.Pid()))
	go s.pump()
	return s
}

func (s *Session) pump() {
	var result ExitResult
	for ev := range s.proc.Events() {
		switch ev.Type {
		case EventData:
			s.lastOutput.Store(time.Now().UnixNano())
			s.idleNotified.Store(false)
			cmds := s.osc.Feed(ev.Data)
			s.mu.Lock()
			s.store.Append(s.ID, ev.Data)
			s.publishLocked(ev)
			for i := range cmds {
				if s.absorbCommand(&cmds[i]) {
					continue
				}
				s.publishLocked(Event{
					Type:      EventBoardCommand,
					SessionID: s.ID,
					Command:   &cmds[i],
				})
			}
			s.mu.Unlock()
		case EventConnectionLost:
			s.mu.Lock()
			s.publishLocked(ev)
			s.mu.Unlock()
			result.TransportLost = true
		case EventExit:
			result.Code = ev.ExitCode
			result.Killed = ev.Killed
			result.Err = ev.ExitErr
			s.store.Flush(s.ID)
			s.mu.Lock()
			s.publishLocked(ev)
			s.mu.Unlock()
		}
	}

	s.ended.Store(true)
	close(s.done)
	if s.onExit != nil {
		s.onExit(result)
	}
}

// Subscribe atomically snapshots the scrollback so far and registers a new
// subscriber for everything after it. The pair gives an attaching client a
// gap-free, duplicate-free view of the stream.
func (s *Session) Subscribe() ([]byte, *Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.store.Snapshot(s.ID)
	sub := newSubscriber(s.ID)
	s.subs[sub] = struct{}{}
	return snapshot, sub
}

// Unsubscribe detaches a subscriber and releases its queue.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	sub.close()
}

// Notify publishes an externally generated event (idle advisories, port
// changes, connection status) to all attached clients.
func (s *Session) Notify(ev Event) {
	ev.SessionID = s.ID
	s.mu.Lock()
	s.publishLocked(ev)
	s.mu.Unlock()
}

func (s *Session) publishLocked(ev Event) {
	for sub := range s.subs {
		sub.push(ev)
	}
}

// Write forwards user input to the process and records that this activation
// cycle has seen input.
func (s *Session) Write(data []byte) error {
	if _, err := s.proc.Write(data); err != nil {
		return err
	}
	s.inputSeen.Store(true)
	return nil
}

// Resize forwards new terminal dimensions to the process.
func (s *Session) Resize(cols, rows uint16) error {
	return s.proc.Resize(cols, rows)
}

// Kill terminates the underlying process. The exit is observed through the
// event stream and onExit, never synchronously.
func (s *Session) Kill() error {
	return s.proc.Kill()
}

// absorbCommand handles board commands addressed to the hub itself rather
// than the UI. Remote sessions report their process id this way, since the
// hub cannot see pids across SSH.
func (s *Session) absorbCommand(cmd *BoardCommand) bool {
	if cmd.Action != "pid" {
		return false
	}
	if pid, err := strconv.Atoi(cmd.Payload); err == nil && pid > 0 {
		s.treePid.Store(int64(pid))
	}
	return true
}

// Pid returns the local process id, or 0 for remote sessions.
func (s *Session) Pid() int {
	return s.proc.Pid()
}

// TreeRootPid returns the root of the session's process tree on its worker:
// the subprocess pid locally, or the pid the remote bootstrap reported. Zero
// when unknown.
func (s *Session) TreeRootPid() int {
	return int(s.treePid.Load())
}

// LastOutput reports when the process last produced output.
func (s *Session) LastOutput() time.Time {
	return time.Unix(0, s.lastOutput.Load())
}

// InputSeen reports whether any user input arrived since activation.
func (s *Session) InputSeen() bool {
	return s.inputSeen.Load()
}

// Ended reports whether the process has exited.
func (s *Session) Ended() bool {
	return s.ended.Load()
}

// Done is closed once the process has exited and its final event fanned out.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// markIdleNotified flips the idle latch; it returns false when the latch was
// already set, so each quiet period produces one advisory.
func (s *Session) markIdleNotified() bool {
	return s.idleNotified.CompareAndSwap(false, true)
}

// Subscriber is one client's bounded view of a session stream. Events queue
// in arrival order; when queued data bytes exceed maxSubscriberBytes the
// oldest data frames are dropped and a single DroppedOutput marker is
// queued so the client knows its view has a gap.
type Subscriber struct {
	sessionID string

	mu          sync.Mutex
	queue       []Event
	queuedBytes int
	warned      bool
	closed      bool

	signal chan struct{}
}

func newSubscriber(sessionID string) *Subscriber {
	return &Subscriber{
		sessionID: sessionID,
		signal:    make(chan struct{}, 1),
	}
}

func (sub *Subscriber) push(ev Event) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	if ev.Type == EventData {
		sub.queuedBytes += len(ev.Data)
	}
	sub.queue = append(sub.queue, ev)
	if sub.queuedBytes > maxSubscriberBytes {
		dropped := 0
		kept := sub.queue[:0]
		for _, e := range sub.queue {
			if sub.queuedBytes > maxSubscriberBytes && e.Type == EventData {
				sub.queuedBytes -= len(e.Data)
				dropped += len(e.Data)
				continue
			}
			kept = append(kept, e)
		}
		sub.queue = kept
		if dropped > 0 && !sub.warned {
			sub.warned = true
			sub.queue = append(sub.queue, Event{
				Type:         EventDroppedOutput,
				SessionID:    sub.sessionID,
				DroppedBytes: dropped,
			})
		}
	}
	sub.mu.Unlock()

	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the subscriber closes, or ctx
// expires. The second return is false when no more events will arrive.
func (sub *Subscriber) Next(ctx context.Context) (Event, bool) {
	for {
		sub.mu.Lock()
		if len(sub.queue) > 0 {
			ev := sub.queue[0]
			sub.queue = sub.queue[1:]
			if ev.Type == EventData {
				sub.queuedBytes -= len(ev.Data)
			}
			if len(sub.queue) == 0 {
				sub.warned = false
			}
			sub.mu.Unlock()
			return ev, true
		}
		closed := sub.closed
		sub.mu.Unlock()
		if closed {
			return Event{}, false
		}
		select {
		case <-ctx.Done():
			return Event{}, false
		case <-sub.signal:
		}
	}
}

func (sub *Subscriber) close() {
	sub.mu.Lock()
	sub.closed = true
	sub.mu.Unlock()
	select {
	case sub.signal <- struct{}{}:
	default:
	}
}
