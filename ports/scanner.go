// Package ports watches the process trees of active sessions for listening
// TCP sockets, announces them to attached clients, and keeps SSH forwards
// open so remote ports are reachable from the hub host.
package ports

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentide/c3/db"
	"github.com/agentide/c3/log"
	"github.com/agentide/c3/term"
	"github.com/agentide/c3/tunnel"
)

const (
	// scanInterval is how often every worker is swept for new listeners.
	scanInterval = 5 * time.Second
	// scanTimeout bounds one full sweep, including remote execs.
	scanTimeout = 10 * time.Second
	// minPort excludes privileged ports; system daemons bind those, dev
	// servers don't.
	minPort = 1024
)

// PortInfo is one detected listener as reported to clients. LocalPort is
// where the hub host can reach it: the port itself for local sessions, the
// forward's local end for remote ones.
type PortInfo struct {
	Port      int `json:"port"`
	LocalPort int `json:"localPort"`
}

// Scanner periodically enumerates listening sockets on every worker that
// hosts an active session, filters them to each session's process subtree,
// and emits port_detected / port_closed events on the session streams.
type Scanner struct {
	store    *db.Store
	tunnels  *tunnel.Manager
	mux      *term.Multiplexer
	forwards *Forwarder

	// enumeration seams, swapped by tests
	listLocal  func(ctx context.Context) ([]Listener, error)
	listRemote func(ctx context.Context, workerID string) ([]Listener, error)
	treeLocal  func() (map[int][]int, error)
	treeRemote func(ctx context.Context, workerID string) (map[int][]int, error)

	mu       sync.Mutex
	observed map[string]map[int]int // sessionID → port → local port

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewScanner(store *db.Store, tunnels *tunnel.Manager, mux *term.Multiplexer) *Scanner {
	s := &Scanner{
		store:     store,
		tunnels:   tunnels,
		mux:       mux,
		forwards:  NewForwarder(tunnels),
		listLocal: localListeners,
		treeLocal: localProcessTree,
		observed:  make(map[string]map[int]int),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.listRemote = func(ctx context.Context, workerID string) ([]Listener, error) {
		return remoteListeners(ctx, tunnels, workerID)
	}
	s.treeRemote = func(ctx context.Context, workerID string) (map[int][]int, error) {
		return remoteProcessTree(ctx, tunnels, workerID)
	}
	return s
}

// Run starts the sweep loop.
func (s *Scanner) Run() {
	go s.loop()
}

// Stop halts the loop and closes every forward.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	s.forwards.Shutdown()
}

func (s *Scanner) loop() {
	defer close(s.done)
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
			s.pass(ctx)
			cancel()
		}
	}
}

// target is one active session eligible for scanning on some worker.
type target struct {
	sessionID string
	rootPid   int
}

// pass sweeps every worker with scannable sessions, in parallel, then drops
// state for sessions that are no longer active.
func (s *Scanner) pass(ctx context.Context) {
	sessions, err := s.store.ListActiveSessions()
	if err != nil {
		log.Warn().Err(err).Msg("port scan: listing sessions")
		return
	}

	byWorker := make(map[string][]target)
	live := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		inst := s.mux.Get(sess.ID)
		if inst == nil {
			continue
		}
		root := inst.TreeRootPid()
		if root <= 0 {
			// Remote session whose bootstrap hasn't reported a pid yet.
			continue
		}
		live[sess.ID] = true
		byWorker[sess.WorkerID] = append(byWorker[sess.WorkerID], target{sessionID: sess.ID, rootPid: root})
	}

	g, gctx := errgroup.WithContext(ctx)
	for workerID, targets := range byWorker {
		g.Go(func() error {
			s.scanWorker(gctx, workerID, targets)
			return nil
		})
	}
	g.Wait()

	s.prune(live)
}

// scanWorker enumerates listeners and the process tree on one worker and
// updates every session hosted there. Enumeration failures keep the previous
// view instead of flapping port_closed on a transient error.
func (s *Scanner) scanWorker(ctx context.Context, workerID string, targets []target) {
	w, err := s.store.GetWorker(workerID)
	if err != nil {
		log.Warn().Err(err).Str("workerId", workerID).Msg("port scan: unknown worker")
		return
	}
	remote := w.Type == db.WorkerTypeRemote
	if remote && s.tunnels.State(workerID) != tunnel.StateConnected {
		return
	}

	var listeners []Listener
	var tree map[int][]int
	if remote {
		if listeners, err = s.listRemote(ctx, workerID); err == nil {
			tree, err = s.treeRemote(ctx, workerID)
		}
	} else {
		if listeners, err = s.listLocal(ctx); err == nil {
			tree, err = s.treeLocal()
		}
	}
	if err != nil {
		log.Debug().Err(err).Str("workerId", workerID).Msg("port scan failed")
		return
	}

	for _, t := range targets {
		sub := Subtree(t.rootPid, tree)
		seen := make(map[int]bool)
		for _, l := range listeners {
			if l.Port < minPort || !sub[l.PID] {
				continue
			}
			seen[l.Port] = true
		}
		s.apply(workerID, t.sessionID, remote, seen)
	}
}

// apply diffs a session's freshly observed port set against the previous
// pass and emits events for the delta.
func (s *Scanner) apply(workerID, sessionID string, remote bool, ports map[int]bool) {
	s.mu.Lock()
	old := s.observed[sessionID]
	if old == nil {
		old = make(map[int]int)
		s.observed[sessionID] = old
	}

	var opened []int
	for p := range ports {
		if _, ok := old[p]; !ok {
			opened = append(opened, p)
		}
	}
	var closed []int
	for p := range old {
		if !ports[p] {
			closed = append(closed, p)
		}
	}
	sort.Ints(opened)
	sort.Ints(closed)
	s.mu.Unlock()

	for _, p := range opened {
		localPort := p
		if remote {
			lp, err := s.forwards.Ensure(workerID, sessionID, p)
			if err != nil {
				// Retry next pass.
				log.Warn().Err(err).Str("sessionId", sessionID).Int("port", p).Msg("port forward failed")
				continue
			}
			localPort = lp
		}
		s.mu.Lock()
		s.observed[sessionID][p] = localPort
		s.mu.Unlock()
		log.Debug().Str("sessionId", sessionID).Int("port", p).Int("localPort", localPort).Msg("port detected")
		s.mux.Notify(sessionID, term.Event{Type: term.EventPortDetected, SessionID: sessionID, Port: p, LocalPort: localPort})
	}

	for _, p := range closed {
		if remote {
			s.forwards.Drop(sessionID, p)
		}
		s.mu.Lock()
		delete(s.observed[sessionID], p)
		s.mu.Unlock()
		log.Debug().Str("sessionId", sessionID).Int("port", p).Msg("port closed")
		s.mux.Notify(sessionID, term.Event{Type: term.EventPortClosed, SessionID: sessionID, Port: p})
	}
}

// prune forgets sessions that ended since the last pass and closes their
// forwards. Their subscribers already saw the exit event; no port_closed is
// sent for a dead stream.
func (s *Scanner) prune(live map[string]bool) {
	s.mu.Lock()
	var gone []string
	for sessionID := range s.observed {
		if !live[sessionID] {
			gone = append(gone, sessionID)
			delete(s.observed, sessionID)
		}
	}
	s.mu.Unlock()
	for _, sessionID := range gone {
		s.forwards.DropSession(sessionID)
	}
}

// Ports lists a session's currently observed listeners, sorted by port.
func (s *Scanner) Ports(sessionID string) []PortInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PortInfo, 0, len(s.observed[sessionID]))
	for p, lp := range s.observed[sessionID] {
		out = append(out, PortInfo{Port: p, LocalPort: lp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// LocalFor resolves where the hub host can reach a session's detected port.
func (s *Scanner) LocalFor(sessionID string, port int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lp, ok := s.observed[sessionID][port]
	return lp, ok
}
