package session

import (
	"time"

	"github.com/agentide/c3/db"
	"github.com/agentide/c3/log"
	"github.com/agentide/c3/term"
)

const (
	// dispatchInterval is the scheduler's base tick; pokes cut it short.
	dispatchInterval = 500 * time.Millisecond
	// suspendGrace bounds how long a suspension waits for the killed
	// process to report its exit.
	suspendGrace = 10 * time.Second
)

// Scheduler admits queued sessions against per-worker and global capacity,
// and suspends idle supervised sessions when the queue is starved. All
// dispatch decisions run on one goroutine.
type Scheduler struct {
	store *db.Store
	mgr   *Manager
	mux   *term.Multiplexer

	poke chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewScheduler wires the scheduler and installs itself as the manager's
// poker and the multiplexer's idle handler.
func NewScheduler(store *db.Store, mgr *Manager, mux *term.Multiplexer) *Scheduler {
	s := &Scheduler{
		store: store,
		mgr:   mgr,
		mux:   mux,
		poke:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	mgr.SetPoker(s.Poke)
	mux.SetIdleHandler(s.onIdle)
	return s
}

// Run drives dispatch until Stop. Call in a goroutine.
func (s *Scheduler) Run() {
	defer close(s.done)
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		case <-s.poke:
		}
		s.dispatchPass()
	}
}

// Stop halts dispatch and waits for the loop to drain.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}

// Poke asks for an immediate dispatch pass. Coalesces when one is already
// pending.
func (s *Scheduler) Poke() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// dispatchPass walks the queue in position order and activates every
// session it can place:
//  1. skip sessions whose worker is not connected;
//  2. skip sessions whose worker is at its own capacity;
//  3. stop the pass once the global ceiling is reached.
func (s *Scheduler) dispatchPass() {
	settings, err := s.store.GetSettings()
	if err != nil {
		log.Error().Err(err).Msg("scheduler: loading settings")
		return
	}
	queued, err := s.store.QueuedSessionsInOrder()
	if err != nil {
		log.Error().Err(err).Msg("scheduler: loading queue")
		return
	}
	if len(queued) == 0 {
		return
	}
	total, err := s.store.CountActiveSessions()
	if err != nil {
		log.Error().Err(err).Msg("scheduler: counting active sessions")
		return
	}

	workers := map[string]*db.Worker{}
	perWorker := map[string]int{}
	for i := range queued {
		sess := &queued[i]

		w, ok := workers[sess.WorkerID]
		if !ok {
			w, err = s.store.GetWorker(sess.WorkerID)
			if err != nil || w == nil {
				continue
			}
			workers[sess.WorkerID] = w
			n, err := s.store.CountActiveSessionsOnWorker(w.ID)
			if err != nil {
				continue
			}
			perWorker[w.ID] = n
		}

		if w.Status != db.WorkerStatusConnected {
			continue
		}
		if perWorker[w.ID] >= w.MaxSessions {
			continue
		}
		if total >= settings.MaxConcurrentSessions {
			break
		}

		if err := s.mgr.Activate(sess); err != nil {
			continue
		}
		perWorker[w.ID]++
		total++
	}
}

// onIdle runs when a session has produced no output past the idle threshold.
// A session that never saw user input this cycle is prompting: flag it as
// needing input. A supervised session (input seen) is suspended when all
// guards allow and a queued session is actually starved for its slot.
func (s *Scheduler) onIdle(id string) {
	sess, err := s.store.GetSession(id)
	if err != nil || sess == nil || sess.Status != db.SessionStatusActive {
		return
	}
	ts := s.mux.Get(id)
	if ts == nil || ts.Ended() {
		return
	}

	if !ts.InputSeen() {
		s.mgr.raiseNeedsInput(id)
		return
	}

	if sess.NeedsInput {
		return
	}
	if sess.Lock {
		return
	}
	if s.mgr.suspendedThisCycle(id) {
		return
	}
	if !s.queueStarved(sess) {
		return
	}
	if !s.mgr.markSuspended(id) {
		return
	}
	// Suspension blocks on the exit event; keep the idle sweep moving.
	go s.suspend(id, ts)
}

// queueStarved reports whether suspending this session would actually free
// capacity some queued session is waiting for: either the global ceiling is
// the bottleneck, or a queued session targets this session's worker and that
// worker is full.
func (s *Scheduler) queueStarved(sess *db.Session) bool {
	next, err := s.store.NextQueuedSession("")
	if err != nil || next == nil {
		return false
	}
	settings, err := s.store.GetSettings()
	if err != nil {
		return false
	}
	total, err := s.store.CountActiveSessions()
	if err != nil {
		return false
	}
	if total >= settings.MaxConcurrentSessions {
		return true
	}
	waiting, err := s.store.NextQueuedSession(sess.WorkerID)
	if err != nil || waiting == nil {
		return false
	}
	w, err := s.store.GetWorker(sess.WorkerID)
	if err != nil || w == nil {
		return false
	}
	active, err := s.store.CountActiveSessionsOnWorker(w.ID)
	if err != nil {
		return false
	}
	return active >= w.MaxSessions
}

// suspend kills the session, waits for its exit to be fully processed (the
// hook callback usually lands first and persists the agent session id), puts
// it back at the head of the queue, and triggers an immediate dispatch.
func (s *Scheduler) suspend(id string, ts *term.Session) {
	log.Info().Str("sessionId", id).Msg("suspending idle session to free capacity")

	waiter := s.mgr.registerExitWaiter(id)
	if err := ts.Kill(); err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("suspend kill failed")
		return
	}
	select {
	case <-waiter:
	case <-time.After(suspendGrace):
		log.Warn().Str("sessionId", id).Msg("suspended session did not exit in time")
		return
	}

	if err := s.store.RequeueAtHead(id); err != nil {
		log.Error().Err(err).Str("sessionId", id).Msg("requeue after suspend")
		return
	}
	log.Info().Str("sessionId", id).Msg("session suspended and requeued")
	s.Poke()
}
