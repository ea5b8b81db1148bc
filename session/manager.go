package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentide/c3/db"
	"github.com/agentide/c3/log"
	"github.com/agentide/c3/term"
	"github.com/agentide/c3/tunnel"
)

var (
	// ErrSessionNotFound marks operations on a session id that has no row.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotActive marks input/resize against a session with no
	// live process.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrWorkerNotFound marks a create request naming an unknown worker.
	ErrWorkerNotFound = errors.New("worker not found")
	// ErrNotFinished marks a continue request against a session that is
	// still queued or active.
	ErrNotFinished = errors.New("only completed or failed sessions can be continued")
	// ErrDirectoryNotAbsolute rejects relative working directories.
	ErrDirectoryNotAbsolute = errors.New("working directory must be an absolute path")
	// ErrDirectoryOutsideHome rejects local working directories that
	// resolve outside the hub user's home.
	ErrDirectoryOutsideHome = errors.New("working directory must be inside the home directory")
)

// deleteKillGrace bounds how long Delete waits for a killed process to
// report its exit before removing the row anyway.
const deleteKillGrace = 3 * time.Second

// spawnFunc abstracts process creation so scheduler and suspension logic can
// be tested without real subprocesses or SSH.
type spawnFunc func(sess *db.Session, worker *db.Worker, args []string) (term.ManagedProcess, error)

// CreateRequest is the payload for creating a session.
type CreateRequest struct {
	WorkingDirectory string `json:"workingDirectory"`
	Title            string `json:"title"`
	TargetWorker     string `json:"targetWorker"`
	StartFresh       bool   `json:"startFresh"`
	Worktree         bool   `json:"worktree"`
}

// Manager owns session lifecycle: creation, activation (spawn), exit
// bookkeeping, continuation, and the in-memory per-cycle state the scheduler
// consults.
type Manager struct {
	store      *db.Store
	mux        *term.Multiplexer
	tunnels    *tunnel.Manager
	extensions *term.ExtensionManager

	hooksDir string
	homeDir  string
	hubPort  int

	spawn spawnFunc
	poke  func()

	mu           sync.Mutex
	startFresh   map[string]bool
	suspended    map[string]bool
	needsInput   map[string]bool
	exitWaiters  map[string][]chan struct{}
	workerStatus map[string]string
}

// Options collects the Manager's collaborators and paths.
type Options struct {
	Store      *db.Store
	Mux        *term.Multiplexer
	Tunnels    *tunnel.Manager
	Extensions *term.ExtensionManager
	HooksDir   string
	HomeDir    string
	HubPort    int
}

// NewManager wires a Manager. The scheduler's poke hook is attached
// afterwards via SetPoker.
func NewManager(opts Options) *Manager {
	m := &Manager{
		store:        opts.Store,
		mux:          opts.Mux,
		tunnels:      opts.Tunnels,
		extensions:   opts.Extensions,
		hooksDir:     opts.HooksDir,
		homeDir:      opts.HomeDir,
		hubPort:      opts.HubPort,
		startFresh:   make(map[string]bool),
		suspended:    make(map[string]bool),
		needsInput:   make(map[string]bool),
		exitWaiters:  make(map[string][]chan struct{}),
		workerStatus: make(map[string]string),
	}
	m.spawn = m.spawnProcess
	return m
}

// SetPoker installs the scheduler wake-up hook.
func (m *Manager) SetPoker(poke func()) {
	m.poke = poke
}

// Poke wakes the dispatcher. The API layer calls it after capacity or lock
// changes that may let a queued session through.
func (m *Manager) Poke() {
	m.pokeScheduler()
}

func (m *Manager) pokeScheduler() {
	if m.poke != nil {
		m.poke()
	}
}

// Create validates the request, prepares the working directory, and inserts
// a queued session. The scheduler picks it up on its next pass (or sooner,
// via poke).
func (m *Manager) Create(req CreateRequest) (*db.Session, error) {
	worker, err := m.resolveWorker(req.TargetWorker)
	if err != nil {
		return nil, err
	}

	dir := filepath.Clean(req.WorkingDirectory)
	if !filepath.IsAbs(dir) {
		return nil, ErrDirectoryNotAbsolute
	}

	if worker.Type == db.WorkerTypeLocal {
		dir, err = m.prepareLocalDirectory(dir)
		if err != nil {
			return nil, err
		}
		if req.Worktree {
			if err := ensureLocalGitRepo(dir); err != nil {
				return nil, err
			}
		}
	} else {
		// Remote directories cannot be validated from here; they are
		// prepared again right before spawn, when the tunnel must be up.
		m.prepareRemoteDirectory(worker.ID, dir, req.Worktree)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = filepath.Base(dir)
	}

	sess := &db.Session{
		WorkerID:         worker.ID,
		WorkingDirectory: dir,
		Title:            title,
		Worktree:         req.Worktree,
	}
	if err := m.store.CreateSession(sess); err != nil {
		return nil, err
	}
	if _, err := m.store.TouchProject(worker.ID, dir, filepath.Base(dir)); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("recording project failed")
	}

	if req.StartFresh {
		m.mu.Lock()
		m.startFresh[sess.ID] = true
		m.mu.Unlock()
	}

	log.Info().
		Str("sessionId", sess.ID).
		Str("workerId", worker.ID).
		Str("dir", dir).
		Bool("worktree", req.Worktree).
		Msg("session created")
	m.pokeScheduler()
	return sess, nil
}

func (m *Manager) resolveWorker(id string) (*db.Worker, error) {
	if id == "" {
		w, err := m.store.GetLocalWorker()
		if err != nil {
			return nil, err
		}
		if w == nil {
			return nil, ErrWorkerNotFound
		}
		return w, nil
	}
	w, err := m.store.GetWorker(id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWorkerNotFound
	}
	return w, nil
}

// prepareLocalDirectory creates the directory if needed and confirms the
// resolved path stays inside the hub user's home. The lexical check runs
// before mkdir so nothing is created outside home; the symlink-resolved
// check runs after, so links cannot smuggle the path out.
func (m *Manager) prepareLocalDirectory(dir string) (string, error) {
	home, err := filepath.EvalSymlinks(m.homeDir)
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	if !pathWithin(home, dir) {
		return "", ErrDirectoryOutsideHome
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}
	if !pathWithin(home, resolved) {
		return "", ErrDirectoryOutsideHome
	}
	return resolved, nil
}

// pathWithin reports whether path is root or lexically inside it.
func pathWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// prepareRemoteDirectory best-effort creates the directory (and git repo for
// worktree sessions) on the worker. Failures are logged; the spawn-time cd
// will surface anything unrecoverable.
func (m *Manager) prepareRemoteDirectory(workerID, dir string, worktree bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	quoted := shellQuoteRemote(dir)
	cmd := "mkdir -p " + quoted
	if worktree {
		cmd += " && { [ -d " + quoted + "/.git ] || git -C " + quoted + " init; }"
	}
	if _, err := m.tunnels.Exec(ctx, workerID, cmd); err != nil {
		log.Debug().Err(err).Str("workerId", workerID).Str("dir", dir).
			Msg("remote directory preparation deferred")
	}
}

func shellQuoteRemote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func ensureLocalGitRepo(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return nil
	}
	out, err := exec.Command("git", "-C", dir, "init").CombinedOutput()
	if err != nil {
		return fmt.Errorf("git init: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Activate spawns the process for a session the scheduler has admitted, then
// flips the row to active. Spawn failure marks the session failed; the
// scheduler moves on.
func (m *Manager) Activate(sess *db.Session) error {
	worker, err := m.resolveWorker(sess.WorkerID)
	if err != nil {
		return err
	}

	settingsPath, err := term.WriteHookSettings(m.hooksDir)
	if err != nil {
		// Hooks are best-effort: spawn without them rather than block.
		log.Warn().Err(err).Msg("hook settings unavailable for this activation")
		settingsPath = ""
	}
	args := m.spawnArgs(sess, settingsPath)

	if worker.Type == db.WorkerTypeLocal && m.extensions != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		m.extensions.Inject(ctx, sess.WorkingDirectory)
		cancel()
	}
	if worker.Type == db.WorkerTypeRemote {
		m.prepareRemoteDirectory(worker.ID, sess.WorkingDirectory, sess.Worktree && sess.ContinuationCount == 0)
	}

	proc, err := m.spawn(sess, worker, args)
	if err != nil {
		if endErr := m.store.MarkSessionEnded(sess.ID, db.SessionStatusFailed, nil); endErr != nil {
			log.Error().Err(endErr).Str("sessionId", sess.ID).Msg("marking failed session")
		}
		log.Error().Err(err).Str("sessionId", sess.ID).Msg("session spawn failed")
		return err
	}

	var pid *int
	if p := proc.Pid(); p > 0 {
		pid = &p
	}
	if err := m.store.MarkSessionActive(sess.ID, pid); err != nil {
		_ = proc.Kill()
		return err
	}

	m.mu.Lock()
	delete(m.suspended, sess.ID)
	delete(m.needsInput, sess.ID)
	m.mu.Unlock()

	id := sess.ID
	ts := term.NewSession(id, proc, m.mux.Scrollback(), func(r term.ExitResult) {
		m.handleExit(id, r)
	})
	m.mux.Register(ts)

	log.Info().
		Str("sessionId", id).
		Str("workerId", worker.ID).
		Strs("args", args).
		Msg("session activated")
	return nil
}

// spawnArgs builds the CLI argument ladder for one activation:
//   - a continuation that captured its agent session id resumes it;
//   - startFresh (first activation only) starts clean;
//   - otherwise the latest completed session in the same directory is
//     resumed transparently;
//   - a continuation that never captured an id falls back to -c;
//   - --worktree applies only to the first activation.
func (m *Manager) spawnArgs(sess *db.Session, settingsPath string) []string {
	var base []string
	if settingsPath != "" {
		base = []string{"--settings", settingsPath}
	}
	fresh := m.takeStartFresh(sess.ID)

	args := append([]string{}, base...)
	switch {
	case sess.ContinuationCount > 0 && sess.ClaudeSessionID != nil:
		args = append(args, "--resume", *sess.ClaudeSessionID)
	case fresh:
		// clean start, base args only
	default:
		prev, err := m.store.LatestCompletedSessionInDirectory(sess.WorkerID, sess.WorkingDirectory)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", sess.ID).Msg("auto-continue lookup failed")
		}
		switch {
		case prev != nil && prev.ClaudeSessionID != nil:
			args = append(args, "--resume", *prev.ClaudeSessionID)
		case sess.ContinuationCount > 0:
			args = append(args, "-c")
		}
	}

	if sess.Worktree && sess.ContinuationCount == 0 {
		args = append([]string{"--worktree"}, args...)
	}
	return args
}

func (m *Manager) takeStartFresh(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	fresh := m.startFresh[id]
	delete(m.startFresh, id)
	return fresh
}

// spawnProcess is the default spawnFunc: a PTY subprocess for the local
// worker, a shell channel for remote ones.
func (m *Manager) spawnProcess(sess *db.Session, worker *db.Worker, args []string) (term.ManagedProcess, error) {
	if worker.Type == db.WorkerTypeLocal {
		return term.StartLocal(term.LocalOptions{
			SessionID: sess.ID,
			Args:      args,
			Dir:       sess.WorkingDirectory,
			HubPort:   m.hubPort,
		})
	}
	return term.StartRemote(m.tunnels, term.RemoteOptions{
		SessionID: sess.ID,
		WorkerID:  worker.ID,
		Args:      args,
		Dir:       sess.WorkingDirectory,
		HubPort:   m.hubPort,
	})
}

// handleExit finalizes a session whose process ended: clean exits and kills
// complete, everything else fails. The agent session id, when a hook
// delivered one, is already persisted; passing nil preserves it.
func (m *Manager) handleExit(id string, r term.ExitResult) {
	status := db.SessionStatusFailed
	if r.Clean() {
		status = db.SessionStatusCompleted
	}
	if err := m.store.MarkSessionEnded(id, status, nil); err != nil {
		if !errors.Is(err, db.ErrSessionNotFound) {
			log.Error().Err(err).Str("sessionId", id).Msg("finalizing session")
		}
	}

	evt := log.Info()
	if status == db.SessionStatusFailed {
		evt = log.Warn()
	}
	evt.Str("sessionId", id).
		Int("exitCode", r.Code).
		Bool("killed", r.Killed).
		Bool("transportLost", r.TransportLost).
		Str("status", status).
		Msg("session ended")

	m.mu.Lock()
	delete(m.needsInput, id)
	waiters := m.exitWaiters[id]
	delete(m.exitWaiters, id)
	m.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}

	m.pokeScheduler()
}

// registerExitWaiter returns a channel closed when the session's exit has
// been fully processed.
func (m *Manager) registerExitWaiter(id string) <-chan struct{} {
	ch := make(chan struct{})
	m.mu.Lock()
	m.exitWaiters[id] = append(m.exitWaiters[id], ch)
	m.mu.Unlock()
	return ch
}

// Continue puts a finished session back at the head of the queue with its
// continuation count bumped.
func (m *Manager) Continue(id string) (*db.Session, error) {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if sess.Status != db.SessionStatusCompleted && sess.Status != db.SessionStatusFailed {
		return nil, ErrNotFinished
	}
	if err := m.store.RequeueAtHead(id); err != nil {
		return nil, err
	}
	log.Info().Str("sessionId", id).Msg("session requeued for continuation")
	m.pokeScheduler()
	return m.store.GetSession(id)
}

// Kill terminates an active session's process, or cancels a queued one. It
// is idempotent: finished sessions are left as they are.
func (m *Manager) Kill(id string) error {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	switch sess.Status {
	case db.SessionStatusActive:
		if ts := m.mux.Get(id); ts != nil && !ts.Ended() {
			return ts.Kill()
		}
		// Active row without a live process: recovery missed it.
		return m.store.MarkSessionEnded(id, db.SessionStatusCompleted, nil)
	case db.SessionStatusQueued:
		return m.store.MarkSessionEnded(id, db.SessionStatusCompleted, nil)
	default:
		return nil
	}
}

// Delete kills the session if live, removes its scrollback, and deletes the
// row (comments cascade).
func (m *Manager) Delete(id string) error {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	if sess.Status == db.SessionStatusActive {
		if ts := m.mux.Get(id); ts != nil && !ts.Ended() {
			waiter := m.registerExitWaiter(id)
			if err := ts.Kill(); err != nil {
				log.Warn().Err(err).Str("sessionId", id).Msg("kill before delete failed")
			}
			select {
			case <-waiter:
			case <-time.After(deleteKillGrace):
				log.Warn().Str("sessionId", id).Msg("process did not exit before delete")
			}
		}
	}
	m.mux.Release(id)
	if err := m.mux.RemoveScrollback(id); err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("removing scrollback")
	}
	if err := m.store.DeleteSession(id); err != nil {
		return err
	}
	log.Info().Str("sessionId", id).Msg("session deleted")
	return nil
}

// RecordInput forwards user input to the live process and clears the
// needs-input flag it may have raised.
func (m *Manager) RecordInput(id string, data []byte) error {
	ts := m.mux.Get(id)
	if ts == nil || ts.Ended() {
		return ErrSessionNotActive
	}
	if err := ts.Write(data); err != nil {
		return err
	}
	m.clearNeedsInput(id)
	return nil
}

// Resize adjusts the live session's terminal dimensions.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	ts := m.mux.Get(id)
	if ts == nil || ts.Ended() {
		return ErrSessionNotActive
	}
	return ts.Resize(cols, rows)
}

// raiseNeedsInput marks a session as waiting on the user and tells attached
// clients. Used by the scheduler when an idle session has seen no input.
func (m *Manager) raiseNeedsInput(id string) {
	m.mu.Lock()
	already := m.needsInput[id]
	m.needsInput[id] = true
	m.mu.Unlock()
	if already {
		return
	}
	needs := true
	if err := m.store.UpdateSession(id, db.SessionPatch{NeedsInput: &needs}); err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("raising needs-input")
		return
	}
	m.mux.Notify(id, term.Event{Type: term.EventNeedsInput})
	log.Debug().Str("sessionId", id).Msg("session needs input")
}

func (m *Manager) clearNeedsInput(id string) {
	m.mu.Lock()
	raised := m.needsInput[id]
	delete(m.needsInput, id)
	m.mu.Unlock()
	if !raised {
		return
	}
	needs := false
	if err := m.store.UpdateSession(id, db.SessionPatch{NeedsInput: &needs}); err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("clearing needs-input")
	}
}

// markSuspended latches the per-cycle suspension guard. Returns false when
// the session was already suspended this cycle.
func (m *Manager) markSuspended(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suspended[id] {
		return false
	}
	m.suspended[id] = true
	return true
}

func (m *Manager) suspendedThisCycle(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspended[id]
}

// HandleHookEvent persists the agent-side session id delivered by the
// SessionEnd/Stop hook. Persisting immediately (not at exit) keeps the id
// across a hub crash.
func (m *Manager) HandleHookEvent(sessionID, claudeSessionID string) error {
	if claudeSessionID == "" {
		return nil
	}
	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	if err := m.store.UpdateSession(sessionID, db.SessionPatch{ClaudeSessionID: &claudeSessionID}); err != nil {
		return err
	}
	log.Debug().
		Str("sessionId", sessionID).
		Str("claudeSessionId", claudeSessionID).
		Msg("hook delivered agent session id")
	return nil
}

// HandleWorkerStatus is the tunnel status callback: it mirrors transitions
// into the store, announces restored connectivity to the worker's sessions,
// and wakes the scheduler when capacity appears.
func (m *Manager) HandleWorkerStatus(workerID, status string) {
	m.mu.Lock()
	last := m.workerStatus[workerID]
	m.workerStatus[workerID] = status
	m.mu.Unlock()

	if err := m.store.SetWorkerStatus(workerID, status); err != nil {
		log.Warn().Err(err).Str("workerId", workerID).Msg("recording worker status")
	}

	switch {
	case status == tunnel.StatusConnected && last == tunnel.StatusDisconnected:
		log.Info().Str("workerId", workerID).Msg("worker reconnected")
		m.notifyWorkerSessions(workerID, term.Event{Type: term.EventConnectionRestored})
		m.pokeScheduler()
	case status == tunnel.StatusConnected && last != tunnel.StatusConnected:
		m.pokeScheduler()
	case status == tunnel.StatusDisconnected && last != tunnel.StatusDisconnected:
		log.Warn().Str("workerId", workerID).Msg("worker connection lost")
	}
}

func (m *Manager) notifyWorkerSessions(workerID string, ev term.Event) {
	sessions, err := m.store.ListActiveSessions()
	if err != nil {
		return
	}
	for _, sess := range sessions {
		if sess.WorkerID == workerID {
			m.mux.Notify(sess.ID, ev)
		}
	}
}

// ConnectWorker opens (or re-opens) the SSH tunnel for a remote worker.
func (m *Manager) ConnectWorker(ctx context.Context, w *db.Worker) error {
	if w.Type != db.WorkerTypeRemote {
		return nil
	}
	if w.Host == nil || w.Port == nil || w.User == nil || w.PrivateKeyPath == nil {
		return db.ErrRemoteFieldsRequired
	}
	return m.tunnels.Connect(ctx, tunnel.Endpoint{
		WorkerID:       w.ID,
		Host:           *w.Host,
		Port:           *w.Port,
		User:           *w.User,
		PrivateKeyPath: *w.PrivateKeyPath,
	})
}

// DisconnectWorker tears down a worker's tunnel.
func (m *Manager) DisconnectWorker(workerID string) {
	m.tunnels.Disconnect(workerID)
}

// ConnectAllWorkers dials every remote worker at boot. Failures are logged;
// the per-connection supervisor keeps retrying.
func (m *Manager) ConnectAllWorkers(ctx context.Context) {
	workers, err := m.store.ListWorkers()
	if err != nil {
		log.Error().Err(err).Msg("listing workers for boot connect")
		return
	}
	for i := range workers {
		w := workers[i]
		if w.Type != db.WorkerTypeRemote {
			continue
		}
		go func() {
			if err := m.ConnectWorker(ctx, &w); err != nil {
				log.Warn().Err(err).Str("workerId", w.ID).Msg("boot connect failed")
			}
		}()
	}
}
