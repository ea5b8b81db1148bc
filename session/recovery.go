package session

import (
	"syscall"

	"github.com/agentide/c3/db"
	"github.com/agentide/c3/log"
)

// RecoverAtBoot reconciles rows left active by a crashed or killed hub. The
// PTY file descriptors died with the old process, so survivors cannot be
// reattached: any still-running local process group gets a SIGTERM, and
// every stale row is finalized as completed. Agent session ids persisted by
// hooks before the crash survive for later continuation. Runs before the
// HTTP listener binds.
func (m *Manager) RecoverAtBoot() error {
	stale, err := m.store.ListActiveSessions()
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	terminated := 0
	for i := range stale {
		sess := &stale[i]
		if sess.PID != nil && pidAlive(*sess.PID) {
			if err := syscall.Kill(-*sess.PID, syscall.SIGTERM); err != nil {
				_ = syscall.Kill(*sess.PID, syscall.SIGTERM)
			}
			terminated++
		}
		if err := m.store.MarkSessionEnded(sess.ID, db.SessionStatusCompleted, nil); err != nil {
			log.Error().Err(err).Str("sessionId", sess.ID).Msg("finalizing stale session")
		}
	}

	log.Info().
		Int("stale", len(stale)).
		Int("terminated", terminated).
		Msg("recovered sessions from previous run")
	return nil
}

// pidAlive probes a pid with signal 0. EPERM still means the process exists.
func pidAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
