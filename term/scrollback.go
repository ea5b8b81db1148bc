package term

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentide/c3/log"
)

// flushInterval is the minimum gap between disk writes per session. Output
// accumulates in memory between flushes so bursty streams don't hammer the
// filesystem.
const flushInterval = 2 * time.Second

// ScrollbackStore persists raw session output to append-only files, one per
// session, so clients can replay history after reconnecting or restarting
// the hub.
type ScrollbackStore struct {
	dir string

	mu   sync.Mutex
	bufs map[string]*scrollbackBuf
}

type scrollbackBuf struct {
	mu        sync.Mutex
	path      string
	pending   []byte
	lastFlush time.Time
	timer     *time.Timer
}

// NewScrollbackStore opens (creating if needed) the scrollback directory.
func NewScrollbackStore(dir string) (*ScrollbackStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scrollback dir: %w", err)
	}
	return &ScrollbackStore{dir: dir, bufs: make(map[string]*scrollbackBuf)}, nil
}

func (st *ScrollbackStore) path(sessionID string) string {
	return filepath.Join(st.dir, sessionID+".scrollback")
}

func (st *ScrollbackStore) buf(sessionID string) *scrollbackBuf {
	st.mu.Lock()
	defer st.mu.Unlock()
	b, ok := st.bufs[sessionID]
	if !ok {
		b = &scrollbackBuf{path: st.path(sessionID)}
		st.bufs[sessionID] = b
	}
	return b
}

// Append records output for a session. Writes reach disk at most once per
// flushInterval; a trailing timer picks up whatever a quiet stream leaves
// behind.
func (st *ScrollbackStore) Append(sessionID string, data []byte) {
	if len(data) == 0 {
		return
	}
	b := st.buf(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, data...)
	if time.Since(b.lastFlush) >= flushInterval {
		b.flushLocked()
		return
	}
	if b.timer == nil {
		wait := flushInterval - time.Since(b.lastFlush)
		b.timer = time.AfterFunc(wait, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.timer = nil
			b.flushLocked()
		})
	}
}

func (b *scrollbackBuf) flushLocked() {
	if len(b.pending) == 0 {
		b.lastFlush = time.Now()
		return
	}
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn().Err(err).Str("path", b.path).Msg("scrollback flush failed")
		return
	}
	if _, err := f.Write(b.pending); err != nil {
		log.Warn().Err(err).Str("path", b.path).Msg("scrollback write failed")
	}
	_ = f.Close()
	b.pending = b.pending[:0]
	b.lastFlush = time.Now()
}

// Flush forces any buffered output for a session to disk.
func (st *ScrollbackStore) Flush(sessionID string) {
	b := st.buf(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.flushLocked()
}

// FlushAll flushes every session buffer; called during shutdown.
func (st *ScrollbackStore) FlushAll() {
	st.mu.Lock()
	ids := make([]string, 0, len(st.bufs))
	for id := range st.bufs {
		ids = append(ids, id)
	}
	st.mu.Unlock()
	for _, id := range ids {
		st.Flush(id)
	}
}

// Load returns the persisted scrollback for a session, or empty when none
// was ever written.
func (st *ScrollbackStore) Load(sessionID string) ([]byte, error) {
	data, err := os.ReadFile(st.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// Snapshot returns persisted scrollback plus any bytes still waiting in the
// flush buffer, so a client attaching mid-stream sees everything emitted so
// far.
func (st *ScrollbackStore) Snapshot(sessionID string) []byte {
	b := st.buf(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path)
	if err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("scrollback read failed")
	}
	if len(b.pending) > 0 {
		data = append(data, b.pending...)
	}
	return data
}

// Remove deletes a session's scrollback file and buffer.
func (st *ScrollbackStore) Remove(sessionID string) error {
	st.mu.Lock()
	b := st.bufs[sessionID]
	delete(st.bufs, sessionID)
	st.mu.Unlock()
	if b != nil {
		b.mu.Lock()
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.pending = nil
		b.mu.Unlock()
	}
	err := os.Remove(st.path(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
