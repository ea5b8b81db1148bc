package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/db"
	"github.com/agentide/c3/log"
	"github.com/agentide/c3/term"
)

const (
	// wsChunkSize bounds scrollback replay frames.
	wsChunkSize = 64 << 10
	// wsPingInterval keeps intermediaries from idling the socket out.
	wsPingInterval = 30 * time.Second
	// wsRepollInterval is how often a detached stream checks for the
	// session coming back (reactivation after suspend).
	wsRepollInterval = 500 * time.Millisecond
)

// wsInbound is a client→server text frame.
type wsInbound struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
	Data string `json:"data"`
}

// SessionSocket handles GET /ws/sessions/:id — the terminal stream. The
// socket survives suspension: when the process dies the stream goes passive
// and picks the session back up on its next activation, replaying only the
// bytes the client has not seen.
func (h *Handlers) SessionSocket(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid session id")
		return
	}

	// Auth runs before the upgrade so an unauthenticated client gets a
	// clean 401 instead of a failed handshake.
	if h.auth.AuthRequired() {
		if _, err := h.auth.VerifyRequest(c.Request); err != nil {
			respondErrorMsg(c, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
			return
		}
	}

	sess, err := h.store.GetSession(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if sess == nil {
		respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "session not found")
		return
	}

	// Gin wraps the ResponseWriter; the hijack needs the original.
	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	log.MarkHijacked(c)
	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin UI; auth is the cookie above
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	c.Abort()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stopWatch := context.AfterFunc(h.shutdownCtx, cancel)
	defer stopWatch()

	client := &wsClient{
		handlers:  h,
		conn:      conn,
		sessionID: id,
	}
	client.run(ctx, cancel, sess.Status)
}

// wsClient is one attached terminal viewer.
type wsClient struct {
	handlers  *Handlers
	conn      *websocket.Conn
	sessionID string

	// replayed counts scrollback bytes the client has received (or, for
	// dropped frames, been told about), so reattachment after suspension
	// resumes where the stream left off.
	replayed int

	lastStatus string
}

func (cl *wsClient) run(ctx context.Context, cancel context.CancelFunc, status string) {
	h := cl.handlers
	id := cl.sessionID

	// Inbound frames route through the manager, which resolves the live
	// process on every call; the reader survives reattach cycles.
	go cl.readLoop(ctx, cancel)
	go cl.pingLoop(ctx)

	if err := cl.sendStatus(ctx, status); err != nil {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		live := h.mux.Get(id)
		if live != nil && !live.Ended() {
			if !cl.streamLive(ctx, live) {
				return
			}
			continue
		}

		// No live process: replay whatever scrollback is new, then wait
		// for reactivation or a terminal state change.
		if err := cl.replay(ctx, h.mux.SessionScrollback(id)); err != nil {
			return
		}
		if !cl.waitForChange(ctx) {
			return
		}
	}
}

// streamLive attaches to a live session instance and pumps its events until
// it ends or the socket dies. Returns false when the handler should exit.
func (cl *wsClient) streamLive(ctx context.Context, live *term.Session) bool {
	snapshot, sub := live.Subscribe()
	defer live.Unsubscribe(sub)

	if err := cl.sendStatus(ctx, db.SessionStatusActive); err != nil {
		return false
	}
	if err := cl.replay(ctx, snapshot); err != nil {
		return false
	}

	// Queued events drain before the cancellation is observed, so ending
	// the stream when the session ends cannot lose the exit frame.
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	go func() {
		select {
		case <-live.Done():
			cancelStream()
		case <-streamCtx.Done():
		}
	}()

	transportLost := false
	for {
		ev, ok := sub.Next(streamCtx)
		if !ok {
			return ctx.Err() == nil
		}
		switch ev.Type {
		case term.EventData:
			cl.replayed += len(ev.Data)
			if err := cl.conn.Write(ctx, websocket.MessageBinary, ev.Data); err != nil {
				return false
			}

		case term.EventDroppedOutput:
			// The bytes were shed, but they are in the scrollback; keep
			// the offset aligned so reattach does not replay stale data.
			cl.replayed += ev.DroppedBytes
			if err := cl.sendJSON(ctx, gin.H{
				"type":         "dropped_output",
				"sessionId":    cl.sessionID,
				"droppedBytes": ev.DroppedBytes,
			}); err != nil {
				return false
			}

		case term.EventConnectionLost:
			transportLost = true
			if err := cl.sendEvent(ctx, "connection_lost", nil); err != nil {
				return false
			}

		case term.EventConnectionRestored:
			if err := cl.sendEvent(ctx, "connection_restored", nil); err != nil {
				return false
			}

		case term.EventNeedsInput:
			if err := cl.sendEvent(ctx, "needs_input", nil); err != nil {
				return false
			}

		case term.EventSessionIdle:
			if err := cl.sendEvent(ctx, "session_idle", nil); err != nil {
				return false
			}

		case term.EventPortDetected:
			if err := cl.sendEvent(ctx, "port_detected", gin.H{"port": ev.Port, "localPort": ev.LocalPort}); err != nil {
				return false
			}

		case term.EventPortClosed:
			if err := cl.sendEvent(ctx, "port_closed", gin.H{"port": ev.Port}); err != nil {
				return false
			}

		case term.EventBoardCommand:
			if ev.Command != nil {
				if err := cl.sendEvent(ctx, "board_command", gin.H{
					"action":  ev.Command.Action,
					"payload": ev.Command.Payload,
				}); err != nil {
					return false
				}
			}

		case term.EventExit:
			// The row flips asynchronously; derive the outcome from the
			// exit itself so the client learns immediately. The poll loop
			// reconciles with the store afterwards.
			status := db.SessionStatusFailed
			if !transportLost && (ev.Killed || ev.ExitCode == 0) {
				status = db.SessionStatusCompleted
			}
			if err := cl.sendStatus(ctx, status); err != nil {
				return false
			}
			return true
		}
	}
}

// replay sends the scrollback bytes the client has not seen, in bounded
// chunks.
func (cl *wsClient) replay(ctx context.Context, snapshot []byte) error {
	if cl.replayed > len(snapshot) {
		// Scrollback shrank (deleted and recreated out of band); resync.
		cl.replayed = len(snapshot)
		return nil
	}
	pending := snapshot[cl.replayed:]
	for len(pending) > 0 {
		n := len(pending)
		if n > wsChunkSize {
			n = wsChunkSize
		}
		if err := cl.conn.Write(ctx, websocket.MessageBinary, pending[:n]); err != nil {
			return err
		}
		cl.replayed += n
		pending = pending[n:]
	}
	return nil
}

// waitForChange polls while the session has no live process: a reactivation
// resumes streaming, a status change is forwarded, a deleted row ends the
// socket. Returns false when the handler should exit.
func (cl *wsClient) waitForChange(ctx context.Context) bool {
	h := cl.handlers
	ticker := time.NewTicker(wsRepollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		if live := h.mux.Get(cl.sessionID); live != nil && !live.Ended() {
			return true
		}

		sess, err := h.store.GetSession(cl.sessionID)
		if err != nil || sess == nil {
			cl.conn.Close(websocket.StatusNormalClosure, "session deleted")
			return false
		}
		if err := cl.sendStatus(ctx, sess.Status); err != nil {
			return false
		}
	}
}

func (cl *wsClient) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	h := cl.handlers
	for {
		msgType, msg, err := cl.conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusGoingAway ||
				closeStatus == websocket.StatusNormalClosure ||
				closeStatus == websocket.StatusNoStatusRcvd {
				log.Debug().Str("sessionId", cl.sessionID).Msg("terminal socket closed")
			} else if ctx.Err() == nil {
				log.Info().Err(err).Str("sessionId", cl.sessionID).Msg("terminal socket read error")
			}
			return
		}

		if msgType == websocket.MessageBinary {
			if err := h.sessions.RecordInput(cl.sessionID, msg); err != nil {
				log.Debug().Err(err).Str("sessionId", cl.sessionID).Msg("input dropped")
			}
			continue
		}

		var in wsInbound
		if err := json.Unmarshal(msg, &in); err != nil {
			continue
		}
		switch in.Type {
		case "resize":
			if in.Cols > 0 && in.Rows > 0 {
				if err := h.sessions.Resize(cl.sessionID, in.Cols, in.Rows); err != nil {
					log.Debug().Err(err).Str("sessionId", cl.sessionID).Msg("resize dropped")
				}
			}
		case "input":
			if in.Data != "" {
				if err := h.sessions.RecordInput(cl.sessionID, []byte(in.Data)); err != nil {
					log.Debug().Err(err).Str("sessionId", cl.sessionID).Msg("input dropped")
				}
			}
		case "kill":
			if err := h.sessions.Kill(cl.sessionID); err != nil {
				log.Warn().Err(err).Str("sessionId", cl.sessionID).Msg("kill over socket failed")
			}
		}
	}
}

func (cl *wsClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cl.conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

// sendStatus forwards a lifecycle change, deduplicating repeats.
func (cl *wsClient) sendStatus(ctx context.Context, status string) error {
	if status == cl.lastStatus {
		return nil
	}
	cl.lastStatus = status
	return cl.sendJSON(ctx, gin.H{
		"type":      "session_status",
		"sessionId": cl.sessionID,
		"status":    status,
	})
}

func (cl *wsClient) sendEvent(ctx context.Context, typ string, extra gin.H) error {
	frame := gin.H{"type": typ, "sessionId": cl.sessionID}
	for k, v := range extra {
		frame[k] = v
	}
	return cl.sendJSON(ctx, frame)
}

func (cl *wsClient) sendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return cl.conn.Write(ctx, websocket.MessageText, data)
}
