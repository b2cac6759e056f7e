package server

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/session"
)

const wsWriteTimeout = 10 * time.Second

// checkOrigin accepts requests without an Origin header and, when an allow
// list is configured, only the origins on it.
func (b *Bridge) checkOrigin(r *http.Request) bool {
	if len(b.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(b.origins, origin)
}

// pongWait is how long a websocket may stay silent before it is dropped.
func (b *Bridge) pongWait() time.Duration {
	return 2*b.heartbeat + wsWriteTimeout
}

// ServeWebSocket upgrades the request and carries protocol messages as text
// frames in both directions. The session is resolved before the upgrade so
// an unknown session_id is answered with a plain HTTP error.
func (b *Bridge) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h, err := b.resolveSession(ctx, r.URL.Query().Get("session_id"))
	if err != nil {
		b.oauth.WriteError(w, err)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: b.checkOrigin}
	header := http.Header{}
	header.Set(mcpserver.HeaderKeySessionID, h.ID())

	conn, err := upgrader.Upgrade(w, r, header)
	if err != nil {
		// the upgrader has already replied
		b.logger.Debug("websocket upgrade failed", logging.SessionHash(h.ID()), logging.Err(err))
		return
	}
	defer conn.Close()

	st := b.openStream(ctx, h, instrumentation.TransportWebSocket)
	defer b.closeStream(st)

	go b.readWebSocket(conn, st)
	b.writeWebSocket(conn, st)
}

// readWebSocket queues every received frame. It cancels the stream when the
// connection ends.
func (b *Bridge) readWebSocket(conn *websocket.Conn, st *stream) {
	defer st.cancel()

	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(b.pongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.pongWait()))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("websocket read failed", logging.SessionHash(st.sessionID), logging.Err(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(b.pongWait()))

		if _, err := st.handle.Refresh(st.ctx); err != nil {
			b.recordSession(st.ctx, instrumentation.OperationTouch, err)
			if errors.Is(err, session.ErrNotFound) {
				st.expire()
				return
			}
			b.logger.Warn("session refresh failed", logging.SessionHash(st.sessionID), logging.Err(err))
		} else {
			b.recordSession(st.ctx, instrumentation.OperationTouch, nil)
		}

		if err := st.enqueue(st.ctx, data); err != nil {
			return
		}
		b.metrics.RecordStreamMessage(st.ctx, st.transport, instrumentation.DirectionInbound)
	}
}

// writeWebSocket writes queued frames until outbound is closed, then sends a
// close frame.
func (b *Bridge) writeWebSocket(conn *websocket.Conn, st *stream) {
	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	for {
		select {
		case data, ok := <-st.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				code, text := websocket.CloseGoingAway, "stream closed"
				select {
				case <-st.expired:
					code, text = websocket.ClosePolicyViolation, "session expired"
				default:
				}
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.logger.Debug("websocket write failed", logging.SessionHash(st.sessionID), logging.Err(err))
				st.cancel()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				b.logger.Debug("websocket ping failed", logging.SessionHash(st.sessionID), logging.Err(err))
				st.cancel()
				return
			}
		}
	}
}
