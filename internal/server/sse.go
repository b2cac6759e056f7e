package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/logging"
	"github.com/teemow/mcpbridge/internal/mcp/oauth"
	"github.com/teemow/mcpbridge/internal/session"
)

// ServeSSE opens an event stream for a session. Without session_id a new
// session is created. The first event names the endpoint the client posts
// its messages to.
func (b *Bridge) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	h, err := b.resolveSession(ctx, r.URL.Query().Get("session_id"))
	if err != nil {
		b.oauth.WriteError(w, err)
		return
	}

	st := b.openStream(ctx, h, instrumentation.TransportSSE)
	defer b.closeStream(st)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	endpoint := PathMessages + "?session_id=" + url.QueryEscape(st.sessionID)
	if err := writeEvent(w, "endpoint", []byte(endpoint)); err != nil {
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(b.heartbeat)
	defer keepalive.Stop()

	for {
		select {
		case data, ok := <-st.outbound:
			if !ok {
				return
			}
			if err := writeEvent(w, "message", data); err != nil {
				b.logger.Debug("event stream write failed", logging.SessionHash(st.sessionID), logging.Err(err))
				st.cancel()
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				st.cancel()
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, event string, data []byte) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// ServeMessages accepts one protocol message for an open event stream. The
// reply is delivered on the stream, not in this response.
func (b *Bridge) ServeMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("session_id")
	if id == "" {
		b.oauth.WriteError(w, oauth.ErrInvalidRequest("session_id is required"))
		return
	}
	st, ok := b.streams.get(id)
	if !ok {
		b.oauth.WriteError(w, oauth.ErrSessionNotFound("No open stream for this session"))
		return
	}

	ctx := r.Context()
	if _, err := st.handle.Refresh(ctx); err != nil {
		b.recordSession(ctx, instrumentation.OperationTouch, err)
		if errors.Is(err, session.ErrNotFound) {
			st.expire()
		}
		b.oauth.WriteError(w, err)
		return
	}
	b.recordSession(ctx, instrumentation.OperationTouch, nil)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil || !json.Valid(body) {
		b.oauth.WriteError(w, oauth.ErrInvalidRequest("Request body must be a JSON-RPC message"))
		return
	}

	if err := st.enqueue(ctx, body); err != nil {
		if errors.Is(err, errStreamClosed) {
			b.oauth.WriteError(w, oauth.ErrSessionNotFound("The stream for this session is closed"))
			return
		}
		b.oauth.WriteError(w, err)
		return
	}
	b.metrics.RecordStreamMessage(ctx, st.transport, instrumentation.DirectionInbound)

	w.WriteHeader(http.StatusAccepted)
	_, _ = io.WriteString(w, "Accepted")
}
