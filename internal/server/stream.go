package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mcpbridge/internal/session"
)

// Per-stream buffer sizes.
const (
	inboundBuffer      = 64
	outboundBuffer     = 64
	notificationBuffer = 16
)

// errStreamClosed is returned when a message is posted to a stream that is
// shutting down.
var errStreamClosed = errors.New("stream closed")

// stream bridges one event-stream or websocket connection to the protocol
// core. Inbound messages are queued on one channel and replies on another;
// a single supervisor goroutine owns the hand-off between them, so messages
// are processed and answered in arrival order.
//
// stream also implements mcpserver.ClientSession, which is how server
// notifications reach the connection.
type stream struct {
	sessionID string
	transport string
	handle    *session.Handle

	inbound       chan json.RawMessage
	outbound      chan []byte
	notifications chan mcp.JSONRPCNotification

	ctx    context.Context
	cancel context.CancelFunc

	// expired is closed when the session is gone. The supervisor stops
	// consuming inbound messages but the writer still drains outbound.
	expired    chan struct{}
	expireOnce sync.Once

	// done is closed when the supervisor has exited and outbound is closed.
	done chan struct{}

	initialized atomic.Bool
}

func newStream(parent context.Context, h *session.Handle, transport string) *stream {
	ctx, cancel := context.WithCancel(parent)
	return &stream{
		sessionID:     h.ID(),
		transport:     transport,
		handle:        h,
		inbound:       make(chan json.RawMessage, inboundBuffer),
		outbound:      make(chan []byte, outboundBuffer),
		notifications: make(chan mcp.JSONRPCNotification, notificationBuffer),
		ctx:           ctx,
		cancel:        cancel,
		expired:       make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// SessionID implements mcpserver.ClientSession.
func (s *stream) SessionID() string { return s.sessionID }

// Initialize implements mcpserver.ClientSession.
func (s *stream) Initialize() { s.initialized.Store(true) }

// Initialized implements mcpserver.ClientSession.
func (s *stream) Initialized() bool { return s.initialized.Load() }

// NotificationChannel implements mcpserver.ClientSession.
func (s *stream) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifications
}

// enqueue hands an inbound message to the supervisor. It blocks while the
// inbound queue is full.
func (s *stream) enqueue(ctx context.Context, msg json.RawMessage) error {
	select {
	case <-s.expired:
		return errStreamClosed
	case <-s.ctx.Done():
		return errStreamClosed
	default:
	}

	select {
	case s.inbound <- msg:
		return nil
	case <-s.expired:
		return errStreamClosed
	case <-s.ctx.Done():
		return errStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send queues an outbound frame. It gives up once the stream is cancelled.
func (s *stream) send(data []byte) bool {
	select {
	case s.outbound <- data:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// expire marks the session as gone. Safe to call more than once.
func (s *stream) expire() {
	s.expireOnce.Do(func() { close(s.expired) })
}

// close cancels the stream and waits for the supervisor to exit.
func (s *stream) close() {
	s.cancel()
	<-s.done
}

// registry tracks the active stream of each session. A session has at most
// one active stream; attaching a new one replaces the previous.
type registry struct {
	mu      sync.Mutex
	streams map[string]*stream
}

func newRegistry() *registry {
	return &registry{streams: make(map[string]*stream)}
}

// attach makes s the active stream of its session and returns the stream it
// replaced, if any. onSwap runs under the registry lock.
func (r *registry) attach(s *stream, onSwap func(prev *stream)) *stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.streams[s.sessionID]
	r.streams[s.sessionID] = s
	if onSwap != nil {
		onSwap(prev)
	}
	return prev
}

// detach removes s if it is still the active stream of its session.
// onDetach runs under the registry lock and only when s was removed.
func (r *registry) detach(s *stream, onDetach func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.streams[s.sessionID] != s {
		return false
	}
	delete(r.streams, s.sessionID)
	if onDetach != nil {
		onDetach()
	}
	return true
}

func (r *registry) get(sessionID string) (*stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[sessionID]
	return s, ok
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// snapshot returns the active streams.
func (r *registry) snapshot() []*stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}
