package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/teemow/mcpbridge/internal/instrumentation"
	"github.com/teemow/mcpbridge/internal/mcp/oauth"
	"github.com/teemow/mcpbridge/internal/session"
	"github.com/teemow/mcpbridge/internal/store"
	"github.com/teemow/mcpbridge/internal/token"
)

const testBaseURL = "http://localhost:6901"

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestContext(t *testing.T) *ServerContext {
	t.Helper()
	return newTestContextWithStore(t, store.NewMemoryStore())
}

func newTestContextWithStore(t *testing.T, st store.Store) *ServerContext {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metrics, err := instrumentation.NewMetrics(mp.Meter("test"), false)
	require.NoError(t, err)

	logger := discardLogger()
	sc := NewServerContext(context.Background(), ServerContextConfig{
		Sessions: session.NewManager(st, session.Config{Logger: logger}),
		Metrics:  metrics,
		Logger:   logger,
	})
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

type bridgeEnv struct {
	mem      store.Store
	sc       *ServerContext
	sessions *session.Manager
	tokens   *token.Service
	bridge   *Bridge
	srv      *httptest.Server
}

// newMCPServer returns a protocol core with tools that report what the
// transport attached to the request context.
func newMCPServer() *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("test", "1.0.0", mcpserver.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool("whoami"), func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		h, ok := session.FromContext(ctx)
		if !ok {
			return mcp.NewToolResultError("no session"), nil
		}
		return mcp.NewToolResultText(h.ID() + "|" + TransportFromContext(ctx)), nil
	})
	s.AddTool(mcp.NewTool("notify"), func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		srv := mcpserver.ServerFromContext(ctx)
		if err := srv.SendNotificationToClient(ctx, "notifications/message", map[string]any{"level": "info", "data": "hello"}); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("sent"), nil
	})
	return s
}

func newBridgeEnv(t *testing.T, mutate ...func(*Config)) *bridgeEnv {
	t.Helper()

	mem := store.NewMemoryStore()
	sc := newTestContextWithStore(t, mem)
	sessions := sc.Sessions()

	tokens, err := token.NewService(mem, sessions, token.Config{
		SigningKey: testSigningKey,
		Issuer:     testBaseURL,
		Audience:   testBaseURL,
		Logger:     sc.Logger(),
	})
	require.NoError(t, err)

	authz, err := oauth.NewServer(oauth.Config{BaseURL: testBaseURL, Logger: sc.Logger()},
		mem, sessions, tokens, nil)
	require.NoError(t, err)
	oauthHandler := oauth.NewHandler(authz)
	t.Cleanup(oauthHandler.Stop)

	cfg := Config{
		MCPServer:         newMCPServer(),
		OAuth:             oauthHandler,
		Context:           sc,
		Health:            NewHealthChecker(sc, nil, "test"),
		HeartbeatInterval: 50 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	b, err := New(cfg)
	require.NoError(t, err)
	cfg.Health.SetStreamCounter(b)

	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	return &bridgeEnv{mem: mem, sc: sc, sessions: sessions, tokens: tokens, bridge: b, srv: srv}
}

func (e *bridgeEnv) newSession(t *testing.T) string {
	t.Helper()
	id, err := e.sessions.Create(context.Background())
	require.NoError(t, err)
	return id
}

var testClient = &http.Client{Timeout: 10 * time.Second}

type sseClient struct {
	resp     *http.Response
	reader   *bufio.Reader
	endpoint string
	id       string
}

func (e *bridgeEnv) openSSE(t *testing.T, sessionID string) *sseClient {
	t.Helper()

	u := e.srv.URL + PathSSE
	if sessionID != "" {
		u += "?session_id=" + url.QueryEscape(sessionID)
	}
	resp, err := testClient.Get(u)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	c := &sseClient{resp: resp, reader: bufio.NewReader(resp.Body)}
	event, data, err := c.next()
	require.NoError(t, err)
	require.Equal(t, "endpoint", event)

	ep, err := url.Parse(data)
	require.NoError(t, err)
	require.Equal(t, PathMessages, ep.Path)
	c.endpoint = data
	c.id = ep.Query().Get("session_id")
	return c
}

// next returns the next event, skipping keep-alive comments.
func (c *sseClient) next() (event, data string, err error) {
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return "", "", err
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data, nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

// drain reads until the stream ends.
func (c *sseClient) drain() error {
	for {
		if _, _, err := c.next(); err != nil {
			return err
		}
	}
}

func (e *bridgeEnv) post(t *testing.T, endpoint, body string) *http.Response {
	t.Helper()
	resp, err := testClient.Post(e.srv.URL+endpoint, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type rpcResponse struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r rpcResponse) text() string {
	if len(r.Result.Content) == 0 {
		return ""
	}
	return r.Result.Content[0].Text
}

func decodeRPC(t *testing.T, data []byte) rpcResponse {
	t.Helper()
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(data, &resp), string(data))
	return resp
}

func toolCall(id int, name string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":%q,"arguments":{}}}`, id, name)
}

func decodeOAuthError(t *testing.T, resp *http.Response) oauth.ErrorResponse {
	t.Helper()
	var e oauth.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{MCPServer: newMCPServer()})
	assert.Error(t, err)
}

func TestSSE_CreatesSessionAndAnnouncesEndpoint(t *testing.T) {
	env := newBridgeEnv(t)

	c := env.openSSE(t, "")
	require.NotEmpty(t, c.id)

	exists, err := env.sessions.Exists(context.Background(), c.id)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1, env.bridge.ActiveStreams())
}

func TestSSE_ResumesExistingSession(t *testing.T) {
	env := newBridgeEnv(t)
	sid := env.newSession(t)

	c := env.openSSE(t, sid)
	assert.Equal(t, sid, c.id)
}

func TestSSE_UnknownSession(t *testing.T) {
	env := newBridgeEnv(t)

	resp, err := testClient.Get(env.srv.URL + PathSSE + "?session_id=does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, oauth.CodeSessionNotFound, decodeOAuthError(t, resp).Error)
	assert.Equal(t, 0, env.bridge.ActiveStreams())
}

func TestSSE_MethodNotAllowed(t *testing.T) {
	env := newBridgeEnv(t)

	resp := env.post(t, PathSSE, "{}")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSSE_RepliesInArrivalOrder(t *testing.T) {
	env := newBridgeEnv(t)
	c := env.openSSE(t, "")

	for i := 1; i <= 5; i++ {
		resp := env.post(t, c.endpoint, toolCall(i, "whoami"))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	for i := 1; i <= 5; i++ {
		event, data, err := c.next()
		require.NoError(t, err)
		require.Equal(t, "message", event)

		reply := decodeRPC(t, []byte(data))
		assert.Equal(t, i, reply.ID)
		assert.Equal(t, c.id+"|"+instrumentation.TransportSSE, reply.text())
	}
}

func TestMessages_Status(t *testing.T) {
	env := newBridgeEnv(t)
	c := env.openSSE(t, "")
	idle := env.newSession(t)

	tests := []struct {
		name     string
		method   string
		endpoint string
		body     string
		want     int
		wantCode string
	}{
		{
			name:     "wrong method",
			method:   http.MethodGet,
			endpoint: c.endpoint,
			want:     http.StatusMethodNotAllowed,
		},
		{
			name:     "missing session id",
			method:   http.MethodPost,
			endpoint: PathMessages,
			body:     toolCall(1, "whoami"),
			want:     http.StatusBadRequest,
			wantCode: "invalid_request",
		},
		{
			name:     "unknown session",
			method:   http.MethodPost,
			endpoint: PathMessages + "?session_id=nope",
			body:     toolCall(1, "whoami"),
			want:     http.StatusNotFound,
			wantCode: oauth.CodeSessionNotFound,
		},
		{
			name:     "session without stream",
			method:   http.MethodPost,
			endpoint: PathMessages + "?session_id=" + idle,
			body:     toolCall(1, "whoami"),
			want:     http.StatusNotFound,
			wantCode: oauth.CodeSessionNotFound,
		},
		{
			name:     "invalid json",
			method:   http.MethodPost,
			endpoint: c.endpoint,
			body:     "{not json",
			want:     http.StatusBadRequest,
			wantCode: "invalid_request",
		},
		{
			name:     "accepted",
			method:   http.MethodPost,
			endpoint: c.endpoint,
			body:     toolCall(1, "whoami"),
			want:     http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, env.srv.URL+tt.endpoint, strings.NewReader(tt.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")

			resp, err := testClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeOAuthError(t, resp).Error)
			}
		})
	}
}

func TestSSE_SessionDestroyedClosesStream(t *testing.T) {
	env := newBridgeEnv(t)
	c := env.openSSE(t, "")

	require.NoError(t, env.sessions.Destroy(context.Background(), c.id))

	assert.ErrorIs(t, c.drain(), io.EOF)

	resp := env.post(t, c.endpoint, toolCall(1, "whoami"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Eventually(t, func() bool { return env.bridge.ActiveStreams() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestSSE_QueuedMessagesFlushedWhenSessionEnds(t *testing.T) {
	tests := []struct {
		name string
		end  func(t *testing.T, env *bridgeEnv, id string)
	}{
		{
			name: "destroyed",
			end: func(t *testing.T, env *bridgeEnv, id string) {
				require.NoError(t, env.sessions.Destroy(context.Background(), id))
			},
		},
		{
			name: "expired",
			end: func(t *testing.T, env *bridgeEnv, id string) {
				require.NoError(t, env.mem.Delete(context.Background(), store.SessionKey(id)))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newBridgeEnv(t)
			c := env.openSSE(t, "")

			st, ok := env.bridge.streams.get(c.id)
			require.True(t, ok)

			var want []string
			for i := range 5 {
				frame := fmt.Sprintf(`{"jsonrpc":"2.0","method":"notifications/message","params":{"seq":%d}}`, i)
				require.True(t, st.send([]byte(frame)))
				want = append(want, frame)
			}

			tt.end(t, env, c.id)

			var got []string
			for {
				event, data, err := c.next()
				if err != nil {
					require.ErrorIs(t, err, io.EOF)
					break
				}
				assert.Equal(t, "message", event)
				got = append(got, data)
			}
			assert.Equal(t, want, got)

			select {
			case <-st.expired:
			default:
				t.Fatal("stream ended without its session being marked gone")
			}
			assert.Eventually(t, func() bool { return env.bridge.ActiveStreams() == 0 },
				2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestSSE_DisconnectReleasesStream(t *testing.T) {
	env := newBridgeEnv(t)
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	t.Cleanup(client.CloseIdleConnections)

	connect := func() {
		ctx, cancel := context.WithCancel(context.Background())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+PathSSE, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)

		c := &sseClient{resp: resp, reader: bufio.NewReader(resp.Body)}
		event, data, err := c.next()
		require.NoError(t, err)
		require.Equal(t, "endpoint", event)
		ep, err := url.Parse(data)
		require.NoError(t, err)

		st, ok := env.bridge.streams.get(ep.Query().Get("session_id"))
		require.True(t, ok)

		cancel()
		resp.Body.Close()

		select {
		case <-st.done:
		case <-time.After(2 * time.Second):
			t.Fatal("supervisor still running after disconnect")
		}
		_, open := <-st.outbound
		assert.False(t, open)
		assert.Eventually(t, func() bool {
			_, ok := env.bridge.streams.get(st.sessionID)
			return !ok
		}, 2*time.Second, 10*time.Millisecond)
	}

	connect()
	require.Eventually(t, func() bool { return env.bridge.ActiveStreams() == 0 },
		2*time.Second, 10*time.Millisecond)
	before := runtime.NumGoroutine()

	for range 20 {
		connect()
	}

	assert.Eventually(t, func() bool { return env.bridge.ActiveStreams() == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before+2 },
		5*time.Second, 20*time.Millisecond, "goroutines before: %d", before)
}

func TestWebSocket_DisconnectReleasesStream(t *testing.T) {
	env := newBridgeEnv(t)

	connect := func() {
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL(env, ""), nil)
		require.NoError(t, err)
		sid := resp.Header.Get(mcpserver.HeaderKeySessionID)
		require.NotEmpty(t, sid)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(toolCall(1, "whoami"))))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err = conn.ReadMessage()
		require.NoError(t, err)

		require.NoError(t, conn.Close())
		assert.Eventually(t, func() bool {
			_, ok := env.bridge.streams.get(sid)
			return !ok
		}, 2*time.Second, 10*time.Millisecond)
	}

	connect()
	before := runtime.NumGoroutine()

	for range 20 {
		connect()
	}

	assert.Equal(t, 0, env.bridge.ActiveStreams())
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before+2 },
		5*time.Second, 20*time.Millisecond, "goroutines before: %d", before)
}

func TestSSE_NewStreamReplacesPrevious(t *testing.T) {
	env := newBridgeEnv(t)
	first := env.openSSE(t, "")
	second := env.openSSE(t, first.id)

	assert.ErrorIs(t, first.drain(), io.EOF)
	assert.Equal(t, 1, env.bridge.ActiveStreams())

	resp := env.post(t, second.endpoint, toolCall(7, "whoami"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, data, err := second.next()
	require.NoError(t, err)
	assert.Equal(t, 7, decodeRPC(t, []byte(data)).ID)
}

func TestBridge_ShutdownClosesStreams(t *testing.T) {
	env := newBridgeEnv(t)
	c := env.openSSE(t, "")

	require.NoError(t, env.sc.Shutdown())

	assert.ErrorIs(t, c.drain(), io.EOF)
}

func wsURL(env *bridgeEnv, query string) string {
	u := "ws" + strings.TrimPrefix(env.srv.URL, "http") + PathWebSocket
	if query != "" {
		u += "?" + query
	}
	return u
}

func TestWebSocket_RoundTrip(t *testing.T) {
	env := newBridgeEnv(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(env, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	sid := resp.Header.Get(mcpserver.HeaderKeySessionID)
	require.NotEmpty(t, sid)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(toolCall(3, "whoami"))))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	reply := decodeRPC(t, data)
	assert.Equal(t, 3, reply.ID)
	assert.Equal(t, sid+"|"+instrumentation.TransportWebSocket, reply.text())
}

func TestWebSocket_ForwardsNotifications(t *testing.T) {
	env := newBridgeEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	// notifications need an initialized client session
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(initializeRequest)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Nil(t, decodeRPC(t, data).Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(toolCall(2, "notify"))))

	var methods []string
	var replied bool
	for range 2 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		msg := decodeRPC(t, data)
		if msg.Method != "" {
			methods = append(methods, msg.Method)
		} else {
			replied = msg.text() == "sent"
		}
	}
	assert.True(t, replied)
	assert.Equal(t, []string{"notifications/message"}, methods)
}

func TestWebSocket_SharesSessionWithSSE(t *testing.T) {
	env := newBridgeEnv(t)
	sid := env.newSession(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(env, "session_id="+sid), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, sid, resp.Header.Get(mcpserver.HeaderKeySessionID))
}

func TestWebSocket_UnknownSession(t *testing.T) {
	env := newBridgeEnv(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env, "session_id=nope"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_OriginPolicy(t *testing.T) {
	env := newBridgeEnv(t, func(c *Config) {
		c.AllowedOrigins = []string{"https://app.example.com"}
	})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env, ""), http.Header{"Origin": {"https://evil.example.com"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env, ""), http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocket_SessionDestroyedClosesConnection(t *testing.T) {
	env := newBridgeEnv(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(env, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	sid := resp.Header.Get(mcpserver.HeaderKeySessionID)
	require.NoError(t, env.sessions.Destroy(context.Background(), sid))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected error: %v", err)
}

func (e *bridgeEnv) postHTTP(t *testing.T, path, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := testClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTP_RequiresBearerToken(t *testing.T) {
	env := newBridgeEnv(t)

	resp := env.postHTTP(t, PathHTTP, toolCall(1, "whoami"), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
}

func TestHTTP_BearerTokenResolvesSession(t *testing.T) {
	env := newBridgeEnv(t)
	sid := env.newSession(t)

	issued, err := env.tokens.Issue(context.Background(), sid, []string{oauth.DefaultScope})
	require.NoError(t, err)

	resp := env.postHTTP(t, PathHTTP, toolCall(9, "whoami"), http.Header{
		"Authorization": {"Bearer " + issued.Token},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	reply := decodeRPC(t, body)
	assert.Equal(t, 9, reply.ID)
	assert.Equal(t, sid+"|"+instrumentation.TransportHTTP, reply.text())
}

func TestHTTP_SessionGoneRejectsToken(t *testing.T) {
	env := newBridgeEnv(t)
	sid := env.newSession(t)

	issued, err := env.tokens.Issue(context.Background(), sid, []string{oauth.DefaultScope})
	require.NoError(t, err)
	require.NoError(t, env.sessions.Destroy(context.Background(), sid))

	resp := env.postHTTP(t, PathHTTP, toolCall(1, "whoami"), http.Header{
		"Authorization": {"Bearer " + issued.Token},
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

const initializeRequest = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`

func TestStreamable_Lifecycle(t *testing.T) {
	env := newBridgeEnv(t)
	ctx := context.Background()

	resp := env.postHTTP(t, PathStreamable, initializeRequest, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sid := resp.Header.Get(mcpserver.HeaderKeySessionID)
	require.NotEmpty(t, sid)

	exists, err := env.sessions.Exists(ctx, sid)
	require.NoError(t, err)
	require.True(t, exists, "initialize must create a stored session")

	header := http.Header{mcpserver.HeaderKeySessionID: {sid}}
	resp = env.postHTTP(t, PathStreamable, toolCall(2, "whoami"), header)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, sid+"|"+instrumentation.TransportStreamable, decodeRPC(t, body).text())

	req, err := http.NewRequest(http.MethodDelete, env.srv.URL+PathStreamable, nil)
	require.NoError(t, err)
	req.Header.Set(mcpserver.HeaderKeySessionID, sid)
	del, err := testClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusOK, del.StatusCode)

	exists, err = env.sessions.Exists(ctx, sid)
	require.NoError(t, err)
	assert.False(t, exists)

	resp = env.postHTTP(t, PathStreamable, toolCall(3, "whoami"), header)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, oauth.CodeSessionNotFound, decodeOAuthError(t, resp).Error)
}

func TestStreamable_MissingSessionID(t *testing.T) {
	env := newBridgeEnv(t)

	resp := env.postHTTP(t, PathStreamable, toolCall(1, "whoami"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamable_SessionSharedWithSSE(t *testing.T) {
	env := newBridgeEnv(t)

	resp := env.postHTTP(t, PathStreamable, initializeRequest, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sid := resp.Header.Get(mcpserver.HeaderKeySessionID)

	c := env.openSSE(t, sid)
	assert.Equal(t, sid, c.id)
}

func TestHealthEndpoints(t *testing.T) {
	env := newBridgeEnv(t)

	resp, err := testClient.Get(env.srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info ServiceInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "Model Context Protocol", info.Service)
	assert.Equal(t, "test", info.Version)
	assert.Equal(t, "Service is Up and Running", info.Status)

	for path, want := range map[string]int{
		"/healthz":          http.StatusOK,
		"/readyz":           http.StatusOK,
		"/healthz/detailed": http.StatusOK,
		"/no-such-path":     http.StatusNotFound,
	} {
		r, err := testClient.Get(env.srv.URL + path)
		require.NoError(t, err)
		r.Body.Close()
		assert.Equal(t, want, r.StatusCode, path)
	}
}
