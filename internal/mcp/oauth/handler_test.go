package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mcpbridge/internal/store"
	"github.com/teemow/mcpbridge/internal/upstream"
)

type handlerEnv struct {
	*testEnv
	handler *Handler
	mux     *http.ServeMux
}

func newHandlerEnv(t *testing.T, mutate ...func(*Config)) *handlerEnv {
	t.Helper()
	env := newTestEnv(t, mutate...)
	h := NewHandler(env.server)
	t.Cleanup(h.Stop)

	mux := http.NewServeMux()
	h.Register(mux)
	return &handlerEnv{testEnv: env, handler: h, mux: mux}
}

func (e *handlerEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *handlerEnv) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

func (e *handlerEnv) get(path string, query url.Values) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path+"?"+query.Encode(), nil))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func (e *handlerEnv) authorizeJSON(t *testing.T, form url.Values) AuthorizeResult {
	t.Helper()
	rec := e.postForm(PathAuthorize, form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res AuthorizeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestHandler_AuthorizeJSON(t *testing.T) {
	env := newHandlerEnv(t)
	sid := env.newSession(t)
	_, challenge := newPKCE(t)

	res := env.authorizeJSON(t, url.Values{
		"session_id":     {sid},
		"code_challenge": {challenge},
		"redirect_uri":   {testRedirectURI},
		"state":          {"abc"},
	})
	assert.NotEmpty(t, res.Code)
	assert.Equal(t, sid, res.SessionID)
	assert.Equal(t, "abc", res.State)
	assert.Contains(t, res.RedirectURL, "code="+res.Code)
}

func TestHandler_AuthorizeJSONBody(t *testing.T) {
	env := newHandlerEnv(t)
	sid := env.newSession(t)
	_, challenge := newPKCE(t)

	body, err := json.Marshal(map[string]string{
		"session_id":     sid,
		"code_challenge": challenge,
		"redirect_uri":   testRedirectURI,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, PathAuthorize, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestHandler_AuthorizeCreatesSession(t *testing.T) {
	env := newHandlerEnv(t)
	_, challenge := newPKCE(t)

	res := env.authorizeJSON(t, url.Values{
		"code_challenge": {challenge},
		"redirect_uri":   {testRedirectURI},
	})
	require.NotEmpty(t, res.SessionID)

	ok, err := env.sessions.Exists(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandler_AuthorizeGETRedirectsToClient(t *testing.T) {
	env := newHandlerEnv(t)
	_, challenge := newPKCE(t)

	rec := env.get(PathAuthorize, url.Values{
		"response_type":  {"code"},
		"code_challenge": {challenge},
		"redirect_uri":   {testRedirectURI},
		"state":          {"s1"},
	})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "localhost:3000", loc.Host)
	assert.NotEmpty(t, loc.Query().Get("code"))
	assert.Equal(t, "s1", loc.Query().Get("state"))
}

func TestHandler_AuthorizeRejectsBeforeCreatingSession(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{"missing challenge", url.Values{"redirect_uri": {testRedirectURI}}, "invalid_request"},
		{"plain method", url.Values{"redirect_uri": {testRedirectURI}, "code_challenge": {strings.Repeat("a", 43)}, "code_challenge_method": {"plain"}}, "invalid_request"},
		{"remote http redirect", url.Values{"redirect_uri": {"http://evil.example/cb"}, "code_challenge": {strings.Repeat("a", 43)}}, "invalid_request"},
		{"token response type", url.Values{"response_type": {"token"}}, "unsupported_response_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHandlerEnv(t)
			rec := env.postForm(PathAuthorize, tt.form)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decodeError(t, rec).Error)
			assert.Equal(t, 0, env.mem.Len())
		})
	}
}

func TestHandler_AuthorizeMethodNotAllowed(t *testing.T) {
	env := newHandlerEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodDelete, PathAuthorize, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_TokenFlow(t *testing.T) {
	env := newHandlerEnv(t)
	sid := env.newSession(t)
	verifier, challenge := newPKCE(t)
	res := env.authorizeJSON(t, url.Values{
		"session_id":     {sid},
		"code_challenge": {challenge},
		"redirect_uri":   {testRedirectURI},
	})

	form := url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {res.Code},
		"code_verifier": {verifier},
		"redirect_uri":  {testRedirectURI},
	}
	rec := env.postForm(PathToken, form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var tok TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.Equal(t, TokenTypeBearer, tok.TokenType)
	assert.NotEmpty(t, tok.AccessToken)

	claims, err := env.tokens.Verify(context.Background(), tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sid, claims.SessionID)

	rec = env.postForm(PathToken, form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeError(t, rec).Error)
}

func TestHandler_TokenErrors(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.postForm(PathToken, url.Values{"grant_type": {"refresh_token"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_grant_type", decodeError(t, rec).Error)

	rec = env.postForm(PathToken, url.Values{"grant_type": {GrantTypeAuthorizationCode}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Error)

	rec = env.do(httptest.NewRequest(http.MethodGet, PathToken, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func (e *handlerEnv) issueToken(t *testing.T) (tok, sessionID string) {
	t.Helper()
	sessionID = e.newSession(t)
	verifier, challenge := newPKCE(t)
	res := e.authorize(t, sessionID, challenge)
	resp, err := e.server.Exchange(context.Background(), ExchangeRequest{Code: res.Code, CodeVerifier: verifier})
	require.NoError(t, err)
	return resp.AccessToken, sessionID
}

func TestHandler_Revoke(t *testing.T) {
	env := newHandlerEnv(t)
	tok, _ := env.issueToken(t)

	rec := env.postForm(PathRevoke, url.Values{"token": {tok}})
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := env.tokens.Verify(context.Background(), tok)
	assert.Error(t, err)

	// repeated and unknown tokens look the same
	assert.Equal(t, http.StatusOK, env.postForm(PathRevoke, url.Values{"token": {tok}}).Code)
	assert.Equal(t, http.StatusOK, env.postForm(PathRevoke, url.Values{"token": {"garbage"}}).Code)

	rec = env.postForm(PathRevoke, url.Values{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Error)
}

func TestHandler_Register(t *testing.T) {
	env := newHandlerEnv(t)
	rec := env.postForm(PathRegister, url.Values{"client_name": {"x"}})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, CodeRegistrationNotSupported, decodeError(t, rec).Error)
}

func TestHandler_Metadata(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.get(PathAuthorizationServerMeta, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var as AuthorizationServerMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &as))
	assert.Equal(t, testBaseURL, as.Issuer)
	assert.Equal(t, testBaseURL+PathAuthorize, as.AuthorizationEndpoint)
	assert.Equal(t, testBaseURL+PathToken, as.TokenEndpoint)
	assert.Equal(t, []string{"S256"}, as.CodeChallengeMethodsSupported)
	assert.Equal(t, []string{"none"}, as.TokenEndpointAuthMethodsSupported)

	rec = env.get(PathProtectedResourceMeta, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pr ProtectedResourceMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pr))
	assert.Equal(t, testBaseURL, pr.Resource)
	assert.Equal(t, []string{testBaseURL}, pr.AuthorizationServers)
}

func TestHandler_RedirectDirectCredentials(t *testing.T) {
	env := newHandlerEnv(t)
	ctx := context.Background()
	_, challenge := newPKCE(t)
	res := env.authorizeJSON(t, url.Values{
		"code_challenge": {challenge},
		"redirect_uri":   {testRedirectURI},
	})

	rec := env.get(PathRedirect, url.Values{
		"state":         {res.LoginState},
		"access_token":  {"upstream-access"},
		"refresh_token": {"upstream-refresh"},
		"expires_in":    {"3600"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, RedirectSuccessMessage, body["message"])

	sess, err := env.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	require.True(t, sess.Authenticated())
	creds, err := upstream.DecodeCredentials(sess.Credentials)
	require.NoError(t, err)
	assert.Equal(t, "upstream-access", creds.AccessToken)
	assert.Equal(t, "upstream-refresh", creds.RefreshToken)
	assert.False(t, creds.Expiry.IsZero())

	// login states are single use
	rec = env.get(PathRedirect, url.Values{"state": {res.LoginState}, "access_token": {"again"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_RedirectForwardsBrowser(t *testing.T) {
	env := newHandlerEnv(t)
	sid := env.newSession(t)
	_, challenge := newPKCE(t)
	res, err := env.server.Authorize(context.Background(), AuthorizeRequest{
		CodeChallenge:     challenge,
		RedirectURI:       testRedirectURI,
		SessionID:         sid,
		ForwardAfterLogin: true,
	})
	require.NoError(t, err)

	rec := env.get(PathRedirect, url.Values{"state": {res.LoginState}, "access_token": {"a"}})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, res.RedirectURL, rec.Header().Get("Location"))
}

func TestHandler_RedirectErrors(t *testing.T) {
	env := newHandlerEnv(t)
	_, challenge := newPKCE(t)
	newState := func() string {
		return env.authorizeJSON(t, url.Values{
			"code_challenge": {challenge},
			"redirect_uri":   {testRedirectURI},
		}).LoginState
	}

	rec := env.get(PathRedirect, url.Values{"access_token": {"a"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.get(PathRedirect, url.Values{"state": {"unknown"}, "access_token": {"a"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.get(PathRedirect, url.Values{"state": {newState()}, "error": {"access_denied"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access_denied", decodeError(t, rec).Error)

	rec = env.get(PathRedirect, url.Values{"state": {newState()}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.get(PathRedirect, url.Values{"state": {newState()}, "access_token": {"a"}, "expires_in": {"soon"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_RedirectUnknownSession(t *testing.T) {
	env := newHandlerEnv(t)
	_, challenge := newPKCE(t)
	res := env.authorizeJSON(t, url.Values{
		"code_challenge": {challenge},
		"redirect_uri":   {testRedirectURI},
	})
	require.NoError(t, env.sessions.Destroy(context.Background(), res.SessionID))

	rec := env.get(PathRedirect, url.Values{"state": {res.LoginState}, "access_token": {"a"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeSessionNotFound, decodeError(t, rec).Error)
}

func TestHandler_UpstreamLogin(t *testing.T) {
	var gotVerifier string
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		if r.Form.Get("code") != "provider-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		gotVerifier = r.Form.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"up-token","token_type":"Bearer","refresh_token":"up-refresh","expires_in":3600}`))
	}))
	t.Cleanup(provider.Close)

	env := newHandlerEnv(t)
	up, err := NewUpstream(context.Background(), UpstreamConfig{
		ClientID:    "bridge",
		AuthURL:     provider.URL + "/auth",
		TokenURL:    provider.URL + "/token",
		Scopes:      []string{"profile"},
		RedirectURL: testBaseURL + PathRedirect,
	}, provider.Client())
	require.NoError(t, err)
	srv, err := NewServer(env.server.Config(), env.flaky, env.sessions, env.tokens, up)
	require.NoError(t, err)
	env.server = srv
	env.handler = NewHandler(srv)
	env.mux = http.NewServeMux()
	env.handler.Register(env.mux)

	_, challenge := newPKCE(t)
	rec := env.get(PathAuthorize, url.Values{
		"code_challenge": {challenge},
		"redirect_uri":   {testRedirectURI},
	})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	login, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/auth", login.Path)
	assert.Equal(t, "bridge", login.Query().Get("client_id"))
	assert.Equal(t, "S256", login.Query().Get("code_challenge_method"))
	state := login.Query().Get("state")
	require.NotEmpty(t, state)

	data, err := env.mem.Get(context.Background(), store.LoginStateKey(state))
	require.NoError(t, err)
	var ls LoginState
	require.NoError(t, json.Unmarshal(data, &ls))
	require.NotEmpty(t, ls.CodeVerifier)

	rec = env.get(PathRedirect, url.Values{"state": {state}, "code": {"provider-code"}})
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, ls.ClientRedirect, rec.Header().Get("Location"))
	assert.Equal(t, ls.CodeVerifier, gotVerifier)

	sess, err := env.sessions.Get(context.Background(), ls.SessionID)
	require.NoError(t, err)
	creds, err := upstream.DecodeCredentials(sess.Credentials)
	require.NoError(t, err)
	assert.Equal(t, "up-token", creds.AccessToken)
	assert.Equal(t, "up-refresh", creds.RefreshToken)
}

func TestHandler_UpstreamLoginFailure(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	t.Cleanup(provider.Close)

	env := newHandlerEnv(t)
	up, err := NewUpstream(context.Background(), UpstreamConfig{
		ClientID: "bridge",
		AuthURL:  provider.URL + "/auth",
		TokenURL: provider.URL + "/token",
	}, provider.Client())
	require.NoError(t, err)
	srv, err := NewServer(env.server.Config(), env.flaky, env.sessions, env.tokens, up)
	require.NoError(t, err)
	h := NewHandler(srv)
	mux := http.NewServeMux()
	h.Register(mux)

	sid := env.newSession(t)
	_, challenge := newPKCE(t)
	res, err := srv.Authorize(context.Background(), AuthorizeRequest{
		CodeChallenge: challenge,
		RedirectURI:   testRedirectURI,
		SessionID:     sid,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathRedirect+"?state="+res.LoginState+"&code=bad", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	sess, err := env.sessions.Get(context.Background(), sid)
	require.NoError(t, err)
	assert.False(t, sess.Authenticated())
}

func TestNewUpstream_Validation(t *testing.T) {
	_, err := NewUpstream(context.Background(), UpstreamConfig{}, nil)
	assert.Error(t, err)

	_, err = NewUpstream(context.Background(), UpstreamConfig{ClientID: "c"}, nil)
	assert.Error(t, err)
}
