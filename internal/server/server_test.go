package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbaliyan/mailroom"
	"github.com/rbaliyan/mailroom/auth"
	"github.com/rbaliyan/mailroom/directory"
	"github.com/rbaliyan/mailroom/push"
	"github.com/rbaliyan/mailroom/resolver"
	"github.com/rbaliyan/mailroom/store/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv *Server
	svc mailroom.Service
	hub *push.Hub
}

func newTestEnv(t *testing.T, opts Options, svcOpts ...mailroom.Option) *testEnv {
	t.Helper()
	users := directory.NewMemory()
	tokens, err := auth.NewTokenIssuer("test-secret")
	require.NoError(t, err)
	authSvc := auth.NewService(users, tokens, nil)
	hub := push.NewHub()

	base := []mailroom.Option{
		mailroom.WithStore(memory.New()),
		mailroom.WithResolver(resolver.NewDirectory(users)),
		mailroom.WithPlugin(hub),
	}
	svc, err := mailroom.NewService(append(base, svcOpts...)...)
	require.NoError(t, err)
	require.NoError(t, svc.Connect(context.Background()))
	t.Cleanup(func() { svc.Close(context.Background()) })

	opts.Logger = zerolog.Nop()
	return &testEnv{srv: New(svc, authSvc, hub, opts), svc: svc, hub: hub}
}

// do sends a request and decodes the JSON response into out (if non-nil).
func (e *testEnv) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
	}
	return rec.Code
}

type account struct {
	ID    string
	Email string
	Token string
}

func (e *testEnv) signup(t *testing.T, name string) account {
	t.Helper()
	email := name + "@example.com"
	var u struct {
		ID       string `json:"id"`
		Password string `json:"password"`
	}
	code := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "username": name, "email": email, "password": "pw-" + name,
	}, &u)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, u.ID)

	var login struct {
		Token string `json:"token"`
	}
	code = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "pw-" + name,
	}, &login)
	require.Equal(t, http.StatusOK, code)
	return account{ID: u.ID, Email: email, Token: login.Token}
}

type apiMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	ThreadID  string `json:"threadId"`
	IsRead    bool   `json:"isRead"`
	IsDraft   bool   `json:"isDraft"`
	IsTrashed bool   `json:"isTrashed"`

	SenderInfo   *apiUser `json:"senderInfo"`
	ReceiverInfo *apiUser `json:"receiverInfo"`
}

type apiUser struct {
	ID       string `json:"_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type apiError struct {
	Message string `json:"message"`
}

func TestOpsEndpoints(t *testing.T) {
	e := newTestEnv(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Banner, rec.Body.String())

	var health map[string]string
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "", nil, &health))
	assert.Equal(t, "ok", health["status"])

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mailroom_http_requests_total")
	assert.Contains(t, rec.Body.String(), "mailroom_push_connections")
}

func TestAuthEndpoints(t *testing.T) {
	e := newTestEnv(t, Options{})

	var raw map[string]any
	code := e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Alice", "email": "alice@example.com", "password": "secret",
	}, &raw)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "alice@example.com", raw["email"])
	assert.NotContains(t, raw, "passwordHash")
	assert.NotContains(t, raw, "password")

	var apiErr apiError
	code = e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Alice", "email": "alice@example.com", "password": "secret",
	}, &apiErr)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "User already exists", apiErr.Message)

	code = e.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "x@example.com"}, &apiErr)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "All fields required", apiErr.Message)

	code = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong",
	}, &apiErr)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid credentials", apiErr.Message)

	var login struct {
		Token string `json:"token"`
	}
	code = e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "secret",
	}, &login)
	require.Equal(t, http.StatusOK, code)

	var me map[string]any
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/auth/me", login.Token, nil, &me))
	assert.Equal(t, "Alice", me["name"])

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/auth/me", "", nil, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/auth/me", "garbage", nil, &apiErr))
	assert.Equal(t, "Invalid or expired token", apiErr.Message)
}

func TestUserSearch(t *testing.T) {
	e := newTestEnv(t, Options{})
	alice := e.signup(t, "alice")
	e.signup(t, "bob")

	var users []map[string]string
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/users/search?q=BO", alice.Token, nil, &users))
	require.Len(t, users, 1)
	assert.Equal(t, "bob@example.com", users[0]["email"])
	assert.NotEmpty(t, users[0]["_id"])

	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/users/search", alice.Token, nil, &users))
	assert.Empty(t, users)
}

func TestMessageConversation(t *testing.T) {
	e := newTestEnv(t, Options{})
	alice, bob, carol := e.signup(t, "alice"), e.signup(t, "bob"), e.signup(t, "carol")

	var sent apiMessage
	code := e.do(t, http.MethodPost, "/api/messages/send", alice.Token, map[string]string{
		"receiver": bob.Email, "subject": "Hello", "body": "How are you?",
	}, &sent)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, alice.ID, sent.Sender)
	assert.Equal(t, bob.ID, sent.Receiver)
	assert.Equal(t, sent.ID, sent.ThreadID)

	var inbox struct {
		Messages   []apiMessage `json:"messages"`
		Page       int          `json:"page"`
		TotalPages int          `json:"totalPages"`
	}
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/messages/inbox?page=1&limit=10", bob.Token, nil, &inbox))
	require.Len(t, inbox.Messages, 1)
	assert.Equal(t, 1, inbox.Page)
	assert.Equal(t, 1, inbox.TotalPages)

	var read apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/messages/"+sent.ID+"/read", bob.Token, nil, &read))
	assert.True(t, read.IsRead)

	var reply apiMessage
	code = e.do(t, http.MethodPost, "/api/messages/"+sent.ID+"/reply", bob.Token, map[string]string{"body": "Fine"}, &reply)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Re: Hello", reply.Subject)
	assert.Equal(t, sent.ThreadID, reply.ThreadID)
	assert.Equal(t, alice.ID, reply.Receiver)

	var thread []apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/messages/thread/"+sent.ThreadID, alice.Token, nil, &thread))
	require.Len(t, thread, 2)
	assert.Equal(t, sent.ID, thread[0].ID)

	var fwd apiMessage
	code = e.do(t, http.MethodPost, "/api/messages/"+sent.ID+"/forward", bob.Token, map[string]string{"receiver": "carol"}, &fwd)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Fwd: Hello", fwd.Subject)
	assert.Equal(t, carol.ID, fwd.Receiver)

	var found []apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/messages/search/query?q=how", bob.Token, nil, &found))
	assert.Len(t, found, 1)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/messages/search/query", bob.Token, nil, &found))
	assert.Empty(t, found)

	var got apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/messages/"+sent.ID, alice.Token, nil, &got))
	assert.Equal(t, "Hello", got.Subject)

	var apiErr apiError
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/messages/"+sent.ID, carol.Token, nil, &apiErr))
	assert.Equal(t, "Message not found", apiErr.Message)
}

func TestMessageParticipants(t *testing.T) {
	e := newTestEnv(t, Options{})
	alice, bob := e.signup(t, "alice"), e.signup(t, "bob")

	var sent apiMessage
	code := e.do(t, http.MethodPost, "/api/messages/send", alice.Token, map[string]string{
		"receiver": bob.Email, "subject": "Hello", "body": "hi",
	}, &sent)
	require.Equal(t, http.StatusCreated, code)

	var inbox struct {
		Messages []apiMessage `json:"messages"`
		Limit    int          `json:"limit"`
	}
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/messages/inbox", bob.Token, nil, &inbox))
	require.Len(t, inbox.Messages, 1)
	assert.Equal(t, 10, inbox.Limit)
	got := inbox.Messages[0]
	assert.Equal(t, alice.ID, got.Sender)
	require.NotNil(t, got.SenderInfo)
	assert.Equal(t, apiUser{ID: alice.ID, Email: alice.Email, Username: "alice"}, *got.SenderInfo)
	require.NotNil(t, got.ReceiverInfo)
	assert.Equal(t, bob.Email, got.ReceiverInfo.Email)

	var one apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/messages/"+sent.ID, alice.Token, nil, &one))
	require.NotNil(t, one.SenderInfo)
	require.NotNil(t, one.ReceiverInfo)
	assert.Equal(t, alice.Email, one.SenderInfo.Email)
	assert.Equal(t, bob.Email, one.ReceiverInfo.Email)

	var thread []apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/messages/thread/"+sent.ThreadID, bob.Token, nil, &thread))
	require.Len(t, thread, 1)
	require.NotNil(t, thread[0].SenderInfo)
	assert.Equal(t, "alice", thread[0].SenderInfo.Username)

	var moved apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/messages/"+sent.ID+"/trash", bob.Token, nil, &moved))
	var bin []apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/messages/trash/all", bob.Token, nil, &bin))
	require.Len(t, bin, 1)
	require.NotNil(t, bin[0].SenderInfo)
	assert.Equal(t, alice.Email, bin[0].SenderInfo.Email)
}

func TestMessageValidationErrors(t *testing.T) {
	e := newTestEnv(t, Options{})
	alice := e.signup(t, "alice")

	var apiErr apiError
	code := e.do(t, http.MethodPost, "/api/messages/send", alice.Token, map[string]string{"receiver": "bob@example.com"}, &apiErr)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "All fields required", apiErr.Message)

	code = e.do(t, http.MethodPost, "/api/messages/send", alice.Token, map[string]string{
		"receiver": "nobody@example.com", "subject": "s", "body": "b",
	}, &apiErr)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Receiver not found", apiErr.Message)

	code = e.do(t, http.MethodPost, "/api/messages/missing/reply", alice.Token, map[string]string{"body": "x"}, &apiErr)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Original message not found", apiErr.Message)

	code = e.do(t, http.MethodPost, "/api/messages/send", "", map[string]string{}, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestDraftAndTrashFlow(t *testing.T) {
	e := newTestEnv(t, Options{})
	alice, bob, carol := e.signup(t, "alice"), e.signup(t, "bob"), e.signup(t, "carol")

	var draft apiMessage
	code := e.do(t, http.MethodPost, "/api/messages/draft", alice.Token, map[string]string{"subject": "Plan"}, &draft)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, draft.IsDraft)
	assert.Empty(t, draft.ThreadID)

	var drafts []apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/messages/drafts", alice.Token, nil, &drafts))
	require.Len(t, drafts, 1)

	var apiErr apiError
	code = e.do(t, http.MethodPost, "/api/messages/draft/"+draft.ID+"/send", alice.Token, nil, &apiErr)
	assert.Equal(t, http.StatusBadRequest, code)

	var updated struct {
		Message string     `json:"message"`
		Data    apiMessage `json:"data"`
	}
	code = e.do(t, http.MethodPut, "/api/messages/draft/"+draft.ID, alice.Token, map[string]string{
		"receiver": bob.Email, "body": "Lunch?",
	}, &updated)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Draft updated", updated.Message)
	assert.Equal(t, bob.ID, updated.Data.Receiver)

	var sent apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/messages/draft/"+draft.ID+"/send", alice.Token, nil, &sent))
	assert.False(t, sent.IsDraft)
	assert.Equal(t, sent.ID, sent.ThreadID)

	code = e.do(t, http.MethodPost, "/api/messages/draft/"+draft.ID+"/send", alice.Token, nil, &apiErr)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Draft not found", apiErr.Message)

	var trashed apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/messages/"+sent.ID+"/trash", alice.Token, nil, &trashed))
	assert.True(t, trashed.IsTrashed)

	var bin []apiMessage
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/messages/trash/all", bob.Token, nil, &bin))
	require.Len(t, bin, 1)

	code = e.do(t, http.MethodPut, "/api/messages/"+sent.ID+"/restore", carol.Token, nil, &apiErr)
	assert.Equal(t, http.StatusNotFound, code)

	var restored struct {
		Message string     `json:"message"`
		Data    apiMessage `json:"data"`
	}
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/messages/"+sent.ID+"/restore", bob.Token, nil, &restored))
	assert.Equal(t, "Message restored", restored.Message)
	assert.False(t, restored.Data.IsTrashed)

	var deleted apiError
	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/api/messages/"+sent.ID, bob.Token, nil, &deleted))
	assert.Equal(t, "Message permanently deleted", deleted.Message)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/messages/"+sent.ID, alice.Token, nil, &apiErr))
}

func TestErrorClassification(t *testing.T) {
	quiet := &Server{logger: zerolog.Nop()}
	loud := &Server{logger: zerolog.Nop(), opts: Options{ExposeErrors: true}}
	boom := errors.New("mongo: connection reset")

	tests := []struct {
		name   string
		srv    *Server
		err    error
		status int
		msg    string
	}{
		{"validation", quiet, &mailroom.ValidationError{Field: "body", Message: "Body is required"}, 400, "Body is required"},
		{"not found", quiet, &mailroom.NotFoundError{Resource: "Draft"}, 404, "Draft not found"},
		{"content", quiet, mailroom.ErrSubjectTooLong, 400, "subject too long"},
		{"rate limited", quiet, mailroom.ErrRateLimited, 429, "Too many messages, slow down"},
		{"credentials", quiet, auth.ErrInvalidCredentials, 400, "Invalid credentials"},
		{"token", quiet, auth.ErrInvalidToken, 401, "Invalid or expired token"},
		{"internal hidden", quiet, boom, 500, "Internal server error"},
		{"internal exposed", loud, boom, 500, "mongo: connection reset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := tt.srv.classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.msg, msg)
		})
	}
}

func TestRateLimitedSend(t *testing.T) {
	limited := mailroom.WithPlugin(denyAll{})
	e := newTestEnv(t, Options{}, limited)
	alice, bob := e.signup(t, "alice"), e.signup(t, "bob")

	var apiErr apiError
	code := e.do(t, http.MethodPost, "/api/messages/send", alice.Token, map[string]string{
		"receiver": bob.Email, "subject": "s", "body": "b",
	}, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

type denyAll struct{}

func (denyAll) Name() string                { return "deny" }
func (denyAll) Init(context.Context) error  { return nil }
func (denyAll) Close(context.Context) error { return nil }

func (denyAll) AfterSend(context.Context, string, *mailroom.Message) error { return nil }
func (denyAll) BeforeSend(context.Context, string, *mailroom.Message) error {
	return mailroom.ErrRateLimited
}

func TestPushOverWebsocket(t *testing.T) {
	e := newTestEnv(t, Options{})
	alice, bob := e.signup(t, "alice"), e.signup(t, "bob")

	ts := httptest.NewServer(e.srv.Handler())
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + bob.Token

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]string{"event": "join", "data": bob.ID}))

	require.Eventually(t, func() bool { return e.hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	var sent apiMessage
	code := e.do(t, http.MethodPost, "/api/messages/send", alice.Token, map[string]string{
		"receiver": bob.Email, "subject": "Ping", "body": "live",
	}, &sent)
	require.Equal(t, http.StatusCreated, code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		Event string     `json:"event"`
		Data  apiMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "newMessage", frame.Event)
	assert.Equal(t, sent.ID, frame.Data.ID)
}

func TestWebsocketRequiresToken(t *testing.T) {
	e := newTestEnv(t, Options{})
	ts := httptest.NewServer(e.srv.Handler())
	t.Cleanup(ts.Close)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
