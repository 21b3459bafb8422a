package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fathima-sithara/messaging-service/internal/domain"
	"github.com/fathima-sithara/messaging-service/internal/presence"
	"github.com/fathima-sithara/messaging-service/internal/repository"
	"github.com/fathima-sithara/messaging-service/internal/service"
	"github.com/fathima-sithara/messaging-service/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	alice = "alice@example.com"
	bob   = "bob@example.com"
	carol = "carol@example.com"
)

type stubVerifier map[string]string

func (v stubVerifier) Validate(token string) (string, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return "", domain.ErrUnauthenticated
}

type stubPresence struct {
	st  presence.Status
	err error
}

func (p stubPresence) Get(context.Context, string) (presence.Status, error) { return p.st, p.err }

type testEnv struct {
	app  *fiber.App
	msgs repository.MessageStore
	gw   *ws.Gateway
}

func newEnv(t *testing.T, pr PresenceReader) *testEnv {
	t.Helper()
	log := zap.NewNop().Sugar()
	convs := repository.NewMemoryConversationStore()
	msgs := repository.NewMemoryMessageStore()
	verifier := stubVerifier{"tok-alice": alice, "tok-bob": bob, "tok-carol": carol}
	gw := ws.NewGateway(convs, msgs, ws.Options{}, log)
	app := NewServer(Deps{
		Conversations: service.NewConversationService(convs, msgs),
		Gateway:       gw,
		WS:            ws.NewServer(context.Background(), gw, verifier, ws.ServerConfig{}, log),
		Verifier:      verifier,
		Presence:      pr,
		Log:           log,
	})
	return &testEnv{app: app, msgs: msgs, gw: gw}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func TestHealthAndRoot(t *testing.T) {
	e := newEnv(t, nil)
	code, body := e.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	code, body = e.do(t, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Server is Running", string(body))

	code, _ = e.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestConversationsRequireAuth(t *testing.T) {
	e := newEnv(t, nil)
	code, _ := e.do(t, http.MethodGet, "/conversations", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = e.do(t, http.MethodGet, "/conversations", "forged", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestOpenConversationIsIdempotent(t *testing.T) {
	e := newEnv(t, nil)

	code, body := e.do(t, http.MethodPost, "/conversations", "tok-alice", `{"participants":["alice@example.com","bob@example.com"]}`)
	require.Equal(t, http.StatusOK, code, string(body))
	var c1 domain.Conversation
	require.NoError(t, json.Unmarshal(body, &c1))

	code, body = e.do(t, http.MethodPost, "/conversations", "tok-bob", `{"participants":["bob@example.com","alice@example.com"]}`)
	require.Equal(t, http.StatusOK, code)
	var c2 domain.Conversation
	require.NoError(t, json.Unmarshal(body, &c2))

	assert.NotEmpty(t, c1.ID)
	assert.Equal(t, c1.ID, c2.ID)
}

func TestOpenConversationErrors(t *testing.T) {
	e := newEnv(t, nil)
	cases := []struct {
		name  string
		token string
		body  string
		code  int
	}{
		{"bad json", "tok-alice", `{`, http.StatusBadRequest},
		{"one participant", "tok-alice", `{"participants":["alice@example.com"]}`, http.StatusBadRequest},
		{"same twice", "tok-alice", `{"participants":["alice@example.com","alice@example.com"]}`, http.StatusBadRequest},
		{"not a participant", "tok-carol", `{"participants":["alice@example.com","bob@example.com"]}`, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := e.do(t, http.MethodPost, "/conversations", tc.token, tc.body)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestListConversationsAndMessages(t *testing.T) {
	e := newEnv(t, nil)
	_, body := e.do(t, http.MethodPost, "/conversations", "tok-alice", `{"participants":["alice@example.com","bob@example.com"]}`)
	var conv domain.Conversation
	require.NoError(t, json.Unmarshal(body, &conv))
	_, _ = e.do(t, http.MethodPost, "/conversations", "tok-bob", `{"participants":["bob@example.com","carol@example.com"]}`)

	_, err := e.msgs.Append(context.Background(), &domain.Message{ConversationID: conv.ID, Sender: alice, Receiver: bob, Message: "hi"})
	require.NoError(t, err)

	code, body := e.do(t, http.MethodGet, "/conversations", "tok-alice", "")
	require.Equal(t, http.StatusOK, code)
	var list []domain.Conversation
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, conv.ID, list[0].ID)

	code, body = e.do(t, http.MethodGet, "/messages/"+conv.ID, "tok-bob", "")
	require.Equal(t, http.StatusOK, code)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Message)

	code, _ = e.do(t, http.MethodGet, "/messages/"+conv.ID, "tok-carol", "")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = e.do(t, http.MethodGet, "/messages/unknown", "tok-alice", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestOnlineUsersAndPresence(t *testing.T) {
	e := newEnv(t, nil)
	code, body := e.do(t, http.MethodGet, "/online-users", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	code, body = e.do(t, http.MethodGet, "/presence/"+alice, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"identity":"alice@example.com","status":"offline"}`, string(body))
}

func TestPresenceFromMirror(t *testing.T) {
	e := newEnv(t, stubPresence{st: presence.Status{Status: "online", LastSeen: 42}})
	code, body := e.do(t, http.MethodGet, "/presence/"+bob, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"identity":"bob@example.com","status":"online","last_seen":42}`, string(body))

	// mirror errors fall back to the local registry
	e = newEnv(t, stubPresence{err: errors.New("redis down")})
	code, body = e.do(t, http.MethodGet, "/presence/"+bob, "", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"identity":"bob@example.com","status":"offline"}`, string(body))
}
