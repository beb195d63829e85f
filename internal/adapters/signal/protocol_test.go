package signal_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swaymbhu-git/SlateAssist/internal/adapters/auth"
	"github.com/Swaymbhu-git/SlateAssist/internal/adapters/signal"
	"github.com/Swaymbhu-git/SlateAssist/internal/app"
	"github.com/Swaymbhu-git/SlateAssist/internal/domain"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[domain.UserID]*domain.User
}

func (f *fakeUsers) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

type fakeMembers struct {
	mu   sync.Mutex
	recs map[domain.RoomID]*domain.MembershipRecord
}

func (f *fakeMembers) GetRoom(_ context.Context, roomID domain.RoomID) (*domain.MembershipRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return rec, nil
}

type fakeRunner struct{}

func (fakeRunner) Run(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"stdout":"ran"}`), nil
}

type protoEnv struct {
	server *httptest.Server
	tokens *auth.TokenService
}

func setupProto(t *testing.T) *protoEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := &fakeUsers{users: map[domain.UserID]*domain.User{
		"alice": {ID: "alice", Username: "alice"},
		"bob":   {ID: "bob", Username: "bob"},
	}}
	members := &fakeMembers{recs: map[domain.RoomID]*domain.MembershipRecord{
		"r1": {RoomID: "r1", Owner: "alice", Members: []domain.UserID{"alice", "bob"}},
	}}
	tokens := auth.NewTokenService("test-secret", time.Hour)

	registry := app.NewRegistry()
	sessions := app.NewSessions(nil, 1, time.Millisecond)
	router := app.NewRouter(registry, sessions, members, app.SimplePolicy{})
	enforcer := app.NewEnforcer(registry, router)
	ctl := signal.NewController(router, enforcer, tokens, users, fakeRunner{}, 1<<20)

	engine := gin.New()
	ctx, cancel := context.WithCancel(context.Background())
	engine.GET("/ws", func(c *gin.Context) { ctl.HandleWS(ctx, c) })

	server := httptest.NewServer(engine)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return &protoEnv{server: server, tokens: tokens}
}

func (e *protoEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func (e *protoEnv) token(t *testing.T, uid domain.UserID) string {
	t.Helper()
	token, err := e.tokens.Issue(uid)
	require.NoError(t, err)
	return token
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

// readUntil skips unrelated events (presence updates arriving between
// the interesting ones) until it sees the wanted type.
func readUntil(t *testing.T, ws *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]any
		require.NoError(t, ws.ReadJSON(&msg))
		if msg["type"] == wantType {
			return msg
		}
	}
	t.Fatalf("no %q event received", wantType)
	return nil
}

func (e *protoEnv) join(t *testing.T, ws *websocket.Conn, uid domain.UserID, room string) map[string]any {
	t.Helper()
	send(t, ws, map[string]any{"type": "join", "roomId": room, "token": e.token(t, uid)})
	return readUntil(t, ws, "room-state")
}

func TestProtocolJoinAndEditFlow(t *testing.T) {
	env := setupProto(t)

	alice := env.dial(t)
	state := env.join(t, alice, "alice", "r1")
	assert.Equal(t, float64(0), state["revision"])

	bob := env.dial(t)
	env.join(t, bob, "bob", "r1")

	// Alice hears about bob joining.
	joined := readUntil(t, alice, "participant-joined")
	assert.Equal(t, "bob", joined["user"].(map[string]any)["id"])

	send(t, alice, map[string]any{
		"type":         "edit",
		"roomId":       "r1",
		"baseRevision": float64(0),
		"payload":      "package main",
	})

	applied := readUntil(t, bob, "edit-applied")
	assert.Equal(t, float64(1), applied["revision"])
	assert.Equal(t, "package main", applied["payload"])
	assert.Equal(t, "alice", applied["author"])
}

func TestProtocolStaleEditRejected(t *testing.T) {
	env := setupProto(t)

	alice := env.dial(t)
	env.join(t, alice, "alice", "r1")

	send(t, alice, map[string]any{"type": "edit", "baseRevision": float64(0), "payload": "one"})
	send(t, alice, map[string]any{"type": "edit", "baseRevision": float64(0), "payload": "conflict"})

	rejected := readUntil(t, alice, "edit-rejected")
	assert.Equal(t, float64(1), rejected["currentRevision"])
	assert.Equal(t, "one", rejected["currentBuffer"])
}

func TestProtocolEditBeforeJoin(t *testing.T) {
	env := setupProto(t)

	ws := env.dial(t)
	send(t, ws, map[string]any{"type": "edit", "baseRevision": float64(0), "payload": "x"})

	errMsg := readUntil(t, ws, "error")
	assert.Equal(t, "not_joined", errMsg["error"])
}

func TestProtocolJoinDenied(t *testing.T) {
	env := setupProto(t)

	ws := env.dial(t)
	send(t, ws, map[string]any{"type": "join", "roomId": "r1", "token": "garbage"})

	errMsg := readUntil(t, ws, "error")
	assert.Equal(t, "access_denied", errMsg["error"])

	// The connection is closed afterwards.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
}

func TestProtocolExecuteBroadcast(t *testing.T) {
	env := setupProto(t)

	alice := env.dial(t)
	env.join(t, alice, "alice", "r1")
	bob := env.dial(t)
	env.join(t, bob, "bob", "r1")

	send(t, bob, map[string]any{
		"type":    "execute",
		"payload": map[string]any{"language_id": 60, "source_code": "x"},
	})

	// Execution results reach everyone, the originator included.
	for _, ws := range []*websocket.Conn{alice, bob} {
		result := readUntil(t, ws, "run-result")
		assert.Equal(t, "bob", result["author"])
	}
}

func TestProtocolLeave(t *testing.T) {
	env := setupProto(t)

	alice := env.dial(t)
	env.join(t, alice, "alice", "r1")
	bob := env.dial(t)
	env.join(t, bob, "bob", "r1")

	send(t, bob, map[string]any{"type": "leave"})
	readUntil(t, bob, "left")

	left := readUntil(t, alice, "participant-left")
	assert.Equal(t, "bob", left["user"].(map[string]any)["id"])
}

func TestProtocolPing(t *testing.T) {
	env := setupProto(t)
	ws := env.dial(t)
	send(t, ws, map[string]any{"type": "ping"})
	readUntil(t, ws, "pong")
}
