package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dealerhub-realtime-svc/src/internal/auth"
	"dealerhub-realtime-svc/src/internal/cache"
	"dealerhub-realtime-svc/src/internal/config"
	"dealerhub-realtime-svc/src/internal/presence"
	"dealerhub-realtime-svc/src/internal/user"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const testSecret = "gateway-secret"

type testEnv struct {
	gw  *Gateway
	hub *Hub
	mr  *miniredis.Miniredis
	url string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "gateway.db")), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, user.AutoMigrate(db))
	require.NoError(t, db.Create(&[]user.User{
		{ID: "alice", CognitoSub: "sub-alice"},
		{ID: "bob", CognitoSub: "sub-bob"},
		{ID: "carol", CognitoSub: "sub-carol"},
	}).Error)
	require.NoError(t, db.Create(&[]user.Membership{
		{TenantID: "t1", UserID: "alice", IsActive: true},
		{TenantID: "t2", UserID: "alice", IsActive: true},
		{TenantID: "t1", UserID: "bob", IsActive: true},
		{TenantID: "t2", UserID: "carol", IsActive: true},
	}).Error)

	cfg := config.Default()
	users := user.NewGormRepository(db)
	store := presence.NewStore(cache.NewCacheService(rdb), users, nil, &cfg.Presence)
	hub := NewHub(nil)
	gw := NewGateway(cfg, auth.NewHMACVerifier(testSecret), store, users, hub)

	router := gin.New()
	router.GET(cfg.WebSocket.Path, gw.ServeWS)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{
		gw:  gw,
		hub: hub,
		mr:  mr,
		url: "ws" + strings.TrimPrefix(srv.URL, "http") + cfg.WebSocket.Path,
	}
}

func tokenFor(t *testing.T, subject string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (e *testEnv) dial(t *testing.T, token string, header http.Header) *websocket.Conn {
	t.Helper()
	url := e.url
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials as subject and consumes the authenticated ack.
func (e *testEnv) connect(t *testing.T, subject string) *websocket.Conn {
	t.Helper()
	conn := e.dial(t, tokenFor(t, subject), nil)
	msg := readEvent(t, conn)
	require.Equal(t, EventAuthenticated, msg.Event)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	frame, err := encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readEvent(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

// expectSilence asserts no frame arrives within d. The connection is unusable
// for reads afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, raw, err := conn.ReadMessage()
	assert.Error(t, err, "unexpected frame: %s", raw)
}

func decode(t *testing.T, msg Message, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(msg.Data, v))
}

func (e *testEnv) join(t *testing.T, conn *websocket.Conn, tenantID string) {
	t.Helper()
	send(t, conn, EventJoinTenant, JoinTenantPayload{TenantID: tenantID})
}

func TestHandshakeRejections(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name    string
		token   string
		message string
	}{
		{name: "no token", token: "", message: "Authentication required"},
		{name: "bad token", token: "not-a-jwt", message: "Invalid or expired token"},
		{name: "unknown subject", token: tokenFor(t, "sub-nobody"), message: "User not found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := env.dial(t, tc.token, nil)

			msg := readEvent(t, conn)
			assert.Equal(t, EventError, msg.Event)
			var p ErrorPayload
			decode(t, msg, &p)
			assert.Equal(t, tc.message, p.Message)

			_, _, err := conn.ReadMessage()
			assert.Error(t, err, "socket must be closed after rejection")
		})
	}
	assert.Equal(t, 0, env.gw.ConnectionCount())
}

func TestHandshakeAcceptsBearerHeader(t *testing.T) {
	env := newTestEnv(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tokenFor(t, "sub-bob"))
	conn := env.dial(t, "", header)

	msg := readEvent(t, conn)
	require.Equal(t, EventAuthenticated, msg.Event)
	var p AuthenticatedPayload
	decode(t, msg, &p)
	assert.Equal(t, "bob", p.UserID)
}

func TestJoinBroadcastsAndSyncs(t *testing.T) {
	env := newTestEnv(t)

	bob := env.connect(t, "sub-bob")
	env.join(t, bob, "t1")
	assert.Equal(t, EventUserOnline, readEvent(t, bob).Event)
	assert.Equal(t, EventPresenceSync, readEvent(t, bob).Event)

	alice := env.connect(t, "sub-alice")
	env.join(t, alice, "t1")

	// joiner sees its own broadcast, then the snapshot
	msg := readEvent(t, alice)
	require.Equal(t, EventUserOnline, msg.Event)
	var change PresenceChangePayload
	decode(t, msg, &change)
	assert.Equal(t, "alice", change.UserID)

	msg = readEvent(t, alice)
	require.Equal(t, EventPresenceSync, msg.Event)
	var snapshot PresenceSyncPayload
	decode(t, msg, &snapshot)
	ids := make([]string, 0, len(snapshot.Users))
	for _, u := range snapshot.Users {
		assert.True(t, u.IsOnline)
		ids = append(ids, u.UserID)
	}
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)

	// other members get exactly one user_online and no snapshot
	msg = readEvent(t, bob)
	require.Equal(t, EventUserOnline, msg.Event)
	decode(t, msg, &change)
	assert.Equal(t, "alice", change.UserID)
	expectSilence(t, bob, 200*time.Millisecond)

	assert.True(t, env.mr.Exists("presence:t1:alice"))
	assert.Equal(t, 2, env.hub.RoomSize("t1"))
}

func TestJoinRejectsNonMember(t *testing.T) {
	env := newTestEnv(t)

	bob := env.connect(t, "sub-bob")
	env.join(t, bob, "t2")

	msg := readEvent(t, bob)
	require.Equal(t, EventError, msg.Event)
	var p ErrorPayload
	decode(t, msg, &p)
	assert.Equal(t, "Not a member of this tenant", p.Message)
	assert.Equal(t, 0, env.hub.RoomSize("t2"))
	assert.False(t, env.mr.Exists("presence:t2:bob"))

	env.join(t, bob, "")
	assert.Equal(t, EventError, readEvent(t, bob).Event, "socket stays usable after an error")
}

func TestRejoinSameTenantIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	alice := env.connect(t, "sub-alice")
	for i := 0; i < 2; i++ {
		env.join(t, alice, "t1")
		assert.Equal(t, EventUserOnline, readEvent(t, alice).Event)
		assert.Equal(t, EventPresenceSync, readEvent(t, alice).Event)
	}

	assert.Equal(t, 1, env.hub.RoomSize("t1"))
	assert.Equal(t, 1, env.gw.conns.liveConnections("t1", "alice"))
}

func TestJoinOtherTenantLeavesPrevious(t *testing.T) {
	env := newTestEnv(t)

	bob := env.connect(t, "sub-bob")
	env.join(t, bob, "t1")
	readEvent(t, bob)
	readEvent(t, bob)

	alice := env.connect(t, "sub-alice")
	env.join(t, alice, "t1")
	readEvent(t, alice)
	readEvent(t, alice)
	require.Equal(t, EventUserOnline, readEvent(t, bob).Event)

	env.join(t, alice, "t2")

	msg := readEvent(t, bob)
	require.Equal(t, EventUserOffline, msg.Event)
	var change PresenceChangePayload
	decode(t, msg, &change)
	assert.Equal(t, "alice", change.UserID)

	assert.False(t, env.mr.Exists("presence:t1:alice"))
	assert.True(t, env.mr.Exists("presence:t2:alice"))
	assert.Equal(t, 1, env.hub.RoomSize("t1"))
	assert.Equal(t, 1, env.hub.RoomSize("t2"))
}

func TestHeartbeat(t *testing.T) {
	env := newTestEnv(t)

	alice := env.connect(t, "sub-alice")

	send(t, alice, EventHeartbeat, struct{}{})
	msg := readEvent(t, alice)
	require.Equal(t, EventError, msg.Event, "heartbeat before join is rejected")

	env.join(t, alice, "t1")
	readEvent(t, alice)
	readEvent(t, alice)

	env.mr.FastForward(200 * time.Second)
	send(t, alice, EventHeartbeat, struct{}{})

	msg = readEvent(t, alice)
	require.Equal(t, EventHeartbeatAck, msg.Event)
	var ack HeartbeatAckPayload
	decode(t, msg, &ack)
	assert.True(t, ack.Success)
	assert.False(t, ack.Timestamp.IsZero())
	assert.Equal(t, 300*time.Second, env.mr.TTL("presence:t1:alice"), "heartbeat refreshes the ttl")
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	env := newTestEnv(t)
	alice := env.connect(t, "sub-alice")

	send(t, alice, "dance", nil)
	msg := readEvent(t, alice)
	require.Equal(t, EventError, msg.Event)
	var p ErrorPayload
	decode(t, msg, &p)
	assert.Contains(t, p.Message, "dance")

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, EventError, readEvent(t, alice).Event)

	send(t, alice, EventLeaveTenant, struct{}{})
	assert.Equal(t, EventError, readEvent(t, alice).Event, "leave before join is rejected")
}

func TestLeaveBroadcastsOffline(t *testing.T) {
	env := newTestEnv(t)

	bob := env.connect(t, "sub-bob")
	env.join(t, bob, "t1")
	readEvent(t, bob)
	readEvent(t, bob)

	alice := env.connect(t, "sub-alice")
	env.join(t, alice, "t1")
	readEvent(t, alice)
	readEvent(t, alice)
	readEvent(t, bob)

	send(t, alice, EventLeaveTenant, struct{}{})

	msg := readEvent(t, bob)
	require.Equal(t, EventUserOffline, msg.Event)
	assert.False(t, env.mr.Exists("presence:t1:alice"))
	assert.Equal(t, 1, env.hub.RoomSize("t1"))
}

func TestLastConnectionControlsOffline(t *testing.T) {
	env := newTestEnv(t)

	bob := env.connect(t, "sub-bob")
	env.join(t, bob, "t1")
	readEvent(t, bob)
	readEvent(t, bob)

	tabA := env.connect(t, "sub-alice")
	env.join(t, tabA, "t1")
	readEvent(t, tabA)
	readEvent(t, tabA)
	readEvent(t, bob)

	tabB := env.connect(t, "sub-alice")
	env.join(t, tabB, "t1")
	readEvent(t, tabB)
	readEvent(t, tabB)
	readEvent(t, bob)

	require.Equal(t, 2, env.gw.conns.liveConnections("t1", "alice"))

	require.NoError(t, tabA.Close())
	assert.Eventually(t, func() bool {
		return env.gw.conns.liveConnections("t1", "alice") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, env.mr.Exists("presence:t1:alice"), "another tab is still joined")

	require.NoError(t, tabB.Close())
	msg := readEvent(t, bob)
	require.Equal(t, EventUserOffline, msg.Event)
	var change PresenceChangePayload
	decode(t, msg, &change)
	assert.Equal(t, "alice", change.UserID)

	assert.Eventually(t, func() bool {
		return !env.mr.Exists("presence:t1:alice") && env.gw.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownClosesSocketsAndClearsPresence(t *testing.T) {
	env := newTestEnv(t)

	alice := env.connect(t, "sub-alice")
	env.join(t, alice, "t1")
	readEvent(t, alice)
	readEvent(t, alice)

	bob := env.connect(t, "sub-bob")
	env.join(t, bob, "t1")
	readEvent(t, bob)
	readEvent(t, bob)
	readEvent(t, alice)

	require.True(t, env.mr.Exists("presence:t1:alice"))
	require.True(t, env.mr.Exists("presence:t1:bob"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.gw.Shutdown(ctx))

	assert.Zero(t, env.gw.ConnectionCount())
	assert.Zero(t, env.hub.RoomSize("t1"))
	assert.False(t, env.mr.Exists("presence:t1:alice"))
	assert.False(t, env.mr.Exists("presence:t1:bob"))

	// the peer sees a going-away close, possibly after a queued offline event
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = alice.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	late := env.dial(t, tokenFor(t, "sub-carol"), nil)
	msg := readEvent(t, late)
	require.Equal(t, EventError, msg.Event)
	var payload ErrorPayload
	decode(t, msg, &payload)
	assert.Equal(t, "Server shutting down", payload.Message)
}
