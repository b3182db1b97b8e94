package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"dealerhub-realtime-svc/src/internal/auth"
	"dealerhub-realtime-svc/src/internal/config"
	"dealerhub-realtime-svc/src/internal/models"
	"dealerhub-realtime-svc/src/internal/presence"
	"dealerhub-realtime-svc/src/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Gateway accepts sockets, authenticates them, and drives presence through
// the join/leave/heartbeat lifecycle.
type Gateway struct {
	cfg       *config.WebSocketConfig
	upgrader  websocket.Upgrader
	verifier  auth.Verifier
	presence  presence.Store
	users     user.Repository
	hub       *Hub
	conns     *connectionTable
	opTimeout time.Duration
	now       func() time.Time

	mu      sync.Mutex
	clients map[string]*Client
	closing bool
	wg      sync.WaitGroup
}

func NewGateway(cfg *config.Configuration, verifier auth.Verifier, store presence.Store, users user.Repository, hub *Hub) *Gateway {
	g := &Gateway{
		cfg:       &cfg.WebSocket,
		verifier:  verifier,
		presence:  store,
		users:     users,
		hub:       hub,
		conns:     newConnectionTable(),
		clients:   make(map[string]*Client),
		opTimeout: time.Duration(cfg.App.Timeout) * time.Second,
		now:       time.Now,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// handshakeToken reads the token query parameter, falling back to the
// Authorization header for non-browser clients.
func handshakeToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return auth.ExtractBearer(r.Header.Get("Authorization"))
}

// ServeWS upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeWS(c *gin.Context) {
	token := handshakeToken(c.Request)

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := newClient(uuid.NewString(), conn, g.cfg.SendQueueSize,
		time.Duration(g.cfg.PongWaitSeconds)*time.Second,
		time.Duration(g.cfg.WriteWaitSeconds)*time.Second)

	rec, ok := g.authenticate(client, token)
	if !ok {
		return
	}

	if !g.register(client) {
		client.log.Info("Socket rejected: server shutting down")
		client.reject("Server shutting down")
		return
	}

	g.conns.add(rec)
	client.log = client.log.WithField("user_id", rec.RealUserID)
	client.log.Info("Socket authenticated")
	client.emit(EventAuthenticated, AuthenticatedPayload{UserID: rec.RealUserID})

	go client.writePump()
	client.readPump(g.cfg.MaxMessageSize, func(raw []byte) {
		g.dispatch(client, raw)
	})

	g.disconnect(client)
}

// authenticate verifies the token and resolves the internal user id. Either
// failure is terminal for the socket.
func (g *Gateway) authenticate(client *Client, token string) (ConnectionRecord, bool) {
	if token == "" {
		client.log.Warn("Socket rejected: no token")
		client.reject("Authentication required")
		return ConnectionRecord{}, false
	}

	claims, err := g.verifier.Verify(token)
	if err != nil {
		client.log.WithError(err).Warn("Socket rejected: token verification failed")
		client.reject("Invalid or expired token")
		return ConnectionRecord{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.opTimeout)
	defer cancel()
	userID, err := g.presence.ResolveUserID(ctx, claims.Subject)
	if err != nil {
		client.log.WithError(err).WithField("cognito_sub", claims.Subject).Warn("Socket rejected: unknown subject")
		client.reject("User not found")
		return ConnectionRecord{}, false
	}

	return ConnectionRecord{
		ConnectionID: client.ID,
		CognitoSub:   claims.Subject,
		RealUserID:   userID,
	}, true
}

func (g *Gateway) dispatch(client *Client, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		client.emitError("Malformed message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.opTimeout)
	defer cancel()

	switch msg.Event {
	case EventJoinTenant:
		g.handleJoin(ctx, client, msg.Data)
	case EventLeaveTenant:
		g.handleLeave(ctx, client)
	case EventHeartbeat:
		g.handleHeartbeat(ctx, client)
	default:
		client.emitError("Unknown event: " + msg.Event)
	}
}

func (g *Gateway) handleJoin(ctx context.Context, client *Client, data json.RawMessage) {
	var p JoinTenantPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			client.emitError("Invalid join_tenant payload")
			return
		}
	}
	p.TenantID = strings.TrimSpace(p.TenantID)
	if p.TenantID == "" {
		client.emitError("tenantId is required")
		return
	}

	rec, ok := g.conns.get(client.ID)
	if !ok {
		return
	}

	if err := user.RequireMembership(ctx, g.users, p.TenantID, rec.RealUserID); err != nil {
		if errors.Is(err, models.ErrNotTenantMember) {
			client.log.WithField("tenant_id", p.TenantID).Warn("Join rejected: not a tenant member")
			client.emitError("Not a member of this tenant")
			return
		}
		client.log.WithError(err).Error("Tenant membership check failed")
		client.emitError("Unable to verify tenant access")
		return
	}

	if rec.TenantID != "" && rec.TenantID != p.TenantID {
		g.leaveTenant(ctx, client)
	}

	if rec.TenantID != p.TenantID {
		g.hub.join(client, p.TenantID)
		g.conns.join(client.ID, p.TenantID)
	}

	g.presence.SetOnline(ctx, rec.CognitoSub, p.TenantID)

	g.hub.ToRoom(p.TenantID).Emit(ctx, EventUserOnline, PresenceChangePayload{
		UserID:    rec.RealUserID,
		Timestamp: g.now().UTC(),
	})
	client.emit(EventPresenceSync, PresenceSyncPayload{
		Users: g.presence.GetOnlineUsers(ctx, p.TenantID),
	})

	client.log.WithField("tenant_id", p.TenantID).Info("Socket joined tenant")
}

func (g *Gateway) handleLeave(ctx context.Context, client *Client) {
	if !g.leaveTenant(ctx, client) {
		client.emitError("Not joined to a tenant")
	}
}

func (g *Gateway) handleHeartbeat(ctx context.Context, client *Client) {
	rec, ok := g.conns.get(client.ID)
	if !ok || rec.TenantID == "" {
		client.emitError("Not joined to a tenant")
		return
	}

	g.presence.UpdateActivity(ctx, rec.RealUserID, rec.TenantID)
	client.emit(EventHeartbeatAck, HeartbeatAckPayload{Success: true, Timestamp: g.now().UTC()})
}

// leaveTenant removes client from its room. Presence goes offline only when
// the member's last joined connection on this instance leaves.
func (g *Gateway) leaveTenant(ctx context.Context, client *Client) bool {
	rec, ok := g.conns.get(client.ID)
	if !ok || rec.TenantID == "" {
		return false
	}

	g.hub.leave(client, rec.TenantID)
	tenantID, last, ok := g.conns.leave(client.ID)
	if !ok {
		return false
	}

	entry := client.log.WithField("tenant_id", tenantID)
	if !last {
		entry.Debug("Socket left tenant; member still has live connections")
		return true
	}

	g.presence.SetOffline(ctx, rec.CognitoSub, tenantID)
	g.hub.ToRoom(tenantID).Emit(ctx, EventUserOffline, PresenceChangePayload{
		UserID:    rec.RealUserID,
		Timestamp: g.now().UTC(),
	})
	entry.Info("Socket left tenant")
	return true
}

func (g *Gateway) disconnect(client *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), g.opTimeout)
	defer cancel()

	g.leaveTenant(ctx, client)
	g.conns.remove(client.ID)
	client.close()
	g.unregister(client)
	client.log.Info("Socket disconnected")
}

func (g *Gateway) register(client *Client) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.clients[client.ID] = client
	g.wg.Add(1)
	return true
}

func (g *Gateway) unregister(client *Client) {
	g.mu.Lock()
	_, ok := g.clients[client.ID]
	delete(g.clients, client.ID)
	g.mu.Unlock()
	if ok {
		g.wg.Done()
	}
}

// Shutdown closes every live socket and waits until each has left its tenant,
// so presence is cleared before the backing stores close. New sockets are
// refused from the first call on.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	live := make([]*Client, 0, len(g.clients))
	for _, client := range g.clients {
		live = append(live, client)
	}
	g.mu.Unlock()

	logrus.WithField("connections", len(live)).Info("Closing live sockets")
	for _, client := range live {
		client.shutdown()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionCount reports live authenticated sockets on this instance.
func (g *Gateway) ConnectionCount() int {
	return g.conns.size()
}
