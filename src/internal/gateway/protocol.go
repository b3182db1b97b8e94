package gateway

import (
	"encoding/json"
	"time"

	"dealerhub-realtime-svc/src/internal/presence"
)

// Client to server events.
const (
	EventJoinTenant  = "join_tenant"
	EventLeaveTenant = "leave_tenant"
	EventHeartbeat   = "heartbeat"
)

// Server to client events.
const (
	EventAuthenticated = "authenticated"
	EventUserOnline    = "user_online"
	EventUserOffline   = "user_offline"
	EventPresenceSync  = "presence_sync"
	EventHeartbeatAck  = "heartbeat_ack"
	EventError         = "error"
)

// Message is the wire envelope in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

func encode(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: payload})
}

type JoinTenantPayload struct {
	TenantID string `json:"tenantId"`
}

type AuthenticatedPayload struct {
	UserID string `json:"userId"`
}

type PresenceChangePayload struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type PresenceSyncPayload struct {
	Users []presence.UserPresence `json:"users"`
}

type HeartbeatAckPayload struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
