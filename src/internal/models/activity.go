package models

import "time"

// ActivityMessage is published to the events exchange on presence transitions.
type ActivityMessage struct {
	UserID      string    `json:"user_id"`
	TenantID    string    `json:"tenant_id"`
	ServiceName string    `json:"service_name"`
	Action      string    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
}

// Activity action constants
const (
	ActionUserOnline  = "user_online"
	ActionUserOffline = "user_offline"
)

const ServicePresence = "realtime.presence"
