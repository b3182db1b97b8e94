package emitter

import (
	"context"
	"time"

	"dealerhub-realtime-svc/src/internal/gateway"

	"github.com/sirupsen/logrus"
)

const (
	EventSmsCreated = "sms_created"
	EventSmsUpdated = "sms_updated"
)

// SmsEvent is a completed SMS as reported by the telephony service.
type SmsEvent struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	ConversationID string     `json:"conversationId,omitempty"`
	CustomerID     string     `json:"customerId,omitempty"`
	UserID         string     `json:"userId,omitempty"`
	Direction      string     `json:"direction"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	Body           string     `json:"body"`
	Status         string     `json:"status"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
}

type SmsPayload struct {
	Sms       SmsEvent  `json:"sms"`
	Timestamp time.Time `json:"timestamp"`
}

type SmsEmitter struct {
	broadcaster gateway.Broadcaster
	now         func() time.Time
}

func NewSmsEmitter(b gateway.Broadcaster) *SmsEmitter {
	return &SmsEmitter{broadcaster: b, now: time.Now}
}

func (e *SmsEmitter) EmitSmsCreated(ctx context.Context, sms SmsEvent) {
	e.emit(ctx, EventSmsCreated, sms)
}

func (e *SmsEmitter) EmitSmsUpdated(ctx context.Context, sms SmsEvent) {
	e.emit(ctx, EventSmsUpdated, sms)
}

func (e *SmsEmitter) emit(ctx context.Context, event string, sms SmsEvent) {
	entry := logrus.WithFields(logrus.Fields{
		"event":     event,
		"sms_id":    sms.ID,
		"tenant_id": sms.TenantID,
	})
	if !ready(e.broadcaster, sms.TenantID, entry) {
		return
	}

	e.broadcaster.ToRoom(sms.TenantID).Emit(ctx, event, SmsPayload{
		Sms:       sms,
		Timestamp: e.now().UTC(),
	})
	entry.Debug("SMS event broadcast")
}

// ready reports whether an event can be routed; skipped events are logged.
func ready(b gateway.Broadcaster, tenantID string, entry *logrus.Entry) bool {
	if b == nil {
		entry.Warn("Broadcaster not initialized, event skipped")
		return false
	}
	if tenantID == "" {
		entry.Warn("Event has no tenantId, skipped")
		return false
	}
	return true
}
