package emitter

import (
	"context"
	"time"

	"dealerhub-realtime-svc/src/internal/gateway"

	"github.com/sirupsen/logrus"
)

const (
	EventCallCreated = "call_created"
	EventCallUpdated = "call_updated"
)

// CallEvent is a voice call lifecycle update from the telephony service.
type CallEvent struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenantId"`
	CustomerID      string     `json:"customerId,omitempty"`
	UserID          string     `json:"userId,omitempty"`
	Direction       string     `json:"direction"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	Status          string     `json:"status"`
	DurationSeconds int        `json:"durationSeconds,omitempty"`
	RecordingURL    string     `json:"recordingUrl,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}

type CallPayload struct {
	Call      CallEvent `json:"call"`
	Timestamp time.Time `json:"timestamp"`
}

type CallEmitter struct {
	broadcaster gateway.Broadcaster
	now         func() time.Time
}

func NewCallEmitter(b gateway.Broadcaster) *CallEmitter {
	return &CallEmitter{broadcaster: b, now: time.Now}
}

func (e *CallEmitter) EmitCallCreated(ctx context.Context, call CallEvent) {
	e.emit(ctx, EventCallCreated, call)
}

func (e *CallEmitter) EmitCallUpdated(ctx context.Context, call CallEvent) {
	e.emit(ctx, EventCallUpdated, call)
}

func (e *CallEmitter) emit(ctx context.Context, event string, call CallEvent) {
	entry := logrus.WithFields(logrus.Fields{
		"event":     event,
		"call_id":   call.ID,
		"tenant_id": call.TenantID,
	})
	if !ready(e.broadcaster, call.TenantID, entry) {
		return
	}

	e.broadcaster.ToRoom(call.TenantID).Emit(ctx, event, CallPayload{
		Call:      call,
		Timestamp: e.now().UTC(),
	})
	entry.Debug("Call event broadcast")
}
