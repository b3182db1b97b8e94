package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dealerhub-realtime-svc/src/internal/emitter"
	"dealerhub-realtime-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Message types published by the telephony service.
const (
	TypeSmsCreated  = "sms.created"
	TypeSmsUpdated  = "sms.updated"
	TypeCallCreated = "call.created"
	TypeCallUpdated = "call.updated"
)

// Message is the queue envelope for a completed telephony event.
type Message struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenantId"`
	Payload  json.RawMessage `json:"payload"`
}

type SmsSink interface {
	EmitSmsCreated(ctx context.Context, sms emitter.SmsEvent)
	EmitSmsUpdated(ctx context.Context, sms emitter.SmsEvent)
}

type CallSink interface {
	EmitCallCreated(ctx context.Context, call emitter.CallEvent)
	EmitCallUpdated(ctx context.Context, call emitter.CallEvent)
}

// Consumer turns telephony queue deliveries into room broadcasts.
type Consumer struct {
	sms     SmsSink
	calls   CallSink
	timeout time.Duration
	log     *logrus.Entry
}

func NewConsumer(sms SmsSink, calls CallSink, timeout time.Duration) *Consumer {
	return &Consumer{
		sms:     sms,
		calls:   calls,
		timeout: timeout,
		log:     logrus.WithField("component", "TelephonyConsumer"),
	}
}

// Run processes deliveries until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	c.log.Info("Telephony consumer started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info("Telephony consumer stopped")
			return
		case d, ok := <-deliveries:
			if !ok {
				c.log.Warn("Telephony delivery channel closed")
				return
			}
			c.process(ctx, d)
		}
	}
}

// Subscriber opens a fresh delivery channel, reconnecting to the broker when
// needed.
type Subscriber func() (<-chan amqp.Delivery, error)

// Serve keeps the consumer subscribed until ctx is cancelled. A failed
// subscription or a closed delivery channel is retried after delay.
func (c *Consumer) Serve(ctx context.Context, subscribe Subscriber, delay time.Duration) {
	for {
		deliveries, err := subscribe()
		if err != nil {
			c.log.WithError(err).WithField("retry_in", delay.String()).Warn("Telephony subscription failed")
		} else {
			c.Run(ctx, deliveries)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
			c.log.Info("Resubscribing telephony consumer")
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	hctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.Handle(hctx, d.Body); err != nil {
		c.log.WithError(err).WithField("routing_key", d.RoutingKey).Warn("Rejecting telephony message")
		if rerr := d.Reject(false); rerr != nil {
			c.log.WithError(rerr).Error("Failed to reject telephony message")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		c.log.WithError(err).Error("Failed to ack telephony message")
	}
}

// Handle decodes one message body and emits it to the tenant room.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: %v", models.ErrBadMessage, err)
	}
	if msg.TenantID == "" {
		return fmt.Errorf("%w: tenantId is required", models.ErrBadMessage)
	}
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", models.ErrBadMessage)
	}

	switch msg.Type {
	case TypeSmsCreated, TypeSmsUpdated:
		var sms emitter.SmsEvent
		if err := json.Unmarshal(msg.Payload, &sms); err != nil {
			return fmt.Errorf("%w: sms payload: %v", models.ErrBadMessage, err)
		}
		sms.TenantID = msg.TenantID
		if msg.Type == TypeSmsCreated {
			c.sms.EmitSmsCreated(ctx, sms)
		} else {
			c.sms.EmitSmsUpdated(ctx, sms)
		}
	case TypeCallCreated, TypeCallUpdated:
		var call emitter.CallEvent
		if err := json.Unmarshal(msg.Payload, &call); err != nil {
			return fmt.Errorf("%w: call payload: %v", models.ErrBadMessage, err)
		}
		call.TenantID = msg.TenantID
		if msg.Type == TypeCallCreated {
			c.calls.EmitCallCreated(ctx, call)
		} else {
			c.calls.EmitCallUpdated(ctx, call)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", models.ErrBadMessage, msg.Type)
	}

	c.log.WithFields(logrus.Fields{
		"type":      msg.Type,
		"tenant_id": msg.TenantID,
	}).Debug("Telephony event emitted")
	return nil
}
