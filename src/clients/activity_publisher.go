package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dealerhub-realtime-svc/src/internal/config"
	"dealerhub-realtime-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AmqpPublisher is satisfied by *RabbitMQ and *amqp.Channel.
type AmqpPublisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ActivityPublisher publishes presence transitions to the events exchange.
type ActivityPublisher struct {
	channel AmqpPublisher
	cfg     *config.RabbitMQConfig
}

func NewActivityPublisher(cfg *config.Configuration, channel AmqpPublisher) *ActivityPublisher {
	return &ActivityPublisher{
		channel: channel,
		cfg:     &cfg.Queue.RabbitMQ,
	}
}

// PublishActivity publishes one presence transition message.
func (p *ActivityPublisher) PublishActivity(_ context.Context, userID, tenantID, action string) error {
	if p == nil || p.channel == nil {
		return nil
	}

	message := models.ActivityMessage{
		UserID:      userID,
		TenantID:    tenantID,
		ServiceName: models.ServicePresence,
		Action:      action,
		Timestamp:   time.Now().UTC(),
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal activity message: %w", err)
	}

	err = p.channel.Publish(
		p.cfg.Exchange,
		p.cfg.ActivityKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   message.Timestamp,
		},
	)
	if err != nil {
		logrus.WithError(err).Error("Failed to publish activity message")
		return fmt.Errorf("%w: %v", models.ErrQueuePublish, err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":     userID,
		"tenant_id":   tenantID,
		"action":      action,
		"exchange":    p.cfg.Exchange,
		"routing_key": p.cfg.ActivityKey,
	}).Debug("Activity message published")

	return nil
}
