package clients

import (
	"fmt"
	"sync"

	"dealerhub-realtime-svc/src/internal/config"
	"dealerhub-realtime-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

type RabbitMQ struct {
	mu      sync.RWMutex
	Conn    *amqp.Connection
	Channel *amqp.Channel
	cfg     *config.QueueConfig
}

func dialRabbitMQ(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		log.WithError(err).Errorf("Failed to connect to RabbitMQ: %v", err)
		return nil, nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		log.WithError(err).Errorf("Failed to open a channel: %v", err)
		return nil, nil, err
	}
	return conn, channel, nil
}

func NewRabbitMQ(cfg *config.QueueConfig) (*RabbitMQ, error) {
	log.WithField("exchange", cfg.RabbitMQ.Exchange).Info("Connecting to RabbitMQ...")
	conn, channel, err := dialRabbitMQ(cfg.RabbitMQ.Url)
	if err != nil {
		return nil, err
	}

	log.Info("Connected to RabbitMQ")

	return &RabbitMQ{
		Conn:    conn,
		Channel: channel,
		cfg:     cfg,
	}, nil
}

func (r *RabbitMQ) channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Channel
}

// EnsureConnected redials the broker when the connection has been closed,
// for example after a broker restart.
func (r *RabbitMQ) EnsureConnected() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Conn != nil && !r.Conn.IsClosed() {
		return nil
	}

	log.Info("Reconnecting to RabbitMQ...")
	conn, channel, err := dialRabbitMQ(r.cfg.RabbitMQ.Url)
	if err != nil {
		return fmt.Errorf("%w: reconnect: %v", models.ErrQueueConsume, err)
	}
	r.Conn = conn
	r.Channel = channel
	log.Info("Reconnected to RabbitMQ")
	return nil
}

// Publish sends msg on the current channel, so publishers survive a
// reconnect.
func (r *RabbitMQ) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	channel := r.channel()
	if channel == nil {
		return fmt.Errorf("rabbitmq channel not open")
	}
	return channel.Publish(exchange, key, mandatory, immediate, msg)
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			log.WithError(err).Error("Failed to close RabbitMQ channel")
			firstErr = err
		} else {
			log.Info("RabbitMQ channel closed")
		}
	}

	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil {
			log.WithError(err).Error("Failed to close RabbitMQ connection")
			if firstErr == nil {
				firstErr = err
			}
		} else {
			log.Info("RabbitMQ connection closed")
		}
	}

	return firstErr
}

func (r *RabbitMQ) SetupExchange() error {
	err := r.channel().ExchangeDeclare(
		r.cfg.RabbitMQ.Exchange,
		r.cfg.RabbitMQ.ExchangeType,
		r.cfg.RabbitMQ.Durable,
		r.cfg.RabbitMQ.AutoDelete,
		r.cfg.RabbitMQ.Internal,
		r.cfg.RabbitMQ.NoWait,
		nil,
	)

	if err != nil {
		return fmt.Errorf("failed to declare exchange: %v", err)
	}

	return nil
}

// BindQueue declares a durable queue and binds it to the exchange once per
// routing key.
func (r *RabbitMQ) BindQueue(queue string, routingKeys []string) error {
	channel := r.channel()
	q, err := channel.QueueDeclare(
		queue,
		r.cfg.RabbitMQ.Durable,
		r.cfg.RabbitMQ.AutoDelete,
		false, // exclusive
		r.cfg.RabbitMQ.NoWait,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %v", queue, err)
	}

	for _, key := range routingKeys {
		if err := channel.QueueBind(q.Name, key, r.cfg.RabbitMQ.Exchange, r.cfg.RabbitMQ.NoWait, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s: %v", q.Name, key, err)
		}
	}

	log.WithFields(logrus.Fields{
		"queue":        q.Name,
		"routing_keys": routingKeys,
	}).Info("RabbitMQ queue bound")
	return nil
}

// Consume starts a manual-ack consumer on queue.
func (r *RabbitMQ) Consume(queue, consumer string, prefetch int) (<-chan amqp.Delivery, error) {
	channel := r.channel()
	if prefetch > 0 {
		if err := channel.Qos(prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("%w: set qos: %v", models.ErrQueueConsume, err)
		}
	}
	deliveries, err := channel.Consume(
		queue,
		consumer,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		r.cfg.RabbitMQ.NoWait,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: consume %s: %v", models.ErrQueueConsume, queue, err)
	}
	return deliveries, nil
}
