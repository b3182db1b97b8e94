package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RoomMessage is one encoded frame addressed to a room.
type RoomMessage struct {
	Room  string          `json:"room"`
	Frame json.RawMessage `json:"frame"`
}

// Bus carries room broadcasts between gateway instances.
type Bus interface {
	Publish(ctx context.Context, msg RoomMessage) error
	StartForwarder(ctx context.Context, onMsg func(m RoomMessage)) error
	Close() error
}

type redisBus struct {
	rdb     *redis.Client
	channel string
	sub     *redis.PubSub
}

// NewRedisBus shares rdb with the presence store; Close only ends the
// subscription.
func NewRedisBus(rdb *redis.Client, channel string) Bus {
	return &redisBus{rdb: rdb, channel: channel}
}

func (b *redisBus) Publish(ctx context.Context, msg RoomMessage) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis room bus not initialized")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m RoomMessage)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis room bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.sub = sub

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var msg RoomMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					logrus.WithError(err).Warn("Bad room bus payload")
					continue
				}
				onMsg(msg)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	if b == nil || b.sub == nil {
		return nil
	}
	return b.sub.Close()
}
