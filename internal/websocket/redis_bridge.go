package websocket

import (
	"context"

	"incident-ledger/internal/redis"
)

// IncidentChannelPattern matches every live incident channel.
var IncidentChannelPattern = redis.IncidentChannel("*")

type Subscriber interface {
	Subscribe(ctx context.Context, channels []string, handler func(channel string, payload []byte)) error
}

// RedisBridge relays pub/sub messages into the hub.
type RedisBridge struct {
	subscriber Subscriber
	hub        *Hub
}

func NewRedisBridge(subscriber Subscriber, hub *Hub) *RedisBridge {
	return &RedisBridge{subscriber: subscriber, hub: hub}
}

func (b *RedisBridge) Run(ctx context.Context) error {
	err := b.subscriber.Subscribe(ctx, []string{IncidentChannelPattern}, b.hub.Broadcast)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
