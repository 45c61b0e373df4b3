package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
)

// StreamField is the stream entry field carrying the encoded envelope.
const StreamField = "envelope"

// IncidentChannel is the pub/sub channel carrying live events for one incident.
func IncidentChannel(incidentID string) string {
	return "channel:incident:" + incidentID
}

type Publisher struct {
	client *goredis.Client
	maxLen int64
}

// NewPublisher returns a publisher. Streams are trimmed to roughly maxLen
// entries when maxLen > 0.
func NewPublisher(client *goredis.Client, maxLen int64) *Publisher {
	return &Publisher{client: client, maxLen: maxLen}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Append adds payload to stream and returns the entry id.
func (p *Publisher) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	args := &goredis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{StreamField: payload},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Result()
}
