package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// StreamMessage is one entry read through a consumer group.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// StreamReader reads one stream as a member of a consumer group.
type StreamReader struct {
	client   *goredis.Client
	stream   string
	group    string
	consumer string
}

func NewStreamReader(client *goredis.Client, stream, group, consumer string) *StreamReader {
	return &StreamReader{client: client, stream: stream, group: group, consumer: consumer}
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (r *StreamReader) EnsureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", r.group, r.stream, err)
	}
	return nil
}

// ReadPending returns up to count entries delivered to this consumer but
// never acked, starting after the entry id after. An empty after starts at
// the head of the pending list.
func (r *StreamReader) ReadPending(ctx context.Context, after string, count int64) ([]StreamMessage, error) {
	if after == "" {
		after = "0"
	}
	return r.read(ctx, after, count, -1)
}

// ReadNew blocks up to block for entries never delivered to the group.
func (r *StreamReader) ReadNew(ctx context.Context, count int64, block time.Duration) ([]StreamMessage, error) {
	return r.read(ctx, ">", count, block)
}

func (r *StreamReader) read(ctx context.Context, id string, count int64, block time.Duration) ([]StreamMessage, error) {
	streams, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, id},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []StreamMessage
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, StreamMessage{ID: m.ID, Payload: fieldBytes(m.Values[StreamField])})
		}
	}
	return out, nil
}

func (r *StreamReader) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.client.XAck(ctx, r.stream, r.group, ids...).Err()
}

func fieldBytes(v interface{}) []byte {
	switch val := v.(type) {
	case string:
		return []byte(val)
	case []byte:
		return val
	default:
		return nil
	}
}
