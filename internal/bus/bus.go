// Package bus implements the durable Redis Streams bus: XADD with
// approximate trimming on the egress side, and
// consumer-group XREADGROUP (auto-creating the group with MKSTREAM) on
// the ingress side. This is the one concrete collab.StreamBus
// implementation; everything upstream of it only depends on the
// interface.
package bus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/xchainarb/detector/internal/collab"
)

// RedisStreamBus adapts a *redis.Client to collab.StreamBus.
type RedisStreamBus struct {
	client *redis.Client
	log    logrus.FieldLogger
}

// Option configures a RedisStreamBus at construction time.
type Option func(*RedisStreamBus)

// WithLogger overrides the default (logrus standard) logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *RedisStreamBus) { b.log = l }
}

// New wraps an existing redis client. The caller owns dialing (redis.NewClient
// from a parsed URL) so this package stays free of connection-string
// parsing concerns.
func New(client *redis.Client, opts ...Option) *RedisStreamBus {
	b := &RedisStreamBus{client: client, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append writes record to stream, approximately trimming the stream to
// capHint entries (MAXLEN ~) so trimming never blocks the write on an
// exact count scan.
func (b *RedisStreamBus) Append(ctx context.Context, stream string, record map[string]any, capHint int64) error {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: record,
	}
	if capHint > 0 {
		args.MaxLen = capHint
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("bus: XADD %s: %w", stream, err)
	}
	return nil
}

// ReadGroup reads the next batch of entries for (group, consumer) on
// stream, creating the group (and the stream, via MKSTREAM) if it doesn't
// exist yet. startID ("" means "$") is only used when the group is
// created; thereafter the group tracks its own cursor. Reads always use
// ">", so each call returns only entries not yet delivered to the group.
func (b *RedisStreamBus) ReadGroup(ctx context.Context, stream, group, consumer string, startID string) ([]collab.BusRecord, error) {
	if err := b.ensureGroup(ctx, stream, group, startID); err != nil {
		return nil, err
	}

	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    100,
		Block:    0,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("bus: XREADGROUP %s/%s: %w", stream, group, err)
	}

	var out []collab.BusRecord
	for _, s := range res {
		for _, msg := range s.Messages {
			fields := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				fields[k] = fmt.Sprintf("%v", v)
			}
			out = append(out, collab.BusRecord{ID: msg.ID, Stream: stream, Fields: fields})
		}
	}
	return out, nil
}

func (b *RedisStreamBus) ensureGroup(ctx context.Context, stream, group, startID string) error {
	if startID == "" {
		startID = "$"
	}
	err := b.client.XGroupCreateMkStream(ctx, stream, group, startID).Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("bus: XGROUP CREATE %s/%s: %w", stream, group, err)
	}
	return nil
}

// Close closes the underlying redis client.
func (b *RedisStreamBus) Close() error {
	return b.client.Close()
}

var _ collab.StreamBus = (*RedisStreamBus)(nil)

// ParseCapHint parses the MAX_CACHE_SIZE-style env value used by callers
// that build capHint from a string config field, returning 0 (no
// trimming) on a blank or invalid value.
func ParseCapHint(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
