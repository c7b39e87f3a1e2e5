package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chronoledger/internal/service/turn"
)

const (
	DefaultStreamPrefix = "chronoledger:events"
	defaultMaxLen       = 1000
	publishTimeout      = 2 * time.Second
)

// RedisPublisher appends turn events to one Redis stream per session so other
// processes can follow a turn as it happens.
type RedisPublisher struct {
	client *redis.Client
	prefix string
	maxLen int64
}

// NewRedisPublisher connects to addr and verifies the server answers.
func NewRedisPublisher(ctx context.Context, addr, prefix string) (*RedisPublisher, error) {
	if prefix == "" {
		prefix = DefaultStreamPrefix
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	log.Info().Str("component", "events").Str("addr", addr).Str("prefix", prefix).Msg("publishing turn events to redis")
	return &RedisPublisher{client: client, prefix: prefix, maxLen: defaultMaxLen}, nil
}

// StreamKey is the stream a session's events land on.
func (p *RedisPublisher) StreamKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", p.prefix, sessionID)
}

// Publish XADDs one event.
func (p *RedisPublisher) Publish(ctx context.Context, e turn.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.StreamKey(e.SessionID),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    string(e.Type),
			"page":    e.PageID,
			"payload": payload,
		},
	}).Err()
}

// OnEvent implements turn.Observer. Failures are logged; delivery is best effort.
func (p *RedisPublisher) OnEvent(e turn.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("component", "events").Str("session", e.SessionID).Str("event", string(e.Type)).Msg("redis publish failed")
	}
}

// Read returns the events recorded for a session, oldest first.
func (p *RedisPublisher) Read(ctx context.Context, sessionID string) ([]turn.Event, error) {
	entries, err := p.client.XRange(ctx, p.StreamKey(sessionID), "-", "+").Result()
	if err != nil {
		return nil, errors.Wrap(err, "read event stream")
	}
	out := make([]turn.Event, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["payload"].(string)
		if !ok {
			continue
		}
		var e turn.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, errors.Wrapf(err, "decode entry %s", entry.ID)
		}
		out = append(out, e)
	}
	return out, nil
}

// Close releases the connection pool.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
