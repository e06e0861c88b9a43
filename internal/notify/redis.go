package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes envelopes on the per-host pub/sub channel that
// dashboard websocket gateways subscribe to.
type RedisPublisher struct {
	client redisClient
	log    zerolog.Logger
}

// NewRedisPublisher connects to url and checks the connection.
func NewRedisPublisher(ctx context.Context, url string, log zerolog.Logger) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("notify: parse redis url: %w", err)
	}
	opt.MaxRetries = 2
	opt.DialTimeout = 3 * time.Second
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("notify: ping redis: %w", err)
	}
	return newRedisPublisher(client, log), nil
}

func newRedisPublisher(client redisClient, log zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log.With().Str("component", "redis_publisher").Logger()}
}

func (p *RedisPublisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("notify: marshal envelope: %w", err)
	}
	channel := HostChannel(env.Data.HostID)
	receivers, err := p.client.Publish(ctx, channel, body).Result()
	if err != nil {
		return fmt.Errorf("notify: redis publish %s: %w", channel, err)
	}
	p.log.Debug().Str("channel", channel).Int64("receivers", receivers).Str("event_id", env.Meta.ID).Msg("published")
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
