package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Frame is how an Envelope is laid out on a Redis list.
type Frame struct {
	Subject     string          `json:"subject"`
	ContentType string          `json:"content_type"`
	Body        json.RawMessage `json:"body"`
}

// RedisDialer connects to Redis and pushes envelopes onto the list named by
// the destination. Consumers pop from the other end.
type RedisDialer struct {
	opts *redis.Options
}

func NewRedisDialer(rawURL string) (*RedisDialer, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisDialer{opts: opts}, nil
}

// Options returns a copy of the parsed connection options.
func (d *RedisDialer) Options() *redis.Options {
	o := *d.opts
	return &o
}

func (d *RedisDialer) Dial(ctx context.Context) (Session, error) {
	client := redis.NewClient(d.Options())
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &redisSession{client: client}, nil
}

type redisSession struct {
	client *redis.Client
}

func (s *redisSession) Send(ctx context.Context, destination string, env Envelope) error {
	frame, err := json.Marshal(Frame{
		Subject:     env.Subject,
		ContentType: env.ContentType,
		Body:        json.RawMessage(env.Body),
	})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := s.client.LPush(ctx, destination, frame).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", destination, err)
	}
	return nil
}

func (s *redisSession) Close() error {
	return s.client.Close()
}
