package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/smsforward/pkg/logger"
)

// RedisSource reads envelopes from a Redis list. Producers LPUSH and the
// source BRPOPs, so the list is FIFO.
type RedisSource struct {
	client      *goredis.Client
	key         string
	pollTimeout time.Duration
	logger      logger.Logger
	now         func() time.Time
}

// NewRedisSource creates a source on the list keyPrefix+"inbox".
func NewRedisSource(client *goredis.Client, keyPrefix string, log logger.Logger) *RedisSource {
	return &RedisSource{
		client:      client,
		key:         keyPrefix + "inbox",
		pollTimeout: 2 * time.Second,
		logger:      logger.OrDiscard(log),
		now:         time.Now,
	}
}

func (s *RedisSource) Name() string { return "redis" }

// Key returns the list key.
func (s *RedisSource) Key() string { return s.key }

func (s *RedisSource) Publish(ctx context.Context, env Envelope) error {
	if env.QueuedAt.IsZero() {
		env.QueuedAt = s.now()
	}
	data, err := Encode(env)
	if err != nil {
		return err
	}
	if err := s.client.LPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisSource) Receive(ctx context.Context) (Envelope, error) {
	for {
		res, err := s.client.BRPop(ctx, s.pollTimeout, s.key).Result()
		if errors.Is(err, goredis.Nil) {
			if ctx.Err() != nil {
				return Envelope{}, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Envelope{}, ctx.Err()
			}
			if errors.Is(err, goredis.ErrClosed) {
				return Envelope{}, ErrQueueClosed
			}
			return Envelope{}, fmt.Errorf("pop from %s: %w", s.key, err)
		}

		// res is [key, value].
		env, err := Decode([]byte(res[1]))
		if err != nil {
			s.logger.Error("dropping undecodable message", "key", s.key, "error", err)
			continue
		}
		if env.QueuedAt.IsZero() {
			env.QueuedAt = s.now()
		}
		env.Source = s.Name()
		return env, nil
	}
}

// Len returns the list length.
func (s *RedisSource) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}

// Close is a no-op; the client belongs to the caller.
func (s *RedisSource) Close() error { return nil }
