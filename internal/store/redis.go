// Package store is the Redis-backed physical store used by the relay and the
// channel registry: capped lists, pub/sub topics and hashes.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by HGet when the field does not exist.
var ErrNotFound = errors.New("store: not found")

// Config holds the settings needed to open a Redis connection.
type Config struct {
	URL    string
	Logger *logrus.Logger
}

// Message is a payload received on a subscribed topic.
type Message struct {
	Topic   string
	Payload string
}

// Redis wraps a go-redis client. The client pools and multiplexes
// connections, so one Redis value is shared by all request goroutines.
type Redis struct {
	client redis.UniversalClient
	log    *logrus.Entry
}

// Open parses cfg.URL and returns a Redis store. It does not dial; use Ping
// to check connectivity.
func Open(cfg Config) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(opts), cfg.Logger), nil
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, logger *logrus.Logger) *Redis {
	if logger == nil {
		logger = logrus.New()
	}
	return &Redis{
		client: client,
		log:    logger.WithField("component", "store"),
	}
}

// Ping checks that the server answers.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// PushCapped inserts value at the head of the list at key and trims the list
// to keep entries. Both commands run in one MULTI/EXEC transaction, so the
// list never exceeds keep even under concurrent writers.
func (r *Redis) PushCapped(ctx context.Context, key string, value []byte, keep int64) error {
	if keep <= 0 {
		return fmt.Errorf("push %s: keep must be positive, got %d", key, keep)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		pipe.LTrim(ctx, key, 0, keep-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push %s: %w", key, err)
	}
	return nil
}

// Range returns list entries from start to stop inclusive, head first.
func (r *Redis) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", key, err)
	}
	return vals, nil
}

// Publish sends value to every subscriber of topic.
func (r *Redis) Publish(ctx context.Context, topic string, value []byte) error {
	if err := r.client.Publish(ctx, topic, value).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe pattern-subscribes to topics matching pattern and forwards
// messages to handle until ctx is cancelled or the subscription breaks.
// If ready is non-nil it is closed once the server confirms the subscription.
func (r *Redis) Subscribe(ctx context.Context, pattern string, ready chan<- struct{}, handle func(Message)) error {
	sub := r.client.PSubscribe(ctx, pattern)
	defer func() {
		if err := sub.Close(); err != nil {
			r.log.WithError(err).Debug("closing subscription")
		}
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", pattern, err)
	}
	r.log.WithField("pattern", pattern).Info("subscribed")
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			handle(Message{Topic: msg.Channel, Payload: msg.Payload})
		}
	}
}

// HSet stores value under field in the hash at key.
func (r *Redis) HSet(ctx context.Context, key, field string, value []byte) error {
	if err := r.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// HSetNX stores value under field only if the field is absent. It reports
// whether the value was written.
func (r *Redis) HSetNX(ctx context.Context, key, field string, value []byte) (bool, error) {
	ok, err := r.client.HSetNX(ctx, key, field, value).Result()
	if err != nil {
		return false, fmt.Errorf("hsetnx %s: %w", key, err)
	}
	return ok, nil
}

// HGet returns the value of field in the hash at key, or ErrNotFound.
func (r *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("hget %s: %w", key, err)
	}
	return val, nil
}

// HExists reports whether field is present in the hash at key.
func (r *Redis) HExists(ctx context.Context, key, field string) (bool, error) {
	ok, err := r.client.HExists(ctx, key, field).Result()
	if err != nil {
		return false, fmt.Errorf("hexists %s: %w", key, err)
	}
	return ok, nil
}

// HValues returns every value in the hash at key, in no particular order.
func (r *Redis) HValues(ctx context.Context, key string) ([]string, error) {
	vals, err := r.client.HVals(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hvals %s: %w", key, err)
	}
	return vals, nil
}
