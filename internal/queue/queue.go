// Package queue carries teacher-location pings from the tracker agent to the
// API process. Two backends: a Redis list for deployments, a bounded channel
// for dev and tests.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis list the location stream uses.
const DefaultKey = "geoattend:locations"

// LocationPing is one teacher fix destined for a session's reference point.
type LocationPing struct {
	SessionID  string    `json:"session_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  float64   `json:"accuracy_m"`
	CapturedAt time.Time `json:"captured_at"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, ping LocationPing) error
	Consume(ctx context.Context) (<-chan LocationPing, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan LocationPing
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan LocationPing, size)}
}

// Publish enqueues a ping.
func (q *InMemory) Publish(ctx context.Context, ping LocationPing) error {
	select {
	case q.ch <- ping:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for the consumer loop.
func (q *InMemory) Consume(ctx context.Context) (<-chan LocationPing, error) {
	out := make(chan LocationPing)
	go func() {
		defer close(out)
		for {
			select {
			case ping := <-q.ch:
				select {
				case out <- ping:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a simple Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a ping as JSON.
func (q *RedisQueue) Publish(ctx context.Context, ping LocationPing) error {
	body, err := json.Marshal(ping)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, body).Err()
}

// Consume streams pings using BRPOP. Entries that fail to decode are dropped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan LocationPing, error) {
	out := make(chan LocationPing)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				var ping LocationPing
				if err := json.Unmarshal([]byte(res[1]), &ping); err == nil {
					select {
					case out <- ping:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}
