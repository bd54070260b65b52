package hotkv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// RedisStore implements Store on Redis. All calls run through a circuit
// breaker so a dead backend fails fast instead of stacking timeouts; the
// surface layer treats an open breaker as backend-unavailable and degrades
// per strategy.
type RedisStore struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
}

// NewRedisStore wraps client. The breaker opens after 5 consecutive failures
// and probes again after 10 seconds.
func NewRedisStore(client *redis.Client) *RedisStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "hotkv-redis",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A cache miss is a healthy answer; only real backend errors may
		// feed the trip counter.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})
	return &RedisStore{client: client, breaker: breaker}
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, key, value, ttl).Err()
	})
	return wrapBreaker(err)
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := r.breaker.Execute(func() (interface{}, error) {
		b, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return b, err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapBreaker(err)
	}
	return out.([]byte), nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Del(ctx, key).Err()
	})
	return wrapBreaker(err)
}

func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	out, err := r.breaker.Execute(func() (interface{}, error) {
		var keys []string
		iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return keys, iter.Err()
	})
	if err != nil {
		return nil, wrapBreaker(err)
	}
	return out.([]string), nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Ping(ctx).Err()
	})
	return wrapBreaker(err)
}

// wrapBreaker labels open-circuit errors so callers can tell "backend down,
// fail fast" apart from an ordinary command error.
func wrapBreaker(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("hotkv: circuit open: %w", err)
	}
	return err
}
