// Package dedupe records event ids so at-least-once deliveries are applied once.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// Store remembers keys for a limited time.
type Store interface {
	// Seen records key and reports whether it was already present.
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget removes key so a later delivery is processed again.
	Forget(ctx context.Context, key string) error
}

// Memory is a process-local Store.
type Memory struct {
	mu    sync.Mutex
	clock clockwork.Clock
	keys  map[string]time.Time
}

// NewMemory creates a Memory store. A nil clock uses the real clock.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{clock: clock, keys: make(map[string]time.Time)}
}

func (m *Memory) Seen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for k, exp := range m.keys {
		if !now.Before(exp) {
			delete(m.keys, k)
		}
	}
	if _, ok := m.keys[key]; ok {
		return true, nil
	}
	m.keys[key] = now.Add(ttl)
	return false, nil
}

func (m *Memory) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// Redis is a Store shared between processes, backed by SET NX.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis store. Keys are namespaced with prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := r.client.SetNX(ctx, r.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe %s: %w", key, err)
	}
	return !created, nil
}

func (r *Redis) Forget(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("forget %s: %w", key, err)
	}
	return nil
}
