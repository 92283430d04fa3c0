package viewstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyNamespace = "billing:viewstate"

// Store keeps one State per view key. Load of an unknown view returns the
// zero State.
type Store interface {
	Load(ctx context.Context, view string) (State, error)
	Save(ctx context.Context, view string, s State) error
	Reset(ctx context.Context, view string) error
}

type cmdable interface {
	Get(context.Context, string) *redis.StringCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// RedisStore stores view state as JSON with a sliding TTL.
type RedisStore struct {
	store   cmdable
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewRedisStore parses url and returns a store over a new client.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisStore(raw, ttl), nil
}

func newRedisStore(c cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{store: c, ttl: ttl, nowFunc: time.Now}
}

func (r *RedisStore) Load(ctx context.Context, view string) (State, error) {
	raw, err := r.store.Get(ctx, Key(view)).Result()
	if errors.Is(err, redis.Nil) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get view state: %w", err)
	}
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return State{}, fmt.Errorf("decode view state: %w", err)
	}
	return s, nil
}

func (r *RedisStore) Save(ctx context.Context, view string, s State) error {
	s.UpdatedAt = r.nowFunc().UTC()
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode view state: %w", err)
	}
	if err := r.store.Set(ctx, Key(view), string(b), r.ttl).Err(); err != nil {
		return fmt.Errorf("set view state: %w", err)
	}
	return nil
}

func (r *RedisStore) Reset(ctx context.Context, view string) error {
	if err := r.store.Del(ctx, Key(view)).Err(); err != nil {
		return fmt.Errorf("delete view state: %w", err)
	}
	return nil
}

// Key returns the namespaced redis key for view.
func Key(view string) string {
	if view == "" {
		view = DefaultView
	}
	return keyNamespace + ":" + view
}

// MemoryStore is the in-process Store used when no redis URL is configured.
type MemoryStore struct {
	mu    sync.Mutex
	views map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{views: map[string]State{}}
}

func (m *MemoryStore) Load(_ context.Context, view string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.views[Key(view)], nil
}

func (m *MemoryStore) Save(_ context.Context, view string, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = time.Now().UTC()
	m.views[Key(view)] = s
	return nil
}

func (m *MemoryStore) Reset(_ context.Context, view string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, Key(view))
	return nil
}
