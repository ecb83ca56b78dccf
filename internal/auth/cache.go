package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// TokenCache stores the delegated OAuth2 token between refreshes.
type TokenCache interface {
	// Get returns nil, nil when nothing is cached.
	Get(ctx context.Context) (*oauth2.Token, error)
	Put(ctx context.Context, token *oauth2.Token) error
}

// MemoryTokenCache keeps the token in process memory.
type MemoryTokenCache struct {
	mu    sync.Mutex
	token *oauth2.Token
}

// NewMemoryTokenCache returns an empty cache.
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{}
}

func (c *MemoryTokenCache) Get(context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return nil, nil
	}
	tok := *c.token
	return &tok, nil
}

func (c *MemoryTokenCache) Put(_ context.Context, token *oauth2.Token) error {
	if token == nil {
		return errors.New("nil token")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := *token
	c.token = &tok
	return nil
}

// RedisTokenCache persists the token as JSON under a single key so the
// refresh token survives restarts.
type RedisTokenCache struct {
	client *redis.Client
	key    string
}

// NewRedisTokenCache wraps an existing client.
func NewRedisTokenCache(client *redis.Client, key string) *RedisTokenCache {
	return &RedisTokenCache{client: client, key: key}
}

func (c *RedisTokenCache) Get(ctx context.Context) (*oauth2.Token, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get token: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode cached token: %w", err)
	}
	return &tok, nil
}

func (c *RedisTokenCache) Put(ctx context.Context, token *oauth2.Token) error {
	if token == nil {
		return errors.New("nil token")
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	return nil
}

// Close releases the redis client.
func (c *RedisTokenCache) Close() error {
	return c.client.Close()
}

var (
	_ TokenCache = (*MemoryTokenCache)(nil)
	_ TokenCache = (*RedisTokenCache)(nil)
)
