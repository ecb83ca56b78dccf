package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "seeded-refresh", r.PostForm.Get("refresh_token"))
		require.Equal(t, "client", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
}

func TestTokenProviderRequiresSeed(t *testing.T) {
	p := NewTokenProvider(ProviderOptions{ClientID: "client", TokenURL: "http://127.0.0.1:1/token"}, NewMemoryTokenCache(), zerolog.Nop())

	_, err := p.Token(context.Background())
	require.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestTokenProviderRefreshesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls)
	defer srv.Close()

	cache := NewMemoryTokenCache()
	p := NewTokenProvider(ProviderOptions{ClientID: "client", TokenURL: srv.URL}, cache, zerolog.Nop())
	require.NoError(t, p.Seed(context.Background(), "seeded-refresh"))

	access, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-1", access)

	// second call is served from the cache
	_, err = p.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	cached, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "seeded-refresh", cached.RefreshToken, "refresh token must be kept when the server omits it")
	require.True(t, cached.Expiry.After(time.Now()))

	_, err = p.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestMemoryTokenCacheCopies(t *testing.T) {
	cache := NewMemoryTokenCache()
	tok := &oauth2.Token{AccessToken: "a"}
	require.NoError(t, cache.Put(context.Background(), tok))
	tok.AccessToken = "mutated"

	got, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", got.AccessToken)
	require.Error(t, cache.Put(context.Background(), nil))
}

func TestRedisTokenCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("GOLDWATCH_TEST_REDIS")
	if addr == "" {
		t.Skip("GOLDWATCH_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping test; redis not available: %v", err)
	}

	cache := NewRedisTokenCache(client, "goldwatch:test:token")
	defer cache.Close()
	ctx := context.Background()
	client.Del(ctx, "goldwatch:test:token")

	got, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, cache.Put(ctx, &oauth2.Token{RefreshToken: "r"}))
	got, err = cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "r", got.RefreshToken)
}
