package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// ErrNoRefreshToken means the cache holds no refresh token to exchange.
var ErrNoRefreshToken = errors.New("auth: no refresh token cached; run `goldwatch auth seed`")

// ProviderOptions configure the delegated token provider.
type ProviderOptions struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// TokenURL overrides the Azure AD endpoint derived from TenantID.
	TokenURL string
	Timeout  time.Duration
}

// TokenProvider hands out access tokens, refreshing them from the cached
// refresh token when they expire.
type TokenProvider struct {
	oauth  *oauth2.Config
	cache  TokenCache
	client *http.Client
	logger zerolog.Logger

	mu sync.Mutex
}

// NewTokenProvider builds a provider on top of a cache.
func NewTokenProvider(opts ProviderOptions, cache TokenCache, logger zerolog.Logger) *TokenProvider {
	endpoint := microsoft.AzureADEndpoint(opts.TenantID)
	if opts.TokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: opts.TokenURL, AuthStyle: oauth2.AuthStyleInParams}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &TokenProvider{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       opts.Scopes,
		},
		cache:  cache,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "token_provider").Logger(),
	}
}

// Token returns the cached token while it is valid and refreshes it otherwise.
func (p *TokenProvider) Token(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cached, err := p.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cached.Valid() {
		return cached, nil
	}
	return p.refreshLocked(ctx, cached)
}

// Refresh forces a refresh-token exchange regardless of expiry.
func (p *TokenProvider) Refresh(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cached, err := p.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return p.refreshLocked(ctx, cached)
}

// AccessToken returns only the bearer string.
func (p *TokenProvider) AccessToken(ctx context.Context) (string, error) {
	tok, err := p.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Seed stores a refresh token obtained out of band.
func (p *TokenProvider) Seed(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return errors.New("refresh token is empty")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Put(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

func (p *TokenProvider) refreshLocked(ctx context.Context, cached *oauth2.Token) (*oauth2.Token, error) {
	if cached == nil || cached.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	expired := &oauth2.Token{RefreshToken: cached.RefreshToken}
	fresh, err := p.oauth.TokenSource(ctx, expired).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = cached.RefreshToken
	}

	if err := p.cache.Put(ctx, fresh); err != nil {
		return nil, err
	}
	p.logger.Info().Time("expiry", fresh.Expiry).Msg("access token refreshed")
	return fresh, nil
}
