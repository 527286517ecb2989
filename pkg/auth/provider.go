// Package auth obtains Zoho access tokens from a long-lived refresh token and
// shares them across instances through Redis.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/oauth2"

	"github.com/fartrucking/far-warehousing/pkg/metrics"
	"github.com/fartrucking/far-warehousing/pkg/redis"
	"github.com/fartrucking/far-warehousing/pkg/tracing"
)

var (
	// ErrMissingCredentials is returned when no refresh token or client credentials are configured
	ErrMissingCredentials = errors.New("zoho credentials are not configured")

	// ErrTokenRefreshFailed is returned when the accounts server rejects the refresh
	ErrTokenRefreshFailed = errors.New("failed to refresh access token")
)

const (
	// DefaultSkewSeconds refreshes tokens this long before they expire
	DefaultSkewSeconds = 60

	// DefaultTTL is used when the accounts server omits expires_in
	DefaultTTL = time.Hour

	cacheKey = "auth:zoho:token"
)

// CachedToken is the shape stored in Redis.
type CachedToken struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// IsExpired checks if the token is expired (with skew)
func (t *CachedToken) IsExpired(skewSeconds int) bool {
	if t.ExpiresAt == 0 {
		return false
	}
	return time.Now().Unix() >= t.ExpiresAt-int64(skewSeconds)
}

// Cache is the token store; *redis.Client satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type Config struct {
	AccountsURL  string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Provider hands out access tokens, refreshing them when they near expiry.
type Provider struct {
	oauth        *oauth2.Config
	refreshToken string
	httpClient   *http.Client
	cache        Cache
	logger       ectologger.Logger

	mu      sync.Mutex
	current *CachedToken
}

func NewProvider(cfg Config, httpClient *http.Client, logger ectologger.Logger) (*Provider, error) {
	if cfg.RefreshToken == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimRight(cfg.AccountsURL, "/") + "/oauth/v2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		refreshToken: cfg.RefreshToken,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// WithCache shares tokens through cache.
func (p *Provider) WithCache(cache Cache) *Provider {
	p.cache = cache
	return p
}

// Token returns a valid access token.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && !p.current.IsExpired(DefaultSkewSeconds) {
		return p.current.Token, nil
	}

	ctx, span := tracing.StartSpan(ctx, "AuthProvider.Token")
	defer span.End()

	if cached, err := p.getCachedToken(ctx); err == nil && !cached.IsExpired(DefaultSkewSeconds) {
		p.logger.WithContext(ctx).Debug("Using cached Zoho access token")
		p.current = cached
		return cached.Token, nil
	}

	token, err := p.refresh(ctx)
	if err != nil {
		metrics.RecordTokenRefresh("error")
		tracing.RecordError(ctx, err)
		return "", err
	}
	metrics.RecordTokenRefresh("success")
	p.current = token

	if err := p.cacheToken(ctx, token); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to cache Zoho access token")
	}
	return token.Token, nil
}

// Invalidate drops the current token so the next call refreshes.
func (p *Provider) Invalidate(ctx context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()

	if p.cache == nil {
		return nil
	}
	return p.cache.Del(ctx, cacheKey)
}

func (p *Provider) refresh(ctx context.Context) (*CachedToken, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	p.logger.WithContext(ctx).Info("Refreshing Zoho access token")
	tok, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: p.refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRefreshFailed, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: response has no access_token", ErrTokenRefreshFailed)
	}

	now := time.Now()
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(DefaultTTL)
	}
	return &CachedToken{
		Token:     tok.AccessToken,
		TokenType: tok.TokenType,
		ExpiresAt: expiry.Unix(),
		CreatedAt: now.Unix(),
	}, nil
}

func (p *Provider) getCachedToken(ctx context.Context) (*CachedToken, error) {
	if p.cache == nil {
		return nil, redis.ErrNil
	}
	data, err := p.cache.Get(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	var token CachedToken
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached token: %w", err)
	}
	return &token, nil
}

func (p *Provider) cacheToken(ctx context.Context, token *CachedToken) error {
	if p.cache == nil {
		return nil
	}
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	ttl := time.Until(time.Unix(token.ExpiresAt, 0)) - DefaultSkewSeconds*time.Second
	if ttl <= 0 {
		return nil
	}
	return p.cache.Set(ctx, cacheKey, string(data), ttl)
}

// Static serves a fixed token. Used for local runs against a sandbox.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrMissingCredentials
	}
	return string(s), nil
}
