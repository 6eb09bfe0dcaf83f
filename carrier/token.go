package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshMargin is how long before expiry a cached token is discarded.
const refreshMargin = 30 * time.Second

// TokenSource caches the carrier OAuth access token and refreshes it ahead
// of expiry. Carrier access tokens are JWTs; the exp claim is read without
// signature verification (only the carrier can verify its own tokens) to
// schedule the refresh. Tokens that don't parse fall back to a fixed TTL.
type TokenSource struct {
	fetch       func(ctx context.Context) (string, error)
	fallbackTTL time.Duration
	now         func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// StaticToken returns a source that always yields the given token. Used for
// feeds authenticated with a long-lived opaque bearer token.
func StaticToken(token string) *TokenSource {
	return &TokenSource{
		fetch: func(context.Context) (string, error) { return token, nil },
		now:   time.Now,
	}
}

// NewTokenSource builds a refreshing source around fetch, which performs the
// OAuth exchange. fallbackTTL bounds the cache lifetime of unparseable
// tokens; zero disables caching for them.
func NewTokenSource(fetch func(ctx context.Context) (string, error), fallbackTTL time.Duration) *TokenSource {
	return &TokenSource{fetch: fetch, fallbackTTL: fallbackTTL, now: time.Now}
}

// WithClock overrides the time source for tests.
func (s *TokenSource) WithClock(now func() time.Time) *TokenSource {
	s.now = now
	return s
}

// Token returns a bearer token valid for at least refreshMargin.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(refreshMargin).Before(s.expiry) {
		return s.token, nil
	}

	token, err := s.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("carrier: fetch token: %w", err)
	}
	if token == "" {
		return "", fmt.Errorf("carrier: token endpoint returned empty token")
	}

	s.token = token
	s.expiry = s.tokenExpiry(token)
	return s.token, nil
}

func (s *TokenSource) tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if s.fallbackTTL > 0 {
		return s.now().Add(s.fallbackTTL)
	}
	return time.Time{}
}

// OAuthFetch returns a fetch function performing the client-credentials
// exchange against tokenURL, for use with NewTokenSource.
func OAuthFetch(tokenURL, clientID, clientSecret string, httpClient *http.Client) func(ctx context.Context) (string, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return func(ctx context.Context) (string, error) {
		form := url.Values{
			"grant_type":    []string{"client_credentials"},
			"client_id":     []string{clientID},
			"client_secret": []string{clientSecret},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return "", fmt.Errorf("carrier: build token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("carrier: token exchange: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("carrier: token exchange: status %d", resp.StatusCode)
		}

		var payload struct {
			AccessToken string `json:"access_token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return "", fmt.Errorf("carrier: decode token response: %w", err)
		}
		return payload.AccessToken, nil
	}
}
