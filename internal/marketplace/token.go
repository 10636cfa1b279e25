package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"listing-sync-service/internal/httpclient"
	"listing-sync-service/internal/models"
)

// expirySlack is subtracted from token lifetimes so a token is refreshed
// before the marketplace actually rejects it
const expirySlack = 2 * time.Minute

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenService acquires and caches OAuth tokens per marketplace account.
// The processor fetches one token per account per batch; the cache saves
// the round trip when consecutive batches hit the same account.
type TokenService struct {
	authURL string
	http    *httpclient.RateLimitedClient

	mu     sync.Mutex
	tokens map[string]cachedToken

	// Credentials keyed by account ref, loaded at startup
	credentials map[string]Credentials
}

// Credentials holds one account's client credential pair
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// NewTokenService creates a token service for the given auth endpoint
func NewTokenService(authURL string, rlc *httpclient.RateLimitedClient, credentials map[string]Credentials) *TokenService {
	return &TokenService{
		authURL:     authURL,
		http:        rlc,
		tokens:      make(map[string]cachedToken),
		credentials: credentials,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// GetToken returns a valid token for the account, fetching a fresh one when
// the cached token is absent or near expiry. Failures surface as
// AuthFailureError so callers short-circuit the whole account.
func (s *TokenService) GetToken(ctx context.Context, accountRef, env string) (string, error) {
	s.mu.Lock()
	if cached, ok := s.tokens[accountRef]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.Unlock()
		return cached.value, nil
	}
	s.mu.Unlock()

	creds, ok := s.credentials[accountRef]
	if !ok {
		return "", &models.AuthFailureError{
			AccountRef: accountRef,
			Cause:      fmt.Errorf("no credentials configured"),
		}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", scopeForEnv(env))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authURL,
		bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return "", &models.AuthFailureError{AccountRef: accountRef, Cause: err}
	}
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(ctx, req)
	if err != nil {
		return "", &models.AuthFailureError{AccountRef: accountRef, Cause: err}
	}
	defer resp.Body.Close()

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &models.AuthFailureError{AccountRef: accountRef, Cause: err}
	}
	if parsed.AccessToken == "" {
		return "", &models.AuthFailureError{
			AccountRef: accountRef,
			Cause:      fmt.Errorf("empty access token in response"),
		}
	}

	expiresAt := time.Now().Add(time.Duration(parsed.ExpiresIn)*time.Second - expirySlack)

	s.mu.Lock()
	s.tokens[accountRef] = cachedToken{value: parsed.AccessToken, expiresAt: expiresAt}
	s.mu.Unlock()

	log.Debug().
		Str("account_ref", accountRef).
		Time("expires_at", expiresAt).
		Msg("Acquired marketplace token")

	return parsed.AccessToken, nil
}

// Invalidate drops a cached token, forcing a refresh on next use
func (s *TokenService) Invalidate(accountRef string) {
	s.mu.Lock()
	delete(s.tokens, accountRef)
	s.mu.Unlock()
}

func scopeForEnv(env string) string {
	if strings.EqualFold(env, "production") {
		return "https://api.ebay.com/oauth/api_scope/sell.inventory"
	}
	return "https://api.sandbox.ebay.com/oauth/api_scope/sell.inventory"
}
