package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TokenSource provides bearer tokens for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) error
}

type AppOnlyTokenSourceConfig struct {
	// TokenURL is the OAuth2 token endpoint (e.g. https://api.x.com/oauth2/token).
	TokenURL  string
	APIKey    string
	APISecret string
	// BearerToken is used until the API rejects it.
	BearerToken string

	HTTPTimeout time.Duration
	UserAgent   string
}

// AppOnlyTokenSource serves the configured bearer token and, when forced,
// mints a new app-only token from the API key and secret using the
// client_credentials grant.
type AppOnlyTokenSource struct {
	cfg AppOnlyTokenSourceConfig
	hc  *http.Client

	mu          sync.Mutex
	accessToken string
}

func NewAppOnlyTokenSource(cfg AppOnlyTokenSourceConfig) *AppOnlyTokenSource {
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://api.x.com/oauth2/token"
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	return &AppOnlyTokenSource{
		cfg: cfg,
		hc: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		accessToken: cfg.BearerToken,
	}
}

func (s *AppOnlyTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.accessToken
	s.mu.Unlock()

	if token == "" {
		if err := s.refresh(ctx); err != nil {
			return "", err
		}
		s.mu.Lock()
		token = s.accessToken
		s.mu.Unlock()
	}
	if token == "" {
		return "", fmt.Errorf("no access token available")
	}
	return token, nil
}

func (s *AppOnlyTokenSource) ForceRefresh(ctx context.Context) error {
	return s.refresh(ctx)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *AppOnlyTokenSource) refresh(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.APIKey) == "" || strings.TrimSpace(s.cfg.APISecret) == "" {
		return fmt.Errorf("api key and secret are required to mint a token")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	req.SetBasicAuth(url.QueryEscape(s.cfg.APIKey), url.QueryEscape(s.cfg.APISecret))

	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("token endpoint error: %s", resp.Status)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("token response missing access_token")
	}
	if tr.TokenType != "" && !strings.EqualFold(tr.TokenType, "bearer") {
		return fmt.Errorf("unexpected token type %q", tr.TokenType)
	}

	s.mu.Lock()
	s.accessToken = tr.AccessToken
	s.mu.Unlock()

	return nil
}
