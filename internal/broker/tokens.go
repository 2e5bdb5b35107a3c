package broker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// tokenExpiryMargin renews access tokens slightly early so a request
// never goes out with a token about to lapse mid-flight.
const tokenExpiryMargin = 60 * time.Second

// ErrNoRefreshToken is returned when a 401 forces a refresh but the
// token source has no way to mint a new access token.
var ErrNoRefreshToken = errors.New("no refresh token configured")

// TokenSource supplies bearer tokens for API requests.
type TokenSource interface {
	// Token returns a token believed to be valid, refreshing first if
	// the cached one is near expiry.
	Token(ctx context.Context) (string, error)
	// Refresh forces a new token, used after the API answers 401.
	Refresh(ctx context.Context) (string, error)
}

// StaticTokenSource hands out a fixed access token. Used in tests and
// for short runs where the operator supplies a fresh token directly.
type StaticTokenSource struct {
	token string
}

var _ TokenSource = (*StaticTokenSource)(nil)

// NewStaticTokenSource creates a token source around a fixed token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token returns the fixed token.
func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s.token == "" {
		return "", ErrNoRefreshToken
	}
	return s.token, nil
}

// Refresh cannot mint a new token for a static source.
func (s *StaticTokenSource) Refresh(ctx context.Context) (string, error) {
	return "", ErrNoRefreshToken
}

// RefreshTokenSource exchanges a long-lived refresh token for access
// tokens via the OAuth token endpoint, caching each access token until
// shortly before it expires. Safe for concurrent use.
type RefreshTokenSource struct {
	client       *http.Client
	logger       *log.Logger
	authBaseURL  string
	clientID     string
	clientSecret string

	mu           sync.Mutex
	refreshToken string
	accessToken  string
	expiresAt    time.Time
}

var _ TokenSource = (*RefreshTokenSource)(nil)

// NewRefreshTokenSource creates a refreshing token source. authBaseURL
// is the OAuth host, e.g. https://api.schwabapi.com.
func NewRefreshTokenSource(authBaseURL, clientID, clientSecret, refreshToken string, logger *log.Logger) *RefreshTokenSource {
	if logger == nil {
		logger = log.Default()
	}
	return &RefreshTokenSource{
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
		authBaseURL:  strings.TrimRight(authBaseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (r *RefreshTokenSource) WithHTTPClient(c *http.Client) *RefreshTokenSource {
	if c != nil {
		r.client = c
	}
	return r
}

// Token returns the cached access token, refreshing when it is within
// the expiry margin.
func (r *RefreshTokenSource) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.accessToken != "" && time.Now().Before(r.expiresAt.Add(-tokenExpiryMargin)) {
		return r.accessToken, nil
	}
	return r.refreshLocked(ctx)
}

// Refresh discards the cached access token and mints a new one.
func (r *RefreshTokenSource) Refresh(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

func (r *RefreshTokenSource) refreshLocked(ctx context.Context) (string, error) {
	if r.refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", r.refreshToken)

	endpoint := r.authBaseURL + "/v1/oauth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(r.clientID + ":" + r.clientSecret))
	req.Header.Add("Authorization", "Basic "+credentials)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			r.logger.Printf("Failed to close token response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr != nil {
			return "", &APIError{Status: resp.StatusCode, Body: "token refresh -> failed to read error body"}
		}
		return "", &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("token refresh -> %s", string(body))}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("token refresh: decode response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token refresh: response carried no access token")
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 1800
	}
	r.accessToken = tr.AccessToken
	r.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)

	// The token endpoint may rotate the refresh token; keep the newest
	// so later refreshes in the same run still work.
	if tr.RefreshToken != "" && tr.RefreshToken != r.refreshToken {
		r.refreshToken = tr.RefreshToken
		r.logger.Printf("refresh token rotated by auth server")
	}
	r.logger.Printf("access token refreshed; valid for %ds", expiresIn)

	return r.accessToken, nil
}
