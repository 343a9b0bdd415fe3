package schwab

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// tokenRefreshMargin is how long before expiry a cached access token is
// considered stale. Schwab access tokens live 30 minutes.
const tokenRefreshMargin = 2 * time.Minute

// TokenSource manages the OAuth access token lifecycle using the
// refresh-token grant. It is safe for concurrent use; at most one refresh
// request is in flight at a time.
type TokenSource struct {
	tokenURL     string
	appKey       string
	appSecret    string
	refreshToken string
	httpClient   *http.Client
	log          *slog.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewTokenSource creates a token source for the given app credentials and
// long-lived refresh token.
func NewTokenSource(tokenURL, appKey, appSecret, refreshToken string, log *slog.Logger) *TokenSource {
	if log == nil {
		log = slog.Default()
	}
	return &TokenSource{
		tokenURL:     tokenURL,
		appKey:       appKey,
		appSecret:    appSecret,
		refreshToken: refreshToken,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		log:          log.With("component", "oauth"),
	}
}

// AccessToken returns a valid access token, refreshing it first if the
// cached one is missing or within the refresh margin of expiry.
func (ts *TokenSource) AccessToken(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.accessToken != "" && time.Until(ts.expiresAt) > tokenRefreshMargin {
		return ts.accessToken, nil
	}
	if err := ts.refreshLocked(ctx); err != nil {
		return "", err
	}
	return ts.accessToken, nil
}

// Invalidate drops the cached access token so the next AccessToken call
// refreshes. Used after a 401 from the trader API.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.accessToken = ""
	ts.mu.Unlock()
}

func (ts *TokenSource) refreshLocked(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", ts.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(ts.appKey + ":" + ts.appSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token refresh returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return fmt.Errorf("decoding token response: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token response missing access_token")
	}

	ts.accessToken = tok.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if tok.RefreshToken != "" {
		ts.refreshToken = tok.RefreshToken
	}
	ts.log.Debug("access token refreshed", "expiresIn", tok.ExpiresIn)
	return nil
}
