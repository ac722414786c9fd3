// Package strava integrates with the Strava API: token refresh, activity
// detail fetch, and normalization of raw payloads into canonical records.
package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"example.com/fitleague/internal/domain"
)

const (
	defaultAPIBaseURL = "https://www.strava.com/api/v3"
	defaultTokenURL   = "https://www.strava.com/oauth/token"
)

// ClientConfig carries the OAuth application credentials and endpoints.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	APIBaseURL   string
	TokenURL     string
	Timeout      time.Duration
}

// Client talks to the Strava API. All requests carry a bounded timeout; a
// timeout or non-2xx response is a soft failure for the event being
// processed, never a process-fatal error.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
}

// NewClient constructs a Client with sane defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// RefreshToken exchanges a refresh token for a new token pair. A 4xx from
// the token endpoint means the refresh token was revoked or expired; 5xx and
// transport errors are provider unavailability.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if err != nil {
		return domain.TokenPair{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return domain.TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		data, _ := io.ReadAll(resp.Body)
		return domain.TokenPair{}, fmt.Errorf("%w: status %d: %s", domain.ErrCredentialRevoked, resp.StatusCode, data)
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return domain.TokenPair{}, fmt.Errorf("%w: status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, data)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: decode token response: %v", domain.ErrProviderUnavailable, err)
	}

	return domain.TokenPair{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresIn:    payload.ExpiresIn,
	}, nil
}

// FetchActivity retrieves the full activity payload by ID and normalizes it.
// The caller assigns the owning user and storage identifiers.
func (c *Client) FetchActivity(ctx context.Context, accessToken string, activityID int64) (domain.Activity, error) {
	url := fmt.Sprintf("%s/activities/%d?include_all_efforts=false", c.cfg.APIBaseURL, activityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Activity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Activity{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return domain.Activity{}, fmt.Errorf("%w: fetch activity %d: status %d: %s", domain.ErrProviderUnavailable, activityID, resp.StatusCode, data)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Activity{}, fmt.Errorf("%w: read activity body: %v", domain.ErrProviderUnavailable, err)
	}

	return Normalize(raw)
}
