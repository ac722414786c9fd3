package strava

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/fitleague/internal/domain"
)

func TestRefreshTokenSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "refresh_token", body["grant_type"])
		require.Equal(t, "refresh-1", body["refresh_token"])
		require.Equal(t, "client-id", body["client_id"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"expires_in":    21600,
		})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{ClientID: "client-id", ClientSecret: "secret", TokenURL: srv.URL})

	pair, err := client.RefreshToken(context.Background(), "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "access-2", pair.AccessToken)
	require.Equal(t, "refresh-2", pair.RefreshToken)
	require.Equal(t, 21600, pair.ExpiresIn)
}

func TestRefreshTokenClientErrorMeansRevoked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"invalid grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{TokenURL: srv.URL})

	_, err := client.RefreshToken(context.Background(), "revoked")
	require.ErrorIs(t, err, domain.ErrCredentialRevoked)
}

func TestRefreshTokenServerErrorMeansUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{TokenURL: srv.URL})

	_, err := client.RefreshToken(context.Background(), "refresh-1")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestFetchActivityNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/activities/12345", r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{"type":"Run","distance":5200,"moving_time":1800,"start_date":"2024-05-15T06:00:00Z"}`))
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{APIBaseURL: srv.URL})

	activity, err := client.FetchActivity(context.Background(), "token-1", 12345)
	require.NoError(t, err)
	require.Equal(t, domain.TypeRun, activity.Type)
	require.Equal(t, 5200, activity.DistanceMeters)
}

func TestFetchActivityNonOKIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{APIBaseURL: srv.URL})

	_, err := client.FetchActivity(context.Background(), "token-1", 12345)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}
