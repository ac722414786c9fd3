package domain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CredentialStore captures the persistence operations the credential
// manager needs.
type CredentialStore interface {
	CredentialByProviderUser(ctx context.Context, provider, providerUserID string) (*Credential, error)
	UpdateCredentialTokens(ctx context.Context, credentialID, accessToken, refreshToken string, expiresAt time.Time) error
}

// TokenRefresher exchanges a refresh token for a new token pair at the
// provider's token endpoint.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error)
}

// CredentialManager owns OAuth token freshness. Concurrent refreshes for the
// same credential race with last-write-wins semantics; the provider's
// rotation grace period makes the occasional wasted refresh harmless.
type CredentialManager struct {
	store     CredentialStore
	refresher TokenRefresher
	log       *zap.Logger
	now       func() time.Time
}

// NewCredentialManager constructs a CredentialManager.
func NewCredentialManager(store CredentialStore, refresher TokenRefresher, log *zap.Logger) *CredentialManager {
	return &CredentialManager{store: store, refresher: refresher, log: log, now: time.Now}
}

// AccessToken returns a valid access token for the credential, refreshing it
// against the provider when the stored token has expired. On refresh failure
// the stored credential is left untouched and the error propagates so the
// caller can skip processing for this event.
func (m *CredentialManager) AccessToken(ctx context.Context, cred *Credential) (string, error) {
	if cred.ExpiresAt.After(m.now()) {
		return cred.AccessToken, nil
	}

	pair, err := m.refresher.RefreshToken(ctx, cred.RefreshToken)
	if err != nil {
		return "", err
	}

	expiresAt := m.now().Add(time.Duration(pair.ExpiresIn) * time.Second)
	if err := m.store.UpdateCredentialTokens(ctx, cred.ID, pair.AccessToken, pair.RefreshToken, expiresAt); err != nil {
		return "", fmt.Errorf("persist refreshed tokens: %w", err)
	}

	m.log.Info("refreshed provider token",
		zap.String("credential_id", cred.ID),
		zap.String("provider", cred.Provider),
		zap.Time("expires_at", expiresAt))

	cred.AccessToken = pair.AccessToken
	cred.RefreshToken = pair.RefreshToken
	cred.ExpiresAt = expiresAt
	return pair.AccessToken, nil
}
