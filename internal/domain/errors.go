package domain

import "errors"

var (
	// ErrDuplicateEvent indicates the inbound event ID was already processed.
	ErrDuplicateEvent = errors.New("event already processed")
	// ErrCredentialNotFound is returned when no credential exists for a provider user.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrCredentialRevoked indicates the provider rejected the refresh token.
	ErrCredentialRevoked = errors.New("refresh token rejected by provider")
	// ErrProviderUnavailable covers transport failures and provider 5xx responses.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrManualStepsLimit is returned when a manual entry exceeds the daily cap.
	ErrManualStepsLimit = errors.New("too many steps for manual entry")
	// ErrLeagueNotFound is returned when a league cannot be located.
	ErrLeagueNotFound = errors.New("league not found")
	// ErrNotLeagueAdmin is returned when a member-management call lacks admin role.
	ErrNotLeagueAdmin = errors.New("not a league admin")
)
