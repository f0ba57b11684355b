package services

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the credential broker. Handlers map each
// one to a distinct HTTP status so callers can render a precise
// remediation instead of a generic failure.
var (
	// ErrUnknownProvider is returned for provider names outside the
	// registry. 400.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProviderNotConfigured is returned when the provider is known
	// but has no OAuth app credentials. 400.
	ErrProviderNotConfigured = errors.New("provider is not configured")

	// ErrMissingCredential and friends cover API key authentication.
	// All map to 401.
	ErrMissingCredential = errors.New("missing API key")
	ErrInvalidCredential = errors.New("invalid API key")
	ErrCredentialExpired = errors.New("API key has expired")

	// ErrNoAccountConnected means the user has no connected account for
	// the provider, or the account hint matched nothing. 403.
	ErrNoAccountConnected = errors.New("no account connected for provider")

	// ErrReconnectRequired means the stored grant can no longer produce
	// a valid access token and the user must redo the OAuth flow. 403.
	ErrReconnectRequired = errors.New("account requires reconnection")

	// ErrNotFound covers every ownership-checked lookup. It does not
	// distinguish "does not exist" from "not yours". 404.
	ErrNotFound = errors.New("not found")

	// Device flow errors. Each maps to its own status so the CLI can
	// tell the user exactly what happened.
	ErrDeviceCodeExpired    = errors.New("device code has expired")        // 410
	ErrDeviceCodeUsed       = errors.New("device code already used")       // 409
	ErrDeviceNotClaimed     = errors.New("device code not claimed by you") // 403
	ErrDeviceClaimedByOther = errors.New("device code claimed by another user")
	ErrNoAccountsConnected  = errors.New("connect at least one account first") // 400

	// ErrDecryption means stored ciphertext could not be opened, which
	// indicates a key mismatch or data corruption. 500.
	ErrDecryption = errors.New("stored token could not be decrypted")
)

// TokenExchangeError is a non-2xx response from a provider's token
// endpoint during code exchange.
type TokenExchangeError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("%s token exchange failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// TokenRefreshError is a non-2xx response from a provider's token
// endpoint during a refresh grant. It is treated as "reconnect
// required", never as transient.
type TokenRefreshError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("%s token refresh failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// UpstreamUnreachableError is a transport-level failure reaching a
// provider API. 502. The forwarder never retries it.
type UpstreamUnreachableError struct {
	Provider string
	Err      error
}

func (e *UpstreamUnreachableError) Error() string {
	return fmt.Sprintf("failed to reach %s API: %v", e.Provider, e.Err)
}

func (e *UpstreamUnreachableError) Unwrap() error {
	return e.Err
}
