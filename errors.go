package identityflow

import "errors"

var (
	// ErrUserNotFound is returned by UserDirectory lookups that match nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrIdentityExists is returned by UserDirectory.Insert for a taken identity.
	ErrIdentityExists = errors.New("identity already exists")
	// ErrTokenNotFound is returned by TokenStore lookups that match nothing.
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenExists is returned by TokenStore.Insert for a duplicate id or
	// (purpose, value) pair.
	ErrTokenExists = errors.New("token already exists")
	// ErrInvalidUser is returned when a User misses required fields.
	ErrInvalidUser = errors.New("invalid user")
	// ErrUnknownPurpose is returned for purposes without a configured TTL.
	ErrUnknownPurpose = errors.New("unknown token purpose")
	// ErrTokenStoreUnavailable wraps token storage faults.
	ErrTokenStoreUnavailable = errors.New("token store unavailable")
	// ErrUserDirectoryUnavailable wraps user directory faults.
	ErrUserDirectoryUnavailable = errors.New("user directory unavailable")
	// ErrCredentialHashFailed wraps CredentialHasher faults.
	ErrCredentialHashFailed = errors.New("credential hashing failed")
	// ErrNotificationFailed wraps NotificationSender faults.
	ErrNotificationFailed = errors.New("notification delivery failed")
	// ErrIssuanceRateLimited is returned when token issuance is throttled.
	ErrIssuanceRateLimited = errors.New("token issuance rate limited")
	// ErrIssuanceUnavailable is returned when the issuance limiter backend fails.
	ErrIssuanceUnavailable = errors.New("token issuance limiter unavailable")
	// ErrEngineNotReady is returned when an Engine was not built through Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid config")
)
