package vault

import "errors"

var (
	// ErrNotConfigured: no credential row exists for the (customer, service)
	// pair. The caller should start an authorization flow.
	ErrNotConfigured = errors.New("credential not configured")

	// ErrDisabled: a tuple is stored but the tenant switched it off.
	ErrDisabled = errors.New("credential disabled")

	// ErrNeedsReauth: the stored tuple is unusable and a refresh cannot fix
	// it. The tenant must re-authorize; retrying blindly will not help.
	ErrNeedsReauth = errors.New("credential requires re-authorization")

	// ErrRefreshFailed: a refresh attempt failed for a recoverable reason
	// (provider outage, network). The stored tuple is untouched.
	ErrRefreshFailed = errors.New("credential refresh failed")

	// ErrExchangeFailed: the provider rejected the authorization code.
	ErrExchangeFailed = errors.New("authorization code exchange failed")

	// ErrAppNotConfigured: no OAuth application is registered for the service.
	ErrAppNotConfigured = errors.New("no oauth application configured for service")

	// ErrInvalidState: the state parameter failed verification.
	ErrInvalidState = errors.New("invalid authorization state")

	// ErrUnknownService: the service name is not in the supported set.
	ErrUnknownService = errors.New("unknown service")
)
