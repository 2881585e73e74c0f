// Package vault stores, issues, and refreshes third-party credentials per
// (customer, service) pair.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nexbridge/snowgate/internal/config"
	"github.com/nexbridge/snowgate/internal/store"
	"github.com/nexbridge/snowgate/pkg/models"
	"golang.org/x/sync/singleflight"
)

// Vault manages the credential lifecycle:
//
//	Unconfigured -> AuthorizationPending -> Active -> (RefreshInFlight) -> Active | NeedsReauth
//
// AuthorizationPending lives entirely inside the signed state parameter;
// RefreshInFlight is the singleflight group. Only Active and NeedsReauth are
// persisted.
type Vault struct {
	store       store.Store
	provider    Provider
	apps        map[string]config.OAuthAppConfig
	enc         *Encryptor
	probeClient *http.Client

	stateSecret []byte
	stateTTL    time.Duration
	skew        time.Duration

	// refreshGroup guarantees at most one in-flight refresh per
	// (customer, service); concurrent callers share its result. Keyed, not
	// global, so unrelated tenants refresh fully in parallel.
	refreshGroup singleflight.Group
}

// New creates a Vault.
func New(s store.Store, p Provider, enc *Encryptor, cfg config.VaultConfig, apps map[string]config.OAuthAppConfig) *Vault {
	return &Vault{
		store:       s,
		provider:    p,
		apps:        apps,
		enc:         enc,
		probeClient: &http.Client{Timeout: 15 * time.Second},
		stateSecret: []byte(cfg.StateSecret),
		stateTTL:    cfg.StateTTL,
		skew:        cfg.ExpirySkew,
	}
}

func (v *Vault) app(service string) (config.OAuthAppConfig, error) {
	if !models.ValidService(service) {
		return config.OAuthAppConfig{}, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	app, ok := v.apps[service]
	if !ok || !app.Configured() {
		return config.OAuthAppConfig{}, fmt.Errorf("%w: %s", ErrAppNotConfigured, service)
	}
	return app, nil
}

// CompleteAuthorization finishes the flow started by InitiateAuthorization:
// it verifies state, exchanges the code, and upserts the row as Active.
func (v *Vault) CompleteAuthorization(ctx context.Context, code, state string) (*models.OAuthCredential, error) {
	claims, err := v.verifyState(state)
	if err != nil {
		return nil, err
	}

	app, err := v.app(claims.Service)
	if err != nil {
		return nil, err
	}

	token, err := v.provider.Exchange(ctx, app, code, claims.BaseURL)
	if err != nil {
		// Expired or reused codes land here; the tenant has to restart.
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	now := time.Now().UTC()
	cred := &models.OAuthCredential{
		ID:             uuid.New(),
		CustomerID:     uuid.MustParse(claims.CustomerID),
		Service:        claims.Service,
		CredentialType: models.CredentialOAuth2,
		Status:         models.CredentialStatusActive,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		TokenType:      token.TokenType,
		Scope:          token.Scope,
		BaseURL:        claims.BaseURL,
		Identity:       claims.Identity,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if token.ExpiresIn > 0 {
		exp := now.Add(time.Duration(token.ExpiresIn) * time.Second)
		cred.ExpiresAt = &exp
	}

	return v.save(ctx, cred)
}

// StoreStaticCredential stores an api_token or basic credential. No expiry
// semantics; the row goes straight to Active. Upserts on (customer, service).
func (v *Vault) StoreStaticCredential(ctx context.Context, customerID uuid.UUID, service, credType, secret, baseURL, identity string) (*models.OAuthCredential, error) {
	if !models.ValidService(service) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	if credType != models.CredentialAPIToken && credType != models.CredentialBasic {
		return nil, fmt.Errorf("credential type %q is not a static type", credType)
	}
	if secret == "" {
		return nil, fmt.Errorf("credential secret is required")
	}

	now := time.Now().UTC()
	cred := &models.OAuthCredential{
		ID:             uuid.New(),
		CustomerID:     customerID,
		Service:        service,
		CredentialType: credType,
		Status:         models.CredentialStatusActive,
		AccessToken:    secret,
		BaseURL:        baseURL,
		Identity:       identity,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return v.save(ctx, cred)
}

// GetValidCredential returns a usable credential for the pair, refreshing it
// first when it expires inside the skew window. It never returns a stale
// token: a failed refresh surfaces as an error instead.
func (v *Vault) GetValidCredential(ctx context.Context, customerID uuid.UUID, service string) (*models.OAuthCredential, error) {
	cred, err := v.load(ctx, customerID, service)
	if err != nil {
		return nil, err
	}

	if err := v.usable(cred); err != nil {
		return nil, err
	}

	if !cred.ExpiresWithin(v.skew) {
		return cred, nil
	}

	return v.refresh(ctx, customerID, service)
}

func (v *Vault) usable(cred *models.OAuthCredential) error {
	if !cred.Enabled {
		return ErrDisabled
	}
	if cred.Status == models.CredentialStatusNeedsReauth || cred.AccessToken == "" {
		return ErrNeedsReauth
	}
	return nil
}

// refreshFlightTimeout bounds a detached refresh flight.
const refreshFlightTimeout = 30 * time.Second

// refresh funnels all concurrent callers for one pair through a single
// provider call. The winning call's result (token or error) is shared.
// The flight runs on a context detached from the winning caller, so one
// cancelled request cannot abort the refresh every waiter shares.
func (v *Vault) refresh(ctx context.Context, customerID uuid.UUID, service string) (*models.OAuthCredential, error) {
	key := customerID.String() + ":" + service

	result, err, _ := v.refreshGroup.Do(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshFlightTimeout)
		defer cancel()
		return v.doRefresh(flightCtx, customerID, service)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.OAuthCredential), nil
}

func (v *Vault) doRefresh(ctx context.Context, customerID uuid.UUID, service string) (*models.OAuthCredential, error) {
	// Re-read inside the flight: a caller that lost the race may find the
	// token already refreshed.
	cred, err := v.load(ctx, customerID, service)
	if err != nil {
		return nil, err
	}
	if err := v.usable(cred); err != nil {
		return nil, err
	}
	if !cred.ExpiresWithin(v.skew) {
		return cred, nil
	}

	if !cred.HasRefreshToken() {
		// Expired with nothing to refresh against; fail fast and visibly.
		return nil, v.invalidate(ctx, customerID, service)
	}

	app, err := v.app(service)
	if err != nil {
		return nil, err
	}

	token, err := v.provider.Refresh(ctx, app, cred.RefreshToken, cred.BaseURL)
	if err != nil {
		if IsInvalidGrant(err) {
			slog.Warn("credential refresh rejected by provider",
				"customer_id", customerID, "service", service, "error", err)
			return nil, v.invalidate(ctx, customerID, service)
		}
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	now := time.Now().UTC()
	cred.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		// Providers that rotate refresh tokens return a new one on each use.
		cred.RefreshToken = token.RefreshToken
	}
	if token.TokenType != "" {
		cred.TokenType = token.TokenType
	}
	if token.Scope != "" {
		cred.Scope = token.Scope
	}
	cred.ExpiresAt = nil
	if token.ExpiresIn > 0 {
		exp := now.Add(time.Duration(token.ExpiresIn) * time.Second)
		cred.ExpiresAt = &exp
	}
	cred.Status = models.CredentialStatusActive
	cred.LastRefreshed = &now
	cred.UpdatedAt = now

	return v.save(ctx, cred)
}

// invalidate transitions the row to NeedsReauth and returns ErrNeedsReauth.
func (v *Vault) invalidate(ctx context.Context, customerID uuid.UUID, service string) error {
	if err := v.store.ClearCredentialTokens(ctx, customerID, service); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("failed to clear credential tokens",
			"customer_id", customerID, "service", service, "error", err)
	}
	return ErrNeedsReauth
}

// ForceRefresh triggers a refresh regardless of expiry, for the manual
// refresh endpoint. Static credentials are returned unchanged.
func (v *Vault) ForceRefresh(ctx context.Context, customerID uuid.UUID, service string) (*models.OAuthCredential, error) {
	cred, err := v.load(ctx, customerID, service)
	if err != nil {
		return nil, err
	}
	if err := v.usable(cred); err != nil {
		return nil, err
	}
	if cred.CredentialType != models.CredentialOAuth2 {
		return cred, nil
	}
	if !cred.HasRefreshToken() {
		return nil, v.invalidate(ctx, customerID, service)
	}

	key := customerID.String() + ":" + service
	result, err, _ := v.refreshGroup.Do(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshFlightTimeout)
		defer cancel()
		return v.refreshNow(flightCtx, customerID, service)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.OAuthCredential), nil
}

func (v *Vault) refreshNow(ctx context.Context, customerID uuid.UUID, service string) (*models.OAuthCredential, error) {
	cred, err := v.load(ctx, customerID, service)
	if err != nil {
		return nil, err
	}

	app, err := v.app(service)
	if err != nil {
		return nil, err
	}

	token, err := v.provider.Refresh(ctx, app, cred.RefreshToken, cred.BaseURL)
	if err != nil {
		if IsInvalidGrant(err) {
			return nil, v.invalidate(ctx, customerID, service)
		}
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	now := time.Now().UTC()
	cred.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		cred.RefreshToken = token.RefreshToken
	}
	cred.ExpiresAt = nil
	if token.ExpiresIn > 0 {
		exp := now.Add(time.Duration(token.ExpiresIn) * time.Second)
		cred.ExpiresAt = &exp
	}
	cred.Status = models.CredentialStatusActive
	cred.LastRefreshed = &now
	cred.UpdatedAt = now

	return v.save(ctx, cred)
}

// SetEnabled toggles a stored credential without discarding the tuple.
func (v *Vault) SetEnabled(ctx context.Context, customerID uuid.UUID, service string, enabled bool) error {
	err := v.store.SetCredentialEnabled(ctx, customerID, service, enabled)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotConfigured
	}
	return err
}

// Revoke deletes the credential row. Idempotent.
func (v *Vault) Revoke(ctx context.Context, customerID uuid.UUID, service string) error {
	if !models.ValidService(service) {
		return fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	return v.store.DeleteCredential(ctx, customerID, service)
}

// List returns all credential rows for a customer with tokens blanked.
func (v *Vault) List(ctx context.Context, customerID uuid.UUID) ([]*models.OAuthCredential, error) {
	creds, err := v.store.ListCredentials(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for _, c := range creds {
		c.AccessToken = ""
		c.RefreshToken = ""
	}
	return creds, nil
}

// probePaths are cheap read-only endpoints used to verify connectivity.
var probePaths = map[string]string{
	models.ServiceJira:       "/rest/api/2/myself",
	models.ServiceConfluence: "/wiki/rest/api/space?limit=1",
	models.ServiceNow:        "/api/now/table/sys_user?sysparm_limit=1",
	models.ServiceAzure:      "https://graph.microsoft.com/v1.0/me",
}

// Test performs a live connectivity probe against the stored credential.
func (v *Vault) Test(ctx context.Context, customerID uuid.UUID, service string) error {
	cred, err := v.GetValidCredential(ctx, customerID, service)
	if err != nil {
		return err
	}

	target := probePaths[service]
	if target == "" {
		return fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	if target[0] == '/' {
		target = ExpandBaseURL("{base_url}", cred.BaseURL) + target
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	setAuthHeader(req, cred)

	resp, err := v.probeClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: probe returned %d", ErrNeedsReauth, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

func setAuthHeader(req *http.Request, cred *models.OAuthCredential) {
	switch cred.CredentialType {
	case models.CredentialBasic:
		req.SetBasicAuth(cred.Identity, cred.AccessToken)
	default:
		tokenType := cred.TokenType
		if tokenType == "" {
			tokenType = "Bearer"
		}
		req.Header.Set("Authorization", tokenType+" "+cred.AccessToken)
	}
}

// --- persistence helpers (encrypt on write, decrypt on read) ---

func (v *Vault) save(ctx context.Context, cred *models.OAuthCredential) (*models.OAuthCredential, error) {
	sealed := *cred
	var err error
	if sealed.AccessToken, err = v.enc.Encrypt(cred.AccessToken); err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	if sealed.RefreshToken, err = v.enc.Encrypt(cred.RefreshToken); err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	stored, err := v.store.UpsertCredential(ctx, &sealed)
	if err != nil {
		return nil, err
	}

	out := *stored
	out.AccessToken = cred.AccessToken
	out.RefreshToken = cred.RefreshToken
	return &out, nil
}

func (v *Vault) load(ctx context.Context, customerID uuid.UUID, service string) (*models.OAuthCredential, error) {
	if !models.ValidService(service) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	cred, err := v.store.GetCredential(ctx, customerID, service)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}

	if cred.AccessToken, err = v.enc.Decrypt(cred.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if cred.RefreshToken, err = v.enc.Decrypt(cred.RefreshToken); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return cred, nil
}
