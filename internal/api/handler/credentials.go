package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/nexbridge/snowgate/internal/api/middleware"
	"github.com/nexbridge/snowgate/internal/api/response"
	"github.com/nexbridge/snowgate/internal/vault"
	"github.com/nexbridge/snowgate/pkg/models"
)

// CredentialVault is the vault surface the credential handlers depend on.
type CredentialVault interface {
	InitiateAuthorization(customerID uuid.UUID, service, baseURL, identity string) (string, error)
	CompleteAuthorization(ctx context.Context, code, state string) (*models.OAuthCredential, error)
	StoreStaticCredential(ctx context.Context, customerID uuid.UUID, service, credType, secret, baseURL, identity string) (*models.OAuthCredential, error)
	ForceRefresh(ctx context.Context, customerID uuid.UUID, service string) (*models.OAuthCredential, error)
	Test(ctx context.Context, customerID uuid.UUID, service string) error
	SetEnabled(ctx context.Context, customerID uuid.UUID, service string, enabled bool) error
	Revoke(ctx context.Context, customerID uuid.UUID, service string) error
	List(ctx context.Context, customerID uuid.UUID) ([]*models.OAuthCredential, error)
}

// NewOAuthInitHandler returns the handler for POST /credentials/{service}/oauth-init.
func NewOAuthInitHandler(v CredentialVault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customer, ok := mw.GetCustomer(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}
		service := chi.URLParam(r, "service")

		var req struct {
			BaseURL string `json:"baseUrl"`
			Email   string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.BaseURL == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "baseUrl is required", nil)
			return
		}

		authURL, err := v.InitiateAuthorization(customer.ID, service, req.BaseURL, req.Email)
		if err != nil {
			writeVaultError(w, err)
			return
		}

		response.Raw(w, http.StatusOK, map[string]string{"authorizationUrl": authURL})
	}
}

// NewOAuthCallbackHandler returns the handler for GET
// /credentials/{service}/oauth-callback. The signed state parameter is the
// authentication here; the provider redirect carries no license key.
func NewOAuthCallbackHandler(v CredentialVault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "code and state are required", nil)
			return
		}

		cred, err := v.CompleteAuthorization(r.Context(), code, state)
		if err != nil {
			writeVaultError(w, err)
			return
		}

		response.JSON(w, map[string]any{
			"service":  cred.Service,
			"status":   "connected",
			"identity": cred.Identity,
		})
	}
}

// NewStoreStaticCredentialHandler returns the handler for PUT /credentials/{service}.
func NewStoreStaticCredentialHandler(v CredentialVault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customer, ok := mw.GetCustomer(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}
		service := chi.URLParam(r, "service")

		var req struct {
			CredentialType string `json:"credential_type"`
			Secret         string `json:"secret"`
			BaseURL        string `json:"baseUrl"`
			Identity       string `json:"identity"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.CredentialType == "" {
			req.CredentialType = models.CredentialAPIToken
		}

		cred, err := v.StoreStaticCredential(r.Context(), customer.ID, service,
			req.CredentialType, req.Secret, req.BaseURL, req.Identity)
		if err != nil {
			writeVaultError(w, err)
			return
		}

		response.Created(w, publicCredential(cred))
	}
}

// NewRefreshCredentialHandler returns the handler for POST /credentials/{service}/refresh.
func NewRefreshCredentialHandler(v CredentialVault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customer, ok := mw.GetCustomer(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}

		cred, err := v.ForceRefresh(r.Context(), customer.ID, chi.URLParam(r, "service"))
		if err != nil {
			writeVaultError(w, err)
			return
		}

		response.JSON(w, publicCredential(cred))
	}
}

// NewTestCredentialHandler returns the handler for POST /credentials/{service}/test.
func NewTestCredentialHandler(v CredentialVault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customer, ok := mw.GetCustomer(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}

		if err := v.Test(r.Context(), customer.ID, chi.URLParam(r, "service")); err != nil {
			writeVaultError(w, err)
			return
		}

		response.JSON(w, map[string]string{"status": "ok"})
	}
}

// NewToggleCredentialHandler returns the handler for PATCH /credentials/{service}.
func NewToggleCredentialHandler(v CredentialVault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customer, ok := mw.GetCustomer(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}

		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "enabled is required", nil)
			return
		}

		if err := v.SetEnabled(r.Context(), customer.ID, chi.URLParam(r, "service"), *req.Enabled); err != nil {
			writeVaultError(w, err)
			return
		}

		response.JSON(w, map[string]bool{"enabled": *req.Enabled})
	}
}

// NewRevokeCredentialHandler returns the handler for DELETE /credentials/{service}.
func NewRevokeCredentialHandler(v CredentialVault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customer, ok := mw.GetCustomer(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}

		if err := v.Revoke(r.Context(), customer.ID, chi.URLParam(r, "service")); err != nil {
			writeVaultError(w, err)
			return
		}

		response.JSON(w, map[string]bool{"revoked": true})
	}
}

// NewListCredentialsHandler returns the handler for GET /credentials.
func NewListCredentialsHandler(v CredentialVault) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customer, ok := mw.GetCustomer(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}

		creds, err := v.List(r.Context(), customer.ID)
		if err != nil {
			writeVaultError(w, err)
			return
		}

		out := make([]map[string]any, 0, len(creds))
		for _, c := range creds {
			out = append(out, publicCredential(c))
		}
		response.JSON(w, out)
	}
}

// publicCredential strips token material from the API representation.
func publicCredential(c *models.OAuthCredential) map[string]any {
	return map[string]any{
		"service":         c.Service,
		"credential_type": c.CredentialType,
		"status":          c.Status,
		"base_url":        c.BaseURL,
		"identity":        c.Identity,
		"enabled":         c.Enabled,
		"expires_at":      c.ExpiresAt,
		"last_refreshed":  c.LastRefreshed,
	}
}

func writeVaultError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, vault.ErrUnknownService):
		response.Error(w, http.StatusNotFound, "UNKNOWN_SERVICE", "Unknown service", nil)
	case errors.Is(err, vault.ErrAppNotConfigured):
		response.Error(w, http.StatusNotImplemented, "OAUTH_APP_NOT_CONFIGURED",
			"OAuth is not configured for this service", nil)
	case errors.Is(err, vault.ErrNotConfigured):
		response.Error(w, http.StatusNotFound, "CREDENTIAL_NOT_CONFIGURED",
			"No credential stored for this service", nil)
	case errors.Is(err, vault.ErrDisabled):
		response.Error(w, http.StatusConflict, "CREDENTIAL_DISABLED",
			"Credential is disabled", nil)
	case errors.Is(err, vault.ErrNeedsReauth):
		response.Error(w, http.StatusPreconditionRequired, "CREDENTIAL_REAUTH_REQUIRED",
			"Credential requires re-authorization", nil)
	case errors.Is(err, vault.ErrInvalidState):
		response.Error(w, http.StatusBadRequest, "INVALID_STATE",
			"Authorization state is invalid or expired", nil)
	case errors.Is(err, vault.ErrExchangeFailed):
		response.Error(w, http.StatusBadGateway, "EXCHANGE_FAILED",
			"The provider rejected the authorization code", nil)
	case errors.Is(err, vault.ErrRefreshFailed), errors.Is(err, vault.ErrProviderUnavailable):
		response.Error(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE",
			"The external service is temporarily unavailable", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "UNEXPECTED_ERROR",
			"Credential operation failed", nil)
	}
}
