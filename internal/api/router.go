package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/nexbridge/snowgate/internal/api/middleware"
	"github.com/nexbridge/snowgate/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	ListToolsHandler http.HandlerFunc
	CallToolHandler  http.HandlerFunc

	OAuthInitHandler        http.HandlerFunc
	OAuthCallbackHandler    http.HandlerFunc
	StoreCredentialHandler  http.HandlerFunc
	RefreshCredentialHandler http.HandlerFunc
	TestCredentialHandler   http.HandlerFunc
	ToggleCredentialHandler http.HandlerFunc
	RevokeCredentialHandler http.HandlerFunc
	ListCredentialsHandler  http.HandlerFunc

	UsageHandler http.HandlerFunc

	AdminCustomersHandler http.HandlerFunc
	AdminUsageHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// The provider redirects the browser here; identity travels in the
	// signed state parameter, so no license header is present.
	r.Get("/api/v1/credentials/{service}/oauth-callback", orNotImplemented(deps.OAuthCallbackHandler))

	// Customer routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		// Tool execution is the metered surface.
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimit.Limit)

			r.Post("/api/v1/mcp/tools/list", orNotImplemented(deps.ListToolsHandler))
			r.Post("/api/v1/mcp/tools/call", orNotImplemented(deps.CallToolHandler))
		})

		r.Post("/api/v1/credentials/{service}/oauth-init", orNotImplemented(deps.OAuthInitHandler))
		r.Put("/api/v1/credentials/{service}", orNotImplemented(deps.StoreCredentialHandler))
		r.Post("/api/v1/credentials/{service}/refresh", orNotImplemented(deps.RefreshCredentialHandler))
		r.Post("/api/v1/credentials/{service}/test", orNotImplemented(deps.TestCredentialHandler))
		r.Patch("/api/v1/credentials/{service}", orNotImplemented(deps.ToggleCredentialHandler))
		r.Delete("/api/v1/credentials/{service}", orNotImplemented(deps.RevokeCredentialHandler))
		r.Get("/api/v1/credentials", orNotImplemented(deps.ListCredentialsHandler))

		r.Get("/api/v1/usage", orNotImplemented(deps.UsageHandler))
	})

	// Integrator routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.AuthenticateMaster)

		r.Get("/api/v1/admin/customers", orNotImplemented(deps.AdminCustomersHandler))
		r.Get("/api/v1/admin/customers/{customerID}/usage", orNotImplemented(deps.AdminUsageHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
