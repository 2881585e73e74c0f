package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nexbridge/snowgate/internal/api/response"
	"github.com/nexbridge/snowgate/internal/license"
)

// Auth authenticates requests by license key via the tenant registry.
type Auth struct {
	registry *license.Registry
}

// NewAuth creates the Auth middleware.
func NewAuth(r *license.Registry) *Auth {
	return &Auth{registry: r}
}

// Authenticate resolves the Bearer license key to an active customer and
// stores it, along with the optional X-Instance-Id and X-Client-Version, in
// the request context. The customer's status is re-checked on every request.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractBearerToken(r)
		if key == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_LICENSE", "Missing or invalid Authorization header", nil)
			return
		}

		customer, err := a.registry.ResolveLicense(r.Context(), key)
		if err != nil {
			writeLicenseError(w, err)
			return
		}

		ctx := SetCustomer(r.Context(), customer)
		instanceID := r.Header.Get("X-Instance-Id")
		if instanceID != "" {
			ctx = setInstanceID(ctx, instanceID)
		}
		if version := r.Header.Get("X-Client-Version"); version != "" {
			ctx = setClientVersion(ctx, version)
		}

		if rl := requestLogFrom(r.Context()); rl != nil {
			rl.customerID = customer.ID.String()
			rl.plan = customer.Plan
			rl.instanceID = instanceID
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthenticateMaster resolves a service-integrator master key, for the
// white-label admin surface.
func (a *Auth) AuthenticateMaster(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractBearerToken(r)
		if key == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_LICENSE", "Missing or invalid Authorization header", nil)
			return
		}

		si, err := a.registry.ResolveMasterLicense(r.Context(), key)
		if err != nil {
			writeLicenseError(w, err)
			return
		}

		if rl := requestLogFrom(r.Context()); rl != nil {
			rl.integratorID = si.ID.String()
		}

		next.ServeHTTP(w, r.WithContext(SetIntegrator(r.Context(), si)))
	})
}

func writeLicenseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, license.ErrInvalidFormat):
		response.Error(w, http.StatusUnauthorized,
			"INVALID_LICENSE_FORMAT", "License key is malformed", nil)
	case errors.Is(err, license.ErrNotFound):
		response.Error(w, http.StatusUnauthorized,
			"LICENSE_NOT_FOUND", "License key not recognized", nil)
	case errors.Is(err, license.ErrSuspended):
		response.Error(w, http.StatusForbidden,
			"LICENSE_SUSPENDED", "License is suspended", nil)
	case errors.Is(err, license.ErrChurned):
		response.Error(w, http.StatusForbidden,
			"LICENSE_CHURNED", "License is no longer active", nil)
	default:
		response.Error(w, http.StatusInternalServerError,
			"INTERNAL_ERROR", "Failed to validate license", nil)
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
