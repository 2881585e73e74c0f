// Package license resolves bearer license keys to tenants.
package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/nexbridge/snowgate/internal/cache"
	"github.com/nexbridge/snowgate/internal/store"
	"github.com/nexbridge/snowgate/pkg/models"
)

// Sentinel errors for license resolution failures. None of these are safe to
// retry automatically; they require caller or operator action.
var (
	ErrInvalidFormat = errors.New("invalid license key format")
	ErrNotFound      = errors.New("license key not found")
	ErrSuspended     = errors.New("license suspended")
	ErrChurned       = errors.New("license churned")
)

// Key formats. Customer keys and service-integrator master keys are
// structurally distinct, so a key's class is known before any lookup.
var (
	customerKeyPattern = regexp.MustCompile(`^SNOW-ENT-[A-Z0-9]{4}-[A-Z0-9]{4}$`)
	masterKeyPattern   = regexp.MustCompile(`^SNOW-SI-[A-Z0-9]{4}-[A-Z0-9]{4}$`)
)

// Registry resolves license keys to active tenants. Resolution re-checks the
// tenant's status on every call through a short-TTL cache, so an operational
// suspension takes effect within the cache TTL, never longer.
type Registry struct {
	store store.Store
	cache cache.Cache
	ttl   time.Duration
}

// NewRegistry creates a Registry. ttl bounds how stale a cached tenant may
// be; zero disables caching entirely.
func NewRegistry(s store.Store, c cache.Cache, ttl time.Duration) *Registry {
	return &Registry{store: s, cache: c, ttl: ttl}
}

// ResolveLicense validates the key's structure, resolves it to a Customer,
// and enforces the customer's current status. Malformed keys are rejected
// before any storage access.
func (r *Registry) ResolveLicense(ctx context.Context, key string) (*models.Customer, error) {
	if !customerKeyPattern.MatchString(key) {
		return nil, ErrInvalidFormat
	}

	customer, err := r.lookupCustomer(ctx, key)
	if err != nil {
		return nil, err
	}

	switch customer.Status {
	case models.StatusActive:
		return customer, nil
	case models.StatusSuspended:
		return nil, ErrSuspended
	case models.StatusChurned:
		return nil, ErrChurned
	default:
		return nil, fmt.Errorf("customer %s has unknown status %q", customer.ID, customer.Status)
	}
}

// ResolveMasterLicense resolves a service-integrator master key.
func (r *Registry) ResolveMasterLicense(ctx context.Context, key string) (*models.ServiceIntegrator, error) {
	if !masterKeyPattern.MatchString(key) {
		return nil, ErrInvalidFormat
	}

	si, err := r.store.GetServiceIntegratorByMasterKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup master license: %w", err)
	}

	if si.Status != models.StatusActive {
		if si.Status == models.StatusChurned {
			return nil, ErrChurned
		}
		return nil, ErrSuspended
	}
	return si, nil
}

func (r *Registry) lookupCustomer(ctx context.Context, key string) (*models.Customer, error) {
	cacheKey := cache.LicenseKey(key)

	if r.ttl > 0 {
		if raw, ok, err := r.cache.Get(ctx, cacheKey); err == nil && ok {
			var c models.Customer
			if err := json.Unmarshal(raw, &c); err == nil {
				return &c, nil
			}
		}
	}

	customer, err := r.store.GetCustomerByLicenseKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup license: %w", err)
	}

	if r.ttl > 0 {
		if raw, err := json.Marshal(customer); err == nil {
			// Cache failures are not fatal; the next call just hits the store.
			_ = r.cache.Set(ctx, cacheKey, raw, r.ttl)
		}
	}
	return customer, nil
}
