package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/nexbridge/snowgate/internal/api/middleware"
	"github.com/nexbridge/snowgate/internal/api/response"
	"github.com/nexbridge/snowgate/internal/store"
	"github.com/nexbridge/snowgate/pkg/models"
)

const defaultUsageWindow = 24 * time.Hour

// UsageReader exposes the metering read views.
type UsageReader interface {
	Recent(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.UsageLogEntry, error)
	Aggregate(ctx context.Context, customerID uuid.UUID, window time.Duration) ([]*models.UsageAggregate, error)
}

// NewAdminCustomersHandler returns the handler for GET /admin/customers:
// the service integrator's customer roster.
func NewAdminCustomersHandler(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		si, ok := mw.GetIntegrator(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}

		customers, err := s.ListCustomersByIntegrator(r.Context(), si.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "UNEXPECTED_ERROR",
				"Failed to list customers", nil)
			return
		}
		response.JSON(w, customers)
	}
}

// NewAdminUsageHandler returns the handler for GET /admin/customers/{customerID}/usage.
// The target customer must belong to the authenticated integrator.
func NewAdminUsageHandler(s store.Store, usage UsageReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		si, ok := mw.GetIntegrator(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}

		customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid customer id", nil)
			return
		}

		owned, err := s.ListCustomersByIntegrator(r.Context(), si.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "UNEXPECTED_ERROR",
				"Failed to verify customer ownership", nil)
			return
		}
		var found bool
		for _, c := range owned {
			if c.ID == customerID {
				found = true
				break
			}
		}
		if !found {
			response.Error(w, http.StatusNotFound, "CUSTOMER_NOT_FOUND",
				"Customer not found for this integrator", nil)
			return
		}

		writeUsage(w, r, usage, customerID)
	}
}

// NewUsageHandler returns the handler for GET /usage: the customer's own
// trailing-window view.
func NewUsageHandler(usage UsageReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customer, ok := mw.GetCustomer(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_LICENSE", "Missing tenant", nil)
			return
		}
		writeUsage(w, r, usage, customer.ID)
	}
}

func writeUsage(w http.ResponseWriter, r *http.Request, usage UsageReader, customerID uuid.UUID) {
	window := defaultUsageWindow
	if v := r.URL.Query().Get("window"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 && d <= 30*24*time.Hour {
			window = d
		}
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	aggregates, err := usage.Aggregate(r.Context(), customerID, window)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "UNEXPECTED_ERROR",
			"Failed to aggregate usage", nil)
		return
	}

	recent, err := usage.Recent(r.Context(), customerID, limit)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "UNEXPECTED_ERROR",
			"Failed to read usage log", nil)
		return
	}

	response.JSON(w, map[string]any{
		"window":     window.String(),
		"aggregates": aggregates,
		"recent":     recent,
	})
}
