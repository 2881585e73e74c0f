package middleware

import (
	"context"
	"net/http"

	"github.com/nexbridge/snowgate/pkg/models"
)

type contextKey string

const (
	customerKey      contextKey = "customer"
	integratorKey    contextKey = "service_integrator"
	instanceIDKey    contextKey = "instance_id"
	clientVersionKey contextKey = "client_version"
)

func SetCustomer(ctx context.Context, c *models.Customer) context.Context {
	return context.WithValue(ctx, customerKey, c)
}

func GetCustomer(r *http.Request) (*models.Customer, bool) {
	c, ok := r.Context().Value(customerKey).(*models.Customer)
	return c, ok
}

func SetIntegrator(ctx context.Context, si *models.ServiceIntegrator) context.Context {
	return context.WithValue(ctx, integratorKey, si)
}

func GetIntegrator(r *http.Request) (*models.ServiceIntegrator, bool) {
	si, ok := r.Context().Value(integratorKey).(*models.ServiceIntegrator)
	return si, ok
}

func setInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, instanceIDKey, id)
}

func GetInstanceID(r *http.Request) string {
	id, _ := r.Context().Value(instanceIDKey).(string)
	return id
}

func setClientVersion(ctx context.Context, version string) context.Context {
	return context.WithValue(ctx, clientVersionKey, version)
}

func GetClientVersion(r *http.Request) string {
	v, _ := r.Context().Value(clientVersionKey).(string)
	return v
}
