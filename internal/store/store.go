package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nexbridge/snowgate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetCustomerByLicenseKey(ctx context.Context, key string) (*models.Customer, error)
	GetServiceIntegratorByMasterKey(ctx context.Context, key string) (*models.ServiceIntegrator, error)
	ListCustomersByIntegrator(ctx context.Context, integratorID uuid.UUID) ([]*models.Customer, error)
	IncrementCustomerAPICalls(ctx context.Context, customerID uuid.UUID) error

	UpsertCustomerInstance(ctx context.Context, inst *models.CustomerInstance) error
	ListCustomerInstances(ctx context.Context, customerID uuid.UUID, seenSince time.Time) ([]*models.CustomerInstance, error)

	UpsertCredential(ctx context.Context, cred *models.OAuthCredential) (*models.OAuthCredential, error)
	GetCredential(ctx context.Context, customerID uuid.UUID, service string) (*models.OAuthCredential, error)
	ListCredentials(ctx context.Context, customerID uuid.UUID) ([]*models.OAuthCredential, error)
	ClearCredentialTokens(ctx context.Context, customerID uuid.UUID, service string) error
	SetCredentialEnabled(ctx context.Context, customerID uuid.UUID, service string, enabled bool) error
	DeleteCredential(ctx context.Context, customerID uuid.UUID, service string) error

	InsertUsageEntry(ctx context.Context, entry *models.UsageLogEntry) error
	ListRecentUsage(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.UsageLogEntry, error)
	AggregateUsage(ctx context.Context, customerID uuid.UUID, window time.Duration) ([]*models.UsageAggregate, error)
}
