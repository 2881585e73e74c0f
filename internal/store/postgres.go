package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nexbridge/snowgate/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Tenants ---

const customerColumns = `id, service_integrator_id, name, license_key, status, plan, theme, total_api_calls, created_at, updated_at`

func scanCustomer(row pgx.Row) (*models.Customer, error) {
	var c models.Customer
	err := row.Scan(&c.ID, &c.ServiceIntegratorID, &c.Name, &c.LicenseKey, &c.Status,
		&c.Plan, &c.Theme, &c.TotalAPICalls, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetCustomerByLicenseKey(ctx context.Context, key string) (*models.Customer, error) {
	return scanCustomer(s.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE license_key = $1`, key))
}

func (s *PostgresStore) GetServiceIntegratorByMasterKey(ctx context.Context, key string) (*models.ServiceIntegrator, error) {
	var si models.ServiceIntegrator
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_name, master_license_key, white_label, status, created_at, updated_at
		 FROM service_integrators WHERE master_license_key = $1`, key,
	).Scan(&si.ID, &si.CompanyName, &si.MasterLicenseKey, &si.WhiteLabel, &si.Status,
		&si.CreatedAt, &si.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get service integrator: %w", err)
	}
	return &si, nil
}

func (s *PostgresStore) ListCustomersByIntegrator(ctx context.Context, integratorID uuid.UUID) ([]*models.Customer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE service_integrator_id = $1 ORDER BY created_at`, integratorID)
	if err != nil {
		return nil, fmt.Errorf("list customers by integrator: %w", err)
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *PostgresStore) IncrementCustomerAPICalls(ctx context.Context, customerID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE customers SET total_api_calls = total_api_calls + 1, updated_at = NOW() WHERE id = $1`, customerID)
	if err != nil {
		return fmt.Errorf("increment customer api calls: %w", err)
	}
	return nil
}

// --- Customer instances ---

func (s *PostgresStore) UpsertCustomerInstance(ctx context.Context, inst *models.CustomerInstance) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO customer_instances (id, customer_id, instance_id, version, origin, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (customer_id, instance_id) DO UPDATE SET
		   version = EXCLUDED.version,
		   origin = EXCLUDED.origin,
		   last_seen_at = EXCLUDED.last_seen_at`,
		inst.ID, inst.CustomerID, inst.InstanceID, inst.Version, inst.Origin,
		inst.LastSeenAt, inst.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert customer instance: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCustomerInstances(ctx context.Context, customerID uuid.UUID, seenSince time.Time) ([]*models.CustomerInstance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, customer_id, instance_id, version, origin, last_seen_at, created_at
		 FROM customer_instances WHERE customer_id = $1 AND last_seen_at >= $2
		 ORDER BY last_seen_at DESC`, customerID, seenSince)
	if err != nil {
		return nil, fmt.Errorf("list customer instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.CustomerInstance
	for rows.Next() {
		var in models.CustomerInstance
		if err := rows.Scan(&in.ID, &in.CustomerID, &in.InstanceID, &in.Version,
			&in.Origin, &in.LastSeenAt, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer instance: %w", err)
		}
		instances = append(instances, &in)
	}
	return instances, rows.Err()
}

// --- Credentials ---

const credentialColumns = `id, customer_id, service, credential_type, status, access_token, refresh_token,
	token_type, expires_at, scope, base_url, identity, enabled, last_refreshed, created_at, updated_at`

func scanCredential(row pgx.Row) (*models.OAuthCredential, error) {
	var c models.OAuthCredential
	err := row.Scan(&c.ID, &c.CustomerID, &c.Service, &c.CredentialType, &c.Status,
		&c.AccessToken, &c.RefreshToken, &c.TokenType, &c.ExpiresAt, &c.Scope,
		&c.BaseURL, &c.Identity, &c.Enabled, &c.LastRefreshed, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return &c, nil
}

// UpsertCredential writes the credential row for (customer_id, service),
// replacing any existing row for that pair.
func (s *PostgresStore) UpsertCredential(ctx context.Context, cred *models.OAuthCredential) (*models.OAuthCredential, error) {
	result, err := scanCredential(s.pool.QueryRow(ctx,
		`INSERT INTO oauth_credentials (id, customer_id, service, credential_type, status, access_token,
		   refresh_token, token_type, expires_at, scope, base_url, identity, enabled, last_refreshed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (customer_id, service) DO UPDATE SET
		   credential_type = EXCLUDED.credential_type,
		   status = EXCLUDED.status,
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   token_type = EXCLUDED.token_type,
		   expires_at = EXCLUDED.expires_at,
		   scope = EXCLUDED.scope,
		   base_url = EXCLUDED.base_url,
		   identity = EXCLUDED.identity,
		   enabled = EXCLUDED.enabled,
		   last_refreshed = EXCLUDED.last_refreshed,
		   updated_at = NOW()
		 RETURNING `+credentialColumns,
		cred.ID, cred.CustomerID, cred.Service, cred.CredentialType, cred.Status,
		cred.AccessToken, cred.RefreshToken, cred.TokenType, cred.ExpiresAt, cred.Scope,
		cred.BaseURL, cred.Identity, cred.Enabled, cred.LastRefreshed, cred.CreatedAt, cred.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("upsert credential: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) GetCredential(ctx context.Context, customerID uuid.UUID, service string) (*models.OAuthCredential, error) {
	return scanCredential(s.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM oauth_credentials WHERE customer_id = $1 AND service = $2`,
		customerID, service))
}

func (s *PostgresStore) ListCredentials(ctx context.Context, customerID uuid.UUID) ([]*models.OAuthCredential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM oauth_credentials WHERE customer_id = $1 ORDER BY service`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.OAuthCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// ClearCredentialTokens wipes the token tuple and marks the row needs_reauth.
// Configuration fields (base_url, identity) survive so the tenant can
// re-authorize without re-entering metadata.
func (s *PostgresStore) ClearCredentialTokens(ctx context.Context, customerID uuid.UUID, service string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_credentials SET
		   status = 'needs_reauth', access_token = '', refresh_token = '', expires_at = NULL, updated_at = NOW()
		 WHERE customer_id = $1 AND service = $2`, customerID, service)
	if err != nil {
		return fmt.Errorf("clear credential tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetCredentialEnabled(ctx context.Context, customerID uuid.UUID, service string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_credentials SET enabled = $3, updated_at = NOW()
		 WHERE customer_id = $1 AND service = $2`, customerID, service, enabled)
	if err != nil {
		return fmt.Errorf("set credential enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCredential removes the row for (customer_id, service). Idempotent.
func (s *PostgresStore) DeleteCredential(ctx context.Context, customerID uuid.UUID, service string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM oauth_credentials WHERE customer_id = $1 AND service = $2`, customerID, service)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// --- Usage log ---

func (s *PostgresStore) InsertUsageEntry(ctx context.Context, entry *models.UsageLogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_log (id, customer_id, instance_id, tool_name, category, success, duration_ms,
		   error_message, request_params, origin, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.CustomerID, entry.InstanceID, entry.ToolName, entry.Category,
		entry.Success, entry.DurationMs, entry.ErrorMessage, entry.RequestParams,
		entry.Origin, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecentUsage(ctx context.Context, customerID uuid.UUID, limit int) ([]*models.UsageLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, customer_id, instance_id, tool_name, category, success, duration_ms,
		   error_message, request_params, origin, created_at
		 FROM usage_log WHERE customer_id = $1 ORDER BY created_at DESC LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent usage: %w", err)
	}
	defer rows.Close()

	var entries []*models.UsageLogEntry
	for rows.Next() {
		var e models.UsageLogEntry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.InstanceID, &e.ToolName, &e.Category,
			&e.Success, &e.DurationMs, &e.ErrorMessage, &e.RequestParams, &e.Origin,
			&e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) AggregateUsage(ctx context.Context, customerID uuid.UUID, window time.Duration) ([]*models.UsageAggregate, error) {
	since := time.Now().UTC().Add(-window)

	rows, err := s.pool.Query(ctx,
		`SELECT tool_name, category, COUNT(*) AS calls,
		   COUNT(*) FILTER (WHERE NOT success) AS failures,
		   COALESCE(AVG(duration_ms), 0) AS avg_duration_ms
		 FROM usage_log WHERE customer_id = $1 AND created_at >= $2
		 GROUP BY tool_name, category
		 ORDER BY calls DESC`, customerID, since)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}
	defer rows.Close()

	var aggs []*models.UsageAggregate
	for rows.Next() {
		var a models.UsageAggregate
		if err := rows.Scan(&a.ToolName, &a.Category, &a.Calls, &a.Failures, &a.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scan usage aggregate: %w", err)
		}
		aggs = append(aggs, &a)
	}
	return aggs, rows.Err()
}
