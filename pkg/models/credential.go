package models

import (
	"time"

	"github.com/google/uuid"
)

// External services a credential can be stored for.
const (
	ServiceJira       = "jira"
	ServiceAzure      = "azure"
	ServiceConfluence = "confluence"
	ServiceNow        = "servicenow"
)

// Credential types.
const (
	CredentialOAuth2   = "oauth2"
	CredentialAPIToken = "api_token"
	CredentialBasic    = "basic"
)

// Credential row status. AuthorizationPending is deliberately not a stored
// state: nothing is persisted until the provider callback arrives, so
// abandoned flows leave no orphaned rows.
const (
	CredentialStatusActive      = "active"
	CredentialStatusNeedsReauth = "needs_reauth"
)

var knownServices = map[string]bool{
	ServiceJira:       true,
	ServiceAzure:      true,
	ServiceConfluence: true,
	ServiceNow:        true,
}

// ValidService reports whether s names a supported external service.
func ValidService(s string) bool {
	return knownServices[s]
}

// OAuthCredential is the stored credential tuple for one (customer, service)
// pair. At most one row exists per pair; writes are upserts on that key.
// Token fields are AES-GCM encrypted at rest and held decrypted in memory.
type OAuthCredential struct {
	ID             uuid.UUID  `db:"id"              json:"id"`
	CustomerID     uuid.UUID  `db:"customer_id"     json:"customer_id"`
	Service        string     `db:"service"         json:"service"`
	CredentialType string     `db:"credential_type" json:"credential_type"`
	Status         string     `db:"status"          json:"status"`
	AccessToken    string     `db:"access_token"    json:"-"`
	RefreshToken   string     `db:"refresh_token"   json:"-"`
	TokenType      string     `db:"token_type"      json:"token_type"`
	ExpiresAt      *time.Time `db:"expires_at"      json:"expires_at,omitempty"`
	Scope          string     `db:"scope"           json:"scope"`
	BaseURL        string     `db:"base_url"        json:"base_url"`
	Identity       string     `db:"identity"        json:"identity"`
	Enabled        bool       `db:"enabled"         json:"enabled"`
	LastRefreshed  *time.Time `db:"last_refreshed"  json:"last_refreshed,omitempty"`
	CreatedAt      time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"      json:"updated_at"`
}

// ExpiresWithin reports whether the credential expires inside the given
// safety margin. Credentials without an expiry (api_token, basic) never do.
func (c *OAuthCredential) ExpiresWithin(skew time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().Add(skew).After(*c.ExpiresAt)
}

// HasRefreshToken reports whether a provider refresh is possible at all.
func (c *OAuthCredential) HasRefreshToken() bool {
	return c.RefreshToken != ""
}
