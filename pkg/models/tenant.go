// Package models contains shared data models used across the SnowGate codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant status values. A license key is only usable while its owner is active.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusChurned   = "churned"
)

// Customer plan tiers. Rate limits are configured per tier, never hardcoded.
const (
	PlanStandard     = "standard"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

// ServiceIntegrator is a reseller that owns zero or more Customers and holds
// a master license key for white-label administration.
type ServiceIntegrator struct {
	ID               uuid.UUID `db:"id"                 json:"id"`
	CompanyName      string    `db:"company_name"       json:"company_name"`
	MasterLicenseKey string    `db:"master_license_key" json:"-"`
	WhiteLabel       bool      `db:"white_label"        json:"white_label"`
	Status           string    `db:"status"             json:"status"`
	CreatedAt        time.Time `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"         json:"updated_at"`
}

// Customer is the unit of tenant isolation. Its license key is the sole
// authentication credential for the gateway; it is unique and immutable once
// issued. Status is re-checked on every call so suspension takes effect
// immediately.
type Customer struct {
	ID                  uuid.UUID  `db:"id"                    json:"id"`
	ServiceIntegratorID *uuid.UUID `db:"service_integrator_id" json:"service_integrator_id,omitempty"`
	Name                string     `db:"name"                  json:"name"`
	LicenseKey          string     `db:"license_key"           json:"-"`
	Status              string     `db:"status"                json:"status"`
	Plan                string     `db:"plan"                  json:"plan"`
	Theme               string     `db:"theme"                 json:"theme"`
	TotalAPICalls       int64      `db:"total_api_calls"       json:"total_api_calls"`
	CreatedAt           time.Time  `db:"created_at"            json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"            json:"updated_at"`
}

// CustomerInstance is an ephemeral sighting of a running client process.
// Rows are upserted on first sighting and never deleted, only aged out by
// last-seen queries.
type CustomerInstance struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	CustomerID uuid.UUID `db:"customer_id" json:"customer_id"`
	InstanceID string    `db:"instance_id" json:"instance_id"`
	Version    string    `db:"version"     json:"version"`
	Origin     string    `db:"origin"      json:"origin"`
	LastSeenAt time.Time `db:"last_seen_at" json:"last_seen_at"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}
