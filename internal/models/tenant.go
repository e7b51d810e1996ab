package models

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// TenantStatus represents the tenant lifecycle status
type TenantStatus string

const (
	TenantStatusPending   TenantStatus = "PENDING"
	TenantStatusTrial     TenantStatus = "TRIAL"
	TenantStatusActive    TenantStatus = "ACTIVE"
	TenantStatusSuspended TenantStatus = "SUSPENDED"
)

// IsValid reports whether the status is a known lifecycle status
func (s TenantStatus) IsValid() bool {
	switch s {
	case TenantStatusPending, TenantStatusTrial, TenantStatusActive, TenantStatusSuspended:
		return true
	}
	return false
}

// tenantCodeRegexp is the safe-identifier pattern for tenant codes. Database
// and role names are derived from the code by identifier interpolation, so
// anything outside this pattern is rejected before touching the server.
var tenantCodeRegexp = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,62}$`)

// ValidTenantCode reports whether code matches the safe-identifier pattern
func ValidTenantCode(code string) bool {
	return tenantCodeRegexp.MatchString(code)
}

// Tenant represents a customer organization, isolated by its own
// physical database
type Tenant struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	Code     string `json:"code" db:"code"`
	Document string `json:"document" db:"document"`
	Name     string `json:"name" db:"name"`

	Status TenantStatus `json:"status" db:"status"`

	PlanID *uuid.UUID `json:"planId,omitempty" db:"plan_id"`

	// Provisioning state
	IsProvisioned bool       `json:"isProvisioned" db:"is_provisioned"`
	ProvisionedAt *time.Time `json:"provisionedAt,omitempty" db:"provisioned_at"`

	// Database credentials. The password is stored AES-GCM encrypted and
	// never serialized to clients.
	DatabaseHost string `json:"databaseHost,omitempty" db:"database_host"`
	DatabasePort int    `json:"databasePort,omitempty" db:"database_port"`
	DatabaseName string `json:"databaseName,omitempty" db:"database_name"`
	DatabaseUser string `json:"databaseUser,omitempty" db:"database_user"`
	DatabasePass string `json:"-" db:"database_pass"`

	// Modules holds the tenant-module associations when loaded
	Modules []*TenantModule `json:"modules,omitempty" db:"-"`
}

// IsOperational reports whether module-scoped database access is allowed
// for this tenant's status
func (t *Tenant) IsOperational() bool {
	return t.Status == TenantStatusActive || t.Status == TenantStatusTrial
}

// TenantModule is the join entity between a tenant and a module,
// unique per (tenantId, moduleId) pair
type TenantModule struct {
	TenantID uuid.UUID `json:"tenantId" db:"tenant_id"`
	ModuleID uuid.UUID `json:"moduleId" db:"module_id"`

	IsEnabled  bool       `json:"isEnabled" db:"is_enabled"`
	DisabledAt *time.Time `json:"disabledAt,omitempty" db:"disabled_at"`

	// Migration bookkeeping. SchemaVersion records the module version at
	// the time migrations were applied; it is not reset when the module
	// version is later bumped.
	MigrationsApplied   bool       `json:"migrationsApplied" db:"migrations_applied"`
	MigrationsAppliedAt *time.Time `json:"migrationsAppliedAt,omitempty" db:"migrations_applied_at"`
	SchemaVersion       string     `json:"schemaVersion,omitempty" db:"schema_version"`

	// Module is the joined module record when loaded
	Module *Module `json:"module,omitempty" db:"-"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// NeedsMigration reports whether the association is enabled and either has
// never had migrations applied or was applied against an older module version
func (tm *TenantModule) NeedsMigration() bool {
	if !tm.IsEnabled {
		return false
	}
	if !tm.MigrationsApplied {
		return true
	}
	return tm.Module != nil && tm.Module.Version != tm.SchemaVersion
}
