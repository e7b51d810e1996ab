package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/erp-backoffice/backoffice-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the registry storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Tenant methods
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetTenantByCode(ctx context.Context, code string) (*models.Tenant, error)
	UpdateTenant(ctx context.Context, tenant *models.Tenant) error
	DeleteTenant(ctx context.Context, id uuid.UUID) error
	ListTenants(ctx context.Context, filters TenantFilters, limit, offset int) ([]*models.Tenant, int64, error)

	// Tenant-module association methods
	CreateTenantModule(ctx context.Context, tm *models.TenantModule) error
	GetTenantModule(ctx context.Context, tenantID, moduleID uuid.UUID) (*models.TenantModule, error)
	UpdateTenantModule(ctx context.Context, tm *models.TenantModule) error
	ListTenantModules(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantModule, error)

	// Module methods
	CreateModule(ctx context.Context, module *models.Module) error
	GetModule(ctx context.Context, id uuid.UUID) (*models.Module, error)
	GetModuleByCode(ctx context.Context, code string) (*models.Module, error)
	UpdateModule(ctx context.Context, module *models.Module) error
	DeleteModule(ctx context.Context, id uuid.UUID) error
	ListModules(ctx context.Context, limit, offset int) ([]*models.Module, int64, error)
	ListCoreModules(ctx context.Context) ([]*models.Module, error)

	// Plan methods
	CreatePlan(ctx context.Context, plan *models.Plan) error
	GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error)
	UpdatePlan(ctx context.Context, plan *models.Plan) error
	DeletePlan(ctx context.Context, id uuid.UUID) error
	ListPlans(ctx context.Context, limit, offset int) ([]*models.Plan, int64, error)

	// Admin user methods
	CreateAdminUser(ctx context.Context, user *models.AdminUser) error
	GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	UpdateAdminUser(ctx context.Context, user *models.AdminUser) error

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// TenantFilters enumerates the recognized tenant list filters
type TenantFilters struct {
	Status        *models.TenantStatus
	IsProvisioned *bool
	PlanID        *uuid.UUID
}

// EventLogFilters enumerates the recognized event log filters
type EventLogFilters struct {
	TenantID  *uuid.UUID
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}
