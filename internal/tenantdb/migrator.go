package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/erp-backoffice/backoffice-server/internal/events"
	"github.com/erp-backoffice/backoffice-server/internal/migrations"
	"github.com/erp-backoffice/backoffice-server/internal/models"
	"github.com/erp-backoffice/backoffice-server/internal/storage"
)

const (
	// moduleTypeStandard marks modules whose migrations are plain .sql
	// script folders under the configured migrations path
	moduleTypeStandard = "standard"

	// moduleTypeCustom marks modules backed by a project folder under the
	// workspace root, described by a schema.sql descriptor
	moduleTypeCustom = "custom"

	// customDescriptor is the file a custom module's migrations folder
	// must contain to be considered valid
	customDescriptor = "schema.sql"
)

// MigrationRunner applies migration chains to a database addressed by
// connection string. Satisfied by migrations.Runner; swappable for tests.
type MigrationRunner interface {
	MigrateToLatest(ctx context.Context, dsn string) error
	ApplyDir(ctx context.Context, dsn, dir, category string) error
	AcquireLock(ctx context.Context, dsn string, key int64) (func(), error)
}

// ModuleMigrationResult is the per-module outcome of a migration pass
type ModuleMigrationResult struct {
	Module  string `json:"module"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// MigrationReport aggregates a full migration pass. Success is true only
// when the standard chain and every attempted module succeeded.
type MigrationReport struct {
	TenantID   uuid.UUID               `json:"tenantId"`
	TenantCode string                  `json:"tenantCode"`
	Success    bool                    `json:"success"`
	Standard   bool                    `json:"standardApplied"`
	Results    []ModuleMigrationResult `json:"results"`
}

// ModuleStatus is the migration standing of one tenant-module association
type ModuleStatus struct {
	Module              string     `json:"module"`
	Type                string     `json:"type"`
	IsEnabled           bool       `json:"isEnabled"`
	MigrationsApplied   bool       `json:"migrationsApplied"`
	MigrationsAppliedAt *time.Time `json:"migrationsAppliedAt,omitempty"`
	SchemaVersion       string     `json:"schemaVersion,omitempty"`
	ModuleVersion       string     `json:"moduleVersion,omitempty"`
	NeedsMigration      bool       `json:"needsMigration"`
}

// Migrator orchestrates tenant database migrations: the fixed standard
// chain first, then each enabled module's own migrations. Module failures
// are isolated so one broken module does not block the rest.
type Migrator struct {
	store    storage.Store
	runner   MigrationRunner
	resolver *Resolver
	events   *events.Publisher

	workspaceRoot string
	modulesPath   string
}

// NewMigrator creates a migrator
func NewMigrator(store storage.Store, runner MigrationRunner, resolver *Resolver, publisher *events.Publisher, workspaceRoot, modulesPath string) *Migrator {
	return &Migrator{
		store:         store,
		runner:        runner,
		resolver:      resolver,
		events:        publisher,
		workspaceRoot: workspaceRoot,
		modulesPath:   modulesPath,
	}
}

// ApplyAll runs the standard chain and every enabled module's migrations
// against the tenant database
func (m *Migrator) ApplyAll(ctx context.Context, tenantID uuid.UUID) (*MigrationReport, error) {
	tenant, conn, err := m.prepare(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	assocs, err := m.store.ListTenantModules(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}

	enabled := make([]*models.TenantModule, 0, len(assocs))
	for _, tm := range assocs {
		if tm.IsEnabled {
			enabled = append(enabled, tm)
		}
	}

	return m.run(ctx, tenant, conn, enabled, true)
}

// ApplyModule runs migrations for a single module. The module must exist
// and be enabled for the tenant; the standard chain is left untouched.
func (m *Migrator) ApplyModule(ctx context.Context, tenantID uuid.UUID, moduleCode string) (*MigrationReport, error) {
	tenant, conn, err := m.prepare(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	module, err := m.store.GetModuleByCode(ctx, moduleCode)
	if err != nil {
		return nil, err
	}

	tm, err := m.store.GetTenantModule(ctx, tenant.ID, module.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: module %s is not assigned to tenant %s", ErrForbidden, moduleCode, tenant.Code)
		}
		return nil, err
	}
	if !tm.IsEnabled {
		return nil, fmt.Errorf("%w: module %s is disabled for tenant %s", ErrForbidden, moduleCode, tenant.Code)
	}
	tm.Module = module

	return m.run(ctx, tenant, conn, []*models.TenantModule{tm}, false)
}

// ApplyPending runs migrations only for enabled modules that have never
// been migrated. When nothing is pending the pass is a no-op that never
// touches the tenant database.
func (m *Migrator) ApplyPending(ctx context.Context, tenantID uuid.UUID) (*MigrationReport, error) {
	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsProvisioned {
		return nil, fmt.Errorf("%w: tenant %s", ErrNotProvisioned, tenant.Code)
	}

	assocs, err := m.store.ListTenantModules(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}

	pending := make([]*models.TenantModule, 0, len(assocs))
	for _, tm := range assocs {
		if tm.IsEnabled && !tm.MigrationsApplied {
			pending = append(pending, tm)
		}
	}

	if len(pending) == 0 {
		return &MigrationReport{
			TenantID:   tenant.ID,
			TenantCode: tenant.Code,
			Success:    true,
			Results:    []ModuleMigrationResult{},
		}, nil
	}

	conn, err := m.resolver.Resolve(ctx, tenant.ID.String())
	if err != nil {
		return nil, err
	}
	return m.run(ctx, tenant, conn, pending, false)
}

// Status reports per-module migration standing without touching the
// tenant database
func (m *Migrator) Status(ctx context.Context, tenantID uuid.UUID) ([]ModuleStatus, error) {
	assocs, err := m.store.ListTenantModules(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	statuses := make([]ModuleStatus, 0, len(assocs))
	for _, tm := range assocs {
		status := ModuleStatus{
			IsEnabled:           tm.IsEnabled,
			MigrationsApplied:   tm.MigrationsApplied,
			MigrationsAppliedAt: tm.MigrationsAppliedAt,
			SchemaVersion:       tm.SchemaVersion,
			NeedsMigration:      tm.NeedsMigration(),
		}
		if tm.Module != nil {
			status.Module = tm.Module.Code
			status.ModuleVersion = tm.Module.Version
			status.Type = moduleType(tm.Module)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (m *Migrator) prepare(ctx context.Context, tenantID uuid.UUID) (*models.Tenant, *Connection, error) {
	tenant, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	if !tenant.IsProvisioned {
		return nil, nil, fmt.Errorf("%w: tenant %s", ErrNotProvisioned, tenant.Code)
	}
	conn, err := m.resolver.Resolve(ctx, tenant.ID.String())
	if err != nil {
		return nil, nil, err
	}
	return tenant, conn, nil
}

// run executes one migration pass under a per-tenant advisory lock
func (m *Migrator) run(ctx context.Context, tenant *models.Tenant, conn *Connection, modules []*models.TenantModule, withStandard bool) (*MigrationReport, error) {
	release, err := m.runner.AcquireLock(ctx, conn.DSN, lockKey(tenant.ID))
	if err != nil {
		return nil, fmt.Errorf("lock tenant database: %w", err)
	}
	defer release()

	report := &MigrationReport{
		TenantID:   tenant.ID,
		TenantCode: tenant.Code,
		Results:    []ModuleMigrationResult{},
	}

	if withStandard {
		if err := m.runner.MigrateToLatest(ctx, conn.DSN); err != nil {
			m.logFailure(ctx, tenant, fmt.Sprintf("Standard migration chain failed: %v", err))
			report.Success = false
			return report, fmt.Errorf("standard migrations: %w", err)
		}
		report.Standard = true
	}

	failures := 0
	for _, tm := range modules {
		result := m.applyModule(ctx, conn, tm)
		if result.Success {
			now := time.Now().UTC()
			tm.MigrationsApplied = true
			tm.MigrationsAppliedAt = &now
			if tm.Module != nil {
				tm.SchemaVersion = tm.Module.Version
			}
			if err := m.store.UpdateTenantModule(ctx, tm); err != nil {
				result.Success = false
				result.Message = fmt.Sprintf("record migration state: %v", err)
			}
		}
		if !result.Success {
			failures++
		}
		report.Results = append(report.Results, result)
	}

	report.Success = failures == 0

	level := models.EventLevelInfo
	if !report.Success {
		level = models.EventLevelWarning
	}
	m.logEvent(ctx, tenant, level,
		fmt.Sprintf("Migration pass finished: %d modules, %d failures", len(modules), failures))
	m.events.TenantMigrated(tenant.ID, tenant.Code, map[string]interface{}{
		"success":  report.Success,
		"modules":  len(modules),
		"failures": failures,
	})

	log.Info().
		Str("tenant", tenant.Code).
		Int("modules", len(modules)).
		Int("failures", failures).
		Msg("Migration pass finished")

	return report, nil
}

// applyModule runs one module's migrations, translating missing folders
// and descriptors into per-module results instead of pass failures
func (m *Migrator) applyModule(ctx context.Context, conn *Connection, tm *models.TenantModule) ModuleMigrationResult {
	module := tm.Module
	if module == nil {
		return ModuleMigrationResult{Module: tm.ModuleID.String(), Success: false, Message: "module record not loaded"}
	}

	result := ModuleMigrationResult{Module: module.Code, Type: moduleType(module)}

	var dir string
	if module.IsCustom {
		if module.ModulePath == "" {
			result.Message = "custom module has no project folder configured"
			return result
		}
		dir = filepath.Join(m.workspaceRoot, module.ModulePath, module.MigrationsDir())
		if _, err := os.Stat(filepath.Join(dir, customDescriptor)); err != nil {
			result.Message = fmt.Sprintf("missing %s descriptor in %s", customDescriptor, dir)
			return result
		}
	} else {
		dir = filepath.Join(m.modulesPath, module.Code)
		has, err := migrations.HasScripts(dir)
		if err != nil {
			result.Message = fmt.Sprintf("inspect migrations folder: %v", err)
			return result
		}
		if !has {
			// A standard module without scripts has nothing to apply
			result.Success = true
			result.Message = "no migration scripts"
			return result
		}
	}

	if err := m.runner.ApplyDir(ctx, conn.DSN, dir, module.Code); err != nil {
		result.Message = err.Error()
		return result
	}

	result.Success = true
	return result
}

func (m *Migrator) logEvent(ctx context.Context, tenant *models.Tenant, level models.EventLevel, description string) {
	event := &models.EventLog{
		ID:          uuid.New(),
		TenantID:    &tenant.ID,
		Type:        models.EventTypeMigration,
		Level:       level,
		Description: description,
	}
	if err := m.store.CreateEventLog(ctx, event); err != nil {
		log.Warn().Err(err).Str("tenant", tenant.Code).Msg("Failed to record event log")
	}
}

func (m *Migrator) logFailure(ctx context.Context, tenant *models.Tenant, description string) {
	m.logEvent(ctx, tenant, models.EventLevelError, description)
}

func moduleType(module *models.Module) string {
	if module.IsCustom {
		return moduleTypeCustom
	}
	return moduleTypeStandard
}

// lockKey derives a stable advisory lock key from the tenant ID
func lockKey(tenantID uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(tenantID[:])
	return int64(h.Sum64())
}
