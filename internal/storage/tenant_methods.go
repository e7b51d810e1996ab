package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/erp-backoffice/backoffice-server/internal/models"
)

// isDuplicate reports whether err is a unique-constraint violation
func isDuplicate(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

const tenantColumns = `id, created_at, updated_at, code, document, name, status, plan_id,
       is_provisioned, provisioned_at,
       database_host, database_port, database_name, database_user, database_pass`

// CreateTenant creates a new tenant
func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}

	now := time.Now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	if tenant.Status == "" {
		tenant.Status = models.TenantStatusPending
	}

	query := `
        INSERT INTO tenants (
            id, created_at, updated_at, code, document, name, status, plan_id,
            is_provisioned, provisioned_at,
            database_host, database_port, database_name, database_user, database_pass
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
        )`

	_, err := s.getDB().ExecContext(ctx, query,
		tenant.ID, tenant.CreatedAt, tenant.UpdatedAt, tenant.Code, tenant.Document,
		tenant.Name, tenant.Status, tenant.PlanID,
		tenant.IsProvisioned, tenant.ProvisionedAt,
		tenant.DatabaseHost, tenant.DatabasePort, tenant.DatabaseName,
		tenant.DatabaseUser, tenant.DatabasePass,
	)

	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

func (s *PostgresStore) scanTenant(row *sql.Row) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	var port sql.NullInt64
	err := row.Scan(
		&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt, &tenant.Code,
		&tenant.Document, &tenant.Name, &tenant.Status, &tenant.PlanID,
		&tenant.IsProvisioned, &tenant.ProvisionedAt,
		&tenant.DatabaseHost, &port, &tenant.DatabaseName,
		&tenant.DatabaseUser, &tenant.DatabasePass,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	tenant.DatabasePort = int(port.Int64)
	return tenant, nil
}

// GetTenant gets a tenant by ID
func (s *PostgresStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return s.scanTenant(s.getDB().QueryRowContext(ctx, query, id))
}

// GetTenantByCode gets a tenant by its human code
func (s *PostgresStore) GetTenantByCode(ctx context.Context, code string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE code = $1`
	return s.scanTenant(s.getDB().QueryRowContext(ctx, query, code))
}

// UpdateTenant updates a tenant
func (s *PostgresStore) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	tenant.UpdatedAt = time.Now()

	query := `
        UPDATE tenants SET
            updated_at = $2, code = $3, document = $4, name = $5, status = $6,
            plan_id = $7, is_provisioned = $8, provisioned_at = $9,
            database_host = $10, database_port = $11, database_name = $12,
            database_user = $13, database_pass = $14
        WHERE id = $1`

	var port interface{}
	if tenant.DatabasePort != 0 {
		port = tenant.DatabasePort
	}

	result, err := s.getDB().ExecContext(ctx, query,
		tenant.ID, tenant.UpdatedAt, tenant.Code, tenant.Document, tenant.Name,
		tenant.Status, tenant.PlanID, tenant.IsProvisioned, tenant.ProvisionedAt,
		tenant.DatabaseHost, port, tenant.DatabaseName,
		tenant.DatabaseUser, tenant.DatabasePass,
	)

	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateKey
		}
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteTenant deletes a tenant and its module associations
func (s *PostgresStore) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	if _, err := s.getDB().ExecContext(ctx, "DELETE FROM tenant_modules WHERE tenant_id = $1", id); err != nil {
		return err
	}

	result, err := s.getDB().ExecContext(ctx, "DELETE FROM tenants WHERE id = $1", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListTenants lists tenants matching the given filters
func (s *PostgresStore) ListTenants(ctx context.Context, filters TenantFilters, limit, offset int) ([]*models.Tenant, int64, error) {
	var args []interface{}
	where := ""

	addCond := func(cond string, value interface{}) {
		args = append(args, value)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, len(args))
	}

	if filters.Status != nil {
		addCond("status = $%d", *filters.Status)
	}
	if filters.IsProvisioned != nil {
		addCond("is_provisioned = $%d", *filters.IsProvisioned)
	}
	if filters.PlanID != nil {
		addCond("plan_id = $%d", *filters.PlanID)
	}

	var count int64
	err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`+where, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + tenantColumns + ` FROM tenants` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		tenant := &models.Tenant{}
		var port sql.NullInt64
		err := rows.Scan(
			&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt, &tenant.Code,
			&tenant.Document, &tenant.Name, &tenant.Status, &tenant.PlanID,
			&tenant.IsProvisioned, &tenant.ProvisionedAt,
			&tenant.DatabaseHost, &port, &tenant.DatabaseName,
			&tenant.DatabaseUser, &tenant.DatabasePass,
		)
		if err != nil {
			return nil, 0, err
		}
		tenant.DatabasePort = int(port.Int64)
		tenants = append(tenants, tenant)
	}

	return tenants, count, rows.Err()
}

// ========== Tenant module methods ==========

// CreateTenantModule creates a tenant-module association
func (s *PostgresStore) CreateTenantModule(ctx context.Context, tm *models.TenantModule) error {
	now := time.Now()
	tm.CreatedAt = now
	tm.UpdatedAt = now

	query := `
        INSERT INTO tenant_modules (
            tenant_id, module_id, is_enabled, disabled_at,
            migrations_applied, migrations_applied_at, schema_version,
            created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		tm.TenantID, tm.ModuleID, tm.IsEnabled, tm.DisabledAt,
		tm.MigrationsApplied, tm.MigrationsAppliedAt, tm.SchemaVersion,
		tm.CreatedAt, tm.UpdatedAt,
	)

	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetTenantModule gets an association by its composite key
func (s *PostgresStore) GetTenantModule(ctx context.Context, tenantID, moduleID uuid.UUID) (*models.TenantModule, error) {
	query := `
        SELECT tm.tenant_id, tm.module_id, tm.is_enabled, tm.disabled_at,
               tm.migrations_applied, tm.migrations_applied_at, tm.schema_version,
               tm.created_at, tm.updated_at,
               m.id, m.created_at, m.updated_at, m.code, m.name, m.description,
               m.is_core, m.is_custom, m.module_path, m.migrations_path, m.version
        FROM tenant_modules tm
        JOIN modules m ON m.id = tm.module_id
        WHERE tm.tenant_id = $1 AND tm.module_id = $2`

	tm := &models.TenantModule{Module: &models.Module{}}
	err := s.getDB().QueryRowContext(ctx, query, tenantID, moduleID).Scan(
		&tm.TenantID, &tm.ModuleID, &tm.IsEnabled, &tm.DisabledAt,
		&tm.MigrationsApplied, &tm.MigrationsAppliedAt, &tm.SchemaVersion,
		&tm.CreatedAt, &tm.UpdatedAt,
		&tm.Module.ID, &tm.Module.CreatedAt, &tm.Module.UpdatedAt, &tm.Module.Code,
		&tm.Module.Name, &tm.Module.Description, &tm.Module.IsCore, &tm.Module.IsCustom,
		&tm.Module.ModulePath, &tm.Module.MigrationsPath, &tm.Module.Version,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return tm, err
}

// UpdateTenantModule updates an association
func (s *PostgresStore) UpdateTenantModule(ctx context.Context, tm *models.TenantModule) error {
	tm.UpdatedAt = time.Now()

	query := `
        UPDATE tenant_modules SET
            is_enabled = $3, disabled_at = $4, migrations_applied = $5,
            migrations_applied_at = $6, schema_version = $7, updated_at = $8
        WHERE tenant_id = $1 AND module_id = $2`

	result, err := s.getDB().ExecContext(ctx, query,
		tm.TenantID, tm.ModuleID, tm.IsEnabled, tm.DisabledAt,
		tm.MigrationsApplied, tm.MigrationsAppliedAt, tm.SchemaVersion, tm.UpdatedAt,
	)

	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListTenantModules lists a tenant's module associations with modules joined,
// ordered by module code for stable processing
func (s *PostgresStore) ListTenantModules(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantModule, error) {
	query := `
        SELECT tm.tenant_id, tm.module_id, tm.is_enabled, tm.disabled_at,
               tm.migrations_applied, tm.migrations_applied_at, tm.schema_version,
               tm.created_at, tm.updated_at,
               m.id, m.created_at, m.updated_at, m.code, m.name, m.description,
               m.is_core, m.is_custom, m.module_path, m.migrations_path, m.version
        FROM tenant_modules tm
        JOIN modules m ON m.id = tm.module_id
        WHERE tm.tenant_id = $1
        ORDER BY m.code`

	rows, err := s.getDB().QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.TenantModule
	for rows.Next() {
		tm := &models.TenantModule{Module: &models.Module{}}
		err := rows.Scan(
			&tm.TenantID, &tm.ModuleID, &tm.IsEnabled, &tm.DisabledAt,
			&tm.MigrationsApplied, &tm.MigrationsAppliedAt, &tm.SchemaVersion,
			&tm.CreatedAt, &tm.UpdatedAt,
			&tm.Module.ID, &tm.Module.CreatedAt, &tm.Module.UpdatedAt, &tm.Module.Code,
			&tm.Module.Name, &tm.Module.Description, &tm.Module.IsCore, &tm.Module.IsCustom,
			&tm.Module.ModulePath, &tm.Module.MigrationsPath, &tm.Module.Version,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, tm)
	}

	return result, rows.Err()
}
