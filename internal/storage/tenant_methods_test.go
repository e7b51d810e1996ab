package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp-backoffice/backoffice-server/internal/models"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store := NewPostgresStoreFromDB(db)
	return db, mock, store
}

func tenantRows(tenant *models.Tenant) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "created_at", "updated_at", "code", "document", "name", "status", "plan_id",
		"is_provisioned", "provisioned_at",
		"database_host", "database_port", "database_name", "database_user", "database_pass",
	}).AddRow(
		tenant.ID, tenant.CreatedAt, tenant.UpdatedAt, tenant.Code, tenant.Document,
		tenant.Name, tenant.Status, tenant.PlanID,
		tenant.IsProvisioned, tenant.ProvisionedAt,
		tenant.DatabaseHost, tenant.DatabasePort, tenant.DatabaseName,
		tenant.DatabaseUser, tenant.DatabasePass,
	)
}

func TestCreateTenant(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	tenant := &models.Tenant{
		Code: "acme",
		Name: "Acme",
	}

	mock.ExpectExec("INSERT INTO tenants").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.CreateTenant(context.Background(), tenant)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, tenant.ID, "ID is assigned on insert")
	assert.Equal(t, models.TenantStatusPending, tenant.Status, "status defaults to PENDING")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTenantDuplicate(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO tenants").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.CreateTenant(context.Background(), &models.Tenant{Code: "acme", Name: "Acme"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestGetTenantByCode(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	tenant := &models.Tenant{
		ID:           uuid.New(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
		Code:         "acme",
		Name:         "Acme",
		Status:       models.TenantStatusActive,
		DatabasePort: 5432,
	}

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE code").
		WithArgs("acme").
		WillReturnRows(tenantRows(tenant))

	got, err := store.GetTenantByCode(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, got.ID)
	assert.Equal(t, "acme", got.Code)
	assert.Equal(t, 5432, got.DatabasePort)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenantNotFound(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE id").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetTenant(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTenantNotFound(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec("UPDATE tenants SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateTenant(context.Background(), &models.Tenant{ID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTenantRemovesAssociationsFirst(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	id := uuid.New()

	mock.ExpectExec("DELETE FROM tenant_modules WHERE tenant_id").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM tenants WHERE id").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.DeleteTenant(context.Background(), id)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTenantsWithFilters(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	status := models.TenantStatusActive
	provisioned := true

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM tenants WHERE status").
		WithArgs(status, provisioned).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	tenant := &models.Tenant{
		ID:            uuid.New(),
		Code:          "acme",
		Name:          "Acme",
		Status:        status,
		IsProvisioned: true,
	}
	mock.ExpectQuery("SELECT (.+) FROM tenants WHERE status").
		WithArgs(status, provisioned).
		WillReturnRows(tenantRows(tenant))

	tenants, total, err := store.ListTenants(context.Background(), TenantFilters{
		Status:        &status,
		IsProvisioned: &provisioned,
	}, 20, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, tenants, 1)
	assert.Equal(t, "acme", tenants[0].Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenantModuleJoinsModule(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	tenantID := uuid.New()
	moduleID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"tenant_id", "module_id", "is_enabled", "disabled_at",
		"migrations_applied", "migrations_applied_at", "schema_version",
		"created_at", "updated_at",
		"id", "created_at", "updated_at", "code", "name", "description",
		"is_core", "is_custom", "module_path", "migrations_path", "version",
	}).AddRow(
		tenantID, moduleID, true, nil,
		true, now, "1.0.0",
		now, now,
		moduleID, now, now, "billing", "Billing", "",
		false, false, "", "", "1.0.0",
	)

	mock.ExpectQuery("FROM tenant_modules tm").
		WithArgs(tenantID, moduleID).
		WillReturnRows(rows)

	tm, err := store.GetTenantModule(context.Background(), tenantID, moduleID)
	require.NoError(t, err)
	assert.True(t, tm.IsEnabled)
	require.NotNil(t, tm.Module)
	assert.Equal(t, "billing", tm.Module.Code)
	assert.False(t, tm.NeedsMigration())
}
