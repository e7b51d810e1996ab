package tenantdb

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp-backoffice/backoffice-server/internal/config"
	"github.com/erp-backoffice/backoffice-server/internal/models"
	"github.com/erp-backoffice/backoffice-server/internal/storage"
)

var testServer = config.TenantServerConfig{
	Host:     "localhost",
	Port:     5432,
	User:     "postgres",
	Password: "postgres",
	Database: "postgres",
	SSLMode:  "disable",
}

func newTestProvisioner(t *testing.T, store storage.Store) *Provisioner {
	t.Helper()
	p := NewProvisioner(store, testServer, newTestCipher(t), nil)
	p.openDB = func(dsn string) (*sql.DB, error) {
		t.Fatalf("unexpected database connection to %s", dsn)
		return nil, nil
	}
	return p
}

func TestProvisionRejectsInvalidCodeBeforeConnecting(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	tenant := &models.Tenant{
		ID:     uuid.New(),
		Code:   "bad_code!",
		Name:   "Bad",
		Status: models.TenantStatusPending,
	}
	// Bypass handler-level validation to prove the provisioner checks too
	require.NoError(t, store.CreateTenant(ctx, tenant))

	p := newTestProvisioner(t, store)

	_, err := p.Provision(ctx, tenant.ID)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProvisionRejectsAlreadyProvisioned(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	tenant := &models.Tenant{
		ID:            uuid.New(),
		Code:          "acme",
		Name:          "Acme",
		Status:        models.TenantStatusActive,
		IsProvisioned: true,
	}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	p := newTestProvisioner(t, store)

	_, err := p.Provision(ctx, tenant.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestProvisionUnknownTenant(t *testing.T) {
	store := storage.NewMemoryStore()
	p := newTestProvisioner(t, store)

	_, err := p.Provision(context.Background(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProvisionCreatesObjectsAndSealsCredentials(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	tenant := &models.Tenant{
		ID:     uuid.New(),
		Code:   "acme-co",
		Name:   "Acme Co",
		Status: models.TenantStatusActive,
	}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	adminDB, adminMock, err := sqlmock.New()
	require.NoError(t, err)
	targetDB, targetMock, err := sqlmock.New()
	require.NoError(t, err)

	adminMock.ExpectQuery("SELECT 1 FROM pg_roles").
		WithArgs("user_acme_co").
		WillReturnError(sql.ErrNoRows)
	adminMock.ExpectExec("CREATE ROLE \"user_acme_co\"").
		WillReturnResult(sqlmock.NewResult(0, 0))
	adminMock.ExpectQuery("SELECT 1 FROM pg_database").
		WithArgs("acme_co_erp").
		WillReturnError(sql.ErrNoRows)
	adminMock.ExpectExec("CREATE DATABASE \"acme_co_erp\" OWNER \"user_acme_co\"").
		WillReturnResult(sqlmock.NewResult(0, 0))

	targetMock.ExpectExec("GRANT ALL ON SCHEMA public").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("GRANT ALL PRIVILEGES ON ALL TABLES").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("GRANT ALL PRIVILEGES ON ALL SEQUENCES").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON TABLES").WillReturnResult(sqlmock.NewResult(0, 0))
	targetMock.ExpectExec("ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON SEQUENCES").WillReturnResult(sqlmock.NewResult(0, 0))

	cipher := newTestCipher(t)
	p := NewProvisioner(store, testServer, cipher, nil)

	connections := 0
	p.openDB = func(dsn string) (*sql.DB, error) {
		connections++
		if connections == 1 {
			return adminDB, nil
		}
		return targetDB, nil
	}

	result, err := p.Provision(ctx, tenant.ID)
	require.NoError(t, err)

	assert.Equal(t, "acme_co_erp", result.DatabaseName)
	assert.Equal(t, "user_acme_co", result.DatabaseUser)
	assert.Equal(t, "localhost", result.Host)
	assert.Equal(t, 5432, result.Port)
	assert.Contains(t, result.ConnectionString, "acme_co_erp")

	assert.NoError(t, adminMock.ExpectationsWereMet())
	assert.NoError(t, targetMock.ExpectationsWereMet())

	stored, err := store.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsProvisioned)
	require.NotNil(t, stored.ProvisionedAt)
	assert.Equal(t, "acme_co_erp", stored.DatabaseName)

	// Stored password is sealed but recoverable
	password, err := cipher.Decrypt(stored.DatabasePass)
	require.NoError(t, err)
	assert.Len(t, password, passwordLength)
	assert.NotEqual(t, password, stored.DatabasePass)

	// Provisioning leaves an audit trail
	events, _, err := store.ListEventLogs(ctx, storage.EventLogFilters{TenantID: &tenant.ID}, 10, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventTypeProvision, events[0].Type)
}

func TestDeprovisionNeverProvisionedIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	tenant := &models.Tenant{
		ID:     uuid.New(),
		Code:   "fresh",
		Name:   "Fresh",
		Status: models.TenantStatusPending,
	}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	p := newTestProvisioner(t, store)

	result, err := p.Deprovision(ctx, tenant.ID)
	require.NoError(t, err)
	assert.False(t, result.DatabaseDropped)
	assert.False(t, result.UserDropped)
}

func TestDeprovisionDropsObjectsAndClearsState(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cipher := newTestCipher(t)

	tenant := seedProvisionedTenant(t, store, cipher, "pw")

	adminDB, adminMock, err := sqlmock.New()
	require.NoError(t, err)

	adminMock.ExpectExec("SELECT pg_terminate_backend").
		WithArgs("acme_co_erp").
		WillReturnResult(sqlmock.NewResult(0, 1))
	adminMock.ExpectQuery("SELECT 1 FROM pg_database").
		WithArgs("acme_co_erp").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	adminMock.ExpectExec("DROP DATABASE \"acme_co_erp\"").
		WillReturnResult(sqlmock.NewResult(0, 0))
	adminMock.ExpectQuery("SELECT 1 FROM pg_roles").
		WithArgs("user_acme_co").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	adminMock.ExpectExec("DROP ROLE \"user_acme_co\"").
		WillReturnResult(sqlmock.NewResult(0, 0))

	p := NewProvisioner(store, testServer, cipher, nil)
	p.openDB = func(dsn string) (*sql.DB, error) { return adminDB, nil }

	result, err := p.Deprovision(ctx, tenant.ID)
	require.NoError(t, err)
	assert.True(t, result.DatabaseDropped)
	assert.True(t, result.UserDropped)
	assert.NoError(t, adminMock.ExpectationsWereMet())

	stored, err := store.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsProvisioned)
	assert.Empty(t, stored.DatabaseName)
	assert.Empty(t, stored.DatabasePass)
}

func TestDeprovisionMissingObjectsStillClearsState(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cipher := newTestCipher(t)

	tenant := seedProvisionedTenant(t, store, cipher, "pw")

	adminDB, adminMock, err := sqlmock.New()
	require.NoError(t, err)

	adminMock.ExpectExec("SELECT pg_terminate_backend").
		WithArgs("acme_co_erp").
		WillReturnResult(sqlmock.NewResult(0, 0))
	adminMock.ExpectQuery("SELECT 1 FROM pg_database").
		WithArgs("acme_co_erp").
		WillReturnError(sql.ErrNoRows)
	adminMock.ExpectQuery("SELECT 1 FROM pg_roles").
		WithArgs("user_acme_co").
		WillReturnError(sql.ErrNoRows)

	p := NewProvisioner(store, testServer, cipher, nil)
	p.openDB = func(dsn string) (*sql.DB, error) { return adminDB, nil }

	result, err := p.Deprovision(ctx, tenant.ID)
	require.NoError(t, err)
	assert.False(t, result.DatabaseDropped)
	assert.False(t, result.UserDropped)

	stored, err := store.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsProvisioned)
}

func TestRepairRequiresProvisionedTenant(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	tenant := &models.Tenant{
		ID:     uuid.New(),
		Code:   "fresh",
		Name:   "Fresh",
		Status: models.TenantStatusActive,
	}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	p := newTestProvisioner(t, store)

	_, err := p.Repair(ctx, tenant.ID)
	assert.ErrorIs(t, err, ErrNotProvisioned)
}

func TestTenantNameDerivation(t *testing.T) {
	assert.Equal(t, "acme_erp", tenantDatabaseName("acme"))
	assert.Equal(t, "acme_co_erp", tenantDatabaseName("acme-co"))
	assert.Equal(t, "user_acme_co", tenantRoleName("acme-co"))
}
