package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp-backoffice/backoffice-server/internal/models"
)

func TestMemoryStoreTenantUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreateTenant(ctx, &models.Tenant{
		ID: uuid.New(), Code: "acme", Document: "123", Name: "Acme",
	}))

	err := store.CreateTenant(ctx, &models.Tenant{
		ID: uuid.New(), Code: "acme", Document: "456", Name: "Other",
	})
	assert.ErrorIs(t, err, ErrDuplicateKey, "code must be unique")

	err = store.CreateTenant(ctx, &models.Tenant{
		ID: uuid.New(), Code: "other", Document: "123", Name: "Other",
	})
	assert.ErrorIs(t, err, ErrDuplicateKey, "document must be unique")
}

func TestMemoryStoreCopySemantics(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tenant := &models.Tenant{ID: uuid.New(), Code: "acme", Name: "Acme"}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	// Mutating the caller's struct must not leak into the store
	tenant.Name = "Changed"

	stored, err := store.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", stored.Name)
}

func TestMemoryStoreListTenantsFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	active := &models.Tenant{ID: uuid.New(), Code: "a", Document: "1", Name: "A", Status: models.TenantStatusActive, IsProvisioned: true}
	pending := &models.Tenant{ID: uuid.New(), Code: "b", Document: "2", Name: "B", Status: models.TenantStatusPending}
	require.NoError(t, store.CreateTenant(ctx, active))
	require.NoError(t, store.CreateTenant(ctx, pending))

	status := models.TenantStatusActive
	tenants, total, err := store.ListTenants(ctx, TenantFilters{Status: &status}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, tenants, 1)
	assert.Equal(t, "a", tenants[0].Code)

	provisioned := false
	tenants, total, err = store.ListTenants(ctx, TenantFilters{IsProvisioned: &provisioned}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, tenants, 1)
	assert.Equal(t, "b", tenants[0].Code)
}

func TestMemoryStoreTenantModules(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tenant := &models.Tenant{ID: uuid.New(), Code: "acme", Name: "Acme"}
	require.NoError(t, store.CreateTenant(ctx, tenant))

	module := &models.Module{ID: uuid.New(), Code: "billing", Name: "Billing", Version: "1.0.0"}
	require.NoError(t, store.CreateModule(ctx, module))

	tm := &models.TenantModule{TenantID: tenant.ID, ModuleID: module.ID, IsEnabled: true}
	require.NoError(t, store.CreateTenantModule(ctx, tm))

	err := store.CreateTenantModule(ctx, &models.TenantModule{TenantID: tenant.ID, ModuleID: module.ID})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	got, err := store.GetTenantModule(ctx, tenant.ID, module.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Module, "module is joined on read")
	assert.Equal(t, "billing", got.Module.Code)

	list, err := store.ListTenantModules(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "billing", list[0].Module.Code)
}

func TestMemoryStoreCoreModules(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreateModule(ctx, &models.Module{ID: uuid.New(), Code: "core", Name: "Core", IsCore: true}))
	require.NoError(t, store.CreateModule(ctx, &models.Module{ID: uuid.New(), Code: "extra", Name: "Extra"}))

	core, err := store.ListCoreModules(ctx)
	require.NoError(t, err)
	require.Len(t, core, 1)
	assert.Equal(t, "core", core[0].Code)
}

func TestMemoryStoreEventLogFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	tenantID := uuid.New()
	otherID := uuid.New()

	require.NoError(t, store.CreateEventLog(ctx, &models.EventLog{
		ID: uuid.New(), TenantID: &tenantID, Type: models.EventTypeProvision, Level: models.EventLevelInfo,
	}))
	require.NoError(t, store.CreateEventLog(ctx, &models.EventLog{
		ID: uuid.New(), TenantID: &otherID, Type: models.EventTypeMigration, Level: models.EventLevelError,
	}))

	events, total, err := store.ListEventLogs(ctx, EventLogFilters{TenantID: &tenantID}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeProvision, events[0].Type)

	level := models.EventLevelError
	events, total, err = store.ListEventLogs(ctx, EventLogFilters{Level: &level}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeMigration, events[0].Type)
}
