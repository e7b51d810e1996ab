package tenantdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp-backoffice/backoffice-server/internal/models"
	"github.com/erp-backoffice/backoffice-server/internal/storage"
)

// fakeRunner records calls instead of touching a database
type fakeRunner struct {
	standardCalls int
	dirCalls      []string
	locks         int

	standardErr error
	dirErr      map[string]error
}

func (f *fakeRunner) MigrateToLatest(ctx context.Context, dsn string) error {
	f.standardCalls++
	return f.standardErr
}

func (f *fakeRunner) ApplyDir(ctx context.Context, dsn, dir, category string) error {
	f.dirCalls = append(f.dirCalls, category)
	if f.dirErr != nil {
		return f.dirErr[category]
	}
	return nil
}

func (f *fakeRunner) AcquireLock(ctx context.Context, dsn string, key int64) (func(), error) {
	f.locks++
	return func() {}, nil
}

type migratorFixture struct {
	store    *storage.MemoryStore
	runner   *fakeRunner
	migrator *Migrator
	tenant   *models.Tenant

	workspaceRoot string
	modulesPath   string
}

func newMigratorFixture(t *testing.T) *migratorFixture {
	t.Helper()

	store := storage.NewMemoryStore()
	cipher := newTestCipher(t)
	tenant := seedProvisionedTenant(t, store, cipher, "pw")

	runner := &fakeRunner{}
	workspaceRoot := t.TempDir()
	modulesPath := t.TempDir()

	migrator := NewMigrator(store, runner, NewResolver(store, cipher, "disable"), nil,
		workspaceRoot, modulesPath)

	return &migratorFixture{
		store:         store,
		runner:        runner,
		migrator:      migrator,
		tenant:        tenant,
		workspaceRoot: workspaceRoot,
		modulesPath:   modulesPath,
	}
}

func (f *migratorFixture) addModule(t *testing.T, module *models.Module, enabled bool) *models.TenantModule {
	t.Helper()
	require.NoError(t, f.store.CreateModule(context.Background(), module))
	tm := &models.TenantModule{
		TenantID:  f.tenant.ID,
		ModuleID:  module.ID,
		IsEnabled: enabled,
	}
	require.NoError(t, f.store.CreateTenantModule(context.Background(), tm))
	return tm
}

func (f *migratorFixture) addStandardScripts(t *testing.T, moduleCode string) {
	t.Helper()
	dir := filepath.Join(f.modulesPath, moduleCode)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_init.sql"), []byte("SELECT 1;"), 0o644))
}

func TestApplyAllRunsStandardChainAndModules(t *testing.T) {
	ctx := context.Background()
	f := newMigratorFixture(t)

	f.addModule(t, &models.Module{ID: uuid.New(), Code: "billing", Name: "Billing", Version: "1.0.0"}, true)
	f.addStandardScripts(t, "billing")

	report, err := f.migrator.ApplyAll(ctx, f.tenant.ID)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.True(t, report.Standard)
	assert.Equal(t, 1, f.runner.standardCalls)
	assert.Equal(t, 1, f.runner.locks)
	assert.Equal(t, []string{"billing"}, f.runner.dirCalls)

	require.Len(t, report.Results, 1)
	assert.Equal(t, "billing", report.Results[0].Module)
	assert.Equal(t, "standard", report.Results[0].Type)
	assert.True(t, report.Results[0].Success)

	// Bookkeeping records the module version at apply time
	module, err := f.store.GetModuleByCode(ctx, "billing")
	require.NoError(t, err)
	tm, err := f.store.GetTenantModule(ctx, f.tenant.ID, module.ID)
	require.NoError(t, err)
	assert.True(t, tm.MigrationsApplied)
	require.NotNil(t, tm.MigrationsAppliedAt)
	assert.Equal(t, "1.0.0", tm.SchemaVersion)
}

func TestApplyAllSkipsDisabledModules(t *testing.T) {
	f := newMigratorFixture(t)

	f.addModule(t, &models.Module{ID: uuid.New(), Code: "billing", Name: "Billing"}, true)
	f.addModule(t, &models.Module{ID: uuid.New(), Code: "hr", Name: "HR"}, false)
	f.addStandardScripts(t, "billing")
	f.addStandardScripts(t, "hr")

	report, err := f.migrator.ApplyAll(context.Background(), f.tenant.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"billing"}, f.runner.dirCalls)
	require.Len(t, report.Results, 1)
}

func TestApplyAllIsolatesModuleFailures(t *testing.T) {
	f := newMigratorFixture(t)

	f.addModule(t, &models.Module{ID: uuid.New(), Code: "billing", Name: "Billing"}, true)
	f.addModule(t, &models.Module{ID: uuid.New(), Code: "hr", Name: "HR"}, true)
	f.addStandardScripts(t, "billing")
	f.addStandardScripts(t, "hr")

	f.runner.dirErr = map[string]error{"billing": errors.New("syntax error at line 3")}

	report, err := f.migrator.ApplyAll(context.Background(), f.tenant.ID)
	require.NoError(t, err)

	assert.False(t, report.Success)
	require.Len(t, report.Results, 2)

	byModule := map[string]ModuleMigrationResult{}
	for _, result := range report.Results {
		byModule[result.Module] = result
	}
	assert.False(t, byModule["billing"].Success)
	assert.Contains(t, byModule["billing"].Message, "syntax error")
	assert.True(t, byModule["hr"].Success)
}

func TestApplyAllCustomModuleMissingDescriptor(t *testing.T) {
	f := newMigratorFixture(t)

	f.addModule(t, &models.Module{
		ID:         uuid.New(),
		Code:       "crm",
		Name:       "CRM",
		IsCustom:   true,
		ModulePath: "crm-project",
	}, true)

	report, err := f.migrator.ApplyAll(context.Background(), f.tenant.ID)
	require.NoError(t, err)

	assert.False(t, report.Success)
	assert.True(t, report.Standard, "standard chain still runs")
	require.Len(t, report.Results, 1)
	assert.Equal(t, "custom", report.Results[0].Type)
	assert.False(t, report.Results[0].Success)
	assert.Contains(t, report.Results[0].Message, "schema.sql")
	assert.Empty(t, f.runner.dirCalls)
}

func TestApplyAllCustomModuleWithDescriptor(t *testing.T) {
	f := newMigratorFixture(t)

	f.addModule(t, &models.Module{
		ID:         uuid.New(),
		Code:       "crm",
		Name:       "CRM",
		IsCustom:   true,
		ModulePath: "crm-project",
		Version:    "2.0.0",
	}, true)

	dir := filepath.Join(f.workspaceRoot, "crm-project", models.DefaultMigrationsDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.sql"), []byte("CREATE TABLE crm_leads ();"), 0o644))

	report, err := f.migrator.ApplyAll(context.Background(), f.tenant.ID)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, []string{"crm"}, f.runner.dirCalls)
}

func TestApplyAllStandardModuleWithoutScripts(t *testing.T) {
	f := newMigratorFixture(t)

	f.addModule(t, &models.Module{ID: uuid.New(), Code: "notes", Name: "Notes"}, true)

	report, err := f.migrator.ApplyAll(context.Background(), f.tenant.ID)
	require.NoError(t, err)

	assert.True(t, report.Success)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Success)
	assert.Contains(t, report.Results[0].Message, "no migration scripts")
	assert.Empty(t, f.runner.dirCalls)
}

func TestApplyPendingNoOpWithoutPendingModules(t *testing.T) {
	f := newMigratorFixture(t)

	module := f.addModule(t, &models.Module{ID: uuid.New(), Code: "billing", Name: "Billing", Version: "1.0.0"}, true)
	module.MigrationsApplied = true
	module.SchemaVersion = "1.0.0"
	require.NoError(t, f.store.UpdateTenantModule(context.Background(), module))

	report, err := f.migrator.ApplyPending(context.Background(), f.tenant.ID)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Empty(t, report.Results)
	assert.Zero(t, f.runner.locks, "no database contact on an empty pass")
	assert.Zero(t, f.runner.standardCalls)
}

func TestApplyPendingRunsOnlyUnmigratedModules(t *testing.T) {
	f := newMigratorFixture(t)

	applied := f.addModule(t, &models.Module{ID: uuid.New(), Code: "billing", Name: "Billing"}, true)
	applied.MigrationsApplied = true
	require.NoError(t, f.store.UpdateTenantModule(context.Background(), applied))

	f.addModule(t, &models.Module{ID: uuid.New(), Code: "hr", Name: "HR"}, true)
	f.addStandardScripts(t, "hr")

	report, err := f.migrator.ApplyPending(context.Background(), f.tenant.ID)
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.Equal(t, []string{"hr"}, f.runner.dirCalls)
	assert.Zero(t, f.runner.standardCalls, "pending pass skips the standard chain")
}

func TestApplyModuleRunsOnlyThatModule(t *testing.T) {
	f := newMigratorFixture(t)

	f.addModule(t, &models.Module{ID: uuid.New(), Code: "billing", Name: "Billing", Version: "1.0.0"}, true)
	f.addModule(t, &models.Module{ID: uuid.New(), Code: "hr", Name: "HR"}, true)
	f.addStandardScripts(t, "billing")
	f.addStandardScripts(t, "hr")

	report, err := f.migrator.ApplyModule(context.Background(), f.tenant.ID, "billing")
	require.NoError(t, err)

	assert.True(t, report.Success)
	assert.False(t, report.Standard)
	assert.Zero(t, f.runner.standardCalls, "single-module pass skips the standard chain")
	assert.Equal(t, []string{"billing"}, f.runner.dirCalls)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "billing", report.Results[0].Module)
}

func TestApplyModuleDisabled(t *testing.T) {
	f := newMigratorFixture(t)

	f.addModule(t, &models.Module{ID: uuid.New(), Code: "billing", Name: "Billing"}, false)

	_, err := f.migrator.ApplyModule(context.Background(), f.tenant.ID, "billing")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestApplyModuleUnknown(t *testing.T) {
	f := newMigratorFixture(t)

	_, err := f.migrator.ApplyModule(context.Background(), f.tenant.ID, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplyModuleNotAssigned(t *testing.T) {
	f := newMigratorFixture(t)

	module := &models.Module{ID: uuid.New(), Code: "billing", Name: "Billing"}
	require.NoError(t, f.store.CreateModule(context.Background(), module))

	_, err := f.migrator.ApplyModule(context.Background(), f.tenant.ID, "billing")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMigrationsRequireProvisionedTenant(t *testing.T) {
	f := newMigratorFixture(t)

	tenant := &models.Tenant{
		ID:     uuid.New(),
		Code:   "fresh",
		Name:   "Fresh",
		Status: models.TenantStatusActive,
	}
	require.NoError(t, f.store.CreateTenant(context.Background(), tenant))

	_, err := f.migrator.ApplyAll(context.Background(), tenant.ID)
	assert.ErrorIs(t, err, ErrNotProvisioned)

	_, err = f.migrator.ApplyPending(context.Background(), tenant.ID)
	assert.ErrorIs(t, err, ErrNotProvisioned)
}

func TestStatusReportsStaleness(t *testing.T) {
	ctx := context.Background()
	f := newMigratorFixture(t)

	tm := f.addModule(t, &models.Module{ID: uuid.New(), Code: "billing", Name: "Billing", Version: "2.0.0"}, true)
	tm.MigrationsApplied = true
	tm.SchemaVersion = "1.0.0"
	require.NoError(t, f.store.UpdateTenantModule(ctx, tm))

	statuses, err := f.migrator.Status(ctx, f.tenant.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	assert.Equal(t, "billing", statuses[0].Module)
	assert.True(t, statuses[0].MigrationsApplied)
	assert.Equal(t, "1.0.0", statuses[0].SchemaVersion)
	assert.Equal(t, "2.0.0", statuses[0].ModuleVersion)
	assert.True(t, statuses[0].NeedsMigration)
}
