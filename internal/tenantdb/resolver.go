package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/erp-backoffice/backoffice-server/internal/models"
	"github.com/erp-backoffice/backoffice-server/internal/storage"
)

// defaultPort is assumed when a tenant record predates port tracking
const defaultPort = 5432

// Connection is resolved tenant database connection information. The DSN
// carries the unsealed password, so connections are handed to callers and
// never persisted.
type Connection struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	DatabaseName string `json:"databaseName"`
	User         string `json:"user"`
	Password     string `json:"-"`
	DSN          string `json:"-"`
}

// Resolver resolves tenant database connection information from the
// registry, unsealing the stored credentials
type Resolver struct {
	store   storage.Store
	cipher  *CredentialCipher
	sslMode string
}

// NewResolver creates a resolver
func NewResolver(store storage.Store, cipher *CredentialCipher, sslMode string) *Resolver {
	if sslMode == "" {
		sslMode = "disable"
	}
	return &Resolver{store: store, cipher: cipher, sslMode: sslMode}
}

// Resolve returns connection information for a tenant addressed by ID or
// code. An unprovisioned tenant yields ErrNotProvisioned.
func (r *Resolver) Resolve(ctx context.Context, tenantRef string) (*Connection, error) {
	tenant, err := r.lookupTenant(ctx, tenantRef)
	if err != nil {
		return nil, err
	}
	return r.connection(tenant)
}

// ResolveForModule returns connection information scoped to a module.
// Access is denied with ErrForbidden unless the tenant is operational and
// the module is enabled for it.
func (r *Resolver) ResolveForModule(ctx context.Context, tenantRef, moduleCode string) (*Connection, error) {
	tenant, err := r.lookupTenant(ctx, tenantRef)
	if err != nil {
		return nil, err
	}

	if !tenant.IsOperational() {
		return nil, fmt.Errorf("%w: tenant %s has status %s", ErrForbidden, tenant.Code, tenant.Status)
	}

	module, err := r.store.GetModuleByCode(ctx, moduleCode)
	if err != nil {
		return nil, err
	}

	tm, err := r.store.GetTenantModule(ctx, tenant.ID, module.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: module %s is not assigned to tenant %s", ErrForbidden, moduleCode, tenant.Code)
		}
		return nil, err
	}
	if !tm.IsEnabled {
		return nil, fmt.Errorf("%w: module %s is disabled for tenant %s", ErrForbidden, moduleCode, tenant.Code)
	}

	return r.connection(tenant)
}

func (r *Resolver) lookupTenant(ctx context.Context, tenantRef string) (*models.Tenant, error) {
	if id, err := uuid.Parse(tenantRef); err == nil {
		return r.store.GetTenant(ctx, id)
	}
	return r.store.GetTenantByCode(ctx, tenantRef)
}

func (r *Resolver) connection(tenant *models.Tenant) (*Connection, error) {
	if !tenant.IsProvisioned {
		return nil, fmt.Errorf("%w: tenant %s", ErrNotProvisioned, tenant.Code)
	}

	password, err := r.cipher.Decrypt(tenant.DatabasePass)
	if err != nil {
		return nil, fmt.Errorf("unseal credentials for tenant %s: %w", tenant.Code, err)
	}

	port := tenant.DatabasePort
	if port == 0 {
		port = defaultPort
	}

	return &Connection{
		Host:         tenant.DatabaseHost,
		Port:         port,
		DatabaseName: tenant.DatabaseName,
		User:         tenant.DatabaseUser,
		Password:     password,
		DSN: fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			tenant.DatabaseUser, url.QueryEscape(password),
			tenant.DatabaseHost, port, tenant.DatabaseName, r.sslMode),
	}, nil
}
