package tenantdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/erp-backoffice/backoffice-server/internal/config"
	"github.com/erp-backoffice/backoffice-server/internal/events"
	"github.com/erp-backoffice/backoffice-server/internal/models"
	"github.com/erp-backoffice/backoffice-server/internal/storage"
	"github.com/erp-backoffice/backoffice-server/pkg/crypto"
)

const (
	databaseSuffix = "_erp"
	userPrefix     = "user_"
	passwordLength = 24

	healthCheckTimeout = 5 * time.Second
)

// tenantDatabaseName derives the tenant database name from the tenant
// code. Dashes become underscores so the result is a plain identifier.
func tenantDatabaseName(code string) string {
	return strings.ReplaceAll(code, "-", "_") + databaseSuffix
}

// tenantRoleName derives the dedicated role name from the tenant code
func tenantRoleName(code string) string {
	return userPrefix + strings.ReplaceAll(code, "-", "_")
}

// ProvisionResult reports the outcome of provisioning a tenant database
type ProvisionResult struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	DatabaseName     string `json:"databaseName"`
	DatabaseUser     string `json:"databaseUser"`
	ConnectionString string `json:"connectionString"`
}

// DeprovisionResult reports which server objects were actually removed
type DeprovisionResult struct {
	DatabaseDropped bool `json:"databaseDropped"`
	UserDropped     bool `json:"userDropped"`
}

// HealthResult reports tenant database connectivity
type HealthResult struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Provisioner creates and destroys per-tenant databases on the shared
// database server using operator credentials
type Provisioner struct {
	store  storage.Store
	server config.TenantServerConfig
	cipher *CredentialCipher
	events *events.Publisher

	// openDB is swappable for tests
	openDB func(dsn string) (*sql.DB, error)
}

// NewProvisioner creates a provisioner
func NewProvisioner(store storage.Store, server config.TenantServerConfig, cipher *CredentialCipher, publisher *events.Publisher) *Provisioner {
	return &Provisioner{
		store:  store,
		server: server,
		cipher: cipher,
		events: publisher,
		openDB: func(dsn string) (*sql.DB, error) {
			return sql.Open("postgres", dsn)
		},
	}
}

// Provision creates a dedicated database and role for the tenant and
// persists the sealed credentials on the tenant record. The tenant code is
// validated before any server connection is made, and an
// already-provisioned tenant is rejected with ErrConflict.
func (p *Provisioner) Provision(ctx context.Context, tenantID uuid.UUID) (*ProvisionResult, error) {
	tenant, err := p.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if !models.ValidTenantCode(tenant.Code) {
		return nil, fmt.Errorf("%w: tenant code %q is not a safe identifier", ErrValidation, tenant.Code)
	}
	if tenant.IsProvisioned {
		return nil, fmt.Errorf("%w: tenant %s is already provisioned", ErrConflict, tenant.Code)
	}

	password, err := crypto.GeneratePassword(passwordLength)
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}

	result, err := p.createDatabaseObjects(ctx, tenant.Code, password)
	if err != nil {
		p.logEvent(ctx, tenant, models.EventTypeProvision, models.EventLevelError,
			fmt.Sprintf("Provisioning failed: %v", err), nil)
		return nil, err
	}

	sealed, err := p.cipher.Encrypt(password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tenant.IsProvisioned = true
	tenant.ProvisionedAt = &now
	tenant.DatabaseHost = result.Host
	tenant.DatabasePort = result.Port
	tenant.DatabaseName = result.DatabaseName
	tenant.DatabaseUser = result.DatabaseUser
	tenant.DatabasePass = sealed

	if err := p.store.UpdateTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("persist provisioning state: %w", err)
	}

	p.logEvent(ctx, tenant, models.EventTypeProvision, models.EventLevelInfo,
		fmt.Sprintf("Provisioned database %s", result.DatabaseName),
		models.Variables{"database": result.DatabaseName, "user": result.DatabaseUser})
	p.events.TenantProvisioned(tenant.ID, tenant.Code, map[string]interface{}{
		"database": result.DatabaseName,
	})

	log.Info().
		Str("tenant", tenant.Code).
		Str("database", result.DatabaseName).
		Msg("Tenant database provisioned")

	return result, nil
}

// Repair re-runs the provisioning steps for an already-provisioned tenant,
// recreating whatever is missing on the server. The stored password is
// reused when it can be unsealed, otherwise a new one is generated and the
// role password is reset.
func (p *Provisioner) Repair(ctx context.Context, tenantID uuid.UUID) (*ProvisionResult, error) {
	tenant, err := p.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if !models.ValidTenantCode(tenant.Code) {
		return nil, fmt.Errorf("%w: tenant code %q is not a safe identifier", ErrValidation, tenant.Code)
	}
	if !tenant.IsProvisioned {
		return nil, fmt.Errorf("%w: tenant %s", ErrNotProvisioned, tenant.Code)
	}

	password, err := p.cipher.Decrypt(tenant.DatabasePass)
	regenerated := false
	if err != nil || password == "" {
		password, err = crypto.GeneratePassword(passwordLength)
		if err != nil {
			return nil, fmt.Errorf("generate password: %w", err)
		}
		regenerated = true
	}

	result, err := p.createDatabaseObjects(ctx, tenant.Code, password)
	if err != nil {
		p.logEvent(ctx, tenant, models.EventTypeProvision, models.EventLevelError,
			fmt.Sprintf("Repair failed: %v", err), nil)
		return nil, err
	}

	if regenerated {
		sealed, err := p.cipher.Encrypt(password)
		if err != nil {
			return nil, err
		}
		tenant.DatabasePass = sealed
		if err := p.store.UpdateTenant(ctx, tenant); err != nil {
			return nil, fmt.Errorf("persist repaired credentials: %w", err)
		}
	}

	p.logEvent(ctx, tenant, models.EventTypeProvision, models.EventLevelInfo,
		fmt.Sprintf("Repaired database %s", result.DatabaseName), nil)

	return result, nil
}

// Deprovision removes the tenant's database and role from the server and
// clears the provisioning state. A tenant that was never provisioned is a
// successful no-op.
func (p *Provisioner) Deprovision(ctx context.Context, tenantID uuid.UUID) (*DeprovisionResult, error) {
	tenant, err := p.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if !tenant.IsProvisioned && tenant.DatabaseName == "" {
		return &DeprovisionResult{}, nil
	}

	dbName := tenant.DatabaseName
	if dbName == "" {
		dbName = tenantDatabaseName(tenant.Code)
	}
	roleName := tenant.DatabaseUser
	if roleName == "" {
		roleName = tenantRoleName(tenant.Code)
	}

	admin, err := p.openDB(p.server.AdminDSN())
	if err != nil {
		return nil, fmt.Errorf("open admin database: %w", err)
	}
	defer admin.Close()

	// Active connections block DROP DATABASE
	if _, err := admin.ExecContext(ctx,
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()",
		dbName,
	); err != nil {
		return nil, fmt.Errorf("terminate backends: %w", err)
	}

	result := &DeprovisionResult{}

	exists, err := p.databaseExists(ctx, admin, dbName)
	if err != nil {
		return nil, err
	}
	if exists {
		if _, err := admin.ExecContext(ctx, "DROP DATABASE "+pq.QuoteIdentifier(dbName)); err != nil {
			p.logEvent(ctx, tenant, models.EventTypeDeprovision, models.EventLevelError,
				fmt.Sprintf("Deprovisioning failed: %v", err), nil)
			return nil, fmt.Errorf("drop database: %w", err)
		}
		result.DatabaseDropped = true
	}

	exists, err = p.roleExists(ctx, admin, roleName)
	if err != nil {
		return nil, err
	}
	if exists {
		if _, err := admin.ExecContext(ctx, "DROP ROLE "+pq.QuoteIdentifier(roleName)); err != nil {
			return nil, fmt.Errorf("drop role: %w", err)
		}
		result.UserDropped = true
	}

	tenant.IsProvisioned = false
	tenant.ProvisionedAt = nil
	tenant.DatabaseHost = ""
	tenant.DatabasePort = 0
	tenant.DatabaseName = ""
	tenant.DatabaseUser = ""
	tenant.DatabasePass = ""

	if err := p.store.UpdateTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("persist deprovisioning state: %w", err)
	}

	p.logEvent(ctx, tenant, models.EventTypeDeprovision, models.EventLevelInfo,
		fmt.Sprintf("Deprovisioned database %s", dbName),
		models.Variables{"databaseDropped": result.DatabaseDropped, "userDropped": result.UserDropped})
	p.events.TenantDeprovisioned(tenant.ID, tenant.Code, nil)

	log.Info().
		Str("tenant", tenant.Code).
		Str("database", dbName).
		Bool("databaseDropped", result.DatabaseDropped).
		Msg("Tenant database deprovisioned")

	return result, nil
}

// CheckHealth pings the tenant database with its own credentials. A failed
// ping is reported in the result, not as an error.
func (p *Provisioner) CheckHealth(ctx context.Context, tenantID uuid.UUID) (*HealthResult, error) {
	tenant, err := p.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsProvisioned {
		return nil, fmt.Errorf("%w: tenant %s", ErrNotProvisioned, tenant.Code)
	}

	password, err := p.cipher.Decrypt(tenant.DatabasePass)
	if err != nil {
		return &HealthResult{Healthy: false, Message: "stored credentials cannot be unsealed"}, nil
	}

	port := tenant.DatabasePort
	if port == 0 {
		port = 5432
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		tenant.DatabaseUser, url.QueryEscape(password),
		tenant.DatabaseHost, port, tenant.DatabaseName, p.server.SSLMode)

	db, err := p.openDB(dsn)
	if err != nil {
		return &HealthResult{Healthy: false, Message: err.Error()}, nil
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return &HealthResult{Healthy: false, Message: err.Error()}, nil
	}
	return &HealthResult{Healthy: true}, nil
}

// createDatabaseObjects creates the role and database if missing and
// grants the role full rights on the public schema. Safe to re-run.
func (p *Provisioner) createDatabaseObjects(ctx context.Context, code, password string) (*ProvisionResult, error) {
	dbName := tenantDatabaseName(code)
	roleName := tenantRoleName(code)

	admin, err := p.openDB(p.server.AdminDSN())
	if err != nil {
		return nil, fmt.Errorf("open admin database: %w", err)
	}
	defer admin.Close()

	exists, err := p.roleExists(ctx, admin, roleName)
	if err != nil {
		return nil, err
	}
	if !exists {
		stmt := fmt.Sprintf("CREATE ROLE %s WITH LOGIN PASSWORD %s",
			pq.QuoteIdentifier(roleName), pq.QuoteLiteral(password))
		if _, err := admin.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create role: %w", err)
		}
	} else {
		stmt := fmt.Sprintf("ALTER ROLE %s WITH LOGIN PASSWORD %s",
			pq.QuoteIdentifier(roleName), pq.QuoteLiteral(password))
		if _, err := admin.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("reset role password: %w", err)
		}
	}

	exists, err = p.databaseExists(ctx, admin, dbName)
	if err != nil {
		return nil, err
	}
	if !exists {
		stmt := fmt.Sprintf("CREATE DATABASE %s OWNER %s",
			pq.QuoteIdentifier(dbName), pq.QuoteIdentifier(roleName))
		if _, err := admin.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create database: %w", err)
		}
	}

	// Schema-level grants must run connected to the new database
	target, err := p.openDB(p.server.DatabaseDSN(dbName))
	if err != nil {
		return nil, fmt.Errorf("open tenant database: %w", err)
	}
	defer target.Close()

	quoted := pq.QuoteIdentifier(roleName)
	grants := []string{
		"GRANT ALL ON SCHEMA public TO " + quoted,
		"GRANT ALL PRIVILEGES ON ALL TABLES IN SCHEMA public TO " + quoted,
		"GRANT ALL PRIVILEGES ON ALL SEQUENCES IN SCHEMA public TO " + quoted,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON TABLES TO " + quoted,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT ALL ON SEQUENCES TO " + quoted,
	}
	for _, grant := range grants {
		if _, err := target.ExecContext(ctx, grant); err != nil {
			return nil, fmt.Errorf("grant privileges: %w", err)
		}
	}

	return &ProvisionResult{
		Host:         p.server.Host,
		Port:         p.server.Port,
		DatabaseName: dbName,
		DatabaseUser: roleName,
		ConnectionString: fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			roleName, url.QueryEscape(password), p.server.Host, p.server.Port, dbName, p.server.SSLMode),
	}, nil
}

func (p *Provisioner) roleExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM pg_roles WHERE rolname = $1", name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check role existence: %w", err)
	}
	return true, nil
}

func (p *Provisioner) databaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check database existence: %w", err)
	}
	return true, nil
}

func (p *Provisioner) logEvent(ctx context.Context, tenant *models.Tenant, eventType models.EventType, level models.EventLevel, description string, details models.Variables) {
	event := &models.EventLog{
		ID:          uuid.New(),
		TenantID:    &tenant.ID,
		Type:        eventType,
		Level:       level,
		Description: description,
		Details:     details,
	}
	if err := p.store.CreateEventLog(ctx, event); err != nil {
		log.Warn().Err(err).Str("tenant", tenant.Code).Msg("Failed to record event log")
	}
}
