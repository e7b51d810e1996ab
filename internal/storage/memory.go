package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erp-backoffice/backoffice-server/internal/models"
)

// MemoryStore is an in-memory Store implementation. It backs the
// orchestration tests and lets the tenantdb services run without a
// database server.
type MemoryStore struct {
	mu sync.RWMutex

	tenants       map[uuid.UUID]*models.Tenant
	tenantModules map[uuid.UUID]map[uuid.UUID]*models.TenantModule
	modules       map[uuid.UUID]*models.Module
	plans         map[uuid.UUID]*models.Plan
	adminUsers    map[uuid.UUID]*models.AdminUser
	events        []*models.EventLog
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:       make(map[uuid.UUID]*models.Tenant),
		tenantModules: make(map[uuid.UUID]map[uuid.UUID]*models.TenantModule),
		modules:       make(map[uuid.UUID]*models.Module),
		plans:         make(map[uuid.UUID]*models.Plan),
		adminUsers:    make(map[uuid.UUID]*models.AdminUser),
	}
}

// BeginTx returns the store itself; the in-memory store is not transactional
func (s *MemoryStore) BeginTx(ctx context.Context) (Store, error) { return s, nil }

// Commit is a no-op
func (s *MemoryStore) Commit() error { return nil }

// Rollback is a no-op
func (s *MemoryStore) Rollback() error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func copyTenant(t *models.Tenant) *models.Tenant {
	c := *t
	c.Modules = nil
	return &c
}

// CreateTenant creates a tenant, enforcing code and document uniqueness
func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tenants {
		if existing.Code == tenant.Code {
			return ErrDuplicateKey
		}
		if tenant.Document != "" && existing.Document == tenant.Document {
			return ErrDuplicateKey
		}
	}

	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	now := time.Now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	if tenant.Status == "" {
		tenant.Status = models.TenantStatusPending
	}

	s.tenants[tenant.ID] = copyTenant(tenant)
	return nil
}

// GetTenant gets a tenant by ID
func (s *MemoryStore) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTenant(tenant), nil
}

// GetTenantByCode gets a tenant by code
func (s *MemoryStore) GetTenantByCode(ctx context.Context, code string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tenant := range s.tenants {
		if tenant.Code == code {
			return copyTenant(tenant), nil
		}
	}
	return nil, ErrNotFound
}

// UpdateTenant updates a tenant
func (s *MemoryStore) UpdateTenant(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[tenant.ID]; !ok {
		return ErrNotFound
	}
	tenant.UpdatedAt = time.Now()
	s.tenants[tenant.ID] = copyTenant(tenant)
	return nil
}

// DeleteTenant deletes a tenant and its associations
func (s *MemoryStore) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[id]; !ok {
		return ErrNotFound
	}
	delete(s.tenants, id)
	delete(s.tenantModules, id)
	return nil
}

// ListTenants lists tenants matching the filters
func (s *MemoryStore) ListTenants(ctx context.Context, filters TenantFilters, limit, offset int) ([]*models.Tenant, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.Tenant
	for _, tenant := range s.tenants {
		if filters.Status != nil && tenant.Status != *filters.Status {
			continue
		}
		if filters.IsProvisioned != nil && tenant.IsProvisioned != *filters.IsProvisioned {
			continue
		}
		if filters.PlanID != nil && (tenant.PlanID == nil || *tenant.PlanID != *filters.PlanID) {
			continue
		}
		all = append(all, copyTenant(tenant))
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func copyTenantModule(tm *models.TenantModule) *models.TenantModule {
	c := *tm
	if tm.Module != nil {
		m := *tm.Module
		c.Module = &m
	}
	return &c
}

// CreateTenantModule creates an association, unique per (tenant, module)
func (s *MemoryStore) CreateTenantModule(ctx context.Context, tm *models.TenantModule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byModule, ok := s.tenantModules[tm.TenantID]
	if !ok {
		byModule = make(map[uuid.UUID]*models.TenantModule)
		s.tenantModules[tm.TenantID] = byModule
	}
	if _, exists := byModule[tm.ModuleID]; exists {
		return ErrDuplicateKey
	}

	now := time.Now()
	tm.CreatedAt = now
	tm.UpdatedAt = now
	byModule[tm.ModuleID] = copyTenantModule(tm)
	return nil
}

// GetTenantModule gets an association by composite key with module joined
func (s *MemoryStore) GetTenantModule(ctx context.Context, tenantID, moduleID uuid.UUID) (*models.TenantModule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tm, ok := s.tenantModules[tenantID][moduleID]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyTenantModule(tm)
	if module, ok := s.modules[moduleID]; ok {
		m := *module
		out.Module = &m
	}
	return out, nil
}

// UpdateTenantModule updates an association
func (s *MemoryStore) UpdateTenantModule(ctx context.Context, tm *models.TenantModule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byModule, ok := s.tenantModules[tm.TenantID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := byModule[tm.ModuleID]; !ok {
		return ErrNotFound
	}
	tm.UpdatedAt = time.Now()
	byModule[tm.ModuleID] = copyTenantModule(tm)
	return nil
}

// ListTenantModules lists a tenant's associations ordered by module code
func (s *MemoryStore) ListTenantModules(ctx context.Context, tenantID uuid.UUID) ([]*models.TenantModule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.TenantModule
	for moduleID, tm := range s.tenantModules[tenantID] {
		out := copyTenantModule(tm)
		if module, ok := s.modules[moduleID]; ok {
			m := *module
			out.Module = &m
		}
		result = append(result, out)
	}

	sort.Slice(result, func(i, j int) bool {
		var ci, cj string
		if result[i].Module != nil {
			ci = result[i].Module.Code
		}
		if result[j].Module != nil {
			cj = result[j].Module.Code
		}
		return ci < cj
	})

	return result, nil
}

// CreateModule creates a module, enforcing code uniqueness
func (s *MemoryStore) CreateModule(ctx context.Context, module *models.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.modules {
		if existing.Code == module.Code {
			return ErrDuplicateKey
		}
	}

	if module.ID == uuid.Nil {
		module.ID = uuid.New()
	}
	now := time.Now()
	module.CreatedAt = now
	module.UpdatedAt = now

	m := *module
	s.modules[module.ID] = &m
	return nil
}

// GetModule gets a module by ID
func (s *MemoryStore) GetModule(ctx context.Context, id uuid.UUID) (*models.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	module, ok := s.modules[id]
	if !ok {
		return nil, ErrNotFound
	}
	m := *module
	return &m, nil
}

// GetModuleByCode gets a module by code
func (s *MemoryStore) GetModuleByCode(ctx context.Context, code string) (*models.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, module := range s.modules {
		if module.Code == code {
			m := *module
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateModule updates a module
func (s *MemoryStore) UpdateModule(ctx context.Context, module *models.Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[module.ID]; !ok {
		return ErrNotFound
	}
	module.UpdatedAt = time.Now()
	m := *module
	s.modules[module.ID] = &m
	return nil
}

// DeleteModule deletes a module
func (s *MemoryStore) DeleteModule(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[id]; !ok {
		return ErrNotFound
	}
	delete(s.modules, id)
	return nil
}

// ListModules lists modules ordered by code
func (s *MemoryStore) ListModules(ctx context.Context, limit, offset int) ([]*models.Module, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.Module
	for _, module := range s.modules {
		m := *module
		all = append(all, &m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Code < all[j].Code })

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

// ListCoreModules lists core modules ordered by code
func (s *MemoryStore) ListCoreModules(ctx context.Context) ([]*models.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var core []*models.Module
	for _, module := range s.modules {
		if module.IsCore {
			m := *module
			core = append(core, &m)
		}
	}
	sort.Slice(core, func(i, j int) bool { return core[i].Code < core[j].Code })
	return core, nil
}

// CreatePlan creates a plan, enforcing code uniqueness
func (s *MemoryStore) CreatePlan(ctx context.Context, plan *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.plans {
		if existing.Code == plan.Code {
			return ErrDuplicateKey
		}
	}

	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	now := time.Now()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	p := *plan
	p.ModuleIDs = append([]uuid.UUID(nil), plan.ModuleIDs...)
	s.plans[plan.ID] = &p
	return nil
}

// GetPlan gets a plan by ID
func (s *MemoryStore) GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	p := *plan
	p.ModuleIDs = append([]uuid.UUID(nil), plan.ModuleIDs...)
	return &p, nil
}

// UpdatePlan updates a plan
func (s *MemoryStore) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[plan.ID]; !ok {
		return ErrNotFound
	}
	plan.UpdatedAt = time.Now()
	p := *plan
	p.ModuleIDs = append([]uuid.UUID(nil), plan.ModuleIDs...)
	s.plans[plan.ID] = &p
	return nil
}

// DeletePlan deletes a plan
func (s *MemoryStore) DeletePlan(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[id]; !ok {
		return ErrNotFound
	}
	delete(s.plans, id)
	return nil
}

// ListPlans lists plans ordered by code
func (s *MemoryStore) ListPlans(ctx context.Context, limit, offset int) ([]*models.Plan, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.Plan
	for _, plan := range s.plans {
		p := *plan
		p.ModuleIDs = append([]uuid.UUID(nil), plan.ModuleIDs...)
		all = append(all, &p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Code < all[j].Code })

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

// CreateAdminUser creates an operator account, enforcing email uniqueness
func (s *MemoryStore) CreateAdminUser(ctx context.Context, user *models.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.adminUsers {
		if existing.Email == user.Email {
			return ErrDuplicateKey
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	u := *user
	s.adminUsers[user.ID] = &u
	return nil
}

// GetAdminUserByEmail gets an operator account by email
func (s *MemoryStore) GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.adminUsers {
		if user.Email == email {
			u := *user
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateAdminUser updates an operator account
func (s *MemoryStore) UpdateAdminUser(ctx context.Context, user *models.AdminUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.adminUsers[user.ID]; !ok {
		return ErrNotFound
	}
	user.UpdatedAt = time.Now()
	u := *user
	s.adminUsers[user.ID] = &u
	return nil
}

// CreateEventLog records an event
func (s *MemoryStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	e := *event
	s.events = append(s.events, &e)
	return nil
}

// ListEventLogs lists events matching the filters, newest first
func (s *MemoryStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*models.EventLog
	for _, event := range s.events {
		if filters.TenantID != nil && (event.TenantID == nil || *event.TenantID != *filters.TenantID) {
			continue
		}
		if filters.Type != nil && event.Type != *filters.Type {
			continue
		}
		if filters.Level != nil && event.Level != *filters.Level {
			continue
		}
		if filters.StartTime != nil && event.CreatedAt.Before(*filters.StartTime) {
			continue
		}
		if filters.EndTime != nil && event.CreatedAt.After(*filters.EndTime) {
			continue
		}
		e := *event
		all = append(all, &e)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}
