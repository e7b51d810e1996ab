package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/erp-backoffice/backoffice-server/internal/auth"
	"github.com/erp-backoffice/backoffice-server/internal/models"
	"github.com/erp-backoffice/backoffice-server/internal/storage"
)

// ========== Health ==========

// HandleHealth reports service liveness
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"name":    s.config.Server.Name,
		"version": s.config.Server.Version,
	})
}

// ========== Auth handlers ==========

// HandleLogin handles operator login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetAdminUserByEmail(r.Context(), req.Email)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !s.auth.VerifyPassword(req.Password, user.PasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !user.IsActive {
		s.respondError(w, http.StatusForbidden, "account is disabled")
		return
	}

	token, err := s.auth.GenerateToken(user)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	now := time.Now().UTC()
	user.LastLoginAt = &now
	if err := s.store.UpdateAdminUser(r.Context(), user); err != nil {
		log.Warn().Err(err).Str("email", user.Email).Msg("Failed to record login time")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_in":   int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":   "Bearer",
	})
}

// HandleGetCurrentUser returns the authenticated operator
func (s *RESTServer) HandleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(claimsKey).(*auth.Claims)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	user, err := s.store.GetAdminUserByEmail(r.Context(), claims.Email)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}

// ========== Tenant handlers ==========

// HandleListTenants lists tenants
func (s *RESTServer) HandleListTenants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset := parsePagination(r)

	filters := storage.TenantFilters{}
	if v := r.URL.Query().Get("status"); v != "" {
		status := models.TenantStatus(v)
		if !status.IsValid() {
			s.respondError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filters.Status = &status
	}
	if v := r.URL.Query().Get("provisioned"); v != "" {
		provisioned := v == "true"
		filters.IsProvisioned = &provisioned
	}
	if v := r.URL.Query().Get("plan_id"); v != "" {
		planID, err := uuid.Parse(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid plan_id filter")
			return
		}
		filters.PlanID = &planID
	}

	tenants, total, err := s.store.ListTenants(ctx, filters, limit, offset)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tenants": tenants,
		"total":   total,
	})
}

// HandleCreateTenant creates a tenant and assigns its initial modules:
// the core set unioned with either the plan's modules or an explicit
// module list
func (s *RESTServer) HandleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string   `json:"code"`
		Document  string   `json:"document"`
		Name      string   `json:"name"`
		Status    string   `json:"status"`
		PlanID    string   `json:"planId"`
		ModuleIDs []string `json:"moduleIds"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !models.ValidTenantCode(req.Code) {
		s.respondError(w, http.StatusBadRequest, "code must start with a letter or digit and contain only letters, digits and dashes")
		return
	}

	if req.PlanID != "" && len(req.ModuleIDs) > 0 {
		s.respondError(w, http.StatusBadRequest, "planId and moduleIds are mutually exclusive")
		return
	}

	status := models.TenantStatusPending
	if req.Status != "" {
		status = models.TenantStatus(req.Status)
		if !status.IsValid() {
			s.respondError(w, http.StatusBadRequest, "invalid status")
			return
		}
	}

	tenant := &models.Tenant{
		ID:       uuid.New(),
		Code:     req.Code,
		Document: req.Document,
		Name:     req.Name,
		Status:   status,
	}

	if req.PlanID != "" {
		planID, err := uuid.Parse(req.PlanID)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid planId")
			return
		}
		if _, err := s.store.GetPlan(r.Context(), planID); err != nil {
			s.respondServiceError(w, err)
			return
		}
		tenant.PlanID = &planID
	}

	moduleIDs := make([]uuid.UUID, 0, len(req.ModuleIDs))
	for _, raw := range req.ModuleIDs {
		moduleID, err := uuid.Parse(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid moduleIds entry")
			return
		}
		if _, err := s.store.GetModule(r.Context(), moduleID); err != nil {
			s.respondServiceError(w, err)
			return
		}
		moduleIDs = append(moduleIDs, moduleID)
	}

	if err := s.store.CreateTenant(r.Context(), tenant); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "tenant code or document already in use")
			return
		}
		s.respondServiceError(w, err)
		return
	}

	if err := s.assignInitialModules(r.Context(), tenant, moduleIDs); err != nil {
		log.Error().Err(err).Str("tenant", tenant.Code).Msg("Failed to assign initial modules")
	}

	s.respondJSON(w, http.StatusCreated, tenant)
}

// HandleGetTenant gets a tenant with its module associations
func (s *RESTServer) HandleGetTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	tenant, err := s.store.GetTenant(ctx, id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	modules, err := s.store.ListTenantModules(ctx, tenant.ID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	tenant.Modules = modules

	s.respondJSON(w, http.StatusOK, tenant)
}

// HandleUpdateTenant updates tenant registry fields. Provisioning state
// is owned by the lifecycle endpoints and cannot be edited here.
func (s *RESTServer) HandleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	tenant, err := s.store.GetTenant(ctx, id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	var req struct {
		Document *string `json:"document"`
		Name     *string `json:"name"`
		Status   *string `json:"status"`
		PlanID   *string `json:"planId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Document != nil {
		tenant.Document = *req.Document
	}
	if req.Name != nil {
		tenant.Name = *req.Name
	}
	if req.Status != nil {
		status := models.TenantStatus(*req.Status)
		if !status.IsValid() {
			s.respondError(w, http.StatusBadRequest, "invalid status")
			return
		}
		tenant.Status = status
	}
	if req.PlanID != nil {
		if *req.PlanID == "" {
			tenant.PlanID = nil
		} else {
			planID, err := uuid.Parse(*req.PlanID)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "invalid planId")
				return
			}
			if _, err := s.store.GetPlan(ctx, planID); err != nil {
				s.respondServiceError(w, err)
				return
			}
			tenant.PlanID = &planID
		}
	}

	if err := s.store.UpdateTenant(ctx, tenant); err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, tenant)
}

// HandleDeleteTenant deletes a tenant registry record. A provisioned
// tenant must be deprovisioned first.
func (s *RESTServer) HandleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	tenant, err := s.store.GetTenant(ctx, id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if tenant.IsProvisioned {
		s.respondError(w, http.StatusConflict, "tenant is provisioned, deprovision it first")
		return
	}

	if err := s.store.DeleteTenant(ctx, id); err != nil {
		s.respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ========== Tenant module handlers ==========

// HandleListTenantModules lists a tenant's module associations
func (s *RESTServer) HandleListTenantModules(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	modules, err := s.store.ListTenantModules(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"modules": modules})
}

// HandleEnableModule enables a module for a tenant, creating the
// association on first enablement
func (s *RESTServer) HandleEnableModule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.parseID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetTenant(ctx, id); err != nil {
		s.respondServiceError(w, err)
		return
	}

	module, err := s.store.GetModuleByCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	tm, err := s.store.GetTenantModule(ctx, id, module.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		tm = &models.TenantModule{
			TenantID:  id,
			ModuleID:  module.ID,
			IsEnabled: true,
		}
		if err := s.store.CreateTenantModule(ctx, tm); err != nil {
			s.respondServiceError(w, err)
			return
		}
	case err != nil:
		s.respondServiceError(w, err)
		return
	default:
		tm.IsEnabled = true
		tm.DisabledAt = nil
		if err := s.store.UpdateTenantModule(ctx, tm); err != nil {
			s.respondServiceError(w, err)
			return
		}
	}

	tm.Module = module
	s.respondJSON(w, http.StatusOK, tm)
}

// HandleDisableModule disables a non-core module for a tenant. The
// module's schema stays in place; only access is revoked.
func (s *RESTServer) HandleDisableModule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	module, err := s.store.GetModuleByCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if module.IsCore {
		s.respondError(w, http.StatusBadRequest, "core modules cannot be disabled")
		return
	}

	tm, err := s.store.GetTenantModule(ctx, id, module.ID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	now := time.Now().UTC()
	tm.IsEnabled = false
	tm.DisabledAt = &now
	if err := s.store.UpdateTenantModule(ctx, tm); err != nil {
		s.respondServiceError(w, err)
		return
	}

	tm.Module = module
	s.respondJSON(w, http.StatusOK, tm)
}

// ========== Module handlers ==========

// HandleListModules lists modules
func (s *RESTServer) HandleListModules(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	modules, total, err := s.store.ListModules(r.Context(), limit, offset)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"modules": modules,
		"total":   total,
	})
}

// HandleCreateModule creates a module
func (s *RESTServer) HandleCreateModule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code           string `json:"code"`
		Name           string `json:"name"`
		Description    string `json:"description"`
		IsCore         bool   `json:"isCore"`
		IsCustom       bool   `json:"isCustom"`
		ModulePath     string `json:"modulePath"`
		MigrationsPath string `json:"migrationsPath"`
		Version        string `json:"version"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "code and name are required")
		return
	}
	if req.IsCustom && req.ModulePath == "" {
		s.respondError(w, http.StatusBadRequest, "custom modules require modulePath")
		return
	}

	module := &models.Module{
		ID:             uuid.New(),
		Code:           req.Code,
		Name:           req.Name,
		Description:    req.Description,
		IsCore:         req.IsCore,
		IsCustom:       req.IsCustom,
		ModulePath:     req.ModulePath,
		MigrationsPath: req.MigrationsPath,
		Version:        req.Version,
	}

	if err := s.store.CreateModule(r.Context(), module); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "module code already in use")
			return
		}
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, module)
}

// HandleGetModule gets a module
func (s *RESTServer) HandleGetModule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	module, err := s.store.GetModule(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, module)
}

// HandleUpdateModule updates a module
func (s *RESTServer) HandleUpdateModule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	module, err := s.store.GetModule(ctx, id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	var req struct {
		Name           *string `json:"name"`
		Description    *string `json:"description"`
		ModulePath     *string `json:"modulePath"`
		MigrationsPath *string `json:"migrationsPath"`
		Version        *string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		module.Name = *req.Name
	}
	if req.Description != nil {
		module.Description = *req.Description
	}
	if req.ModulePath != nil {
		module.ModulePath = *req.ModulePath
	}
	if req.MigrationsPath != nil {
		module.MigrationsPath = *req.MigrationsPath
	}
	if req.Version != nil {
		module.Version = *req.Version
	}

	if err := s.store.UpdateModule(ctx, module); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, module)
}

// HandleDeleteModule deletes a module
func (s *RESTServer) HandleDeleteModule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteModule(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ========== Plan handlers ==========

// HandleListPlans lists plans
func (s *RESTServer) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	plans, total, err := s.store.ListPlans(r.Context(), limit, offset)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"plans": plans,
		"total": total,
	})
}

// HandleCreatePlan creates a plan
func (s *RESTServer) HandleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code        string   `json:"code"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Price       float64  `json:"price"`
		ModuleIDs   []string `json:"moduleIds"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "code and name are required")
		return
	}

	moduleIDs, err := parseUUIDs(req.ModuleIDs)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid module id")
		return
	}

	plan := &models.Plan{
		ID:          uuid.New(),
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		IsActive:    true,
		ModuleIDs:   moduleIDs,
	}

	if err := s.store.CreatePlan(r.Context(), plan); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "plan code already in use")
			return
		}
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, plan)
}

// HandleGetPlan gets a plan
func (s *RESTServer) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	plan, err := s.store.GetPlan(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, plan)
}

// HandleUpdatePlan updates a plan
func (s *RESTServer) HandleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	plan, err := s.store.GetPlan(ctx, id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	var req struct {
		Name        *string   `json:"name"`
		Description *string   `json:"description"`
		Price       *float64  `json:"price"`
		IsActive    *bool     `json:"isActive"`
		ModuleIDs   *[]string `json:"moduleIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		plan.Name = *req.Name
	}
	if req.Description != nil {
		plan.Description = *req.Description
	}
	if req.Price != nil {
		plan.Price = *req.Price
	}
	if req.IsActive != nil {
		plan.IsActive = *req.IsActive
	}
	if req.ModuleIDs != nil {
		moduleIDs, err := parseUUIDs(*req.ModuleIDs)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid module id")
			return
		}
		plan.ModuleIDs = moduleIDs
	}

	if err := s.store.UpdatePlan(ctx, plan); err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, plan)
}

// HandleDeletePlan deletes a plan
func (s *RESTServer) HandleDeletePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeletePlan(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ========== Event log handlers ==========

// HandleListEvents lists operational events
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	filters := storage.EventLogFilters{}
	if v := r.URL.Query().Get("tenant_id"); v != "" {
		tenantID, err := uuid.Parse(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid tenant_id filter")
			return
		}
		filters.TenantID = &tenantID
	}
	if v := r.URL.Query().Get("type"); v != "" {
		eventType := models.EventType(v)
		filters.Type = &eventType
	}
	if v := r.URL.Query().Get("level"); v != "" {
		level := models.EventLevel(v)
		filters.Level = &level
	}

	events, total, err := s.store.ListEventLogs(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// ========== Helpers ==========

// assignInitialModules creates enabled associations for core modules
// unioned with the tenant's plan modules or an explicit module list
func (s *RESTServer) assignInitialModules(ctx context.Context, tenant *models.Tenant, moduleIDs []uuid.UUID) error {
	wanted := make(map[uuid.UUID]bool)

	core, err := s.store.ListCoreModules(ctx)
	if err != nil {
		return err
	}
	for _, module := range core {
		wanted[module.ID] = true
	}
	for _, moduleID := range moduleIDs {
		wanted[moduleID] = true
	}

	if tenant.PlanID != nil {
		plan, err := s.store.GetPlan(ctx, *tenant.PlanID)
		if err != nil {
			return err
		}
		for _, moduleID := range plan.ModuleIDs {
			wanted[moduleID] = true
		}
	}

	for moduleID := range wanted {
		tm := &models.TenantModule{
			TenantID:  tenant.ID,
			ModuleID:  moduleID,
			IsEnabled: true,
		}
		if err := s.store.CreateTenantModule(ctx, tm); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return err
		}
	}
	return nil
}

func (s *RESTServer) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func parsePagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(values))
	for _, value := range values {
		id, err := uuid.Parse(value)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
