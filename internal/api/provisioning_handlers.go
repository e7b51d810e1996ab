package api

import (
	"encoding/json"
	"net/http"

	"github.com/erp-backoffice/backoffice-server/internal/auth"
	"github.com/erp-backoffice/backoffice-server/internal/tenantdb"
)

// ========== Database lifecycle handlers ==========

// HandleProvisionTenant creates the tenant's dedicated database
func (s *RESTServer) HandleProvisionTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	result, err := s.provisioner.Provision(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

// HandleDeprovisionTenant drops the tenant's database and role
func (s *RESTServer) HandleDeprovisionTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	result, err := s.provisioner.Deprovision(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// HandleRepairTenant re-runs provisioning steps for an existing tenant
func (s *RESTServer) HandleRepairTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	result, err := s.provisioner.Repair(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// HandleTenantHealth pings the tenant database with its own credentials
func (s *RESTServer) HandleTenantHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	result, err := s.provisioner.CheckHealth(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// HandleGetConnection resolves tenant connection info for an operator.
// With a module query parameter the resolution is module-scoped.
func (s *RESTServer) HandleGetConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	moduleCode := r.URL.Query().Get("module")

	conn, err := s.resolveConnection(r, id.String(), moduleCode)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, conn)
}

// HandleIssueTenantToken issues a tenant-scoped service token
func (s *RESTServer) HandleIssueTenantToken(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	tenant, err := s.store.GetTenant(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	var req struct {
		Module string `json:"module"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	token, err := s.auth.GenerateTenantToken(tenant, req.Module)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"expires_in":   int(s.config.JWT.TenantTokenTTL.Seconds()),
		"token_type":   "Bearer",
	})
}

// HandleResolveConnection resolves connection info for a tenant-scoped
// service token. The token fixes the tenant; the module scope comes from
// the token when present, otherwise from the query.
func (s *RESTServer) HandleResolveConnection(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(tenantClaimsKey).(*auth.TenantClaims)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "missing claims")
		return
	}

	moduleCode := claims.ModuleCode
	if moduleCode == "" {
		moduleCode = r.URL.Query().Get("module")
	}

	conn, err := s.resolveConnection(r, claims.TenantID.String(), moduleCode)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"host":         conn.Host,
		"port":         conn.Port,
		"databaseName": conn.DatabaseName,
		"user":         conn.User,
		"password":     conn.Password,
		"dsn":          conn.DSN,
	})
}

// HandleGenerateProject scaffolds the tenant's frontend project folder
func (s *RESTServer) HandleGenerateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	tenant, err := s.store.GetTenant(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	path, err := s.generator.Generate(tenant)
	if err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *RESTServer) resolveConnection(r *http.Request, tenantRef, moduleCode string) (*tenantdb.Connection, error) {
	if moduleCode != "" {
		return s.resolver.ResolveForModule(r.Context(), tenantRef, moduleCode)
	}
	return s.resolver.Resolve(r.Context(), tenantRef)
}
