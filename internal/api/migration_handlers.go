package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ========== Migration handlers ==========

// HandleApplyMigrations runs the standard chain and all enabled module
// migrations against the tenant database
func (s *RESTServer) HandleApplyMigrations(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	report, err := s.migrator.ApplyAll(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// HandleApplyPendingMigrations runs migrations only for enabled modules
// that were never migrated
func (s *RESTServer) HandleApplyPendingMigrations(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	report, err := s.migrator.ApplyPending(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// HandleApplyModuleMigrations runs migrations for a single module
func (s *RESTServer) HandleApplyModuleMigrations(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	report, err := s.migrator.ApplyModule(r.Context(), id, chi.URLParam(r, "code"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// HandleMigrationStatus reports per-module migration standing
func (s *RESTServer) HandleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseID(w, r)
	if !ok {
		return
	}

	statuses, err := s.migrator.Status(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"modules": statuses})
}
