package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/erp-backoffice/backoffice-server/internal/auth"
	"github.com/erp-backoffice/backoffice-server/internal/config"
	"github.com/erp-backoffice/backoffice-server/internal/projectgen"
	"github.com/erp-backoffice/backoffice-server/internal/storage"
	"github.com/erp-backoffice/backoffice-server/internal/tenantdb"
)

type contextKey string

const (
	claimsKey       contextKey = "claims"
	tenantClaimsKey contextKey = "tenantClaims"
)

// RESTServer represents the REST API server
type RESTServer struct {
	config      *config.Config
	store       storage.Store
	auth        *auth.JWTManager
	provisioner *tenantdb.Provisioner
	resolver    *tenantdb.Resolver
	migrator    *tenantdb.Migrator
	generator   *projectgen.Generator
	router      chi.Router
	server      *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, store storage.Store, provisioner *tenantdb.Provisioner, resolver *tenantdb.Resolver, migrator *tenantdb.Migrator, generator *projectgen.Generator) *RESTServer {
	s := &RESTServer{
		config:      cfg,
		store:       store,
		auth:        auth.NewJWTManager(&cfg.JWT),
		provisioner: provisioner,
		resolver:    resolver,
		migrator:    migrator,
		generator:   generator,
		router:      chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware authenticates backoffice operators
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.respondError(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantAuthMiddleware authenticates tenant-scoped service tokens
func (s *RESTServer) tenantAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.respondError(w, http.StatusUnauthorized, "missing or invalid authorization header")
			return
		}

		claims, err := s.auth.ValidateTenantToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), tenantClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// respondServiceError maps service and storage error kinds onto HTTP
// statuses
func (s *RESTServer) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenantdb.ErrValidation):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tenantdb.ErrForbidden):
		s.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, tenantdb.ErrConflict), errors.Is(err, tenantdb.ErrNotProvisioned), errors.Is(err, storage.ErrDuplicateKey):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
