package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/erp-backoffice/backoffice-server/internal/config"
	"github.com/erp-backoffice/backoffice-server/internal/models"
	"github.com/erp-backoffice/backoffice-server/pkg/crypto"
)

const issuer = "backoffice-server"

// JWTManager manages JWT tokens
type JWTManager struct {
	config *config.JWTConfig
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(cfg *config.JWTConfig) *JWTManager {
	return &JWTManager{
		config: cfg,
	}
}

// Claims represents operator JWT claims
type Claims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
}

// TenantClaims represents tenant-scoped service token claims. The token is
// issued to tenant-facing services and authorizes connection resolution
// for one tenant and one module.
type TenantClaims struct {
	jwt.RegisteredClaims
	TenantID   uuid.UUID `json:"tenant_id"`
	TenantCode string    `json:"tenant_code"`
	ModuleCode string    `json:"module_code,omitempty"`
}

// GenerateToken generates an operator access token
func (m *JWTManager) GenerateToken(user *models.AdminUser) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.config.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
		},
		UserID: user.ID,
		Email:  user.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// GenerateTenantToken generates a tenant-scoped service token
func (m *JWTManager) GenerateTenantToken(tenant *models.Tenant, moduleCode string) (string, error) {
	claims := TenantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenant.ID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.config.TenantTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
			ID:        uuid.New().String(),
		},
		TenantID:   tenant.ID,
		TenantCode: tenant.Code,
		ModuleCode: moduleCode,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", fmt.Errorf("sign tenant token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates an operator token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, m.keyFunc)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// ValidateTenantToken validates a tenant-scoped service token
func (m *JWTManager) ValidateTenantToken(tokenString string) (*TenantClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TenantClaims{}, m.keyFunc)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*TenantClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid tenant token")
	}
	return claims, nil
}

func (m *JWTManager) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return []byte(m.config.Secret), nil
}

// VerifyPassword verifies a password against a hash
func (m *JWTManager) VerifyPassword(password, hash string) bool {
	return crypto.VerifyPassword(password, hash)
}
