package models

import (
	"time"

	"github.com/google/uuid"
)

// AdminUser represents a backoffice operator account
type AdminUser struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	Email string `json:"email" db:"email"`
	Name  string `json:"name" db:"name"`

	PasswordHash string `json:"-" db:"password_hash"`

	IsActive bool `json:"isActive" db:"is_active"`

	LastLoginAt *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`
}
