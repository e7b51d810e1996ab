package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan represents a subscription plan bundling a set of modules
type Plan struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	Code        string  `json:"code" db:"code"`
	Name        string  `json:"name" db:"name"`
	Description string  `json:"description" db:"description"`
	Price       float64 `json:"price" db:"price"`
	IsActive    bool    `json:"isActive" db:"is_active"`

	// ModuleIDs holds the plan's module set when loaded
	ModuleIDs []uuid.UUID `json:"moduleIds,omitempty" db:"-"`
}
