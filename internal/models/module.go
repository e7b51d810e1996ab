package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMigrationsDir is the conventional subfolder holding a custom
// module's schema project when none is configured on the module.
const DefaultMigrationsDir = "schema"

// Module represents an enableable feature unit with its own schema
// and migrations
type Module struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	Code        string `json:"code" db:"code"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`

	// IsCore modules are auto-enabled for every tenant and cannot be
	// disabled. IsCustom modules are backed by an external project folder
	// and require ModulePath.
	IsCore   bool `json:"isCore" db:"is_core"`
	IsCustom bool `json:"isCustom" db:"is_custom"`

	// ModulePath is the folder name of a custom module under the
	// workspace root
	ModulePath string `json:"modulePath,omitempty" db:"module_path"`

	// MigrationsPath is the subfolder holding migration definitions,
	// defaulting to DefaultMigrationsDir when empty
	MigrationsPath string `json:"migrationsPath,omitempty" db:"migrations_path"`

	// Version is a free-form schema version tag
	Version string `json:"version" db:"version"`
}

// MigrationsDir returns the configured migration subfolder or the
// conventional default
func (m *Module) MigrationsDir() string {
	if m.MigrationsPath != "" {
		return m.MigrationsPath
	}
	return DefaultMigrationsDir
}
