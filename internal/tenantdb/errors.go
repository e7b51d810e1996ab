package tenantdb

import "errors"

// Error kinds surfaced by the provisioning and migration services. The API
// layer maps these onto HTTP statuses; everything else is an
// external-operation failure wrapped with context.
var (
	// ErrValidation marks requests rejected before any side effect
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks requests rejected because of existing state,
	// such as provisioning an already-provisioned tenant
	ErrConflict = errors.New("conflict")

	// ErrNotProvisioned marks operations requiring a provisioned tenant
	ErrNotProvisioned = errors.New("tenant not provisioned")

	// ErrForbidden marks module-scoped access that is denied even though
	// the tenant and module exist
	ErrForbidden = errors.New("forbidden")
)
