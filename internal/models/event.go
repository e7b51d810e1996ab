package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents an operational event type
type EventType string

const (
	EventTypeProvision   EventType = "provision"
	EventTypeDeprovision EventType = "deprovision"
	EventTypeMigration   EventType = "migration"
	EventTypeTenant      EventType = "tenant"
	EventTypeModule      EventType = "module"
)

// EventLevel represents event severity
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// EventLog records an operational event against a tenant for operator
// auditing
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	TenantID *uuid.UUID `json:"tenantId,omitempty" db:"tenant_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Description string     `json:"description" db:"description"`
	Details     Variables  `json:"details,omitempty" db:"details"`
}
