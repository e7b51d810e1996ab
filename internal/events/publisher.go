package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/erp-backoffice/backoffice-server/internal/config"
)

// Subjects for tenant lifecycle events. Downstream systems subscribe to
// tenant.*.provisioned and friends.
const (
	subjectProvisioned   = "tenant.%s.provisioned"
	subjectDeprovisioned = "tenant.%s.deprovisioned"
	subjectMigrated      = "tenant.%s.migrated"
)

// LifecycleEvent is the payload published on tenant lifecycle subjects
type LifecycleEvent struct {
	TenantID   uuid.UUID `json:"tenantId"`
	TenantCode string    `json:"tenantCode"`
	Timestamp  time.Time `json:"timestamp"`

	// Detail carries event-specific fields such as the database name on
	// provisioning or the migration report summary
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// Publisher publishes tenant lifecycle events over NATS. A nil Publisher
// or one created without a NATS URL is a no-op, so the server runs
// standalone when messaging is not configured.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS if configured. Returns a no-op publisher
// when cfg.URL is empty.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	if cfg.URL == "" {
		log.Info().Msg("NATS not configured, lifecycle events disabled")
		return &Publisher{}, nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectInterval),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().Str("url", cfg.URL).Msg("Connected to NATS")
	return &Publisher{conn: conn}, nil
}

// TenantProvisioned publishes a provisioning event
func (p *Publisher) TenantProvisioned(tenantID uuid.UUID, code string, detail map[string]interface{}) {
	p.publish(fmt.Sprintf(subjectProvisioned, code), tenantID, code, detail)
}

// TenantDeprovisioned publishes a deprovisioning event
func (p *Publisher) TenantDeprovisioned(tenantID uuid.UUID, code string, detail map[string]interface{}) {
	p.publish(fmt.Sprintf(subjectDeprovisioned, code), tenantID, code, detail)
}

// TenantMigrated publishes a migration event
func (p *Publisher) TenantMigrated(tenantID uuid.UUID, code string, detail map[string]interface{}) {
	p.publish(fmt.Sprintf(subjectMigrated, code), tenantID, code, detail)
}

func (p *Publisher) publish(subject string, tenantID uuid.UUID, code string, detail map[string]interface{}) {
	if p == nil || p.conn == nil {
		return
	}

	event := LifecycleEvent{
		TenantID:   tenantID,
		TenantCode: code,
		Timestamp:  time.Now().UTC(),
		Detail:     detail,
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal lifecycle event")
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish lifecycle event")
	}
}

// Close drains the NATS connection
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
