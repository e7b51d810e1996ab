package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erp-backoffice/backoffice-server/internal/models"
)

// CreateEventLog records an operational event
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO event_logs (id, created_at, tenant_id, type, level, description, details)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.TenantID, event.Type, event.Level,
		event.Description, event.Details,
	)

	return err
}

// ListEventLogs lists events matching the given filters
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	var args []interface{}
	where := ""

	addCond := func(cond string, value interface{}) {
		args = append(args, value)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, len(args))
	}

	if filters.TenantID != nil {
		addCond("tenant_id = $%d", *filters.TenantID)
	}
	if filters.Type != nil {
		addCond("type = $%d", *filters.Type)
	}
	if filters.Level != nil {
		addCond("level = $%d", *filters.Level)
	}
	if filters.StartTime != nil {
		addCond("created_at >= $%d", *filters.StartTime)
	}
	if filters.EndTime != nil {
		addCond("created_at <= $%d", *filters.EndTime)
	}

	var count int64
	err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM event_logs`+where, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT id, created_at, tenant_id, type, level, description, details FROM event_logs` +
		where + fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		event := &models.EventLog{}
		err := rows.Scan(
			&event.ID, &event.CreatedAt, &event.TenantID, &event.Type,
			&event.Level, &event.Description, &event.Details,
		)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, count, rows.Err()
}
