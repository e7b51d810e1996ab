package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erp-backoffice/backoffice-server/internal/models"
)

const planColumns = `id, created_at, updated_at, code, name, description, price, is_active`

// CreatePlan creates a new plan with its module set
func (s *PostgresStore) CreatePlan(ctx context.Context, plan *models.Plan) error {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}

	now := time.Now()
	plan.CreatedAt = now
	plan.UpdatedAt = now

	query := `
        INSERT INTO plans (
            id, created_at, updated_at, code, name, description, price, is_active
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		plan.ID, plan.CreatedAt, plan.UpdatedAt, plan.Code, plan.Name,
		plan.Description, plan.Price, plan.IsActive,
	)

	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateKey
		}
		return err
	}

	return s.replacePlanModules(ctx, plan.ID, plan.ModuleIDs)
}

func (s *PostgresStore) replacePlanModules(ctx context.Context, planID uuid.UUID, moduleIDs []uuid.UUID) error {
	if _, err := s.getDB().ExecContext(ctx, "DELETE FROM plan_modules WHERE plan_id = $1", planID); err != nil {
		return err
	}

	for _, moduleID := range moduleIDs {
		_, err := s.getDB().ExecContext(ctx,
			"INSERT INTO plan_modules (plan_id, module_id) VALUES ($1, $2)",
			planID, moduleID,
		)
		if err != nil {
			if isDuplicate(err) {
				continue
			}
			return err
		}
	}

	return nil
}

func (s *PostgresStore) loadPlanModules(ctx context.Context, planID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.getDB().QueryContext(ctx,
		"SELECT module_id FROM plan_modules WHERE plan_id = $1", planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetPlan gets a plan by ID, including its module set
func (s *PostgresStore) GetPlan(ctx context.Context, id uuid.UUID) (*models.Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = $1`

	plan := &models.Plan{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&plan.ID, &plan.CreatedAt, &plan.UpdatedAt, &plan.Code, &plan.Name,
		&plan.Description, &plan.Price, &plan.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	plan.ModuleIDs, err = s.loadPlanModules(ctx, plan.ID)
	return plan, err
}

// UpdatePlan updates a plan and replaces its module set
func (s *PostgresStore) UpdatePlan(ctx context.Context, plan *models.Plan) error {
	plan.UpdatedAt = time.Now()

	query := `
        UPDATE plans SET
            updated_at = $2, code = $3, name = $4, description = $5,
            price = $6, is_active = $7
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		plan.ID, plan.UpdatedAt, plan.Code, plan.Name, plan.Description,
		plan.Price, plan.IsActive,
	)

	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateKey
		}
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return s.replacePlanModules(ctx, plan.ID, plan.ModuleIDs)
}

// DeletePlan deletes a plan and its module set
func (s *PostgresStore) DeletePlan(ctx context.Context, id uuid.UUID) error {
	if _, err := s.getDB().ExecContext(ctx, "DELETE FROM plan_modules WHERE plan_id = $1", id); err != nil {
		return err
	}

	result, err := s.getDB().ExecContext(ctx, "DELETE FROM plans WHERE id = $1", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListPlans lists plans
func (s *PostgresStore) ListPlans(ctx context.Context, limit, offset int) ([]*models.Plan, int64, error) {
	var count int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM plans`).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + planColumns + ` FROM plans` +
		fmt.Sprintf(` ORDER BY code LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var plans []*models.Plan
	for rows.Next() {
		plan := &models.Plan{}
		err := rows.Scan(
			&plan.ID, &plan.CreatedAt, &plan.UpdatedAt, &plan.Code, &plan.Name,
			&plan.Description, &plan.Price, &plan.IsActive,
		)
		if err != nil {
			return nil, 0, err
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for _, plan := range plans {
		plan.ModuleIDs, err = s.loadPlanModules(ctx, plan.ID)
		if err != nil {
			return nil, 0, err
		}
	}

	return plans, count, nil
}
