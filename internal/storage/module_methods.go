package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erp-backoffice/backoffice-server/internal/models"
)

const moduleColumns = `id, created_at, updated_at, code, name, description,
       is_core, is_custom, module_path, migrations_path, version`

// CreateModule creates a new module
func (s *PostgresStore) CreateModule(ctx context.Context, module *models.Module) error {
	if module.ID == uuid.Nil {
		module.ID = uuid.New()
	}

	now := time.Now()
	module.CreatedAt = now
	module.UpdatedAt = now

	query := `
        INSERT INTO modules (
            id, created_at, updated_at, code, name, description,
            is_core, is_custom, module_path, migrations_path, version
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.getDB().ExecContext(ctx, query,
		module.ID, module.CreatedAt, module.UpdatedAt, module.Code, module.Name,
		module.Description, module.IsCore, module.IsCustom, module.ModulePath,
		module.MigrationsPath, module.Version,
	)

	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

func scanModule(row *sql.Row) (*models.Module, error) {
	module := &models.Module{}
	err := row.Scan(
		&module.ID, &module.CreatedAt, &module.UpdatedAt, &module.Code,
		&module.Name, &module.Description, &module.IsCore, &module.IsCustom,
		&module.ModulePath, &module.MigrationsPath, &module.Version,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return module, err
}

// GetModule gets a module by ID
func (s *PostgresStore) GetModule(ctx context.Context, id uuid.UUID) (*models.Module, error) {
	query := `SELECT ` + moduleColumns + ` FROM modules WHERE id = $1`
	return scanModule(s.getDB().QueryRowContext(ctx, query, id))
}

// GetModuleByCode gets a module by code
func (s *PostgresStore) GetModuleByCode(ctx context.Context, code string) (*models.Module, error) {
	query := `SELECT ` + moduleColumns + ` FROM modules WHERE code = $1`
	return scanModule(s.getDB().QueryRowContext(ctx, query, code))
}

// UpdateModule updates a module
func (s *PostgresStore) UpdateModule(ctx context.Context, module *models.Module) error {
	module.UpdatedAt = time.Now()

	query := `
        UPDATE modules SET
            updated_at = $2, code = $3, name = $4, description = $5,
            is_core = $6, is_custom = $7, module_path = $8,
            migrations_path = $9, version = $10
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		module.ID, module.UpdatedAt, module.Code, module.Name, module.Description,
		module.IsCore, module.IsCustom, module.ModulePath, module.MigrationsPath,
		module.Version,
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

	return nil
}

// DeleteModule deletes a module
func (s *PostgresStore) DeleteModule(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM modules WHERE id = $1", id)
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

// ListModules lists modules
func (s *PostgresStore) ListModules(ctx context.Context, limit, offset int) ([]*models.Module, int64, error) {
	var count int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM modules`).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + moduleColumns + ` FROM modules` +
		fmt.Sprintf(` ORDER BY code LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	modules, err := collectModules(rows)
	if err != nil {
		return nil, 0, err
	}

	return modules, count, nil
}

// ListCoreModules lists all core modules
func (s *PostgresStore) ListCoreModules(ctx context.Context) ([]*models.Module, error) {
	query := `SELECT ` + moduleColumns + ` FROM modules WHERE is_core = true ORDER BY code`

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectModules(rows)
}

func collectModules(rows *sql.Rows) ([]*models.Module, error) {
	var modules []*models.Module
	for rows.Next() {
		module := &models.Module{}
		err := rows.Scan(
			&module.ID, &module.CreatedAt, &module.UpdatedAt, &module.Code,
			&module.Name, &module.Description, &module.IsCore, &module.IsCustom,
			&module.ModulePath, &module.MigrationsPath, &module.Version,
		)
		if err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	return modules, rows.Err()
}
