package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/erp-backoffice/backoffice-server/internal/models"
)

// CreateAdminUser creates a backoffice operator account
func (s *PostgresStore) CreateAdminUser(ctx context.Context, user *models.AdminUser) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
        INSERT INTO admin_users (
            id, created_at, updated_at, email, name, password_hash, is_active, last_login_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		user.ID, user.CreatedAt, user.UpdatedAt, user.Email, user.Name,
		user.PasswordHash, user.IsActive, user.LastLoginAt,
	)

	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetAdminUserByEmail gets an operator account by email
func (s *PostgresStore) GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error) {
	query := `
        SELECT id, created_at, updated_at, email, name, password_hash, is_active, last_login_at
        FROM admin_users
        WHERE email = $1`

	user := &models.AdminUser{}
	err := s.getDB().QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.Email, &user.Name,
		&user.PasswordHash, &user.IsActive, &user.LastLoginAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return user, err
}

// UpdateAdminUser updates an operator account
func (s *PostgresStore) UpdateAdminUser(ctx context.Context, user *models.AdminUser) error {
	user.UpdatedAt = time.Now()

	query := `
        UPDATE admin_users SET
            updated_at = $2, email = $3, name = $4, password_hash = $5,
            is_active = $6, last_login_at = $7
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		user.ID, user.UpdatedAt, user.Email, user.Name, user.PasswordHash,
		user.IsActive, user.LastLoginAt,
	)

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
