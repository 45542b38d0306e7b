package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

// EnsureUser returns the user for (organization, external id), creating
// it if absent. The insert races safely under concurrent first requests:
// ON CONFLICT DO NOTHING followed by a reselect always yields the one
// surviving row.
func (db *DB) EnsureUser(ctx context.Context, orgID uuid.UUID, externalID string) (*models.User, error) {
	insert := `
		INSERT INTO users (id, organization_id, external_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, external_id) DO NOTHING
	`

	if _, err := db.conn.ExecContext(ctx, insert, uuid.New(), orgID, externalID); err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return db.GetUserByExternalID(ctx, orgID, externalID)
}

// GetUserByExternalID retrieves a user by its caller-supplied identifier
func (db *DB) GetUserByExternalID(ctx context.Context, orgID uuid.UUID, externalID string) (*models.User, error) {
	query := `
		SELECT id, organization_id, external_id, created_at
		FROM users
		WHERE organization_id = $1 AND external_id = $2
	`

	var user models.User
	err := db.conn.QueryRowContext(ctx, query, orgID, externalID).Scan(
		&user.ID,
		&user.OrganizationID,
		&user.ExternalID,
		&user.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &user, nil
}

// ListUsers returns all users in an organization, newest first
func (db *DB) ListUsers(ctx context.Context, orgID uuid.UUID) ([]models.User, error) {
	query := `
		SELECT id, organization_id, external_id, created_at
		FROM users
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`

	rows, err := db.conn.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.OrganizationID, &user.ExternalID, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}
