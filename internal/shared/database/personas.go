package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

// GetActivePersona retrieves an active persona within an organization.
// Personas are managed outside this service; the proxy only resolves
// them into system-prompt text before forwarding.
func (db *DB) GetActivePersona(ctx context.Context, orgID, id uuid.UUID) (*models.Persona, error) {
	query := `
		SELECT id, organization_id, user_id, name, content, is_active, created_at
		FROM personas
		WHERE id = $1 AND organization_id = $2 AND is_active = true
	`

	var p models.Persona
	err := db.conn.QueryRowContext(ctx, query, id, orgID).Scan(
		&p.ID,
		&p.OrganizationID,
		&p.UserID,
		&p.Name,
		&p.Content,
		&p.IsActive,
		&p.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &p, nil
}
