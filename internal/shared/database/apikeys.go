package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

const apiKeyColumns = `
	id, organization_id, user_id, synthetic_key, encrypted_key,
	is_active, name, description, created_at, updated_at`

func scanAPIKey(row interface{ Scan(...any) error }) (*models.APIKey, error) {
	var key models.APIKey
	err := row.Scan(
		&key.ID,
		&key.OrganizationID,
		&key.UserID,
		&key.SyntheticKey,
		&key.EncryptedKey,
		&key.IsActive,
		&key.Name,
		&key.Description,
		&key.CreatedAt,
		&key.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ActiveUserKeys returns active keys scoped to (organization, user),
// newest first. Deactivated keys are never returned, so a deactivation
// takes effect on the next resolution after the write commits.
func (db *DB) ActiveUserKeys(ctx context.Context, orgID, userID uuid.UUID) ([]models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE organization_id = $1 AND user_id = $2 AND is_active = true
		ORDER BY created_at DESC, id DESC
	`
	return db.queryAPIKeys(ctx, query, orgID, userID)
}

// ActiveOrgWideKeys returns active organization-wide keys (no user
// restriction), newest first.
func (db *DB) ActiveOrgWideKeys(ctx context.Context, orgID uuid.UUID) ([]models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE organization_id = $1 AND user_id IS NULL AND is_active = true
		ORDER BY created_at DESC, id DESC
	`
	return db.queryAPIKeys(ctx, query, orgID)
}

func (db *DB) queryAPIKeys(ctx context.Context, query string, args ...any) ([]models.APIKey, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		keys = append(keys, *key)
	}

	return keys, rows.Err()
}

// GetAPIKey retrieves a key by internal id within an organization
func (db *DB) GetAPIKey(ctx context.Context, orgID, id uuid.UUID) (*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE id = $1 AND organization_id = $2
	`

	key, err := scanAPIKey(db.conn.QueryRowContext(ctx, query, id, orgID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns keys for an organization, optionally filtered to a
// user and optionally including deactivated keys. Secrets stay encrypted.
func (db *DB) ListAPIKeys(ctx context.Context, orgID uuid.UUID, userID *uuid.UUID, includeInactive bool) ([]models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE organization_id = $1
		  AND ($2::uuid IS NULL OR user_id = $2)
		  AND ($3 OR is_active = true)
		ORDER BY created_at DESC, id DESC
	`
	return db.queryAPIKeys(ctx, query, orgID, userID, includeInactive)
}

// CreateAPIKey inserts a new key record. The caller supplies the
// already-encrypted secret and the synthetic reference.
func (db *DB) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (
			id, organization_id, user_id, synthetic_key, encrypted_key,
			is_active, name, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := db.conn.QueryRowContext(ctx, query,
		key.ID,
		key.OrganizationID,
		key.UserID,
		key.SyntheticKey,
		key.EncryptedKey,
		key.IsActive,
		key.Name,
		key.Description,
	).Scan(&key.CreatedAt, &key.UpdatedAt)

	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// UpdateAPIKey applies partial updates to a key. Nil fields are left
// unchanged. encryptedKey, when non-nil, replaces the stored secret.
func (db *DB) UpdateAPIKey(ctx context.Context, orgID, id uuid.UUID, isActive *bool, name, description, encryptedKey *string) (*models.APIKey, error) {
	query := `
		UPDATE api_keys SET
			is_active     = COALESCE($3, is_active),
			name          = COALESCE($4, name),
			description   = COALESCE($5, description),
			encrypted_key = COALESCE($6, encrypted_key),
			updated_at    = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING ` + apiKeyColumns + `
	`

	key, err := scanAPIKey(db.conn.QueryRowContext(ctx, query, id, orgID, isActive, name, description, encryptedKey))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return key, nil
}
