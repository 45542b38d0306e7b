package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

const sessionColumns = `
	id, user_id, token, started_at, last_activity_at, request_count, total_tokens`

// GetSessionByToken retrieves a session by its opaque token
func (db *DB) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE token = $1
	`

	var s models.Session
	err := db.conn.QueryRowContext(ctx, query, token).Scan(
		&s.ID,
		&s.UserID,
		&s.Token,
		&s.StartedAt,
		&s.LastActivityAt,
		&s.RequestCount,
		&s.TotalTokens,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &s, nil
}

// CreateSession inserts a new session with a request count of one
func (db *DB) CreateSession(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token, request_count, total_tokens)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING started_at, last_activity_at
	`

	err := db.conn.QueryRowContext(ctx, query,
		s.ID, s.UserID, s.Token, s.RequestCount, s.TotalTokens,
	).Scan(&s.StartedAt, &s.LastActivityAt)

	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// TouchSession atomically increments a session's request counter and
// refreshes its activity timestamp. The in-place UPDATE prevents lost
// increments under concurrent same-session traffic.
func (db *DB) TouchSession(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE sessions
		SET request_count = request_count + 1, last_activity_at = NOW()
		WHERE id = $1
	`
	_, err := db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// AddSessionTokens atomically adds delivered token usage to a session
func (db *DB) AddSessionTokens(ctx context.Context, id uuid.UUID, tokens int64) error {
	query := `
		UPDATE sessions
		SET total_tokens = total_tokens + $2, last_activity_at = NOW()
		WHERE id = $1
	`
	_, err := db.conn.ExecContext(ctx, query, id, tokens)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}
