package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

const requestColumns = `
	id, request_id, response_id, session_id, user_id, api_key_id, persona_id,
	model, request_payload, response_payload, status, error_message,
	rating, rating_feedback, rated_at, created_at, completed_at`

func scanRequest(row interface{ Scan(...any) error }) (*models.Request, error) {
	var r models.Request
	err := row.Scan(
		&r.ID,
		&r.RequestID,
		&r.ResponseID,
		&r.SessionID,
		&r.UserID,
		&r.APIKeyID,
		&r.PersonaID,
		&r.Model,
		&r.RequestPayload,
		&r.ResponsePayload,
		&r.Status,
		&r.ErrorMessage,
		&r.Rating,
		&r.RatingFeedback,
		&r.RatedAt,
		&r.CreatedAt,
		&r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRequest persists a new request row before any upstream call
func (db *DB) CreateRequest(ctx context.Context, r *models.Request) error {
	query := `
		INSERT INTO requests (
			id, request_id, session_id, user_id, api_key_id, persona_id,
			model, request_payload, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := db.conn.QueryRowContext(ctx, query,
		r.ID,
		r.RequestID,
		r.SessionID,
		r.UserID,
		r.APIKeyID,
		r.PersonaID,
		r.Model,
		r.RequestPayload,
		r.Status,
	).Scan(&r.CreatedAt)

	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// SetRequestStatus records a non-terminal state transition
func (db *DB) SetRequestStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE requests SET status = $2 WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// MarkRequestCompleted moves a request to its terminal completed state,
// storing the outbound payload and the upstream response id if present.
func (db *DB) MarkRequestCompleted(ctx context.Context, id uuid.UUID, responseID *string, payload []byte, at time.Time) error {
	query := `
		UPDATE requests
		SET status = $2, response_id = $3, response_payload = $4, completed_at = $5
		WHERE id = $1
	`
	_, err := db.conn.ExecContext(ctx, query, id, models.StatusCompleted, responseID, payload, at)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// MarkRequestFailed moves a request to its terminal failed state
func (db *DB) MarkRequestFailed(ctx context.Context, id uuid.UUID, errMsg string, at time.Time) error {
	query := `
		UPDATE requests
		SET status = $2, error_message = $3, completed_at = $4
		WHERE id = $1
	`
	_, err := db.conn.ExecContext(ctx, query, id, models.StatusFailed, errMsg, at)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// GetRequestByRequestID retrieves a request by its external request id
func (db *DB) GetRequestByRequestID(ctx context.Context, requestID string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE request_id = $1`
	return db.getRequest(ctx, query, requestID)
}

// GetRequestByResponseID retrieves a request by the upstream response id
func (db *DB) GetRequestByResponseID(ctx context.Context, responseID string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE response_id = $1`
	return db.getRequest(ctx, query, responseID)
}

func (db *DB) getRequest(ctx context.Context, query string, arg any) (*models.Request, error) {
	r, err := scanRequest(db.conn.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return r, nil
}

// UpdateRating overwrites the rating fields of a request. Re-rating
// replaces the prior rating, feedback and timestamp.
func (db *DB) UpdateRating(ctx context.Context, id uuid.UUID, rating int, feedback *string, at time.Time) error {
	query := `
		UPDATE requests
		SET rating = $2, rating_feedback = $3, rated_at = $4
		WHERE id = $1
	`
	_, err := db.conn.ExecContext(ctx, query, id, rating, feedback, at)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// OrgOwnsRequest reports whether a request belongs to the organization,
// resolved through the API key it was attributed to.
func (db *DB) OrgOwnsRequest(ctx context.Context, orgID uuid.UUID, r *models.Request) (bool, error) {
	query := `SELECT organization_id FROM api_keys WHERE id = $1`

	var keyOrg uuid.UUID
	err := db.conn.QueryRowContext(ctx, query, r.APIKeyID).Scan(&keyOrg)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	return keyOrg == orgID, nil
}
