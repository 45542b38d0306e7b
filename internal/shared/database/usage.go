package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

// InsertUsageLog records token usage for a completed request. Rows are
// write-once; nothing updates them afterward.
func (db *DB) InsertUsageLog(ctx context.Context, u *models.UsageLog) error {
	query := `
		INSERT INTO usage_logs (
			id, request_id, model, input_tokens, output_tokens,
			total_tokens, cost_micro_usd
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING logged_at
	`

	err := db.conn.QueryRowContext(ctx, query,
		u.ID,
		u.RequestID,
		u.Model,
		u.InputTokens,
		u.OutputTokens,
		u.TotalTokens,
		u.CostMicroUSD,
	).Scan(&u.LoggedAt)

	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	return nil
}

// UsageTotals is an aggregate over usage logs.
type UsageTotals struct {
	Requests     int64
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostMicroUSD int64
}

// CostUSD returns the aggregate cost as a float for reporting.
func (t UsageTotals) CostUSD() float64 {
	return float64(t.CostMicroUSD) / 1e6
}

// UserUsage is per-user usage within an organization.
type UserUsage struct {
	UserID         uuid.UUID
	ExternalUserID string
	UsageTotals
}

// DailyUsage is per-day usage within an organization.
type DailyUsage struct {
	Day time.Time
	UsageTotals
}

// OrgUsageTotals aggregates usage for completed requests across an
// organization.
func (db *DB) OrgUsageTotals(ctx context.Context, orgID uuid.UUID) (*UsageTotals, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(ul.input_tokens), 0),
		       COALESCE(SUM(ul.output_tokens), 0),
		       COALESCE(SUM(ul.total_tokens), 0),
		       COALESCE(SUM(ul.cost_micro_usd), 0)
		FROM usage_logs ul
		JOIN requests r ON r.id = ul.request_id
		JOIN users u ON u.id = r.user_id
		WHERE u.organization_id = $1
	`

	var t UsageTotals
	err := db.conn.QueryRowContext(ctx, query, orgID).Scan(
		&t.Requests, &t.InputTokens, &t.OutputTokens, &t.TotalTokens, &t.CostMicroUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &t, nil
}

// UsageByUser aggregates usage per user for an organization
func (db *DB) UsageByUser(ctx context.Context, orgID uuid.UUID) ([]UserUsage, error) {
	query := `
		SELECT u.id, u.external_id,
		       COUNT(ul.id),
		       COALESCE(SUM(ul.input_tokens), 0),
		       COALESCE(SUM(ul.output_tokens), 0),
		       COALESCE(SUM(ul.total_tokens), 0),
		       COALESCE(SUM(ul.cost_micro_usd), 0)
		FROM users u
		LEFT JOIN requests r ON r.user_id = u.id
		LEFT JOIN usage_logs ul ON ul.request_id = r.id
		WHERE u.organization_id = $1
		GROUP BY u.id, u.external_id
		ORDER BY SUM(ul.cost_micro_usd) DESC NULLS LAST
	`

	rows, err := db.conn.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var usages []UserUsage
	for rows.Next() {
		var u UserUsage
		if err := rows.Scan(
			&u.UserID, &u.ExternalUserID,
			&u.Requests, &u.InputTokens, &u.OutputTokens, &u.TotalTokens, &u.CostMicroUSD,
		); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		usages = append(usages, u)
	}

	return usages, rows.Err()
}

// UsageByDay aggregates usage per calendar day over the last n days
func (db *DB) UsageByDay(ctx context.Context, orgID uuid.UUID, days int) ([]DailyUsage, error) {
	query := `
		SELECT date_trunc('day', ul.logged_at) AS day,
		       COUNT(*),
		       COALESCE(SUM(ul.input_tokens), 0),
		       COALESCE(SUM(ul.output_tokens), 0),
		       COALESCE(SUM(ul.total_tokens), 0),
		       COALESCE(SUM(ul.cost_micro_usd), 0)
		FROM usage_logs ul
		JOIN requests r ON r.id = ul.request_id
		JOIN users u ON u.id = r.user_id
		WHERE u.organization_id = $1
		  AND ul.logged_at >= NOW() - ($2 || ' days')::interval
		GROUP BY day
		ORDER BY day DESC
	`

	rows, err := db.conn.QueryContext(ctx, query, orgID, days)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var usages []DailyUsage
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(
			&u.Day,
			&u.Requests, &u.InputTokens, &u.OutputTokens, &u.TotalTokens, &u.CostMicroUSD,
		); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		usages = append(usages, u)
	}

	return usages, rows.Err()
}
