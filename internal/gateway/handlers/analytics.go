package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/database"
)

// AnalyticsHandler serves organization usage reporting backed by the
// usage log aggregates.
type AnalyticsHandler struct {
	db     *database.DB
	logger *slog.Logger
}

func NewAnalyticsHandler(db *database.DB, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{db: db, logger: logger}
}

type totalsResponse struct {
	Requests     int64   `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func toTotals(t database.UsageTotals) totalsResponse {
	return totalsResponse{
		Requests:     t.Requests,
		InputTokens:  t.InputTokens,
		OutputTokens: t.OutputTokens,
		TotalTokens:  t.TotalTokens,
		CostUSD:      t.CostUSD(),
	}
}

type userUsageResponse struct {
	UserID         uuid.UUID `json:"user_id"`
	ExternalUserID string    `json:"external_user_id"`
	totalsResponse
}

// Usage handles GET /v1/analytics/usage: organization totals plus a
// per-user breakdown.
func (h *AnalyticsHandler) Usage(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	totals, err := h.db.OrgUsageTotals(r.Context(), org.OrgID)
	if err != nil {
		h.logger.Error("usage totals failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	byUser, err := h.db.UsageByUser(r.Context(), org.OrgID)
	if err != nil {
		h.logger.Error("usage by user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	users := make([]userUsageResponse, 0, len(byUser))
	for _, u := range byUser {
		users = append(users, userUsageResponse{
			UserID:         u.UserID,
			ExternalUserID: u.ExternalUserID,
			totalsResponse: toTotals(u.UsageTotals),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totals": toTotals(*totals),
		"users":  users,
	})
}

type dailyUsageResponse struct {
	Day string `json:"day"`
	totalsResponse
}

// Daily handles GET /v1/analytics/usage/daily?days=N (default 30,
// capped at 365).
func (h *AnalyticsHandler) Daily(w http.ResponseWriter, r *http.Request) {
	org, ok := OrgFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	if days > 365 {
		days = 365
	}

	rows, err := h.db.UsageByDay(r.Context(), org.OrgID, days)
	if err != nil {
		h.logger.Error("daily usage failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]dailyUsageResponse, 0, len(rows))
	for _, d := range rows {
		out = append(out, dailyUsageResponse{
			Day:            d.Day.Format(time.DateOnly),
			totalsResponse: toTotals(d.UsageTotals),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":  days,
		"usage": out,
	})
}
