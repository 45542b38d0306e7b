// Package usage prices completed requests and records their token
// counts durably. Pricing problems never block response delivery:
// unknown models cost zero with a logged warning.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

// Store persists usage logs.
type Store interface {
	InsertUsageLog(ctx context.Context, u *models.UsageLog) error
}

type Ledger struct {
	table  Table
	store  Store
	logger *slog.Logger
}

func NewLedger(table Table, store Store, logger *slog.Logger) *Ledger {
	return &Ledger{table: table, store: store, logger: logger}
}

// Cost computes the price of a request in micro-USD:
// input_tokens * input_rate + output_tokens * output_rate.
func (l *Ledger) Cost(model string, inputTokens, outputTokens int) int64 {
	rate, ok := l.table.Lookup(model)
	if !ok {
		l.logger.Warn("no pricing for model, recording zero cost", "model", model)
		return 0
	}

	cost := float64(inputTokens)*rate.Input + float64(outputTokens)*rate.Output
	return int64(math.Round(cost))
}

// Record creates the write-once usage log for a completed request.
func (l *Ledger) Record(ctx context.Context, requestID uuid.UUID, model string, inputTokens, outputTokens, totalTokens int) (*models.UsageLog, error) {
	if totalTokens == 0 {
		totalTokens = inputTokens + outputTokens
	}

	entry := &models.UsageLog{
		ID:           uuid.New(),
		RequestID:    requestID,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  totalTokens,
		CostMicroUSD: l.Cost(model, inputTokens, outputTokens),
	}

	if err := l.store.InsertUsageLog(ctx, entry); err != nil {
		return nil, fmt.Errorf("usage: record: %w", err)
	}

	return entry, nil
}
