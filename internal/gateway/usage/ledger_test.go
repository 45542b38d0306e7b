package usage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/amotivv-inc/memory-box-inference/internal/shared/models"
)

type fakeStore struct {
	logs []*models.UsageLog
	err  error
}

func (f *fakeStore) InsertUsageLog(_ context.Context, u *models.UsageLog) error {
	if f.err != nil {
		return f.err
	}
	f.logs = append(f.logs, u)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestLedger_Cost(t *testing.T) {
	ledger := NewLedger(DefaultTable(), &fakeStore{}, discardLogger())

	tests := []struct {
		name   string
		model  string
		input  int
		output int
		want   int64 // micro-USD
	}{
		{
			name:  "gpt-4o simple",
			model: "gpt-4o",
			input: 1000, output: 500,
			// 1000*2.50 + 500*10.00 micro-USD
			want: 7500,
		},
		{
			name:  "dated variant prices as base model",
			model: "gpt-4o-2024-08-06",
			input: 1000, output: 500,
			want: 7500,
		},
		{
			name:  "mini variant is not confused with base model",
			model: "gpt-4o-mini",
			input: 1000000, output: 0,
			// 0.15 USD per 1M input tokens
			want: 150000,
		},
		{
			name:  "unknown model costs zero",
			model: "some-future-model",
			input: 100000, output: 100000,
			want: 0,
		},
		{
			name:  "zero tokens",
			model: "gpt-4o",
			input: 0, output: 0,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ledger.Cost(tt.model, tt.input, tt.output); got != tt.want {
				t.Errorf("Cost(%s, %d, %d) = %d, want %d", tt.model, tt.input, tt.output, got, tt.want)
			}
		})
	}
}

func TestLedger_Record(t *testing.T) {
	store := &fakeStore{}
	ledger := NewLedger(DefaultTable(), store, discardLogger())
	reqID := uuid.New()

	entry, err := ledger.Record(context.Background(), reqID, "gpt-4o", 10, 50, 60)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if entry.RequestID != reqID {
		t.Errorf("RequestID = %v, want %v", entry.RequestID, reqID)
	}
	if entry.TotalTokens != 60 {
		t.Errorf("TotalTokens = %d, want 60", entry.TotalTokens)
	}
	if entry.CostMicroUSD != 525 { // 10*2.50 + 50*10.00
		t.Errorf("CostMicroUSD = %d, want 525", entry.CostMicroUSD)
	}
	if len(store.logs) != 1 {
		t.Fatalf("stored %d logs, want 1", len(store.logs))
	}
}

func TestLedger_Record_DerivesTotal(t *testing.T) {
	store := &fakeStore{}
	ledger := NewLedger(DefaultTable(), store, discardLogger())

	entry, err := ledger.Record(context.Background(), uuid.New(), "gpt-4o", 10, 50, 0)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if entry.TotalTokens != 60 {
		t.Errorf("TotalTokens = %d, want derived 60", entry.TotalTokens)
	}
}

func TestLoadTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")

	content := []byte(`
gpt-4o:
  input: 2.5
  output: 10.0
custom-model:
  input: 1.0
  output: 2.0
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable() error = %v", err)
	}

	rate, ok := table.Lookup("custom-model")
	if !ok {
		t.Fatal("custom-model not found in loaded table")
	}
	if rate.Input != 1.0 || rate.Output != 2.0 {
		t.Errorf("rate = %+v, want {1 2}", rate)
	}
}

func TestLoadTable_Errors(t *testing.T) {
	if _, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadTable(missing) error = nil, want error")
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTable(empty); err == nil {
		t.Error("LoadTable(empty) error = nil, want error")
	}
}
