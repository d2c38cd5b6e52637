package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/metricsheet/metricsheet/internal/config"
	"github.com/metricsheet/metricsheet/pkg/period"
	"github.com/metricsheet/metricsheet/pkg/sheet"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "history.db")
	st, err := Open(config.HistoryConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func present(s string) decimal.NullDecimal {
	d, _ := decimal.NewFromString(s)
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func TestSQLite_RecordAndRecent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)
	batch := Batch{
		ID:     "batch-1",
		Source: "api",
		At:     at,
		Changes: []sheet.Change{
			{Metric: "mrr", Period: period.MonthOf(2023, 1), Old: decimal.NullDecimal{}, New: present("10")},
			{Metric: "mrr", Period: period.QuarterOf(2023, 1), Old: present("0"), New: present("10")},
		},
	}
	if err := st.RecordBatch(ctx, batch); err != nil {
		t.Fatalf("RecordBatch: %v", err)
	}

	entries, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent: got %d entries, want 2", len(entries))
	}

	// Newest row first, so the batch comes back in reverse write order.
	first := entries[0]
	if first.BatchID != "batch-1" || first.Source != "api" {
		t.Errorf("entry ids: got %q/%q", first.BatchID, first.Source)
	}
	if first.Metric != "mrr" || first.Period != "2023-33" {
		t.Errorf("entry cell: got %s/%s", first.Metric, first.Period)
	}
	if !first.Old.Valid || !first.Old.Decimal.Equal(decimal.Zero) {
		t.Errorf("entry old: got %+v, want 0", first.Old)
	}
	if !first.New.Valid || !first.New.Decimal.Equal(present("10").Decimal) {
		t.Errorf("entry new: got %+v, want 10", first.New)
	}
	if !first.At.Equal(at) {
		t.Errorf("entry at: got %v, want %v", first.At, at)
	}

	second := entries[1]
	if second.Period != "2023-01" {
		t.Errorf("second entry period: got %q, want 2023-01", second.Period)
	}
	if second.Old.Valid {
		t.Errorf("second entry old: got %s, want absent", second.Old.Decimal)
	}
}

func TestSQLite_RecentLimit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"b1", "b2", "b3"} {
		batch := Batch{
			ID:     id,
			Source: "test",
			At:     time.Now(),
			Changes: []sheet.Change{
				{Metric: "mrr", Period: period.MonthOf(2023, i+1), New: present("1")},
			},
		}
		if err := st.RecordBatch(ctx, batch); err != nil {
			t.Fatalf("RecordBatch(%s): %v", id, err)
		}
	}

	entries, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent(2): got %d entries", len(entries))
	}
	if entries[0].BatchID != "b3" || entries[1].BatchID != "b2" {
		t.Errorf("order: got %q then %q, want b3 then b2", entries[0].BatchID, entries[1].BatchID)
	}
}

func TestSQLite_EmptyBatchSkipped(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.RecordBatch(ctx, Batch{ID: "empty", Source: "test", At: time.Now()}); err != nil {
		t.Fatalf("RecordBatch: %v", err)
	}
	entries, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("empty batch produced %d entries", len(entries))
	}
}

func TestOpen_NoneDriver(t *testing.T) {
	st, err := Open(config.HistoryConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := st.(Nop); !ok {
		t.Fatalf("Open with empty driver: got %T, want Nop", st)
	}
	if err := st.RecordBatch(context.Background(), Batch{ID: "x"}); err != nil {
		t.Errorf("Nop RecordBatch: %v", err)
	}
	entries, err := st.Recent(context.Background(), 5)
	if err != nil || entries != nil {
		t.Errorf("Nop Recent: got %v, %v", entries, err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(config.HistoryConfig{Driver: "redis", DSN: "x"}); err == nil {
		t.Fatal("expected error for unknown driver, got nil")
	}
}

func TestOpen_SQLiteWithoutDSN(t *testing.T) {
	if _, err := Open(config.HistoryConfig{Driver: "sqlite"}); err == nil {
		t.Fatal("expected error for missing dsn, got nil")
	}
}
