package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/metricsheet/metricsheet/internal/config"
	"github.com/metricsheet/metricsheet/pkg/sheet"
)

const defaultRecentLimit = 50

// Batch is one applied update together with the changes it produced.
type Batch struct {
	ID      string
	Source  string
	At      time.Time
	Changes []sheet.Change
}

// Entry is a single recorded change, flattened to one row.
type Entry struct {
	BatchID string
	Source  string
	At      time.Time
	Metric  string
	Period  string
	Old     decimal.NullDecimal
	New     decimal.NullDecimal
}

// Store records change batches and serves them back newest-first.
type Store interface {
	RecordBatch(ctx context.Context, b Batch) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open builds the store named by cfg.Driver.
func Open(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		return openSQLite(cfg.ResolvedDSN())
	case "postgres":
		return openPostgres(cfg.ResolvedDSN())
	default:
		return nil, fmt.Errorf("history: unknown driver %q", cfg.Driver)
	}
}

// Nop discards every batch. It backs deployments with history disabled.
type Nop struct{}

func (Nop) RecordBatch(context.Context, Batch) error     { return nil }
func (Nop) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (Nop) Close() error                                 { return nil }

func encodeValue(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func decodeValue(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("history: corrupt stored value %q: %w", s.String, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
