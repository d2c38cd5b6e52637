package board

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/metricsheet/metricsheet/internal/history"
	"github.com/metricsheet/metricsheet/pkg/period"
	"github.com/metricsheet/metricsheet/pkg/sheet"
)

// Board serializes access to the live table. Writers go through Apply,
// readers through the accessor methods.
type Board struct {
	mu        sync.RWMutex
	table     *sheet.Subscribable
	hist      history.Store
	consumers []func(history.Batch)
}

func New(table *sheet.Subscribable, hist history.Store) *Board {
	return &Board{table: table, hist: hist}
}

// OnApply registers fn to run after every batch that changed at least
// one cell. Consumers run synchronously, outside the board lock, in
// registration order.
func (b *Board) OnApply(fn func(history.Batch)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumers = append(b.consumers, fn)
}

// Apply updates the table and returns the batch it produced. A failed
// update leaves the table untouched and records nothing. History is
// written under the lock so the log preserves apply order; a history
// failure is logged but does not fail the apply.
func (b *Board) Apply(ctx context.Context, source string, writes []sheet.Write) (history.Batch, error) {
	b.mu.Lock()
	changes, err := b.table.Update(writes)
	if err != nil {
		b.mu.Unlock()
		return history.Batch{}, err
	}

	batch := history.Batch{
		ID:      ulid.Make().String(),
		Source:  source,
		At:      time.Now().UTC(),
		Changes: changes,
	}
	if len(batch.Changes) > 0 {
		if err := b.hist.RecordBatch(ctx, batch); err != nil {
			slog.Error("history record failed", "batch", batch.ID, "err", err)
		}
	}
	consumers := make([]func(history.Batch), len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	if len(batch.Changes) > 0 {
		for _, fn := range consumers {
			fn(batch)
		}
	}
	return batch, nil
}

func (b *Board) Value(metric string, p period.Period) (decimal.NullDecimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table.Value(metric, p)
}

func (b *Board) Metrics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table.Metrics()
}

func (b *Board) Periods() []period.Period {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table.Periods()
}

// Export snapshots every present cell for grid rendering and client
// snapshots.
func (b *Board) Export() []sheet.Write {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table.Export()
}

// Watch registers a callback on one cell. The callback runs inside
// Apply, so it must not call back into the board. The returned cancel
// is safe to call concurrently with applies.
func (b *Board) Watch(metric string, p period.Period, fn func()) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cancel, err := b.table.Subscribe(metric, p, fn)
	if err != nil {
		return nil, err
	}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		cancel()
	}, nil
}

// Reload swaps in a table built from cfg. Aggregate-row cells are
// dropped and recomputed under the new rules; every other cell of a
// still-declared metric carries over as a raw value. Cell watches do
// not survive a reload.
func (b *Board) Reload(cfg sheet.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	declared := make(map[string]bool, len(cfg.Metrics))
	for _, m := range cfg.Metrics {
		declared[m.Name] = true
	}
	var carry []sheet.Write
	for _, w := range b.table.Export() {
		if declared[w.Metric] && !b.table.IsAggregate(w.Period) {
			carry = append(carry, w)
		}
	}

	next, err := sheet.NewSubscribable(cfg, carry)
	if err != nil {
		return err
	}
	b.table = next
	return nil
}
