package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/metricsheet/metricsheet/internal/board"
)

// Runner polls each source on its own interval and applies whatever it
// fetched through the board. Fetch and apply failures are logged and
// the loop keeps going.
type Runner struct {
	board   *board.Board
	sources []timedSource
}

type timedSource struct {
	src      Source
	interval time.Duration
}

func NewRunner(b *board.Board) *Runner {
	return &Runner{board: b}
}

// Add registers a source. Call before Run.
func (r *Runner) Add(src Source, interval time.Duration) {
	r.sources = append(r.sources, timedSource{src: src, interval: interval})
}

// Run polls every source once immediately, then on its interval, until
// ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ts := range r.sources {
		wg.Add(1)
		go func(ts timedSource) {
			defer wg.Done()
			r.loop(ctx, ts)
		}(ts)
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, ts timedSource) {
	r.poll(ctx, ts.src)

	ticker := time.NewTicker(ts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx, ts.src)
		}
	}
}

func (r *Runner) poll(ctx context.Context, src Source) {
	fetchCtx, cancel := context.WithTimeout(ctx, defaultFetchTimeout)
	defer cancel()

	writes, err := src.Fetch(fetchCtx)
	if err != nil {
		slog.Warn("ingest fetch failed", "source", src.Name(), "err", err)
		return
	}
	if len(writes) == 0 {
		return
	}

	batch, err := r.board.Apply(ctx, src.Name(), writes)
	if err != nil {
		slog.Error("ingest apply failed", "source", src.Name(), "err", err)
		return
	}
	if len(batch.Changes) > 0 {
		slog.Debug("ingest applied", "source", src.Name(), "batch", batch.ID, "changes", len(batch.Changes))
	}
}
