package sheet

import (
	"fmt"

	"github.com/metricsheet/metricsheet/pkg/period"
)

// cellKey addresses one observer bucket: a metric crossed with a period key.
type cellKey struct {
	metric string
	period string
}

// subscription is one registered callback. Removal is by handle identity,
// so the same function value can be registered twice and removed once.
type subscription struct {
	fn func()
}

// Subscribable decorates a Table with a per-cell observer registry.
// Update delegates to the table and then fires the observers of exactly
// the cells that changed. It carries the table's single-writer contract
// unchanged, and Clone (promoted from Table) deliberately returns a bare
// *Table: subscriptions never carry over to a copy.
type Subscribable struct {
	*Table
	subs map[cellKey]map[*subscription]struct{}
}

// NewSubscribable builds the underlying table from cfg and initial exactly
// as New does.
func NewSubscribable(cfg Config, initial []Write) (*Subscribable, error) {
	t, err := New(cfg, initial)
	if err != nil {
		return nil, err
	}
	return &Subscribable{Table: t}, nil
}

// Subscribe registers fn to fire whenever the exact (metric, p) cell
// changes. It returns an unsubscribe function that removes only this
// registration; calling it more than once is harmless. Registry storage
// allocates lazily, so a table nobody observes pays nothing.
func (s *Subscribable) Subscribe(metric string, p period.Period, fn func()) (func(), error) {
	if _, ok := s.cells[metric]; !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownMetric, metric)
	}

	if s.subs == nil {
		s.subs = make(map[cellKey]map[*subscription]struct{})
	}
	key := cellKey{metric: metric, period: p.Key()}
	bucket, ok := s.subs[key]
	if !ok {
		bucket = make(map[*subscription]struct{})
		s.subs[key] = bucket
	}

	sub := &subscription{fn: fn}
	bucket[sub] = struct{}{}

	return func() {
		if bucket, ok := s.subs[key]; ok {
			delete(bucket, sub)
			if len(bucket) == 0 {
				delete(s.subs, key)
			}
		}
	}, nil
}

// Update applies writes through the wrapped table, then synchronously
// invokes every callback registered for each changed cell, in unspecified
// order, on the caller's goroutine. Each cell's callback set is
// snapshotted before invoking, so subscribing or unsubscribing from inside
// a callback never affects the current notification pass. A callback that
// re-enters Update recurses; the engine does not cap that.
func (s *Subscribable) Update(writes []Write) ([]Change, error) {
	changes, err := s.Table.Update(writes)
	if err != nil {
		return nil, err
	}

	for _, c := range changes {
		bucket := s.subs[cellKey{metric: c.Metric, period: c.Period.Key()}]
		if len(bucket) == 0 {
			continue
		}
		snapshot := make([]*subscription, 0, len(bucket))
		for sub := range bucket {
			snapshot = append(snapshot, sub)
		}
		for _, sub := range snapshot {
			sub.fn()
		}
	}
	return changes, nil
}
