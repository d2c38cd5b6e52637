package sheet

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/metricsheet/metricsheet/pkg/period"
)

// ErrUnknownMetric is returned when an operation names a metric that was
// never declared in the table's configuration. It signals a programmer or
// configuration error, not a runtime condition: the engine never catches
// it internally. Raise sites wrap it with the offending name; match with
// errors.Is.
var ErrUnknownMetric = errors.New("sheet: unknown metric")

// ComputeFunc derives a metric's value for one base period. It is invoked
// on every update, for every known base period, with the cell's current
// value; returning Absent clears the cell. Rules must be pure reads of the
// table plus their inputs.
type ComputeFunc func(t *Table, p period.Period, current decimal.NullDecimal) decimal.NullDecimal

// AggregateFunc rolls a metric up into one quarter or year period from its
// constituent months. months holds the target's months in calendar order;
// they may or may not hold values.
type AggregateFunc func(t *Table, metric string, months []period.Period, target period.Period, current decimal.NullDecimal) decimal.NullDecimal

// Metric describes one named metric. Compute and Aggregate are both
// optional: a metric with neither only ever holds externally written
// values.
type Metric struct {
	Name      string
	Compute   ComputeFunc
	Aggregate AggregateFunc
}

// Config declares a table's metrics and rollup behavior. Declaration order
// is evaluation order for compute rules; callers order metrics so that
// dependencies come first, or accept reading the prior pass's value.
// Quarters and Years independently enable the two aggregate granularities.
type Config struct {
	Metrics  []Metric
	Quarters bool
	Years    bool
}

// Write is one input triple for Update. An invalid Value clears the cell.
type Write struct {
	Metric string
	Period period.Period
	Value  decimal.NullDecimal
}

// Change records one cell whose stored value differed before and after an
// update, including all cascaded compute and rollup effects.
type Change struct {
	Metric string
	Period period.Period
	Old    decimal.NullDecimal
	New    decimal.NullDecimal
}

// Present wraps d as a present cell value.
func Present(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Absent returns the absent cell value, distinct from zero.
func Absent() decimal.NullDecimal {
	return decimal.NullDecimal{}
}

// Table holds per-metric, per-period decimal values and recomputes derived
// metrics and rollups on every update. See the package comment for the
// single-writer contract.
type Table struct {
	cfg   Config
	cells map[string]map[string]decimal.Decimal // metric → period key → value
}

// New builds a table from cfg and applies initial through the normal
// update path, so derived metrics and rollups materialize for the initial
// values too. Metric names must be non-empty and unique.
func New(cfg Config, initial []Write) (*Table, error) {
	t := &Table{
		cfg:   cfg,
		cells: make(map[string]map[string]decimal.Decimal, len(cfg.Metrics)),
	}
	for i, m := range cfg.Metrics {
		if m.Name == "" {
			return nil, fmt.Errorf("sheet: metric %d has an empty name", i)
		}
		if _, dup := t.cells[m.Name]; dup {
			return nil, fmt.Errorf("sheet: metric %q declared twice", m.Name)
		}
		t.cells[m.Name] = make(map[string]decimal.Decimal)
	}
	if len(initial) > 0 {
		if _, err := t.Update(initial); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Update is the single mutation entry point. It applies the writes in
// input order, recomputes every derived metric and rollup, and returns the
// ordered list of cells that actually changed: the raw writes' effects
// first, then everything that cascaded. No-op writes produce no entry; two
// present values count as equal when numerically equal.
//
// Every referenced metric is validated before anything is written, so an
// ErrUnknownMetric failure leaves the table untouched.
func (t *Table) Update(writes []Write) ([]Change, error) {
	for _, w := range writes {
		if _, ok := t.cells[w.Metric]; !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownMetric, w.Metric)
		}
	}

	var changes []Change
	for _, w := range writes {
		t.set(w.Metric, w.Period, w.Value, &changes)
	}
	t.recompute(&changes)
	return changes, nil
}

// Value returns the stored value for one cell, or Absent when the cell
// holds nothing.
func (t *Table) Value(metric string, p period.Period) (decimal.NullDecimal, error) {
	row, ok := t.cells[metric]
	if !ok {
		return Absent(), fmt.Errorf("%w %q", ErrUnknownMetric, metric)
	}
	v, ok := row[p.Key()]
	if !ok {
		return Absent(), nil
	}
	return Present(v), nil
}

// Metrics returns the declared metric names in declaration order.
func (t *Table) Metrics() []string {
	out := make([]string, len(t.cfg.Metrics))
	for i, m := range t.cfg.Metrics {
		out[i] = m.Name
	}
	return out
}

// Periods returns every period that currently holds a value for any
// metric, sorted into display order. Periods exist implicitly: recording
// the first value against a period is what creates it.
func (t *Table) Periods() []period.Period {
	keys := make(map[string]struct{})
	for _, row := range t.cells {
		for key := range row {
			keys[key] = struct{}{}
		}
	}
	out := make([]period.Period, 0, len(keys))
	for key := range keys {
		p, _ := period.FromKey(key) // stored keys always decode
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return period.Compare(out[i], out[j]) < 0 })
	return out
}

// IsAggregate reports whether p is treated as an aggregate row: a quarter
// with quarter rollups enabled, or a year with year rollups enabled.
// Months are always base periods.
func (t *Table) IsAggregate(p period.Period) bool {
	switch p.Kind {
	case period.Quarter:
		return t.cfg.Quarters
	case period.Year:
		return t.cfg.Years
	default:
		return false
	}
}

// Export returns every stored cell as a write triple, metrics in
// declaration order and periods in display order, suitable for rebuilding
// a table with the same values.
func (t *Table) Export() []Write {
	periods := t.Periods()
	var out []Write
	for _, m := range t.cfg.Metrics {
		row := t.cells[m.Name]
		for _, p := range periods {
			if v, ok := row[p.Key()]; ok {
				out = append(out, Write{Metric: m.Name, Period: p, Value: Present(v)})
			}
		}
	}
	return out
}

// Clone returns an independent table with the same configuration and
// values, rebuilt through the normal construction path. Mutating either
// table never shows through the other.
func (t *Table) Clone() *Table {
	clone, err := New(t.cfg, t.Export())
	if err != nil {
		// New fails only on config problems and t's config already passed.
		panic(err)
	}
	return clone
}

// set writes or clears one cell, appending a Change only when the stored
// value actually differs. Present values compare numerically, so 2.50
// equals 2.5; a presence flip always counts. The metric must be declared.
func (t *Table) set(metric string, p period.Period, v decimal.NullDecimal, changes *[]Change) {
	row := t.cells[metric]
	key := p.Key()
	old, had := row[key]

	if v.Valid {
		if had && old.Equal(v.Decimal) {
			return
		}
		row[key] = v.Decimal
	} else {
		if !had {
			return
		}
		delete(row, key)
	}

	oldVal := Absent()
	if had {
		oldVal = Present(old)
	}
	*changes = append(*changes, Change{Metric: metric, Period: p, Old: oldVal, New: v})
}

// recompute runs after the raw writes of every Update, over the table's
// full current state rather than just the touched cells: compute rules may
// read sibling metrics updated in the same pass, and with no dependency
// graph the whole table is the only safe re-evaluation set. Cost is
// O(metrics × periods) per update.
func (t *Table) recompute(changes *[]Change) {
	years := t.computeBase(changes)
	for _, year := range years {
		if t.cfg.Quarters {
			for q := 1; q <= 4; q++ {
				t.rollup(period.QuarterOf(year, q), changes)
			}
		}
		if t.cfg.Years {
			t.rollup(period.YearOf(year), changes)
		}
	}
}

// computeBase invokes every declared compute rule for every known base
// period, metrics in declaration order, and returns the ascending years
// those base periods touch. A year counts as touched by being visited,
// whether or not any value changed.
func (t *Table) computeBase(changes *[]Change) []int {
	yearSet := make(map[int]struct{})
	for _, p := range t.Periods() {
		if t.IsAggregate(p) {
			continue
		}
		yearSet[p.Year] = struct{}{}
		for _, m := range t.cfg.Metrics {
			if m.Compute == nil {
				continue
			}
			current, _ := t.Value(m.Name, p)
			t.set(m.Name, p, m.Compute(t, p, current), changes)
		}
	}

	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// rollup invokes every declared aggregate rule for one quarter or year
// target over its constituent months.
func (t *Table) rollup(target period.Period, changes *[]Change) {
	months := target.Months()
	for _, m := range t.cfg.Metrics {
		if m.Aggregate == nil {
			continue
		}
		current, _ := t.Value(m.Name, target)
		t.set(m.Name, target, m.Aggregate(t, m.Name, months, target, current), changes)
	}
}
