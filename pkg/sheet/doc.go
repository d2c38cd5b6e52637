// Package sheet implements the metric table at the core of metricsheet: a
// two-level mapping from metric name to period key to decimal value, with
// derived-metric recomputation, quarter/year rollups, and a minimal change
// list reported from every update.
//
// A Table is built once from a Config (an ordered list of metric
// descriptors plus the quarter/year rollup toggles) and mutated only
// through Update. Every Update applies the raw writes, re-runs each
// metric's compute rule over all base periods in declaration order, rolls
// quarter and year aggregates up from their constituent months, and
// returns exactly the cells whose stored value changed, raw writes first.
// Declaration order is the dependency order: there is no dependency graph,
// so a compute rule reading a metric declared after it sees that metric's
// value from before the current pass.
//
// Cell values are shopspring decimals; an absent cell is a first-class
// state distinct from zero, carried as an invalid decimal.NullDecimal.
//
// Subscribable adds a per-cell observer registry on top of a Table.
//
// Tables have no internal locking. There must be one logical writer at a
// time; hosts serving multiple goroutines wrap every call in their own
// mutex (internal/board does exactly that).
package sheet
