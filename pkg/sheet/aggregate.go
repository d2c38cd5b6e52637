package sheet

import (
	"github.com/shopspring/decimal"

	"github.com/metricsheet/metricsheet/pkg/period"
)

// First is the built-in aggregate that takes the first constituent month's
// value as-is, absent included. Useful for point-in-time metrics sampled
// at a period's start, like an opening balance.
func First(t *Table, metric string, months []period.Period, _ period.Period, _ decimal.NullDecimal) decimal.NullDecimal {
	if len(months) == 0 {
		return Absent()
	}
	v, _ := t.Value(metric, months[0])
	return v
}

// Last is the built-in aggregate that takes the last constituent month's
// value as-is, absent included.
func Last(t *Table, metric string, months []period.Period, _ period.Period, _ decimal.NullDecimal) decimal.NullDecimal {
	if len(months) == 0 {
		return Absent()
	}
	v, _ := t.Value(metric, months[len(months)-1])
	return v
}

// Sum is the built-in aggregate that adds the constituent months' values,
// reading absent cells as zero. It always yields a present value, so an
// all-absent quarter rolls up to zero rather than staying empty.
func Sum(t *Table, metric string, months []period.Period, _ period.Period, _ decimal.NullDecimal) decimal.NullDecimal {
	total := decimal.Zero
	for _, mp := range months {
		if v, _ := t.Value(metric, mp); v.Valid {
			total = total.Add(v.Decimal)
		}
	}
	return Present(total)
}

// Average is the built-in aggregate that divides the months' sum by the
// month count, reading absent cells as zero. An empty month set averages
// to zero; the function itself never fails.
func Average(t *Table, metric string, months []period.Period, _ period.Period, _ decimal.NullDecimal) decimal.NullDecimal {
	if len(months) == 0 {
		return Present(decimal.Zero)
	}
	total := decimal.Zero
	for _, mp := range months {
		if v, _ := t.Value(metric, mp); v.Valid {
			total = total.Add(v.Decimal)
		}
	}
	return Present(total.Div(decimal.NewFromInt(int64(len(months)))))
}

// AggregateByName resolves the built-in aggregate named in a
// configuration file: first, last, sum, or average.
func AggregateByName(name string) (AggregateFunc, bool) {
	switch name {
	case "first":
		return First, true
	case "last":
		return Last, true
	case "sum":
		return Sum, true
	case "average":
		return Average, true
	default:
		return nil, false
	}
}
