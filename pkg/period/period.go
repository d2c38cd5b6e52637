package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates the three period shapes.
type Kind int

const (
	Month Kind = iota
	Quarter
	Year
)

// quarterKeyOffset shifts quarter numbers into 33–36 in the key suffix,
// outside the month range 01–12.
const quarterKeyOffset = 32

// Period is one calendar period: a month, a quarter, or a year. Periods are
// immutable values; two periods are the same cell coordinate exactly when
// they are == to each other. Build them with MonthOf, QuarterOf, or YearOf —
// the constructors leave the unused position field zero, which is what makes
// == equality line up with key equality.
type Period struct {
	Kind    Kind
	Year    int
	Month   int // 1–12 when Kind == Month
	Quarter int // 1–4 when Kind == Quarter
}

// MonthOf returns the period for one calendar month. month must be in 1–12.
func MonthOf(year, month int) Period {
	return Period{Kind: Month, Year: year, Month: month}
}

// QuarterOf returns the period for one calendar quarter. quarter must be in 1–4.
func QuarterOf(year, quarter int) Period {
	return Period{Kind: Quarter, Year: year, Quarter: quarter}
}

// YearOf returns the period covering the whole year.
func YearOf(year int) Period {
	return Period{Kind: Year, Year: year}
}

// FromTime returns the month period containing t.
func FromTime(t time.Time) Period {
	return MonthOf(t.Year(), int(t.Month()))
}

// IsMonth reports whether p is a single month.
func (p Period) IsMonth() bool { return p.Kind == Month }

// IsQuarter reports whether p is a quarter.
func (p Period) IsQuarter() bool { return p.Kind == Quarter }

// IsYear reports whether p is a whole year.
func (p Period) IsYear() bool { return p.Kind == Year }

// Key renders the canonical string form: "YYYY", "YYYY-MM", or "YYYY-QQ"
// with QQ in 33–36. FromKey inverts it.
func (p Period) Key() string {
	switch p.Kind {
	case Month:
		return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
	case Quarter:
		return fmt.Sprintf("%04d-%02d", p.Year, p.Quarter+quarterKeyOffset)
	default:
		return fmt.Sprintf("%04d", p.Year)
	}
}

// String returns the canonical key, so periods format cleanly with %s and %v.
func (p Period) String() string { return p.Key() }

// FromKey parses a canonical key produced by Key. It returns an error for
// anything else: wrong length, non-digits, a month of 00 or 13–32, or a
// quarter code outside 33–36.
func FromKey(key string) (Period, error) {
	switch len(key) {
	case 4:
		year, err := strconv.Atoi(key)
		if err != nil {
			return Period{}, fmt.Errorf("period: malformed key %q", key)
		}
		return YearOf(year), nil

	case 7:
		if key[4] != '-' {
			return Period{}, fmt.Errorf("period: malformed key %q", key)
		}
		year, err := strconv.Atoi(key[:4])
		if err != nil {
			return Period{}, fmt.Errorf("period: malformed key %q", key)
		}
		nn, err := strconv.Atoi(key[5:])
		if err != nil {
			return Period{}, fmt.Errorf("period: malformed key %q", key)
		}
		switch {
		case nn >= 1 && nn <= 12:
			return MonthOf(year, nn), nil
		case nn >= quarterKeyOffset+1 && nn <= quarterKeyOffset+4:
			return QuarterOf(year, nn-quarterKeyOffset), nil
		default:
			return Period{}, fmt.Errorf("period: key %q: %02d is neither a month nor a quarter code", key, nn)
		}

	default:
		return Period{}, fmt.Errorf("period: malformed key %q", key)
	}
}

// Compare orders two periods: negative when a sorts before b, zero when they
// are the same period, positive otherwise. Year difference decides first.
// Within a year, months sit at their month number and a quarter sits at
// quarter*3 — the position of its last month, an anchor rather than a real
// calendar boundary, so Jan and Feb sort before their year's Q1 row while
// March does not. Year rows sort after every month and quarter of the same
// year. Distinct periods sharing an anchor (March vs Q1) fall back to key
// order, keeping the ordering total and sorts stable.
func Compare(a, b Period) int {
	if a.Year != b.Year {
		return a.Year - b.Year
	}
	if d := a.anchor() - b.anchor(); d != 0 {
		return d
	}
	return strings.Compare(a.Key(), b.Key())
}

// anchor is the within-year sort position. Years use 13, past any month or
// quarter anchor.
func (p Period) anchor() int {
	switch p.Kind {
	case Month:
		return p.Month
	case Quarter:
		return p.Quarter * 3
	default:
		return 13
	}
}

// Months expands p into its constituent month periods, ascending: a quarter
// yields its 3 months, a year its 12, a month itself.
func (p Period) Months() []Period {
	switch p.Kind {
	case Quarter:
		out := make([]Period, 3)
		first := (p.Quarter-1)*3 + 1
		for i := range out {
			out[i] = MonthOf(p.Year, first+i)
		}
		return out
	case Year:
		out := make([]Period, 12)
		for i := range out {
			out[i] = MonthOf(p.Year, i+1)
		}
		return out
	default:
		return []Period{p}
	}
}
