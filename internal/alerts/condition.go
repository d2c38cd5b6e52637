package alerts

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// condition is a compiled "metric op threshold" test.
type condition struct {
	metric    string
	op        string
	threshold decimal.Decimal
}

// compileCondition parses expr, which must be exactly three
// space-separated tokens: a declared metric, one of > < >= <= ==, and
// a decimal threshold.
func compileCondition(expr string, declared map[string]bool) (condition, error) {
	fields := strings.Fields(expr)
	if len(fields) != 3 {
		return condition{}, fmt.Errorf("alerts: condition %q must be \"metric op threshold\"", expr)
	}
	metric, op, raw := fields[0], fields[1], fields[2]

	if !declared[metric] {
		return condition{}, fmt.Errorf("alerts: condition %q references undeclared metric %q", expr, metric)
	}
	switch op {
	case ">", "<", ">=", "<=", "==":
	default:
		return condition{}, fmt.Errorf("alerts: condition %q has unsupported operator %q", expr, op)
	}
	threshold, err := decimal.NewFromString(raw)
	if err != nil {
		return condition{}, fmt.Errorf("alerts: condition %q has bad threshold %q", expr, raw)
	}

	return condition{metric: metric, op: op, threshold: threshold}, nil
}

// holds reports whether value satisfies the condition.
func (c condition) holds(value decimal.Decimal) bool {
	cmp := value.Cmp(c.threshold)
	switch c.op {
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case "==":
		return cmp == 0
	}
	return false
}
