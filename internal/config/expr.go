package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/metricsheet/metricsheet/pkg/period"
	"github.com/metricsheet/metricsheet/pkg/sheet"
)

// operand is one side of a compiled expression: either a reference to a
// declared metric or a numeric literal.
type operand struct {
	metric string
	lit    decimal.Decimal
}

// read resolves the operand for one period. The second return reports
// presence: literals are always present, metric references only when the
// cell holds a value (absent reads as zero).
func (o operand) read(t *sheet.Table, p period.Period) (decimal.Decimal, bool) {
	if o.metric == "" {
		return o.lit, true
	}
	v, _ := t.Value(o.metric, p)
	if !v.Valid {
		return decimal.Zero, false
	}
	return v.Decimal, true
}

// CompileExpr compiles a metric expression into an engine compute rule.
//
// The grammar is deliberately tiny, tokens split on whitespace: either a
// single operand, or exactly "lhs op rhs" with op one of + - * /. An
// operand is a declared metric name or a decimal literal.
//
// Evaluation per period: when the expression references at least one
// metric and every referenced metric is absent, the result is absent — a
// derived cell never materializes out of constants alone. Otherwise
// absent operands read as zero. Division by zero yields absent.
func CompileExpr(expr string, declared map[string]bool) (sheet.ComputeFunc, error) {
	toks := strings.Fields(expr)
	switch len(toks) {
	case 1:
		o, err := compileOperand(toks[0], declared)
		if err != nil {
			return nil, err
		}
		return func(t *sheet.Table, p period.Period, _ decimal.NullDecimal) decimal.NullDecimal {
			if o.metric != "" {
				v, _ := t.Value(o.metric, p)
				return v
			}
			return sheet.Present(o.lit)
		}, nil

	case 3:
		lhs, err := compileOperand(toks[0], declared)
		if err != nil {
			return nil, err
		}
		op := toks[1]
		switch op {
		case "+", "-", "*", "/":
		default:
			return nil, fmt.Errorf("expression %q: unknown operator %q", expr, op)
		}
		rhs, err := compileOperand(toks[2], declared)
		if err != nil {
			return nil, err
		}

		return func(t *sheet.Table, p period.Period, _ decimal.NullDecimal) decimal.NullDecimal {
			lv, lok := lhs.read(t, p)
			rv, rok := rhs.read(t, p)

			refsMetric := lhs.metric != "" || rhs.metric != ""
			presentMetric := (lhs.metric != "" && lok) || (rhs.metric != "" && rok)
			if refsMetric && !presentMetric {
				return sheet.Absent()
			}

			switch op {
			case "+":
				return sheet.Present(lv.Add(rv))
			case "-":
				return sheet.Present(lv.Sub(rv))
			case "*":
				return sheet.Present(lv.Mul(rv))
			default:
				if rv.IsZero() {
					return sheet.Absent()
				}
				return sheet.Present(lv.Div(rv))
			}
		}, nil

	default:
		return nil, fmt.Errorf("expression %q: want one operand or \"lhs op rhs\", got %d tokens", expr, len(toks))
	}
}

func compileOperand(tok string, declared map[string]bool) (operand, error) {
	if declared[tok] {
		return operand{metric: tok}, nil
	}
	d, err := decimal.NewFromString(tok)
	if err != nil {
		return operand{}, fmt.Errorf("operand %q is neither a declared metric nor a number", tok)
	}
	return operand{lit: d}, nil
}
