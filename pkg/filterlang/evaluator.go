package filterlang

import (
	"strings"

	"github.com/jaywyawhare/gigavector/pkg/metadata"
)

// Evaluate reports whether expr matches row's metadata bag. A field
// absent from row never matches any comparison.
func Evaluate(expr Expr, row metadata.Bag) bool {
	switch e := expr.(type) {
	case OrExpr:
		for _, t := range e.Terms {
			if Evaluate(t, row) {
				return true
			}
		}
		return false
	case AndExpr:
		for _, t := range e.Terms {
			if !Evaluate(t, row) {
				return false
			}
		}
		return true
	case NotExpr:
		return !Evaluate(e.Inner, row)
	case Comparison:
		return evalComparison(e, row)
	default:
		return false
	}
}

func evalComparison(c Comparison, row metadata.Bag) bool {
	val, ok := row[c.Field]
	if !ok {
		return false
	}

	switch c.Op {
	case OpEq:
		return val.Equal(c.Literal)
	case OpNeq:
		return !val.Equal(c.Literal)
	case OpLt, OpLte, OpGt, OpGte:
		cmp, comparable := val.Compare(c.Literal)
		if !comparable {
			return false
		}
		switch c.Op {
		case OpLt:
			return cmp < 0
		case OpLte:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		}
		return false
	case OpContains:
		return stringOp(val, c.Literal, strings.Contains)
	case OpStartsWith:
		return stringOp(val, c.Literal, strings.HasPrefix)
	default:
		return false
	}
}

func stringOp(val, literal metadata.Value, fn func(s, arg string) bool) bool {
	if val.Kind != metadata.KindString || literal.Kind != metadata.KindString {
		return false
	}
	return fn(val.Str, literal.Str)
}
