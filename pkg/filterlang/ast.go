package filterlang

import "github.com/jaywyawhare/gigavector/pkg/metadata"

// Expr is a node in a parsed filter expression tree.
type Expr interface {
	isExpr()
}

// OrExpr matches when any of Terms matches.
type OrExpr struct {
	Terms []Expr
}

// AndExpr matches when all of Terms match.
type AndExpr struct {
	Terms []Expr
}

// NotExpr matches when Inner does not.
type NotExpr struct {
	Inner Expr
}

// CompareOp enumerates the comparison operators the grammar supports.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpContains
	OpStartsWith
)

// Comparison matches a single field against a literal.
type Comparison struct {
	Field   string
	Op      CompareOp
	Literal metadata.Value
}

func (OrExpr) isExpr()     {}
func (AndExpr) isExpr()    {}
func (NotExpr) isExpr()    {}
func (Comparison) isExpr() {}
