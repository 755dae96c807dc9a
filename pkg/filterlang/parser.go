package filterlang

import (
	"github.com/jaywyawhare/gigavector/pkg/gverrors"
	"github.com/jaywyawhare/gigavector/pkg/metadata"
)

// Parse compiles a filter expression string into an Expr tree.
//
// Grammar:
//
//	expr       := or_expr
//	or_expr    := and_expr ("OR" and_expr)*
//	and_expr   := not_expr ("AND" not_expr)*
//	not_expr   := "NOT"? primary
//	primary    := "(" expr ")" | comparison
//	comparison := identifier op literal
func Parse(src string) (Expr, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.next(); err != nil {
		return nil, err
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != TokEOF {
		return nil, gverrors.Newf(gverrors.BadArgument, "filterlang: unexpected trailing token %q", p.tok.Text)
	}
	return expr, nil
}

type parser struct {
	lex *lexer
	tok Token
}

func (p *parser) next() error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.tok.Kind == TokOr {
		if err := p.next(); err != nil {
			return nil, err
		}
		term, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return OrExpr{Terms: terms}, nil
}

func (p *parser) parseAnd() (Expr, error) {
	first, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.tok.Kind == TokAnd {
		if err := p.next(); err != nil {
			return nil, err
		}
		term, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return AndExpr{Terms: terms}, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.tok.Kind == TokNot {
		if err := p.next(); err != nil {
			return nil, err
		}
		inner, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return NotExpr{Inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.tok.Kind == TokLParen {
		if err := p.next(); err != nil {
			return nil, err
		}
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.Kind != TokRParen {
			return nil, gverrors.New(gverrors.BadArgument, "filterlang: expected closing parenthesis")
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	if p.tok.Kind != TokIdent {
		return nil, gverrors.Newf(gverrors.BadArgument, "filterlang: expected field identifier, got %q", p.tok.Text)
	}
	field := p.tok.Text
	if err := p.next(); err != nil {
		return nil, err
	}

	if p.tok.Kind != TokOp {
		return nil, gverrors.Newf(gverrors.BadArgument, "filterlang: expected comparison operator after %q, got %q", field, p.tok.Text)
	}
	op, err := opFromText(p.tok.Text)
	if err != nil {
		return nil, err
	}
	if err := p.next(); err != nil {
		return nil, err
	}

	literal, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return Comparison{Field: field, Op: op, Literal: literal}, nil
}

func opFromText(text string) (CompareOp, error) {
	switch text {
	case "==":
		return OpEq, nil
	case "!=":
		return OpNeq, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLte, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGte, nil
	case "CONTAINS":
		return OpContains, nil
	case "STARTSWITH":
		return OpStartsWith, nil
	default:
		return 0, gverrors.Newf(gverrors.BadArgument, "filterlang: unknown operator %q", text)
	}
}

func (p *parser) parseLiteral() (metadata.Value, error) {
	var v metadata.Value
	switch p.tok.Kind {
	case TokInt:
		v = metadata.Int64(p.tok.Int)
	case TokFloat:
		v = metadata.Float64(p.tok.Flt)
	case TokBool:
		v = metadata.Bool(p.tok.Bool)
	case TokString:
		v = metadata.String(p.tok.Text)
	default:
		return v, gverrors.Newf(gverrors.BadArgument, "filterlang: expected literal, got %q", p.tok.Text)
	}
	if err := p.next(); err != nil {
		return v, err
	}
	return v, nil
}
