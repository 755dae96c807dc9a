// Package filterlang implements a small boolean filter language over row
// metadata: a hand-written lexer, recursive-descent parser, and
// tree-walking evaluator.
package filterlang

import (
	"strconv"
	"strings"

	"github.com/jaywyawhare/gigavector/pkg/gverrors"
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokInt
	TokFloat
	TokString
	TokBool
	TokAnd
	TokOr
	TokNot
	TokLParen
	TokRParen
	TokOp // ==, !=, <, <=, >, >=, CONTAINS, STARTSWITH
)

// Token is a single lexical unit with its source text preserved for
// error messages.
type Token struct {
	Kind TokenKind
	Text string
	Int  int64
	Flt  float64
	Bool bool
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src)}
}

func (l *lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) advance() rune {
	r := l.peek()
	l.pos++
	return r
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t' || l.src[l.pos] == '\n' || l.src[l.pos] == '\r') {
		l.pos++
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9') || r == '.'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Next returns the next token in the stream.
func (l *lexer) Next() (Token, error) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return Token{Kind: TokEOF}, nil
	}

	r := l.peek()

	switch r {
	case '(':
		l.advance()
		return Token{Kind: TokLParen, Text: "("}, nil
	case ')':
		l.advance()
		return Token{Kind: TokRParen, Text: ")"}, nil
	case '"', '\'':
		return l.lexString(r)
	}

	if isDigit(r) || (r == '-' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])) {
		return l.lexNumber()
	}

	if isIdentStart(r) {
		return l.lexIdentOrKeyword()
	}

	if r == '=' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
		l.pos += 2
		return Token{Kind: TokOp, Text: "=="}, nil
	}
	if r == '!' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
		l.pos += 2
		return Token{Kind: TokOp, Text: "!="}, nil
	}
	if r == '<' {
		l.advance()
		if l.peek() == '=' {
			l.advance()
			return Token{Kind: TokOp, Text: "<="}, nil
		}
		return Token{Kind: TokOp, Text: "<"}, nil
	}
	if r == '>' {
		l.advance()
		if l.peek() == '=' {
			l.advance()
			return Token{Kind: TokOp, Text: ">="}, nil
		}
		return Token{Kind: TokOp, Text: ">"}, nil
	}

	return Token{}, gverrors.Newf(gverrors.BadArgument, "filterlang: unexpected character %q", r)
}

func (l *lexer) lexString(quote rune) (Token, error) {
	l.advance() // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return Token{}, gverrors.New(gverrors.BadArgument, "filterlang: unterminated string literal")
		}
		r := l.advance()
		if r == quote {
			return Token{Kind: TokString, Text: sb.String()}, nil
		}
		if r == '\\' && l.pos < len(l.src) {
			sb.WriteRune(l.advance())
			continue
		}
		sb.WriteRune(r)
	}
}

func (l *lexer) lexNumber() (Token, error) {
	start := l.pos
	if l.peek() == '-' {
		l.advance()
	}
	isFloat := false
	for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
		if l.src[l.pos] == '.' {
			isFloat = true
		}
		l.pos++
	}
	text := string(l.src[start:l.pos])
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Token{}, gverrors.Newf(gverrors.BadArgument, "filterlang: invalid float literal %q", text)
		}
		return Token{Kind: TokFloat, Text: text, Flt: f}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Token{}, gverrors.Newf(gverrors.BadArgument, "filterlang: invalid int literal %q", text)
	}
	return Token{Kind: TokInt, Text: text, Int: n}, nil
}

func (l *lexer) lexIdentOrKeyword() (Token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	text := string(l.src[start:l.pos])
	upper := strings.ToUpper(text)
	switch upper {
	case "AND":
		return Token{Kind: TokAnd, Text: text}, nil
	case "OR":
		return Token{Kind: TokOr, Text: text}, nil
	case "NOT":
		return Token{Kind: TokNot, Text: text}, nil
	case "CONTAINS", "STARTSWITH":
		return Token{Kind: TokOp, Text: upper}, nil
	case "TRUE":
		return Token{Kind: TokBool, Text: text, Bool: true}, nil
	case "FALSE":
		return Token{Kind: TokBool, Text: text, Bool: false}, nil
	default:
		return Token{Kind: TokIdent, Text: text}, nil
	}
}
