package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrEmptyQuery = errors.New("empty query")

// Parse parses a query string into an AST.
//
// Precedence from loosest to tightest is OR, AND, NOT, comparison, primary.
// Adjacent expressions without an operator are joined with AND. Bare words
// and quoted strings that are not part of a comparison become free-text
// terms, and neighbouring free-text terms are merged into one.
func Parse(input string) (Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyQuery
	}
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	return p.parse()
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) parse() (Node, error) {
	var root Node
	for p.peek().Type != TokenEOF {
		// a stray closing paren would otherwise loop forever
		if t := p.peek(); t.Type == TokenRParen || t.Type == TokenRBracket {
			return nil, p.errorf(t, "unexpected %s", t.Type)
		}
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		root = joinAnd(root, n)
	}
	if root == nil {
		return nil, ErrEmptyQuery
	}
	return root, nil
}

func (p *parser) peek() Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return Token{Type: TokenEOF}
}

func (p *parser) next() Token {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) expect(tt TokenType) (Token, error) {
	t := p.next()
	if t.Type != tt {
		return t, p.errorf(t, "expected %s, got %s", tt, t.Type)
	}
	return t, nil
}

func (p *parser) errorf(t Token, format string, args ...any) error {
	return &SyntaxError{Pos: t.Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: KindOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: KindAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.peek().Type == TokenNot {
		p.next()
		child, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: KindNot, Child: child}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[TokenType]Kind{
	TokenEq:    KindEq,
	TokenNe:    KindNe,
	TokenGt:    KindGt,
	TokenGe:    KindGe,
	TokenLt:    KindLt,
	TokenLe:    KindLe,
	TokenLike:  KindLike,
	TokenILike: KindILike,
}

func (p *parser) parseComparison() (Node, error) {
	if p.peek().Type == TokenLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		// implicit AND inside parens too
		for t := p.peek().Type; t != TokenRParen && t != TokenEOF && t != TokenRBracket; t = p.peek().Type {
			more, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			inner = joinAnd(inner, more)
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}

	start := p.peek()
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	field, isField := left.(*Field)
	op := p.peek()

	if kind, ok := comparisonOps[op.Type]; ok {
		if !isField {
			return nil, p.errorf(op, "left side of %s must be a field name", op.Type)
		}
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: kind, Left: field, Right: right}, nil
	}

	switch op.Type {
	case TokenIn:
		if !isField {
			return nil, p.errorf(op, "left side of IN must be a field name")
		}
		p.next()
		values, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return &InExpr{Field: field, Values: values}, nil

	case TokenNot:
		// only "field NOT IN|LIKE|ILIKE" binds here; otherwise NOT starts a new term
		if !isField {
			break
		}
		switch p.peekAt(1).Type {
		case TokenIn:
			p.next()
			p.next()
			values, err := p.parseList()
			if err != nil {
				return nil, err
			}
			return &InExpr{Field: field, Values: values, Negate: true}, nil
		case TokenLike, TokenILike:
			p.next()
			kind := comparisonOps[p.next().Type]
			right, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return &UnaryExpr{Op: KindNot, Child: &BinaryExpr{Op: kind, Left: field, Right: right}}, nil
		}

	case TokenBetween:
		if !isField {
			return nil, p.errorf(op, "left side of BETWEEN must be a field name")
		}
		p.next()
		lo, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.Type != TokenAnd {
			return nil, p.errorf(t, "expected AND after BETWEEN lower bound")
		}
		hi, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &RangeExpr{Field: field, Min: lo, Max: hi}, nil

	case TokenIs:
		if !isField {
			return nil, p.errorf(op, "left side of IS must be a field name")
		}
		p.next()
		negate := false
		if p.peek().Type == TokenNot {
			p.next()
			negate = true
		}
		if t := p.next(); t.Type != TokenNull {
			return nil, p.errorf(t, "expected NULL after IS")
		}
		if negate {
			return &UnaryExpr{Op: KindIsNotNull, Child: field}, nil
		}
		return &UnaryExpr{Op: KindIsNull, Child: field}, nil
	}

	// not a comparison: a bare word or string is a free-text term
	switch n := left.(type) {
	case *Field:
		return &FullText{Query: n.Name}, nil
	case *Literal:
		if s, ok := n.Value.(string); ok {
			return &FullText{Query: s}, nil
		}
		return &FullText{Query: start.Value}, nil
	}
	return left, nil
}

func (p *parser) peekAt(offset int) Token {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset]
	}
	return Token{Type: TokenEOF}
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	if t.Type == TokenIdent {
		p.next()
		return &Field{Name: t.Value}, nil
	}
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return &Literal{Value: v}, nil
}

func (p *parser) parseValue() (any, error) {
	t := p.next()
	switch t.Type {
	case TokenString:
		return t.Value, nil
	case TokenNumber:
		if strings.Contains(t.Value, ".") {
			f, err := strconv.ParseFloat(t.Value, 64)
			if err != nil {
				return nil, p.errorf(t, "invalid number %q", t.Value)
			}
			return f, nil
		}
		i, err := strconv.ParseInt(t.Value, 10, 64)
		if err != nil {
			return nil, p.errorf(t, "invalid number %q", t.Value)
		}
		return i, nil
	case TokenTrue:
		return true, nil
	case TokenFalse:
		return false, nil
	case TokenIdent:
		// unquoted words are allowed as values, eg: language IN (en, de)
		return t.Value, nil
	default:
		return nil, p.errorf(t, "unexpected %s", t.Type)
	}
}

// parseList parses "(a, b, c)" or "[a, b, c]".
func (p *parser) parseList() ([]any, error) {
	open := p.next()
	var closing TokenType
	switch open.Type {
	case TokenLParen:
		closing = TokenRParen
	case TokenLBracket:
		closing = TokenRBracket
	default:
		return nil, p.errorf(open, "expected ( or [ to start a list, got %s", open.Type)
	}

	values := []any{}
	for {
		t := p.peek()
		if t.Type == closing {
			p.next()
			return values, nil
		}
		if t.Type == TokenEOF {
			return nil, p.errorf(t, "unterminated list")
		}
		if t.Type == TokenComma {
			p.next()
			continue
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
}

// joinAnd combines two nodes with AND, merging adjacent free-text terms.
func joinAnd(left, right Node) Node {
	if left == nil {
		return right
	}
	if lt, ok := left.(*FullText); ok {
		if rt, ok := right.(*FullText); ok && len(lt.Fields) == 0 && len(rt.Fields) == 0 {
			return &FullText{Query: lt.Query + " " + rt.Query}
		}
	}
	// keep merging into the rightmost free-text term of an AND chain
	if b, ok := left.(*BinaryExpr); ok && b.Op == KindAnd {
		if _, ok := b.Right.(*FullText); ok {
			if _, ok := right.(*FullText); ok {
				return &BinaryExpr{Op: KindAnd, Left: b.Left, Right: joinAnd(b.Right, right)}
			}
		}
	}
	return &BinaryExpr{Op: KindAnd, Left: left, Right: right}
}
