package query

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdent
	TokenString
	TokenNumber
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenEq
	TokenNe
	TokenGt
	TokenGe
	TokenLt
	TokenLe
	TokenAnd
	TokenOr
	TokenNot
	TokenIn
	TokenBetween
	TokenIs
	TokenNull
	TokenLike
	TokenILike
	TokenTrue
	TokenFalse
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "end of input",
	TokenIdent:    "identifier",
	TokenString:   "string",
	TokenNumber:   "number",
	TokenLParen:   "'('",
	TokenRParen:   "')'",
	TokenLBracket: "'['",
	TokenRBracket: "']'",
	TokenComma:    "','",
	TokenEq:       "'='",
	TokenNe:       "'!='",
	TokenGt:       "'>'",
	TokenGe:       "'>='",
	TokenLt:       "'<'",
	TokenLe:       "'<='",
	TokenAnd:      "AND",
	TokenOr:       "OR",
	TokenNot:      "NOT",
	TokenIn:       "IN",
	TokenBetween:  "BETWEEN",
	TokenIs:       "IS",
	TokenNull:     "NULL",
	TokenLike:     "LIKE",
	TokenILike:    "ILIKE",
	TokenTrue:     "TRUE",
	TokenFalse:    "FALSE",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

var keywords = map[string]TokenType{
	"AND":     TokenAnd,
	"OR":      TokenOr,
	"NOT":     TokenNot,
	"IN":      TokenIn,
	"BETWEEN": TokenBetween,
	"IS":      TokenIs,
	"NULL":    TokenNull,
	"LIKE":    TokenLike,
	"ILIKE":   TokenILike,
	"TRUE":    TokenTrue,
	"FALSE":   TokenFalse,
}

type Token struct {
	Type  TokenType
	Value string
	// byte offset in the input
	Pos int
}

// SyntaxError reports a lexing or parsing failure at a byte offset.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

// Tokenize splits a query string into tokens, always terminated by a
// TokenEOF.
func Tokenize(input string) ([]Token, error) {
	var tokens []Token
	pos := 0
	for pos < len(input) {
		r, size := utf8.DecodeRuneInString(input[pos:])
		if unicode.IsSpace(r) {
			pos += size
			continue
		}

		start := pos
		switch {
		case r == '(':
			tokens = append(tokens, Token{TokenLParen, "(", start})
			pos++
		case r == ')':
			tokens = append(tokens, Token{TokenRParen, ")", start})
			pos++
		case r == '[':
			tokens = append(tokens, Token{TokenLBracket, "[", start})
			pos++
		case r == ']':
			tokens = append(tokens, Token{TokenRBracket, "]", start})
			pos++
		case r == ',':
			tokens = append(tokens, Token{TokenComma, ",", start})
			pos++
		case r == '=':
			tokens = append(tokens, Token{TokenEq, "=", start})
			pos++
		case r == '!':
			if !strings.HasPrefix(input[pos:], "!=") {
				return nil, &SyntaxError{Pos: start, Msg: "unexpected character '!'"}
			}
			tokens = append(tokens, Token{TokenNe, "!=", start})
			pos += 2
		case r == '>':
			if strings.HasPrefix(input[pos:], ">=") {
				tokens = append(tokens, Token{TokenGe, ">=", start})
				pos += 2
			} else {
				tokens = append(tokens, Token{TokenGt, ">", start})
				pos++
			}
		case r == '<':
			if strings.HasPrefix(input[pos:], "<=") {
				tokens = append(tokens, Token{TokenLe, "<=", start})
				pos += 2
			} else if strings.HasPrefix(input[pos:], "<>") {
				tokens = append(tokens, Token{TokenNe, "<>", start})
				pos += 2
			} else {
				tokens = append(tokens, Token{TokenLt, "<", start})
				pos++
			}
		case r == '"' || r == '\'':
			val, end, err := readString(input, pos)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{TokenString, val, start})
			pos = end
		case isDigit(r) || ((r == '-' || r == '.') && pos+1 < len(input) && isDigit(rune(input[pos+1]))):
			end := readNumber(input, pos)
			tokens = append(tokens, Token{TokenNumber, input[pos:end], start})
			pos = end
		case unicode.IsLetter(r) || r == '_':
			end := pos
			for end < len(input) {
				c, sz := utf8.DecodeRuneInString(input[end:])
				if !(unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '.') {
					break
				}
				end += sz
			}
			word := input[pos:end]
			if kw, ok := keywords[strings.ToUpper(word)]; ok {
				tokens = append(tokens, Token{kw, word, start})
			} else {
				tokens = append(tokens, Token{TokenIdent, word, start})
			}
			pos = end
		default:
			return nil, &SyntaxError{Pos: start, Msg: fmt.Sprintf("unexpected character %q", r)}
		}
	}
	tokens = append(tokens, Token{TokenEOF, "", len(input)})
	return tokens, nil
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// readString reads a quoted string starting at input[pos]. A backslash
// before the quote character or another backslash is removed; any other
// escape (eg "\%" in a LIKE pattern) is kept verbatim.
func readString(input string, pos int) (string, int, error) {
	quote := input[pos]
	var sb strings.Builder
	i := pos + 1
	for i < len(input) {
		c := input[i]
		if c == '\\' && i+1 < len(input) {
			next := input[i+1]
			if next == quote || next == '\\' {
				sb.WriteByte(next)
			} else {
				sb.WriteByte(c)
				sb.WriteByte(next)
			}
			i += 2
			continue
		}
		if c == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteByte(c)
		i++
	}
	return "", 0, &SyntaxError{Pos: pos, Msg: "unterminated string"}
}

func readNumber(input string, pos int) int {
	i := pos
	if input[i] == '-' {
		i++
	}
	seenDot := false
	for i < len(input) {
		c := input[i]
		if c == '.' && !seenDot {
			seenDot = true
		} else if c < '0' || c > '9' {
			break
		}
		i++
	}
	return i
}
