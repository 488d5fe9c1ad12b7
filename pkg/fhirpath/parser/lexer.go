package parser

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokDate
	tokDateTime
	tokTime
	tokIdent    // bare or `delimited` identifier
	tokExternal // %name or %'quoted'
	tokKeyword  // and, or, xor, implies, in, contains, mod, div, as, is, true, false
	tokThis     // $this
	tokIndex    // $index
	tokTotal    // $total
	tokPunct    // operators and delimiters
)

type token struct {
	kind   tokenKind
	text   string // literal text, unescaped/unprefixed where applicable
	line   int
	column int
}

var keywords = map[string]bool{
	"and": true, "or": true, "xor": true, "implies": true,
	"in": true, "contains": true, "mod": true, "div": true,
	"as": true, "is": true, "true": true, "false": true,
}

type lexer struct {
	src    []rune
	pos    int
	line   int
	column int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src), line: 1, column: 1}
}

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekAt(offset int) rune {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return r
}

func (l *lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.src) {
		r := l.peekRune()
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			l.advance()
			continue
		}
		if r == '/' && l.peekAt(1) == '/' {
			for l.pos < len(l.src) && l.peekRune() != '\n' {
				l.advance()
			}
			continue
		}
		if r == '/' && l.peekAt(1) == '*' {
			l.advance()
			l.advance()
			for l.pos < len(l.src) && !(l.peekRune() == '*' && l.peekAt(1) == '/') {
				l.advance()
			}
			if l.pos < len(l.src) {
				l.advance()
				l.advance()
			}
			continue
		}
		break
	}
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
func isIdentPart(r rune) bool { return isIdentStart(r) || isDigit(r) }

// next returns the next token, or an error for unterminated strings/identifiers.
func (l *lexer) next() (token, error) {
	l.skipWhitespaceAndComments()
	line, col := l.line, l.column

	if l.pos >= len(l.src) {
		return token{kind: tokEOF, line: line, column: col}, nil
	}

	r := l.peekRune()

	switch {
	case r == '@':
		return l.lexDateTimeLiteral(line, col)
	case r == '\'':
		return l.lexString(line, col)
	case r == '`':
		return l.lexDelimitedIdent(line, col)
	case r == '%':
		return l.lexExternalConstant(line, col)
	case r == '$':
		return l.lexSpecialVariable(line, col)
	case isDigit(r):
		return l.lexNumber(line, col)
	case isIdentStart(r):
		return l.lexIdentOrKeyword(line, col)
	default:
		return l.lexPunct(line, col)
	}
}

func (l *lexer) lexString(line, col int) (token, error) {
	l.advance() // opening '
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("unterminated string literal at %d:%d", line, col)
		}
		r := l.advance()
		if r == '\'' {
			break
		}
		if r == '\\' {
			if l.pos >= len(l.src) {
				return token{}, fmt.Errorf("unterminated escape in string at %d:%d", line, col)
			}
			esc := l.advance()
			switch esc {
			case 'n':
				sb.WriteRune('\n')
			case 'r':
				sb.WriteRune('\r')
			case 't':
				sb.WriteRune('\t')
			case '\'':
				sb.WriteRune('\'')
			case '\\':
				sb.WriteRune('\\')
			case '`':
				sb.WriteRune('`')
			case '/':
				sb.WriteRune('/')
			default:
				sb.WriteRune(esc)
			}
			continue
		}
		sb.WriteRune(r)
	}
	return token{kind: tokString, text: sb.String(), line: line, column: col}, nil
}

func (l *lexer) lexDelimitedIdent(line, col int) (token, error) {
	l.advance() // opening `
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("unterminated delimited identifier at %d:%d", line, col)
		}
		r := l.advance()
		if r == '`' {
			break
		}
		sb.WriteRune(r)
	}
	return token{kind: tokIdent, text: sb.String(), line: line, column: col}, nil
}

func (l *lexer) lexExternalConstant(line, col int) (token, error) {
	l.advance() // %
	if l.peekRune() == '\'' {
		str, err := l.lexString(line, col)
		if err != nil {
			return token{}, err
		}
		return token{kind: tokExternal, text: str.text, line: line, column: col}, nil
	}
	var sb strings.Builder
	for l.pos < len(l.src) && isIdentPart(l.peekRune()) {
		sb.WriteRune(l.advance())
	}
	if sb.Len() == 0 {
		return token{}, fmt.Errorf("invalid external constant at %d:%d", line, col)
	}
	return token{kind: tokExternal, text: sb.String(), line: line, column: col}, nil
}

func (l *lexer) lexSpecialVariable(line, col int) (token, error) {
	l.advance() // $
	var sb strings.Builder
	for l.pos < len(l.src) && isIdentPart(l.peekRune()) {
		sb.WriteRune(l.advance())
	}
	switch sb.String() {
	case "this":
		return token{kind: tokThis, line: line, column: col}, nil
	case "index":
		return token{kind: tokIndex, line: line, column: col}, nil
	case "total":
		return token{kind: tokTotal, line: line, column: col}, nil
	default:
		return token{}, fmt.Errorf("unknown special variable $%s at %d:%d", sb.String(), line, col)
	}
}

// lexNumber handles integer, long (trailing L), and decimal literals, and
// also consumes a trailing quantity unit (quoted or calendar-duration
// keyword) to produce a quantity literal in one token.
func (l *lexer) lexNumber(line, col int) (token, error) {
	var sb strings.Builder
	for l.pos < len(l.src) && isDigit(l.peekRune()) {
		sb.WriteRune(l.advance())
	}
	if l.peekRune() == '.' && isDigit(l.peekAt(1)) {
		sb.WriteRune(l.advance())
		for l.pos < len(l.src) && isDigit(l.peekRune()) {
			sb.WriteRune(l.advance())
		}
	}
	if l.peekRune() == 'L' {
		l.advance()
		return token{kind: tokNumber, text: sb.String() + "L", line: line, column: col}, nil
	}
	return token{kind: tokNumber, text: sb.String(), line: line, column: col}, nil
}

// lexDateTimeLiteral consumes @-prefixed date/datetime/time literals,
// retaining the original text (without the leading @, and without the
// leading T for bare time literals) for precision-preserving evaluation.
func (l *lexer) lexDateTimeLiteral(line, col int) (token, error) {
	l.advance() // @
	if l.peekRune() == 'T' {
		l.advance()
		var sb strings.Builder
		for l.pos < len(l.src) && isTimeChar(l.peekRune()) {
			sb.WriteRune(l.advance())
		}
		return token{kind: tokTime, text: sb.String(), line: line, column: col}, nil
	}

	var sb strings.Builder
	for l.pos < len(l.src) && (isDigit(l.peekRune()) || l.peekRune() == '-') {
		sb.WriteRune(l.advance())
	}
	if l.peekRune() == 'T' {
		sb.WriteRune(l.advance())
		for l.pos < len(l.src) && isTimeChar(l.peekRune()) {
			sb.WriteRune(l.advance())
		}
		return token{kind: tokDateTime, text: sb.String(), line: line, column: col}, nil
	}
	return token{kind: tokDate, text: sb.String(), line: line, column: col}, nil
}

func isTimeChar(r rune) bool {
	return isDigit(r) || r == ':' || r == '.' || r == '+' || r == '-' || r == 'Z'
}

func (l *lexer) lexIdentOrKeyword(line, col int) (token, error) {
	var sb strings.Builder
	for l.pos < len(l.src) && isIdentPart(l.peekRune()) {
		sb.WriteRune(l.advance())
	}
	text := sb.String()
	if keywords[text] {
		return token{kind: tokKeyword, text: text, line: line, column: col}, nil
	}
	return token{kind: tokIdent, text: text, line: line, column: col}, nil
}

var multiCharPuncts = []string{"<=", ">=", "!=", "!~"}

func (l *lexer) lexPunct(line, col int) (token, error) {
	for _, mc := range multiCharPuncts {
		if l.hasPrefix(mc) {
			for range mc {
				l.advance()
			}
			return token{kind: tokPunct, text: mc, line: line, column: col}, nil
		}
	}
	r := l.advance()
	switch r {
	case '.', ',', '(', ')', '[', ']', '{', '}', '+', '-', '*', '/', '|', '=', '~', '<', '>', '&':
		return token{kind: tokPunct, text: string(r), line: line, column: col}, nil
	default:
		return token{}, fmt.Errorf("unexpected character %q at %d:%d", r, line, col)
	}
}

func (l *lexer) hasPrefix(s string) bool {
	runes := []rune(s)
	if l.pos+len(runes) > len(l.src) {
		return false
	}
	for i, r := range runes {
		if l.src[l.pos+i] != r {
			return false
		}
	}
	return true
}
