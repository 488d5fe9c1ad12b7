// Package parser implements a hand-written recursive-descent parser for
// FHIRPath expressions, producing pkg/fhirpath/ast trees.
package parser

import (
	"fmt"
	"strings"

	"github.com/fhirkit/core/pkg/fhirpath/ast"
)

// calendarUnits are the bare-word time-valued units that can follow a
// number literal to form a quantity, per the FHIRPath grammar's
// pluralDateTimePrecision / dateTimePrecision productions.
var calendarUnits = map[string]bool{
	"year": true, "years": true,
	"month": true, "months": true,
	"week": true, "weeks": true,
	"day": true, "days": true,
	"hour": true, "hours": true,
	"minute": true, "minutes": true,
	"second": true, "seconds": true,
	"millisecond": true, "milliseconds": true,
}

// Parse compiles a FHIRPath expression string into an AST.
func Parse(expr string) (ast.Node, error) {
	p := &parser{lex: newLexer(expr)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("unexpected token %q at %d:%d", p.cur.text, p.cur.line, p.cur.column)
	}
	return node, nil
}

type parser struct {
	lex *lexer
	cur token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = t
	return nil
}

func (p *parser) isPunct(s string) bool {
	return p.cur.kind == tokPunct && p.cur.text == s
}

func (p *parser) isKeyword(s string) bool {
	return p.cur.kind == tokKeyword && p.cur.text == s
}

func (p *parser) expectPunct(s string) error {
	if !p.isPunct(s) {
		return fmt.Errorf("expected %q, got %q at %d:%d", s, p.cur.text, p.cur.line, p.cur.column)
	}
	return p.advance()
}

// parseExpression parses the full precedence chain, loosest first:
// implies < or/xor < and < in/contains < equality < inequality < union <
// additive < multiplicative < type < unary < invocation.
func (p *parser) parseExpression() (ast.Node, error) {
	return p.parseImplies()
}

func (p *parser) parseImplies() (ast.Node, error) {
	left, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("implies") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		left = ast.Implies{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseOr() (ast.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") || p.isKeyword("xor") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ast.Or{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Node, error) {
	left, err := p.parseMembership()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMembership()
		if err != nil {
			return nil, err
		}
		left = ast.And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMembership() (ast.Node, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("in") || p.isKeyword("contains") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = ast.Membership{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseEquality() (ast.Node, error) {
	left, err := p.parseInequality()
	if err != nil {
		return nil, err
	}
	for p.isPunct("=") || p.isPunct("!=") || p.isPunct("~") || p.isPunct("!~") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseInequality()
		if err != nil {
			return nil, err
		}
		left = ast.Equality{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseInequality() (ast.Node, error) {
	left, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	for p.isPunct("<") || p.isPunct("<=") || p.isPunct(">") || p.isPunct(">=") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		left = ast.Inequality{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnion() (ast.Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.isPunct("|") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = ast.Union{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (ast.Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") || p.isPunct("&") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = ast.Additive{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (ast.Node, error) {
	left, err := p.parseType()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") || p.isKeyword("div") || p.isKeyword("mod") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseType()
		if err != nil {
			return nil, err
		}
		left = ast.Multiplicative{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseType() (ast.Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("is") || p.isKeyword("as") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		typeName, err := p.parseTypeSpecifier()
		if err != nil {
			return nil, err
		}
		left = ast.TypeExpr{Op: op, Left: left, TypeName: typeName}
	}
	return left, nil
}

// parseTypeSpecifier parses a possibly qualified type name (e.g.
// FHIR.Patient or System.String) into a single dotted string.
func (p *parser) parseTypeSpecifier() (string, error) {
	if p.cur.kind != tokIdent && p.cur.kind != tokKeyword {
		return "", fmt.Errorf("expected type name, got %q at %d:%d", p.cur.text, p.cur.line, p.cur.column)
	}
	var sb strings.Builder
	sb.WriteString(p.cur.text)
	if err := p.advance(); err != nil {
		return "", err
	}
	for p.isPunct(".") {
		if err := p.advance(); err != nil {
			return "", err
		}
		if p.cur.kind != tokIdent && p.cur.kind != tokKeyword {
			return "", fmt.Errorf("expected identifier after '.' in type specifier at %d:%d", p.cur.line, p.cur.column)
		}
		sb.WriteString(".")
		sb.WriteString(p.cur.text)
		if err := p.advance(); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func (p *parser) parseUnary() (ast.Node, error) {
	if p.isPunct("+") || p.isPunct("-") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.Polarity{Op: op, Operand: operand}, nil
	}
	return p.parseInvocation()
}

// parseInvocation parses a term followed by zero or more `.step`, `[index]`
// suffixes -- the tightest-binding level.
func (p *parser) parseInvocation() (ast.Node, error) {
	node, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.isPunct("."):
			if err := p.advance(); err != nil {
				return nil, err
			}
			step, err := p.parseInvocationStep()
			if err != nil {
				return nil, err
			}
			node = ast.Invocation{Base: node, Step: step}
		case p.isPunct("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			node = ast.Indexer{Base: node, Index: index}
		default:
			return node, nil
		}
	}
}

// parseInvocationStep parses the right-hand side of a `.` -- a plain
// identifier, a function call, or one of the special $this/$index/$total
// invocations.
func (p *parser) parseInvocationStep() (ast.Node, error) {
	switch p.cur.kind {
	case tokThis:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.ThisInvocation{}, nil
	case tokIndex:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.IndexInvocation{}, nil
	case tokTotal:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.TotalInvocation{}, nil
	case tokIdent, tokKeyword:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isPunct("(") {
			return p.parseFunctionArgs(name)
		}
		return ast.Identifier{Name: name}, nil
	default:
		return nil, fmt.Errorf("expected identifier or function call after '.' at %d:%d", p.cur.line, p.cur.column)
	}
}

func (p *parser) parseFunctionArgs(name string) (ast.Node, error) {
	if err := p.advance(); err != nil { // consume '('
		return nil, err
	}
	var args []ast.Node
	if !p.isPunct(")") {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return ast.FunctionCall{Name: name, Args: args}, nil
}

// parseTerm parses a literal, parenthesized expression, identifier,
// function call, or special invocation in leading (non-`.`) position.
func (p *parser) parseTerm() (ast.Node, error) {
	switch p.cur.kind {
	case tokNumber:
		return p.parseNumberTerm()
	case tokString:
		v := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.StringLiteral{Value: v}, nil
	case tokDate:
		v := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.DateLiteral{Text: v}, nil
	case tokDateTime:
		v := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.DateTimeLiteral{Text: v}, nil
	case tokTime:
		v := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.TimeLiteral{Text: v}, nil
	case tokExternal:
		v := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.ExternalConstant{Name: v}, nil
	case tokThis:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.ThisInvocation{}, nil
	case tokIndex:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.IndexInvocation{}, nil
	case tokTotal:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.TotalInvocation{}, nil
	case tokKeyword:
		switch p.cur.text {
		case "true":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return ast.BooleanLiteral{Value: true}, nil
		case "false":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return ast.BooleanLiteral{Value: false}, nil
		default:
			// A keyword used as a plain identifier/function name, e.g. `as(...)`.
			name := p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.isPunct("(") {
				return p.parseFunctionArgs(name)
			}
			return ast.Identifier{Name: name}, nil
		}
	case tokIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isPunct("(") {
			return p.parseFunctionArgs(name)
		}
		return ast.Identifier{Name: name}, nil
	case tokPunct:
		switch p.cur.text {
		case "(":
			if err := p.advance(); err != nil {
				return nil, err
			}
			inner, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "{":
			return p.parseCollectionLiteral()
		}
	}
	return nil, fmt.Errorf("unexpected token %q at %d:%d", p.cur.text, p.cur.line, p.cur.column)
}

func (p *parser) parseCollectionLiteral() (ast.Node, error) {
	if err := p.advance(); err != nil { // consume '{'
		return nil, err
	}
	if p.isPunct("}") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.NullLiteral{}, nil
	}
	var items []ast.Node
	for {
		item, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct("}"); err != nil {
		return nil, err
	}
	return ast.CollectionLiteral{Items: items}, nil
}

// parseNumberTerm consumes a number literal and, if immediately followed by
// a quoted unit or a calendar-duration word, folds it into a quantity
// literal preserving the original source text.
func (p *parser) parseNumberTerm() (ast.Node, error) {
	numText := p.cur.text
	isLong := strings.HasSuffix(numText, "L")
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.cur.kind == tokString {
		full := numText + " '" + p.cur.text + "'"
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.QuantityLiteral{Text: full}, nil
	}
	if p.cur.kind == tokIdent && calendarUnits[p.cur.text] {
		full := numText + " " + p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.QuantityLiteral{Text: full}, nil
	}

	if isLong {
		return ast.NumberLiteral{Text: strings.TrimSuffix(numText, "L"), IsLong: true}, nil
	}
	return ast.NumberLiteral{Text: numText}, nil
}
