// Package expr implements the condition language used by job and step "if"
// fields: a small typed expression tree evaluated against a fixed context.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// functions maps each builtin to its arity.
var functions = map[string]int{
	"success":    0,
	"failure":    0,
	"always":     0,
	"cancelled":  0,
	"contains":   2,
	"startsWith": 2,
	"endsWith":   2,
}

// Expr is a parsed condition.
type Expr struct {
	src  string
	root node
}

func (e *Expr) String() string { return e.src }

// Parse parses a condition. A surrounding "${{ }}" is optional.
func Parse(src string) (*Expr, error) {
	body := strings.TrimSpace(src)
	if strings.HasPrefix(body, "${{") && strings.HasSuffix(body, "}}") {
		body = strings.TrimSpace(body[3 : len(body)-2])
	}
	if body == "" {
		return nil, fmt.Errorf("empty expression")
	}

	toks, err := lex(body)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	}
	return &Expr{src: src, root: root}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(fmt.Sprintf("expr: %v", err))
	}
	return e
}

func lex(src string) ([]token, error) {
	var toks []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'' || c == '"':
			text, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text, pos: i})
			i = next
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			i++
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], pos: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && (isIdentStart(src[i]) || isDigit(src[i]) || src[i] == '-' || src[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], pos: start})
		default:
			op, ok := lexOperator(src[i:])
			if !ok {
				return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
			}
			toks = append(toks, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

// lexString reads a quoted string starting at src[start]. A doubled quote
// character inside the string stands for itself.
func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	for i := start + 1; i < len(src); i++ {
		if src[i] != quote {
			b.WriteByte(src[i])
			continue
		}
		if i+1 < len(src) && src[i+1] == quote {
			b.WriteByte(quote)
			i++
			continue
		}
		return b.String(), i + 1, nil
	}
	return "", 0, fmt.Errorf("unterminated string at offset %d", start)
}

func lexOperator(s string) (string, bool) {
	for _, op := range []string{"==", "!=", "&&", "||"} {
		if strings.HasPrefix(s, op) {
			return op, true
		}
	}
	switch s[0] {
	case '!', '(', ')', ',':
		return s[:1], true
	}
	return "", false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(op string) bool {
	if t := p.peek(); t.kind == tokOp && t.text == op {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept("&&") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.accept("!") {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{x: x}, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"==", "!="} {
		if p.accept(op) {
			right, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return compareNode{negate: op == "!=", left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return literalNode{v: Str(t.text)}, nil
	case tokNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at offset %d", t.text, t.pos)
		}
		return literalNode{v: Num(n)}, nil
	case tokIdent:
		if p.accept("(") {
			return p.parseCall(t)
		}
		return identFromToken(t)
	case tokOp:
		if t.text == "(" {
			x, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.accept(")") {
				return nil, fmt.Errorf("missing ) at offset %d", p.peek().pos)
			}
			return x, nil
		}
		return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
	default:
		return nil, fmt.Errorf("unexpected end of expression")
	}
}

func (p *parser) parseCall(name token) (node, error) {
	arity, ok := functions[name.text]
	if !ok {
		return nil, fmt.Errorf("unknown function %q at offset %d", name.text, name.pos)
	}
	var args []node
	if !p.accept(")") {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.accept(")") {
				break
			}
			if !p.accept(",") {
				return nil, fmt.Errorf("expected , or ) at offset %d", p.peek().pos)
			}
		}
	}
	if len(args) != arity {
		return nil, fmt.Errorf("%s() takes %d argument(s), got %d", name.text, arity, len(args))
	}
	return callNode{name: name.text, args: args}, nil
}

func identFromToken(t token) (node, error) {
	switch t.text {
	case "true":
		return literalNode{v: Boolean(true)}, nil
	case "false":
		return literalNode{v: Boolean(false)}, nil
	}
	path := strings.Split(t.text, ".")
	for _, seg := range path {
		if seg == "" {
			return nil, fmt.Errorf("malformed identifier %q at offset %d", t.text, t.pos)
		}
	}
	return identNode{path: path}, nil
}
