package calc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokName
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

// unsupportedOps maps operator spellings outside the whitelist to the name of
// the construct they introduce.
var unsupportedOps = []struct {
	op        string
	construct string
}{
	{"==", "Compare"},
	{"!=", "Compare"},
	{"<=", "Compare"},
	{">=", "Compare"},
	{"<<", "BitOp"},
	{">>", "BitOp"},
	{":=", "Assign"},
	{"<", "Compare"},
	{">", "Compare"},
	{"=", "Assign"},
	{"&", "BitOp"},
	{"|", "BitOp"},
	{"^", "BitOp"},
	{"~", "BitOp"},
	{".", "Attribute"},
	{"[", "Subscript"},
	{"]", "Subscript"},
	{",", "Tuple"},
	{"'", "String"},
	{`"`, "String"},
	{"@", "MatMult"},
	{"{", "Dict"},
	{"}", "Dict"},
}

// keywordConstructs rejects Python-style keywords that would otherwise lex as
// variable names.
var keywordConstructs = map[string]string{
	"and":    "BoolOp",
	"or":     "BoolOp",
	"not":    "BoolOp",
	"is":     "Compare",
	"in":     "Compare",
	"if":     "IfExp",
	"else":   "IfExp",
	"lambda": "Lambda",
}

func unsupported(construct string) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, construct)
}

func lex(src string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			j := scanNumber(src, i)
			v, err := strconv.ParseFloat(strings.ReplaceAll(src[i:j], "_", ""), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalid, src)
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[i:j], num: v})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			name := src[i:j]
			if construct, ok := keywordConstructs[name]; ok {
				return nil, unsupported(construct)
			}
			tokens = append(tokens, token{kind: tokName, text: name})
			i = j
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")"})
			i++
		default:
			if op, n := matchOp(src[i:]); n > 0 {
				tokens = append(tokens, token{kind: tokOp, text: op})
				i += n
				continue
			}
			for _, u := range unsupportedOps {
				if len(src)-i >= len(u.op) && src[i:i+len(u.op)] == u.op {
					return nil, unsupported(u.construct)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrInvalid, src)
		}
	}
	return tokens, nil
}

func matchOp(s string) (string, int) {
	for _, op := range []string{"**", "//", "+", "-", "*", "/", "%"} {
		if len(s) >= len(op) && s[:len(op)] == op {
			return op, len(op)
		}
	}
	return "", 0
}

// scanNumber returns the end of the numeric literal starting at i. Single
// underscores between digits are accepted as separators (1_000).
func scanNumber(src string, i int) int {
	j := scanDigits(src, i)
	if j < len(src) && src[j] == '.' {
		j = scanDigits(src, j+1)
	}
	if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
		k := j + 1
		if k < len(src) && (src[k] == '+' || src[k] == '-') {
			k++
		}
		if k < len(src) && isDigit(src[k]) {
			j = scanDigits(src, k)
		}
	}
	return j
}

func scanDigits(src string, j int) int {
	for j < len(src) {
		switch {
		case isDigit(src[j]):
			j++
		case src[j] == '_' && j > 0 && isDigit(src[j-1]) && j+1 < len(src) && isDigit(src[j+1]):
			j++
		default:
			return j
		}
	}
	return j
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

// node is an evaluable AST node.
type node interface{}

type numNode struct{ v float64 }

type nameNode struct{ name string }

type unaryNode struct {
	op string
	x  node
}

type binaryNode struct {
	op   string
	l, r node
}

// parser is a recursive-descent parser with the usual arithmetic precedence:
//
//	expr   := term (('+'|'-') term)*
//	term   := unary (('*'|'/'|'//'|'%') unary)*
//	unary  := ('+'|'-') unary | power
//	power  := atom ['**' unary]
//	atom   := NUMBER | NAME | '(' expr ')'
type parser struct {
	tokens []token
	pos    int
	src    string
}

func (p *parser) parse() (node, error) {
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, p.invalid()
	}
	return n, nil
}

func (p *parser) invalid() error {
	return fmt.Errorf("%w: %s", ErrInvalid, p.src)
}

func (p *parser) peekOp(ops ...string) (string, bool) {
	if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if p.tokens[p.pos].text == op {
			return op, true
		}
	}
	return "", false
}

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOp("+", "-")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, l: left, r: right}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.peekOp("*", "/", "//", "%")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, l: left, r: right}
	}
}

func (p *parser) unary() (node, error) {
	if op, ok := p.peekOp("+", "-"); ok {
		p.pos++
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, x: x}, nil
	}
	return p.power()
}

func (p *parser) power() (node, error) {
	base, err := p.atom()
	if err != nil {
		return nil, err
	}
	if _, ok := p.peekOp("**"); ok {
		p.pos++
		exp, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: "**", l: base, r: exp}, nil
	}
	return base, nil
}

func (p *parser) atom() (node, error) {
	if p.pos >= len(p.tokens) {
		return nil, p.invalid()
	}
	t := p.tokens[p.pos]
	switch t.kind {
	case tokNumber:
		p.pos++
		return &numNode{v: t.num}, nil
	case tokName:
		p.pos++
		if p.pos < len(p.tokens) && p.tokens[p.pos].kind == tokLParen {
			return nil, unsupported("Call")
		}
		return &nameNode{name: t.text}, nil
	case tokLParen:
		p.pos++
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tokRParen {
			return nil, p.invalid()
		}
		p.pos++
		return inner, nil
	default:
		return nil, p.invalid()
	}
}

func eval(n node, vars map[string]float64, used map[string]float64) (float64, error) {
	switch n := n.(type) {
	case *numNode:
		return n.v, nil
	case *nameNode:
		v, ok := vars[n.name]
		if !ok {
			return 0, &UnknownVariableError{Name: n.name}
		}
		used[n.name] = v
		return v, nil
	case *unaryNode:
		x, err := eval(n.x, vars, used)
		if err != nil {
			return 0, err
		}
		if n.op == "-" {
			return -x, nil
		}
		return x, nil
	case *binaryNode:
		l, err := eval(n.l, vars, used)
		if err != nil {
			return 0, err
		}
		r, err := eval(n.r, vars, used)
		if err != nil {
			return 0, err
		}
		return apply(n.op, l, r)
	default:
		return 0, unsupported(fmt.Sprintf("%T", n))
	}
}

func apply(op string, l, r float64) (float64, error) {
	switch op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, ErrDivisionByZero
		}
		return l / r, nil
	case "//":
		if r == 0 {
			return 0, ErrDivisionByZero
		}
		return math.Floor(l / r), nil
	case "%":
		if r == 0 {
			return 0, ErrDivisionByZero
		}
		m := math.Mod(l, r)
		if m != 0 && (m < 0) != (r < 0) {
			m += r
		}
		return m, nil
	case "**":
		if l == 0 && r < 0 {
			return 0, ErrDivisionByZero
		}
		if l < 0 && r != math.Trunc(r) {
			return 0, unsupported("complex result")
		}
		return math.Pow(l, r), nil
	default:
		return 0, unsupported(op)
	}
}
