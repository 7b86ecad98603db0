// Package calc implements a sandboxed arithmetic evaluator used by the
// calculate tool. Expressions are parsed into a small AST and evaluated in
// float64 over a caller-supplied variable map. Only numeric literals (1_000
// digit separators allowed), names, parentheses, unary +/- and the binary
// operators + - * / // % ** are accepted; everything else is rejected with
// ErrUnsupported.
package calc

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// LastResult is the reserved variable name bound to the previous
// calculation's value.
const LastResult = "LAST_RESULT"

var (
	// ErrUnsupported is returned when the expression uses a construct outside
	// the arithmetic whitelist. The wrapped message names the construct.
	ErrUnsupported = errors.New("unsupported operation")
	// ErrUnknownVariable is returned when the expression references a name
	// missing from the variable map.
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrInvalid is returned for malformed input.
	ErrInvalid = errors.New("invalid expression")
	// ErrDivisionByZero is returned by /, // and % with a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrEmpty is returned for blank input.
	ErrEmpty = errors.New("empty expression")
)

// Result is the outcome of a successful evaluation.
type Result struct {
	// Expression is the whitespace-normalised input.
	Expression string
	// Value is the evaluated float64 value.
	Value float64
	// VariablesUsed holds every variable the expression referenced and the
	// value it resolved to.
	VariablesUsed map[string]float64
}

// UnknownVariableError reports the first name that could not be resolved.
type UnknownVariableError struct {
	// Name is the unresolved variable.
	Name string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnknownVariable, e.Name)
}

// Unwrap lets errors.Is match ErrUnknownVariable.
func (e *UnknownVariableError) Unwrap() error { return ErrUnknownVariable }

// Evaluate parses expression and evaluates it against vars. vars is never
// modified.
func Evaluate(expression string, vars map[string]float64) (*Result, error) {
	normalized := Normalize(expression)
	if normalized == "" {
		return nil, ErrEmpty
	}

	tokens, err := lex(normalized)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, src: normalized}
	root, err := p.parse()
	if err != nil {
		return nil, err
	}

	used := make(map[string]float64)
	value, err := eval(root, vars, used)
	if err != nil {
		return nil, err
	}
	return &Result{Expression: normalized, Value: value, VariablesUsed: used}, nil
}

// Normalize collapses runs of whitespace to single spaces and trims the ends.
func Normalize(expression string) string {
	return strings.Join(strings.Fields(expression), " ")
}

// Variables returns the distinct variable names referenced by expression in
// order of first appearance. Malformed input yields nil.
func Variables(expression string) []string {
	tokens, err := lex(Normalize(expression))
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, t := range tokens {
		if t.kind == tokName && !seen[t.text] {
			seen[t.text] = true
			names = append(names, t.text)
		}
	}
	return names
}

// FormatValue renders v the way a float is conventionally printed in
// observations: integral values keep a trailing ".0" (320 becomes "320.0").
func FormatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	abs := math.Abs(v)
	if abs != 0 && (abs >= 1e16 || abs < 1e-4) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// FormatVariables renders vars as "K=V, K=V" sorted by key, or "<none>".
func FormatVariables(vars map[string]float64) string {
	if len(vars) == 0 {
		return "<none>"
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+FormatValue(vars[k]))
	}
	return strings.Join(parts, ", ")
}
