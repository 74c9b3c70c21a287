package chain

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// The condition language is deliberately tiny: dotted identifiers resolved
// against the chain context, literals, comparisons, "contains", and boolean
// connectives. There is no call syntax and no assignment, so conditions can
// never execute code.
//
//	grammar:
//	  expr    := or
//	  or      := and ("||" and)*
//	  and     := unary ("&&" unary)*
//	  unary   := "!" unary | comparison
//	  compare := term (("=="|"!="|"<"|"<="|">"|">="|"contains") term)?
//	  term    := ident | string | number | bool | "(" expr ")"

// EvalCondition evaluates expr over the context map and reports its truth.
func EvalCondition(expr string, ctx map[string]any) (bool, error) {
	p := &parser{tokens: tokenize(expr)}
	v, err := p.parseOr(ctx)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expr, err)
	}
	if !p.atEnd() {
		return false, fmt.Errorf("condition %q: unexpected %q", expr, p.peek())
	}
	return truthy(v), nil
}

type parser struct {
	tokens []string
	pos    int
}

func (p *parser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() string {
	if p.atEnd() {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) parseOr(ctx map[string]any) (any, error) {
	left, err := p.parseAnd(ctx)
	if err != nil {
		return nil, err
	}
	for p.peek() == "||" {
		p.next()
		right, err := p.parseAnd(ctx)
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *parser) parseAnd(ctx map[string]any) (any, error) {
	left, err := p.parseUnary(ctx)
	if err != nil {
		return nil, err
	}
	for p.peek() == "&&" {
		p.next()
		right, err := p.parseUnary(ctx)
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *parser) parseUnary(ctx map[string]any) (any, error) {
	if p.peek() == "!" {
		p.next()
		v, err := p.parseUnary(ctx)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return p.parseComparison(ctx)
}

func (p *parser) parseComparison(ctx map[string]any) (any, error) {
	left, err := p.parseTerm(ctx)
	if err != nil {
		return nil, err
	}
	op := p.peek()
	switch op {
	case "==", "!=", "<", "<=", ">", ">=", "contains":
		p.next()
		right, err := p.parseTerm(ctx)
		if err != nil {
			return nil, err
		}
		return compare(op, left, right)
	}
	return left, nil
}

func (p *parser) parseTerm(ctx map[string]any) (any, error) {
	t := p.peek()
	switch {
	case t == "":
		return nil, fmt.Errorf("unexpected end of expression")
	case t == "(":
		p.next()
		v, err := p.parseOr(ctx)
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return v, nil
	case t == "true":
		p.next()
		return true, nil
	case t == "false":
		p.next()
		return false, nil
	case strings.HasPrefix(t, `"`):
		p.next()
		return strings.Trim(t, `"`), nil
	case isNumber(t):
		p.next()
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t)
		}
		return n, nil
	case isIdentifier(t):
		p.next()
		return lookup(ctx, t), nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t)
	}
}

// lookup resolves a dotted path against the context. Missing segments
// resolve to nil, which is falsy and compares unequal to everything.
func lookup(ctx map[string]any, path string) any {
	var current any = ctx
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[segment]
	}
	return current
}

func compare(op string, left, right any) (any, error) {
	if op == "contains" {
		return contains(left, right)
	}
	ln, lok := asNumber(left)
	rn, rok := asNumber(right)
	if lok && rok {
		switch op {
		case "==":
			return ln == rn, nil
		case "!=":
			return ln != rn, nil
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		case ">":
			return ln > rn, nil
		case ">=":
			return ln >= rn, nil
		}
	}
	ls, rs := asString(left), asString(right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}

func contains(left, right any) (any, error) {
	needle := asString(right)
	switch l := left.(type) {
	case string:
		return strings.Contains(l, needle), nil
	case []any:
		for _, item := range l {
			if asString(item) == needle {
				return true, nil
			}
		}
		return false, nil
	case nil:
		return false, nil
	default:
		return strings.Contains(asString(left), needle), nil
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprintf("%v", s)
	}
}

func isNumber(t string) bool {
	if t == "" {
		return false
	}
	start := 0
	if t[0] == '-' {
		if len(t) == 1 {
			return false
		}
		start = 1
	}
	for _, r := range t[start:] {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return true
}

func isIdentifier(t string) bool {
	if t == "" {
		return false
	}
	for i, r := range t {
		switch {
		case unicode.IsLetter(r) || r == '_':
		case r == '.' || unicode.IsDigit(r):
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// tokenize splits the expression into operators, literals, and identifiers.
func tokenize(expr string) []string {
	var tokens []string
	runes := []rune(expr)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			tokens = append(tokens, string(r))
			i++
		case r == '"':
			j := i + 1
			for j < len(runes) && runes[j] != '"' {
				j++
			}
			if j < len(runes) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		case strings.ContainsRune("!=<>&|", r):
			j := i + 1
			for j < len(runes) && strings.ContainsRune("=&|", runes[j]) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		default:
			j := i
			for j < len(runes) && !unicode.IsSpace(runes[j]) &&
				!strings.ContainsRune(`()!=<>&|"`, runes[j]) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		}
	}
	return tokens
}
