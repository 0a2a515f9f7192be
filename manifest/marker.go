package manifest

import (
	"fmt"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Environment supplies values for marker variables, keyed by variable
// name (python_version, sys_platform and friends).
type Environment map[string]string

// DefaultEnvironment describes a common linux CPython target. Callers
// overlay their own values on top of it.
func DefaultEnvironment() Environment {
	return Environment{
		"os_name":                        "posix",
		"sys_platform":                   "linux",
		"platform_machine":               "x86_64",
		"platform_python_implementation": "CPython",
		"platform_release":               "",
		"platform_system":                "Linux",
		"platform_version":               "",
		"python_version":                 "3.11",
		"python_full_version":            "3.11.0",
		"implementation_name":            "cpython",
		"implementation_version":         "3.11.0",
		"extra":                          "",
	}
}

var markerVarNames = map[string]bool{
	"os_name":                        true,
	"sys_platform":                   true,
	"platform_machine":               true,
	"platform_python_implementation": true,
	"platform_release":               true,
	"platform_system":                true,
	"platform_version":               true,
	"python_version":                 true,
	"python_full_version":            true,
	"implementation_name":            true,
	"implementation_version":         true,
	"extra":                          true,
}

func knownMarkerVar(name string) bool {
	return markerVarNames[name]
}

// EvalMarker evaluates an environment marker against env. Version valued
// variables compare by version ordering, everything else by string.
func EvalMarker(marker string, env Environment) (bool, error) {
	node, err := parseMarker(marker)
	if err != nil {
		return false, err
	}
	return node.eval(env)
}

// markerVariables lists the variables a marker references. Malformed
// markers yield nil.
func markerVariables(marker string) []string {
	toks, err := lexMarker(marker)
	if err != nil {
		return nil
	}
	var vars []string
	seen := map[string]bool{}
	for _, t := range toks {
		if t.kind != tokIdent {
			continue
		}
		if t.text == "and" || t.text == "or" || t.text == "in" || t.text == "not" {
			continue
		}
		if !seen[t.text] {
			seen[t.text] = true
			vars = append(vars, t.text)
		}
	}
	return vars
}

type markerTokenKind int

const (
	tokIdent markerTokenKind = iota
	tokString
	tokOp
	tokLParen
	tokRParen
)

type markerToken struct {
	kind markerTokenKind
	text string
}

func lexMarker(s string) ([]markerToken, error) {
	var toks []markerToken
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, markerToken{kind: tokLParen})
			i++
		case c == ')':
			toks = append(toks, markerToken{kind: tokRParen})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string")
			}
			toks = append(toks, markerToken{kind: tokString, text: s[i+1 : i+1+end]})
			i += end + 2
		case isMarkerOpChar(c):
			j := i
			for j < len(s) && isMarkerOpChar(s[j]) {
				j++
			}
			op := s[i:j]
			switch op {
			case "==", "!=", "<=", ">=", "<", ">", "~=", "===":
			default:
				return nil, fmt.Errorf("invalid operator %q", op)
			}
			toks = append(toks, markerToken{kind: tokOp, text: op})
			i = j
		case isIdentChar(c):
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			toks = append(toks, markerToken{kind: tokIdent, text: s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", string(c))
		}
	}
	return toks, nil
}

func isMarkerOpChar(c byte) bool {
	return c == '<' || c == '>' || c == '=' || c == '!' || c == '~'
}

func isIdentChar(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

type markerNode interface {
	eval(env Environment) (bool, error)
}

type orNode struct {
	left, right markerNode
}

func (n *orNode) eval(env Environment) (bool, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return n.right.eval(env)
}

type andNode struct {
	left, right markerNode
}

func (n *andNode) eval(env Environment) (bool, error) {
	l, err := n.left.eval(env)
	if err != nil {
		return false, err
	}
	if !l {
		return false, nil
	}
	return n.right.eval(env)
}

type markerOperand struct {
	text  string
	isVar bool
}

func (o markerOperand) value(env Environment) (string, error) {
	if !o.isVar {
		return o.text, nil
	}
	if !knownMarkerVar(o.text) {
		return "", fmt.Errorf("unknown marker variable %q", o.text)
	}
	v, ok := env[o.text]
	if !ok {
		return "", fmt.Errorf("no value for marker variable %q", o.text)
	}
	return v, nil
}

func (o markerOperand) versionLike() bool {
	if !o.isVar {
		return false
	}
	switch o.text {
	case "python_version", "python_full_version", "implementation_version":
		return true
	}
	return false
}

type cmpNode struct {
	lhs, rhs markerOperand
	op       string
}

func (n *cmpNode) eval(env Environment) (bool, error) {
	lhs, err := n.lhs.value(env)
	if err != nil {
		return false, err
	}
	rhs, err := n.rhs.value(env)
	if err != nil {
		return false, err
	}
	switch n.op {
	case "in":
		return strings.Contains(rhs, lhs), nil
	case "not in":
		return !strings.Contains(rhs, lhs), nil
	case "===":
		return lhs == rhs, nil
	}
	if n.lhs.versionLike() || n.rhs.versionLike() {
		lv, lerr := pep440.Parse(lhs)
		rv, rerr := pep440.Parse(rhs)
		if lerr == nil && rerr == nil {
			return compareVersions(lv, rv, n.op)
		}
	}
	return compareStrings(lhs, rhs, n.op)
}

func compareVersions(a, b pep440.Version, op string) (bool, error) {
	switch op {
	case "==":
		return a.Equal(b), nil
	case "!=":
		return !a.Equal(b), nil
	case "<":
		return a.LessThan(b), nil
	case "<=":
		return a.LessThanOrEqual(b), nil
	case ">":
		return a.GreaterThan(b), nil
	case ">=":
		return a.GreaterThanOrEqual(b), nil
	case "~=":
		spec, err := pep440.NewSpecifiers("~=" + b.String())
		if err != nil {
			return false, err
		}
		return spec.Check(a), nil
	}
	return false, fmt.Errorf("unsupported version operator %q", op)
}

func compareStrings(a, b, op string) (bool, error) {
	switch op {
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	case "<":
		return a < b, nil
	case "<=":
		return a <= b, nil
	case ">":
		return a > b, nil
	case ">=":
		return a >= b, nil
	case "~=":
		return false, fmt.Errorf("~= requires version operands")
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

// parseMarker builds the marker AST:
//
//	marker     := and_expr ("or" and_expr)*
//	and_expr   := expr ("and" expr)*
//	expr       := "(" marker ")" | operand op operand
func parseMarker(s string) (markerNode, error) {
	toks, err := lexMarker(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty marker")
	}
	p := &markerParser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected trailing tokens")
	}
	return node, nil
}

type markerParser struct {
	toks []markerToken
	pos  int
}

func (p *markerParser) parseOr() (markerNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchIdent("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

func (p *markerParser) parseAnd() (markerNode, error) {
	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	for p.matchIdent("and") {
		right, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *markerParser) parseExpr() (markerNode, error) {
	if p.match(tokLParen) {
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.match(tokRParen) {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return node, nil
	}
	lhs, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op, err := p.parseCmpOp()
	if err != nil {
		return nil, err
	}
	rhs, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &cmpNode{lhs: lhs, rhs: rhs, op: op}, nil
}

func (p *markerParser) parseOperand() (markerOperand, error) {
	if p.pos >= len(p.toks) {
		return markerOperand{}, fmt.Errorf("expected operand")
	}
	t := p.toks[p.pos]
	switch t.kind {
	case tokString:
		p.pos++
		return markerOperand{text: t.text}, nil
	case tokIdent:
		switch t.text {
		case "and", "or", "in", "not":
			return markerOperand{}, fmt.Errorf("unexpected keyword %q", t.text)
		}
		p.pos++
		return markerOperand{text: t.text, isVar: true}, nil
	}
	return markerOperand{}, fmt.Errorf("expected operand")
}

func (p *markerParser) parseCmpOp() (string, error) {
	if p.pos >= len(p.toks) {
		return "", fmt.Errorf("expected comparison operator")
	}
	t := p.toks[p.pos]
	if t.kind == tokOp {
		p.pos++
		return t.text, nil
	}
	if t.kind == tokIdent && t.text == "in" {
		p.pos++
		return "in", nil
	}
	if t.kind == tokIdent && t.text == "not" {
		p.pos++
		if p.pos < len(p.toks) && p.toks[p.pos].kind == tokIdent && p.toks[p.pos].text == "in" {
			p.pos++
			return "not in", nil
		}
		return "", fmt.Errorf(`expected "in" after "not"`)
	}
	return "", fmt.Errorf("expected comparison operator")
}

func (p *markerParser) match(kind markerTokenKind) bool {
	if p.pos < len(p.toks) && p.toks[p.pos].kind == kind {
		p.pos++
		return true
	}
	return false
}

func (p *markerParser) matchIdent(text string) bool {
	if p.pos < len(p.toks) && p.toks[p.pos].kind == tokIdent && p.toks[p.pos].text == text {
		p.pos++
		return true
	}
	return false
}
