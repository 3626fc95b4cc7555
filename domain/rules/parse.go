package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"gomatter/domain/material"
)

// ParsePredicate parses a predicate description such as
//
//	band_gap > 3.0
//	energy_above_hull < 0.05 and formation_energy <= 0
//	band_gap in [1.1, 1.7]
//	charge_neutral == false
//	crystal_system == "cubic" or not (is_metal == true)
func ParsePredicate(text string) (Expr, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, fmt.Errorf("predicate %q: %w", text, err)
	}
	p := &predParser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("predicate %q: %w", text, err)
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("predicate %q: unexpected %q", text, p.peek().text)
	}
	return e, nil
}

// LegacyCondition is the structured threshold form written by the extraction tooling
type LegacyCondition struct {
	Property    string
	Operator    string
	Threshold   *float64
	RangeStart  *float64
	RangeEnd    *float64
	Uncertainty float64
}

// legacyEqualSlack is added to the stated uncertainty for "=" conditions
const legacyEqualSlack = 0.1

// FromLegacy converts a structured threshold condition into an expression
func FromLegacy(c LegacyCondition) (Expr, error) {
	field := NormalizeField(c.Property)
	if field == "" {
		return nil, fmt.Errorf("legacy condition has no property")
	}
	op := strings.TrimSpace(c.Operator)
	switch op {
	case "in_range", "range", "between":
		if c.RangeStart == nil || c.RangeEnd == nil {
			return nil, fmt.Errorf("range condition on %s needs range_start and range_end", field)
		}
		lo, hi := *c.RangeStart, *c.RangeEnd
		if lo > hi {
			lo, hi = hi, lo
		}
		return Range{Field: field, Lo: lo, Hi: hi}, nil
	case "=", "==":
		if c.Threshold == nil {
			return nil, fmt.Errorf("condition on %s has no threshold_value", field)
		}
		return Approx{Field: field, Target: *c.Threshold, Tolerance: c.Uncertainty + legacyEqualSlack}, nil
	case ">", ">=", "<", "<=", "!=":
		if c.Threshold == nil {
			return nil, fmt.Errorf("condition on %s has no threshold_value", field)
		}
		return Compare{Field: field, Op: Op(op), Value: material.Number(*c.Threshold)}, nil
	default:
		return nil, fmt.Errorf("unsupported operator %q on %s", c.Operator, field)
	}
}

// NormalizeField lowercases a property name and replaces spaces and dashes with underscores
func NormalizeField(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokComma
	tokAnd
	tokOr
	tokNot
	tokIn
)

type token struct {
	kind tokKind
	text string
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case r == '[':
			toks = append(toks, token{tokLBrack, "["})
			i++
		case r == ']':
			toks = append(toks, token{tokRBrack, "]"})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case r == '≥':
			toks = append(toks, token{tokOp, ">="})
			i++
		case r == '≤':
			toks = append(toks, token{tokOp, "<="})
			i++
		case r == '&' && i+1 < len(rs) && rs[i+1] == '&':
			toks = append(toks, token{tokAnd, "&&"})
			i += 2
		case r == '|' && i+1 < len(rs) && rs[i+1] == '|':
			toks = append(toks, token{tokOr, "||"})
			i += 2
		case r == '>' || r == '<' || r == '=' || r == '!':
			if i+1 < len(rs) && rs[i+1] == '=' {
				op := string(rs[i : i+2])
				toks = append(toks, token{tokOp, op})
				i += 2
				continue
			}
			switch r {
			case '!':
				toks = append(toks, token{tokNot, "!"})
			case '=':
				toks = append(toks, token{tokOp, "=="})
			default:
				toks = append(toks, token{tokOp, string(r)})
			}
			i++
		case r == '"' || r == '\'':
			j := i + 1
			for j < len(rs) && rs[j] != r {
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated string")
			}
			toks = append(toks, token{tokString, string(rs[i+1 : j])})
			i = j + 1
		case unicode.IsDigit(r) || r == '.' || ((r == '-' || r == '+') && i+1 < len(rs) && (unicode.IsDigit(rs[i+1]) || rs[i+1] == '.')):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.' || rs[j] == 'e' || rs[j] == 'E' ||
				((rs[j] == '-' || rs[j] == '+') && (rs[j-1] == 'e' || rs[j-1] == 'E'))) {
				j++
			}
			toks = append(toks, token{tokNumber, string(rs[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_') {
				j++
			}
			word := string(rs[i:j])
			switch strings.ToLower(word) {
			case "and":
				toks = append(toks, token{tokAnd, word})
			case "or":
				toks = append(toks, token{tokOr, word})
			case "not":
				toks = append(toks, token{tokNot, word})
			case "in":
				toks = append(toks, token{tokIn, word})
			default:
				toks = append(toks, token{tokIdent, word})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", r)
		}
	}
	return append(toks, token{kind: tokEOF}), nil
}

type predParser struct {
	toks []token
	pos  int
}

func (p *predParser) peek() token { return p.toks[p.pos] }

func (p *predParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *predParser) expect(k tokKind, what string) (token, error) {
	t := p.next()
	if t.kind != k {
		if t.kind == tokEOF {
			return t, fmt.Errorf("expected %s, got end of input", what)
		}
		return t, fmt.Errorf("expected %s, got %q", what, t.text)
	}
	return t, nil
}

func (p *predParser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.peek().kind == tokOr {
		p.next()
		t, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return Or{Terms: terms}, nil
}

func (p *predParser) parseAnd() (Expr, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.peek().kind == tokAnd {
		p.next()
		t, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return And{Terms: terms}, nil
}

func (p *predParser) parseUnary() (Expr, error) {
	switch p.peek().kind {
	case tokNot:
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Term: inner}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return p.parseCondition()
	}
}

func (p *predParser) parseCondition() (Expr, error) {
	id, err := p.expect(tokIdent, "property name")
	if err != nil {
		return nil, err
	}
	field := NormalizeField(id.text)

	if p.peek().kind == tokIn {
		p.next()
		if _, err := p.expect(tokLBrack, "'['"); err != nil {
			return nil, err
		}
		lo, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokComma, "','"); err != nil {
			return nil, err
		}
		hi, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRBrack, "']'"); err != nil {
			return nil, err
		}
		if lo > hi {
			return nil, fmt.Errorf("empty range [%s, %s] on %s", fmtNum(lo), fmtNum(hi), field)
		}
		return Range{Field: field, Lo: lo, Hi: hi}, nil
	}

	opTok, err := p.expect(tokOp, "comparison operator")
	if err != nil {
		return nil, err
	}
	op := Op(opTok.text)

	lit := p.next()
	var val material.Value
	switch lit.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(lit.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", lit.text)
		}
		val = material.Number(f)
	case tokString:
		val = material.Text(lit.text)
	case tokIdent:
		switch strings.ToLower(lit.text) {
		case "true":
			val = material.Bool(true)
		case "false":
			val = material.Bool(false)
		default:
			val = material.Text(lit.text)
		}
	default:
		return nil, fmt.Errorf("expected value after %s", op)
	}

	if val.Kind != material.KindNumber && op != OpEQ && op != OpNE {
		return nil, fmt.Errorf("operator %s needs a numeric value on %s", op, field)
	}
	return Compare{Field: field, Op: op, Value: val}, nil
}

func (p *predParser) parseNumber() (float64, error) {
	t, err := p.expect(tokNumber, "number")
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", t.text)
	}
	return f, nil
}
