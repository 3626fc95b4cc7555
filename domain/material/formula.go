package material

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidFormula is returned when a formula cannot be parsed into element counts
var ErrInvalidFormula = errors.New("invalid formula")

// ElementCount is one (symbol, count) pair of a composition
type ElementCount struct {
	Symbol string  `json:"symbol"`
	Count  float64 `json:"count"`
}

// Composition is a parsed stoichiometry. Elements keep first-appearance order.
type Composition struct {
	Elements   []ElementCount `json:"elements"`
	Normalized string         `json:"normalized_formula"`
}

// ParseFormula parses strings such as "NaCl", "Fe3O4", "Ca(OH)2" or "Li0.5CoO2".
// Repeated symbols are merged into their first position.
func ParseFormula(formula string) (Composition, error) {
	s := strings.TrimSpace(formula)
	if s == "" {
		return Composition{}, fmt.Errorf("%w: empty formula", ErrInvalidFormula)
	}

	p := &formulaParser{src: []rune(s)}
	counts, order, err := p.parseGroup(0)
	if err != nil {
		return Composition{}, fmt.Errorf("%w: %q: %v", ErrInvalidFormula, formula, err)
	}
	if p.pos != len(p.src) {
		return Composition{}, fmt.Errorf("%w: %q: unexpected %q at position %d", ErrInvalidFormula, formula, p.src[p.pos], p.pos)
	}
	if len(order) == 0 {
		return Composition{}, fmt.Errorf("%w: %q: no elements", ErrInvalidFormula, formula)
	}

	elems := make([]ElementCount, 0, len(order))
	for _, sym := range order {
		if counts[sym] <= 0 {
			return Composition{}, fmt.Errorf("%w: %q: non-positive count for %s", ErrInvalidFormula, formula, sym)
		}
		elems = append(elems, ElementCount{Symbol: sym, Count: counts[sym]})
	}
	return NewComposition(elems), nil
}

// NewComposition builds a composition and its normalized formula string
func NewComposition(elems []ElementCount) Composition {
	cp := make([]ElementCount, len(elems))
	copy(cp, elems)
	return Composition{Elements: cp, Normalized: formatFormula(cp)}
}

type formulaParser struct {
	src []rune
	pos int
}

// parseGroup reads element/count tokens until the end of input or a closing bracket at depth > 0.
func (p *formulaParser) parseGroup(depth int) (map[string]float64, []string, error) {
	counts := make(map[string]float64)
	var order []string
	add := func(sym string, n float64) {
		if _, seen := counts[sym]; !seen {
			order = append(order, sym)
		}
		counts[sym] += n
	}

	for p.pos < len(p.src) {
		r := p.src[p.pos]
		switch {
		case r == '(' || r == '[':
			closing := ')'
			if r == '[' {
				closing = ']'
			}
			p.pos++
			inner, innerOrder, err := p.parseGroup(depth + 1)
			if err != nil {
				return nil, nil, err
			}
			if p.pos >= len(p.src) || p.src[p.pos] != closing {
				return nil, nil, fmt.Errorf("unbalanced %q", r)
			}
			p.pos++
			mult, err := p.parseCount()
			if err != nil {
				return nil, nil, err
			}
			for _, sym := range innerOrder {
				add(sym, inner[sym]*mult)
			}
		case r == ')' || r == ']':
			if depth == 0 {
				return nil, nil, fmt.Errorf("unbalanced %q", r)
			}
			return counts, order, nil
		case unicode.IsUpper(r):
			sym := string(r)
			p.pos++
			if p.pos < len(p.src) && unicode.IsLower(p.src[p.pos]) {
				sym += string(p.src[p.pos])
				p.pos++
			}
			if _, ok := LookupElement(sym); !ok {
				return nil, nil, fmt.Errorf("unknown element symbol %q", sym)
			}
			n, err := p.parseCount()
			if err != nil {
				return nil, nil, err
			}
			add(sym, n)
		default:
			return nil, nil, fmt.Errorf("unexpected %q at position %d", r, p.pos)
		}
	}
	return counts, order, nil
}

// parseCount reads an optional decimal count; absent means 1
func (p *formulaParser) parseCount() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && (unicode.IsDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 1, nil
	}
	n, err := strconv.ParseFloat(string(p.src[start:p.pos]), 64)
	if err != nil || n <= 0 || math.IsInf(n, 0) {
		return 0, fmt.Errorf("invalid count %q", string(p.src[start:p.pos]))
	}
	return n, nil
}

func formatFormula(elems []ElementCount) string {
	var b strings.Builder
	for _, e := range elems {
		b.WriteString(e.Symbol)
		if e.Count != 1 {
			b.WriteString(strconv.FormatFloat(e.Count, 'f', -1, 64))
		}
	}
	return b.String()
}

// Symbols returns the element symbols in order
func (c Composition) Symbols() []string {
	out := make([]string, len(c.Elements))
	for i, e := range c.Elements {
		out[i] = e.Symbol
	}
	return out
}

// NumElements returns the number of distinct elements
func (c Composition) NumElements() int {
	return len(c.Elements)
}

// TotalAtoms returns the sum of all counts
func (c Composition) TotalAtoms() float64 {
	var total float64
	for _, e := range c.Elements {
		total += e.Count
	}
	return total
}

// Fractions returns the atomic fraction of each element
func (c Composition) Fractions() map[string]float64 {
	total := c.TotalAtoms()
	out := make(map[string]float64, len(c.Elements))
	if total == 0 {
		return out
	}
	for _, e := range c.Elements {
		out[e.Symbol] = e.Count / total
	}
	return out
}

// Count returns the count of a symbol, zero when absent
func (c Composition) Count(symbol string) float64 {
	for _, e := range c.Elements {
		if e.Symbol == symbol {
			return e.Count
		}
	}
	return 0
}

// IsIntegral reports whether every count is a whole number
func (c Composition) IsIntegral() bool {
	for _, e := range c.Elements {
		if e.Count != math.Trunc(e.Count) {
			return false
		}
	}
	return true
}

// Reduced divides integral counts by their greatest common divisor.
// Fractional compositions are returned unchanged.
func (c Composition) Reduced() Composition {
	if !c.IsIntegral() || len(c.Elements) == 0 {
		return c
	}
	g := int64(c.Elements[0].Count)
	for _, e := range c.Elements[1:] {
		g = gcd(g, int64(e.Count))
	}
	if g <= 1 {
		return c
	}
	elems := make([]ElementCount, len(c.Elements))
	for i, e := range c.Elements {
		elems[i] = ElementCount{Symbol: e.Symbol, Count: e.Count / float64(g)}
	}
	return NewComposition(elems)
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return a
}

// String returns the normalized formula
func (c Composition) String() string {
	return c.Normalized
}
