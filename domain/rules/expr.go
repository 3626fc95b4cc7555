package rules

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gomatter/domain/material"
)

// Op is a comparison operator
type Op string

const (
	OpGT Op = ">"
	OpGE Op = ">="
	OpLT Op = "<"
	OpLE Op = "<="
	OpEQ Op = "=="
	OpNE Op = "!="
)

// Expr is a typed predicate over named properties.
// Eval returns false when a referenced field is absent or has the wrong kind.
type Expr interface {
	Eval(rec material.PropertyRecord) bool
	String() string
	appendFields(dst []string) []string
	// defined reports whether every referenced field is present with the kind its leaf compares
	defined(rec material.PropertyRecord) bool
}

// Fields returns the distinct property names referenced by e, sorted
func Fields(e Expr) []string {
	raw := e.appendFields(nil)
	sort.Strings(raw)
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if len(out) == 0 || out[len(out)-1] != f {
			out = append(out, f)
		}
	}
	return out
}

// Applicable reports whether every field e references is present in rec with
// the kind e compares it against. A text "n/a" where a number is expected is not applicable.
func Applicable(e Expr, rec material.PropertyRecord) bool {
	return e != nil && e.defined(rec)
}

func definedNumber(rec material.PropertyRecord, field string) bool {
	v, ok := rec.Number(field)
	return ok && !math.IsNaN(v)
}

func allDefined(terms []Expr, rec material.PropertyRecord) bool {
	for _, t := range terms {
		if !t.defined(rec) {
			return false
		}
	}
	return true
}

// Compare is `field op value`
type Compare struct {
	Field string
	Op    Op
	Value material.Value
}

func (c Compare) Eval(rec material.PropertyRecord) bool {
	got, ok := rec.Get(c.Field)
	if !ok || got.Kind != c.Value.Kind {
		return false
	}
	switch c.Value.Kind {
	case material.KindNumber:
		if math.IsNaN(got.Num) {
			return false
		}
		switch c.Op {
		case OpGT:
			return got.Num > c.Value.Num
		case OpGE:
			return got.Num >= c.Value.Num
		case OpLT:
			return got.Num < c.Value.Num
		case OpLE:
			return got.Num <= c.Value.Num
		case OpEQ:
			return got.Num == c.Value.Num
		case OpNE:
			return got.Num != c.Value.Num
		}
	case material.KindBool:
		switch c.Op {
		case OpEQ:
			return got.Bool == c.Value.Bool
		case OpNE:
			return got.Bool != c.Value.Bool
		}
	case material.KindText:
		switch c.Op {
		case OpEQ:
			return strings.EqualFold(got.Text, c.Value.Text)
		case OpNE:
			return !strings.EqualFold(got.Text, c.Value.Text)
		}
	}
	return false
}

func (c Compare) String() string {
	if c.Value.Kind == material.KindText {
		return fmt.Sprintf("%s %s %q", c.Field, c.Op, c.Value.Text)
	}
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, c.Value)
}

func (c Compare) appendFields(dst []string) []string { return append(dst, c.Field) }

func (c Compare) defined(rec material.PropertyRecord) bool {
	if c.Value.Kind == material.KindNumber {
		return definedNumber(rec, c.Field)
	}
	got, ok := rec.Get(c.Field)
	return ok && got.Kind == c.Value.Kind
}

// Range is `field in [Lo, Hi]`, inclusive on both ends
type Range struct {
	Field  string
	Lo, Hi float64
}

func (r Range) Eval(rec material.PropertyRecord) bool {
	v, ok := rec.Number(r.Field)
	return ok && v >= r.Lo && v <= r.Hi
}

func (r Range) String() string {
	return fmt.Sprintf("%s in [%s, %s]", r.Field, fmtNum(r.Lo), fmtNum(r.Hi))
}

func (r Range) appendFields(dst []string) []string { return append(dst, r.Field) }

func (r Range) defined(rec material.PropertyRecord) bool { return definedNumber(rec, r.Field) }

// Approx is `field ≈ Target` within Tolerance
type Approx struct {
	Field     string
	Target    float64
	Tolerance float64
}

func (a Approx) Eval(rec material.PropertyRecord) bool {
	v, ok := rec.Number(a.Field)
	return ok && math.Abs(v-a.Target) <= a.Tolerance
}

func (a Approx) String() string {
	return fmt.Sprintf("%s ~= %s +/- %s", a.Field, fmtNum(a.Target), fmtNum(a.Tolerance))
}

func (a Approx) appendFields(dst []string) []string { return append(dst, a.Field) }

func (a Approx) defined(rec material.PropertyRecord) bool { return definedNumber(rec, a.Field) }

// And holds when every term holds
type And struct{ Terms []Expr }

func (a And) Eval(rec material.PropertyRecord) bool {
	for _, t := range a.Terms {
		if !t.Eval(rec) {
			return false
		}
	}
	return len(a.Terms) > 0
}

func (a And) String() string { return joinTerms(a.Terms, " and ") }

func (a And) defined(rec material.PropertyRecord) bool { return allDefined(a.Terms, rec) }

func (a And) appendFields(dst []string) []string {
	for _, t := range a.Terms {
		dst = t.appendFields(dst)
	}
	return dst
}

// Or holds when any term holds
type Or struct{ Terms []Expr }

func (o Or) Eval(rec material.PropertyRecord) bool {
	for _, t := range o.Terms {
		if t.Eval(rec) {
			return true
		}
	}
	return false
}

func (o Or) String() string { return joinTerms(o.Terms, " or ") }

func (o Or) defined(rec material.PropertyRecord) bool { return allDefined(o.Terms, rec) }

func (o Or) appendFields(dst []string) []string {
	for _, t := range o.Terms {
		dst = t.appendFields(dst)
	}
	return dst
}

// Not negates a term. An absent or mistyped field still yields false rather than true.
type Not struct{ Term Expr }

func (n Not) Eval(rec material.PropertyRecord) bool {
	if !n.Term.defined(rec) {
		return false
	}
	return !n.Term.Eval(rec)
}

func (n Not) defined(rec material.PropertyRecord) bool { return n.Term.defined(rec) }

func (n Not) String() string { return "not (" + n.Term.String() + ")" }

func (n Not) appendFields(dst []string) []string { return n.Term.appendFields(dst) }

func joinTerms(terms []Expr, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		switch t.(type) {
		case And, Or:
			parts[i] = "(" + t.String() + ")"
		default:
			parts[i] = t.String()
		}
	}
	return strings.Join(parts, sep)
}

func fmtNum(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
