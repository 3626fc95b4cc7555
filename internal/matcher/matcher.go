package matcher

import (
	"sort"

	"gomatter/domain/core"
	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/internal/rulestore"
)

// Source provides the current rule index
type Source interface {
	Snapshot() *rulestore.Snapshot
}

// Matcher selects the rules whose predicate holds for a property record.
// It is pure: the same record, categories and snapshot always give the same ordered result.
type Matcher struct {
	source Source
}

// New creates a matcher over a rule source
func New(source Source) *Matcher {
	return &Matcher{source: source}
}

// Match returns the matching rules as (id, confidence, category) entries
func (m *Matcher) Match(rec material.PropertyRecord, categories rules.CategorySet) []rules.Match {
	matched := m.MatchRules(rec, categories)
	out := make([]rules.Match, len(matched))
	for i, r := range matched {
		out[i] = r.AsMatch()
	}
	return out
}

// MatchRules returns the full matching rules ordered by descending confidence, ties by id.
// Rules referencing a field absent from rec are skipped.
func (m *Matcher) MatchRules(rec material.PropertyRecord, categories rules.CategorySet) []rules.Rule {
	return MatchSnapshot(m.source.Snapshot(), rec, categories)
}

// Get resolves a rule id against the current snapshot
func (m *Matcher) Get(id core.RuleID) (rules.Rule, bool) {
	return m.source.Snapshot().Get(id)
}

// Score rates a record against an application domain using the current snapshot
func (m *Matcher) Score(rec material.PropertyRecord, domain string) Scorecard {
	return ScoreSnapshot(m.source.Snapshot(), rec, domain)
}

// Pin returns a view fixed to the current snapshot. Every query on the view
// answers from the same rule version, whatever rebuilds happen meanwhile.
func (m *Matcher) Pin() *View {
	return &View{snap: m.source.Snapshot()}
}

// View answers rule queries against one snapshot
type View struct {
	snap *rulestore.Snapshot
}

// NewView pins an explicit snapshot
func NewView(snap *rulestore.Snapshot) *View {
	return &View{snap: snap}
}

// Version is the pinned snapshot version
func (v *View) Version() int64 { return v.snap.Version() }

// MatchRules matches against the pinned snapshot
func (v *View) MatchRules(rec material.PropertyRecord, categories rules.CategorySet) []rules.Rule {
	return MatchSnapshot(v.snap, rec, categories)
}

// Get resolves a rule id against the pinned snapshot
func (v *View) Get(id core.RuleID) (rules.Rule, bool) {
	return v.snap.Get(id)
}

// Score rates a record against the pinned snapshot
func (v *View) Score(rec material.PropertyRecord, domain string) Scorecard {
	return ScoreSnapshot(v.snap, rec, domain)
}

// MatchSnapshot matches against one fixed snapshot
func MatchSnapshot(snap *rulestore.Snapshot, rec material.PropertyRecord, categories rules.CategorySet) []rules.Rule {
	var out []rules.Rule
	for _, c := range categories.Sorted() {
		for _, r := range snap.ByCategory(c) {
			if Applies(r, rec) {
				out = append(out, r)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Applies reports whether every field the rule needs is present and its predicate holds
func Applies(r rules.Rule, rec material.PropertyRecord) bool {
	if r.Predicate == nil {
		return false
	}
	return rules.Applicable(r.Predicate, rec) && r.Predicate.Eval(rec)
}
