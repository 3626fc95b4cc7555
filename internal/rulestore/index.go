package rulestore

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"gomatter/domain/core"
	"gomatter/domain/rules"
)

const maxKeywordsPerRule = 10

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {}, "at": {},
	"to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "that": {}, "this": {}, "these": {},
	"those": {}, "than": {}, "then": {}, "when": {}, "which": {}, "have": {}, "from": {},
	"into": {}, "more": {}, "most": {}, "less": {}, "such": {}, "also": {}, "their": {},
	"there": {}, "they": {}, "them": {}, "will": {}, "would": {}, "should": {}, "could": {},
}

// Keywords extracts the normalized index keywords of a statement: lowercase words
// longer than three characters, stop words removed, first ten distinct in order.
func Keywords(statement string) []string {
	words := strings.FieldsFunc(strings.ToLower(statement), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	seen := make(map[string]struct{})
	var out []string
	for _, w := range words {
		if len(w) <= 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == maxKeywordsPerRule {
			break
		}
	}
	return out
}

// NormalizeKeyword applies the indexing normalization to a query term
func NormalizeKeyword(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}

// Snapshot is an immutable, fully built rule index. A new snapshot replaces the
// old one as a whole; readers holding the old pointer keep a consistent view.
type Snapshot struct {
	version  int64
	loadedAt time.Time

	rules      []rules.Rule
	byID       map[core.RuleID]int
	byCategory map[rules.Category][]core.RuleID
	byKeyword  map[string][]core.RuleID
	byApp      map[string][]core.RuleID
	byProperty map[string][]core.RuleID
	papers     map[string]PaperMeta
}

// GeneralApplication indexes the rules that name no application
const GeneralApplication = "general"

// Version increments with every successful rebuild
func (s *Snapshot) Version() int64 { return s.version }

// LoadedAt is when the snapshot was built
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Len returns the number of rules
func (s *Snapshot) Len() int { return len(s.rules) }

// All returns every rule ordered by id
func (s *Snapshot) All() []rules.Rule {
	out := make([]rules.Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Get returns a rule by id
func (s *Snapshot) Get(id core.RuleID) (rules.Rule, bool) {
	i, ok := s.byID[id]
	if !ok {
		return rules.Rule{}, false
	}
	return s.rules[i], true
}

// ByCategory returns the rules of a category ordered by id
func (s *Snapshot) ByCategory(c rules.Category) []rules.Rule {
	return s.resolve(s.byCategory[c])
}

// ByKeyword returns the rules indexed under a keyword ordered by id
func (s *Snapshot) ByKeyword(keyword string) []rules.Rule {
	return s.resolve(s.byKeyword[NormalizeKeyword(keyword)])
}

// ByApplication returns the rules tagged with an application domain ordered by id.
// GeneralApplication selects the untagged rules.
func (s *Snapshot) ByApplication(app string) []rules.Rule {
	return s.resolve(s.byApp[NormalizeKeyword(app)])
}

// ByProperty returns the rules whose predicate references a property ordered by id
func (s *Snapshot) ByProperty(field string) []rules.Rule {
	return s.resolve(s.byProperty[NormalizeKeyword(field)])
}

// Applications returns the indexed application domains, sorted
func (s *Snapshot) Applications() []string {
	out := make([]string, 0, len(s.byApp))
	for app := range s.byApp {
		out = append(out, app)
	}
	sort.Strings(out)
	return out
}

// AtLeast keeps the rules whose confidence reaches min, preserving order
func AtLeast(rs []rules.Rule, min float64) []rules.Rule {
	out := make([]rules.Rule, 0, len(rs))
	for _, r := range rs {
		if r.Confidence >= min {
			out = append(out, r)
		}
	}
	return out
}

// Papers returns the source metadata keyed by paper id
func (s *Snapshot) Papers() map[string]PaperMeta {
	out := make(map[string]PaperMeta, len(s.papers))
	for k, v := range s.papers {
		out[k] = v
	}
	return out
}

// CategoryCounts returns the number of rules per category
func (s *Snapshot) CategoryCounts() map[rules.Category]int {
	out := make(map[rules.Category]int, len(s.byCategory))
	for c, ids := range s.byCategory {
		out[c] = len(ids)
	}
	return out
}

func (s *Snapshot) resolve(ids []core.RuleID) []rules.Rule {
	out := make([]rules.Rule, 0, len(ids))
	for _, id := range ids {
		if i, ok := s.byID[id]; ok {
			out = append(out, s.rules[i])
		}
	}
	return out
}

// buildSnapshot indexes rules by id, category and keyword, then merges the
// persisted index entries that reference known rules. Unknown ids are returned.
func buildSnapshot(version int64, rs []rules.Rule, papers map[string]PaperMeta, persisted *indexRecord) (*Snapshot, []string) {
	sorted := make([]rules.Rule, len(rs))
	copy(sorted, rs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	snap := &Snapshot{
		version:    version,
		loadedAt:   time.Now().UTC(),
		rules:      sorted,
		byID:       make(map[core.RuleID]int, len(sorted)),
		byCategory: make(map[rules.Category][]core.RuleID),
		byKeyword:  make(map[string][]core.RuleID),
		byApp:      make(map[string][]core.RuleID),
		byProperty: make(map[string][]core.RuleID),
		papers:     papers,
	}
	if snap.papers == nil {
		snap.papers = map[string]PaperMeta{}
	}

	catSets := make(map[rules.Category]map[core.RuleID]struct{})
	kwSets := make(map[string]map[core.RuleID]struct{})
	add := func(sets map[string]map[core.RuleID]struct{}, key string, id core.RuleID) {
		if sets[key] == nil {
			sets[key] = make(map[core.RuleID]struct{})
		}
		sets[key][id] = struct{}{}
	}

	for i, r := range sorted {
		snap.byID[r.ID] = i
		if catSets[r.Category] == nil {
			catSets[r.Category] = make(map[core.RuleID]struct{})
		}
		catSets[r.Category][r.ID] = struct{}{}
		for _, kw := range Keywords(r.Statement) {
			add(kwSets, kw, r.ID)
		}
		for _, f := range r.Fields() {
			add(kwSets, f, r.ID)
		}
		for _, app := range r.Applications {
			add(kwSets, NormalizeKeyword(app), r.ID)
			snap.byApp[NormalizeKeyword(app)] = append(snap.byApp[NormalizeKeyword(app)], r.ID)
		}
		if len(r.Applications) == 0 {
			snap.byApp[GeneralApplication] = append(snap.byApp[GeneralApplication], r.ID)
		}
		for _, f := range r.Fields() {
			snap.byProperty[f] = append(snap.byProperty[f], r.ID)
		}
	}

	var unknown []string
	if persisted != nil {
		for catName, ids := range persisted.Category {
			cat, err := rules.ParseCategory(catName)
			if err != nil {
				continue
			}
			for _, raw := range ids {
				id := core.RuleID(raw)
				r, ok := snap.byID[id]
				if !ok {
					unknown = append(unknown, string(raw))
					continue
				}
				// a persisted entry cannot move a rule out of its own category
				if sorted[r].Category == cat {
					catSets[cat][id] = struct{}{}
				}
			}
		}
		for kw, ids := range persisted.Keyword {
			key := NormalizeKeyword(kw)
			for _, raw := range ids {
				id := core.RuleID(raw)
				if _, ok := snap.byID[id]; !ok {
					unknown = append(unknown, string(raw))
					continue
				}
				add(kwSets, key, id)
			}
		}
	}

	for c, set := range catSets {
		snap.byCategory[c] = sortedIDs(set)
	}
	for k, set := range kwSets {
		snap.byKeyword[k] = sortedIDs(set)
	}
	sort.Strings(unknown)
	return snap, dedupe(unknown)
}

func sortedIDs(set map[core.RuleID]struct{}) []core.RuleID {
	out := make([]core.RuleID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dedupe(sorted []string) []string {
	var out []string
	for _, s := range sorted {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	return out
}
