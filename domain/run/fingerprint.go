package run

import (
	"fmt"
	"sort"
	"strings"

	"gomatter/domain/core"
)

// Fingerprint hashes the structural outcome of a run: analysis findings, matched rules,
// hypotheses and verdict. Generated prose, run id and report text are excluded, so two
// runs over identical inputs and collaborator responses share a fingerprint.
func Fingerprint(s State) core.Hash {
	var b strings.Builder
	fmt.Fprintf(&b, "formula:%s|", s.Formula)

	for _, m := range s.MatchedRules {
		fmt.Fprintf(&b, "match:%s:%s:%.6f|", m.RuleID, m.Category, m.Confidence)
	}

	dims := make([]string, 0, len(s.Analysis))
	for d := range s.Analysis {
		dims = append(dims, string(d))
	}
	sort.Strings(dims)
	for _, d := range dims {
		f := s.Analysis[Dimension(d)]
		fmt.Fprintf(&b, "analysis:%s:%s:%v|", d, f.Classification, f.SupportingRules)
	}

	for _, h := range s.Hypotheses {
		fmt.Fprintf(&b, "hypothesis:%s:%.6f:%v|", h.Application, h.Confidence, h.SupportingRules)
		if h.DomainScore != nil {
			fmt.Fprintf(&b, "fit:%.3f|", *h.DomainScore)
		}
	}

	if s.Verdict != nil {
		fmt.Fprintf(&b, "verdict:%s|", *s.Verdict)
	}
	if s.Error != nil {
		fmt.Fprintf(&b, "error:%s|", s.Error.Kind)
	}
	return core.NewHash([]byte(b.String()))
}
