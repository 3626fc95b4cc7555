// Package report renders pipeline states into the markdown artifacts returned to callers.
// Success and error artifacts share one shape and differ only in status.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"gomatter/domain/core"
	"gomatter/domain/rules"
	"gomatter/domain/run"
)

// FormatMarkdown is the artifact format produced by the renderer
const FormatMarkdown = "markdown"

// RuleLookup resolves cited rule ids to their statements
type RuleLookup interface {
	Get(id core.RuleID) (rules.Rule, bool)
}

// Renderer builds report artifacts
type Renderer struct {
	rules RuleLookup
}

// NewRenderer creates a renderer; rules may be nil
func NewRenderer(rules RuleLookup) *Renderer {
	return &Renderer{rules: rules}
}

// Success renders the report for a run that reached format without error
func (r *Renderer) Success(s run.State) run.Artifact {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Formula)

	if s.FoundInDatabase != nil && *s.FoundInDatabase {
		r.writeKnown(&b, s)
	} else {
		r.writeFeasibility(&b, s)
	}
	r.writeRules(&b, s.MatchedRules)

	return run.Artifact{Status: run.ArtifactOK, Format: FormatMarkdown, Body: b.String()}
}

// Failure renders the error artifact for a run that routed to the error node
func (r *Renderer) Failure(s run.State) run.Artifact {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Formula)
	if s.Error == nil {
		b.WriteString("**Status:** error\n\nThe run failed without a recorded cause.\n")
		return run.Artifact{Status: run.ArtifactError, Format: FormatMarkdown, Body: b.String()}
	}
	e := s.Error
	fmt.Fprintf(&b, "**Status:** error\n\n")
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Kind | %s |\n", e.Kind)
	fmt.Fprintf(&b, "| Stage | %s |\n", e.Node)
	fmt.Fprintf(&b, "| Formula | %s |\n\n", escape(e.Formula))
	fmt.Fprintf(&b, "%s\n", e.Reason)
	if len(s.MatchedRules) > 0 {
		b.WriteString("\n")
		r.writeRules(&b, s.MatchedRules)
	}
	return run.Artifact{Status: run.ArtifactError, Format: FormatMarkdown, Body: b.String()}
}

func (r *Renderer) writeKnown(b *strings.Builder, s run.State) {
	b.WriteString("**Status:** ok · found in materials database\n\n")

	if len(s.PropertyRecord) > 0 {
		b.WriteString("## Properties\n\n| Property | Value |\n|---|---|\n")
		for _, k := range s.PropertyRecord.Keys() {
			v, _ := s.PropertyRecord.Get(k)
			fmt.Fprintf(b, "| %s | %s |\n", k, escape(v.String()))
		}
		b.WriteString("\n")
	}

	if len(s.Analysis) > 0 {
		b.WriteString("## Analysis\n\n")
		for _, d := range run.Dimensions {
			f, ok := s.Analysis[d]
			if !ok {
				continue
			}
			fmt.Fprintf(b, "- **%s**: %s (%s)%s\n", d, strings.ReplaceAll(f.Classification, "_", " "), f.Summary, citeList(f.SupportingRules))
		}
		b.WriteString("\n")
	}
	if s.AnalysisNarrative != nil && *s.AnalysisNarrative != "" {
		fmt.Fprintf(b, "%s\n\n", strings.TrimSpace(*s.AnalysisNarrative))
	}

	if len(s.Hypotheses) > 0 {
		b.WriteString("## Candidate applications\n\n")
		for i, h := range s.Hypotheses {
			fit := ""
			if h.DomainScore != nil {
				fit = fmt.Sprintf(", domain fit %.2f", *h.DomainScore)
			}
			fmt.Fprintf(b, "%d. **%s** (confidence %.2f%s)%s\n", i+1, h.Application, h.Confidence, fit, citeList(h.SupportingRules))
		}
		b.WriteString("\n")
	}
	if s.HypothesisNarrative != nil && *s.HypothesisNarrative != "" {
		fmt.Fprintf(b, "%s\n\n", strings.TrimSpace(*s.HypothesisNarrative))
	}
}

func (r *Renderer) writeFeasibility(b *strings.Builder, s run.State) {
	b.WriteString("**Status:** ok · not in materials database, feasibility assessed\n\n")
	b.WriteString("## Feasibility\n\n")
	if s.Verdict != nil {
		fmt.Fprintf(b, "**Verdict:** %s", *s.Verdict)
	}
	if a := s.Assessment; a != nil {
		fmt.Fprintf(b, " (%s confidence, %s)\n\n", a.Confidence, strings.ReplaceAll(string(a.Basis), "_", " "))
		fmt.Fprintf(b, "%s\n\n", a.Reason)
		if a.Prototype != "" {
			fmt.Fprintf(b, "- Representative prototype: %s\n", a.Prototype)
		}
		if a.FormationEnergy != nil {
			fmt.Fprintf(b, "- Predicted formation energy: %.3f eV/atom\n", *a.FormationEnergy)
		}
		if a.EnergyAboveHull != nil {
			fmt.Fprintf(b, "- Energy above hull: %.3f eV/atom\n", *a.EnergyAboveHull)
		}
		if a.FailedFilter != "" {
			fmt.Fprintf(b, "- Failed screen: %s\n", a.FailedFilter)
		}
	} else {
		b.WriteString("\n\n")
	}
	if s.ValidationReason != nil {
		fmt.Fprintf(b, "- Validation: %s\n", *s.ValidationReason)
	}
	b.WriteString("\n")
}

func (r *Renderer) writeRules(b *strings.Builder, ms []rules.Match) {
	if len(ms) == 0 {
		b.WriteString("_No rules matched._\n")
		return
	}
	b.WriteString("## Matched rules\n\n| Rule | Category | Confidence | Statement |\n|---|---|---|---|\n")
	for _, m := range ms {
		statement := ""
		if r.rules != nil {
			if rule, ok := r.rules.Get(m.RuleID); ok {
				statement = rule.Statement
				if rule.Citation != "" {
					statement += " [" + rule.Citation + "]"
				}
			}
		}
		fmt.Fprintf(b, "| %s | %s | %.2f | %s |\n", m.RuleID, m.Category, m.Confidence, escape(statement))
	}
}

func citeList(ids []core.RuleID) string {
	if len(ids) == 0 {
		return ""
	}
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = id.String()
	}
	sort.Strings(s)
	return " [" + strings.Join(s, ", ") + "]"
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// HTML converts a markdown artifact body to HTML
func HTML(body string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.SkipHTML})
	return string(markdown.ToHTML([]byte(body), p, renderer))
}
