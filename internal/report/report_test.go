package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomatter/domain/core"
	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/domain/run"
	"gomatter/domain/verdict"
	"gomatter/internal/rulestore"
)

func apply(t *testing.T, s run.State, p run.Patch) run.State {
	t.Helper()
	next, err := s.Apply(p)
	require.NoError(t, err)
	return next
}

func TestSuccessKnownMaterial(t *testing.T) {
	store := rulestore.FromRules(rules.Rule{ID: "rule_gap", Category: rules.CategoryElectronic, Statement: "Wide gaps | transparency", Confidence: 1, Citation: "Doe 2020"})
	s := run.NewState(core.NewRunID(), "NaCl")
	s = apply(t, s, run.Patch{
		FoundInDatabase: run.Ptr(true),
		PropertyRecord:  material.PropertyRecord{"band_gap": material.Number(4.38)},
		MatchedRules:    []rules.Match{{RuleID: "rule_gap", Confidence: 1, Category: rules.CategoryElectronic}},
		Analysis: map[run.Dimension]run.Finding{
			run.DimensionElectronic: {Classification: "wide_gap_insulator", Summary: "band gap 4.38 eV", SupportingRules: []core.RuleID{"rule_gap"}},
		},
		Hypotheses:        []run.Hypothesis{{Application: "optoelectronics", Confidence: 1, SupportingRules: []core.RuleID{"rule_gap"}}},
		AnalysisNarrative: run.Ptr("A transparent ionic solid."),
	})

	a := NewRenderer(store).Success(s)
	assert.Equal(t, run.ArtifactOK, a.Status)
	assert.Equal(t, FormatMarkdown, a.Format)
	assert.Contains(t, a.Body, "# NaCl")
	assert.Contains(t, a.Body, "| band_gap | 4.38 |")
	assert.Contains(t, a.Body, "**electronic**: wide gap insulator (band gap 4.38 eV) [rule_gap]")
	assert.Contains(t, a.Body, "1. **optoelectronics** (confidence 1.00) [rule_gap]")
	assert.Contains(t, a.Body, "A transparent ionic solid.")
	assert.Contains(t, a.Body, `Wide gaps \| transparency [Doe 2020]`)
}

func TestSuccessFeasibility(t *testing.T) {
	e := -2.1
	s := run.NewState(core.NewRunID(), "Cu2N5")
	s = apply(t, s, run.Patch{
		FoundInDatabase:  run.Ptr(false),
		ValidationReason: run.Ptr("charge_neutrality: cannot balance (rules: rule_charge)"),
		Verdict:          run.Ptr(verdict.NotFeasible),
		Assessment: &verdict.Assessment{
			Verdict: verdict.NotFeasible, Confidence: verdict.ConfidenceHigh, Basis: verdict.BasisChemicalFilter,
			Reason: "cannot balance", FailedFilter: "charge_neutrality", FormationEnergy: &e,
		},
	})
	a := NewRenderer(nil).Success(s)
	assert.Contains(t, a.Body, "**Verdict:** NotFeasible (high confidence, chemical filter)")
	assert.Contains(t, a.Body, "- Failed screen: charge_neutrality")
	assert.Contains(t, a.Body, "rule_charge")
	assert.Contains(t, a.Body, "-2.100 eV/atom")
	assert.Contains(t, a.Body, "_No rules matched._")
}

func TestFailure(t *testing.T) {
	s := run.NewState(core.NewRunID(), "NaCl")
	s = apply(t, s, run.Patch{Error: &run.ErrorRecord{Kind: run.ErrLookup, Reason: "database unreachable", Formula: "NaCl", Node: run.NodeLookup}})

	a := NewRenderer(nil).Failure(s)
	assert.Equal(t, run.ArtifactError, a.Status)
	assert.Equal(t, FormatMarkdown, a.Format)
	assert.Contains(t, a.Body, "| Kind | LookupError |")
	assert.Contains(t, a.Body, "| Stage | lookup |")
	assert.Contains(t, a.Body, "database unreachable")
}

func TestHTML(t *testing.T) {
	out := HTML("# NaCl\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	assert.Contains(t, out, "<h1")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<td>1</td>")
}

func TestHTMLDropsRawMarkup(t *testing.T) {
	out := HTML("## Analysis\n\n<script>alert(1)</script>\n\nGap is <b>wide</b>.\n")
	assert.NotContains(t, out, "<script>")
	assert.NotContains(t, out, "<b>")
	assert.Contains(t, out, "Gap is")
}
