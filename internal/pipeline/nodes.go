package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/domain/run"
	"gomatter/internal/analysis"
	"gomatter/internal/errors"
	"gomatter/internal/matcher"
	"gomatter/internal/report"
	"gomatter/ports"
)

func errorPatch(s run.State, node run.NodeName, kind run.ErrorKind, reason string) run.Patch {
	return run.Patch{Error: &run.ErrorRecord{Kind: kind, Reason: reason, Formula: s.Formula, Node: node}}
}

func (o *Orchestrator) lookup(ctx context.Context, _ *matcher.View, s run.State) run.Patch {
	callCtx, cancel := withTimeout(ctx, o.cfg.LookupTimeout)
	defer cancel()

	rec, err := o.database.Lookup(callCtx, s.Formula)
	switch {
	case err == nil:
		if rec == nil {
			rec = material.PropertyRecord{}
		}
		return run.Patch{FoundInDatabase: run.Ptr(true), PropertyRecord: rec}
	case stderrors.Is(err, ports.ErrMaterialNotFound):
		return run.Patch{FoundInDatabase: run.Ptr(false)}
	case ctx.Err() != nil:
		return errorPatch(s, run.NodeLookup, run.ErrCancelled, ctx.Err().Error())
	case stderrors.Is(callCtx.Err(), context.DeadlineExceeded):
		return errorPatch(s, run.NodeLookup, run.ErrLookup, errors.Timeout("materials lookup", err).Error())
	default:
		return errorPatch(s, run.NodeLookup, run.ErrLookup, errors.LookupError(s.Formula, err).Error())
	}
}

// validateChemistry is the guardrail on database hits: the formula must parse and the
// reported properties must be physically plausible.
func (o *Orchestrator) validateChemistry(_ context.Context, _ *matcher.View, s run.State) run.Patch {
	comp, err := material.ParseFormula(s.Formula)
	if err != nil {
		reason := err.Error()
		p := errorPatch(s, run.NodeValidateChemistry, run.ErrInvalidFormula, errors.InvalidFormula(err).Error())
		p.ChemistryValid = run.Ptr(false)
		p.ValidationReason = &reason
		return p
	}

	if problems := plausibility(s.PropertyRecord, comp, o.cfg.HullTolerance); len(problems) > 0 {
		reason := strings.Join(problems, "; ")
		p := errorPatch(s, run.NodeValidateChemistry, run.ErrChemistryInvalid, errors.ChemistryInvalid(reason).Error())
		p.ChemistryValid = run.Ptr(false)
		p.ValidationReason = &reason
		p.Composition = &comp
		return p
	}
	return run.Patch{ChemistryValid: run.Ptr(true), Composition: &comp}
}

func plausibility(rec material.PropertyRecord, comp material.Composition, hullTol float64) []string {
	var problems []string
	if v, ok := rec.Number(material.PropBandGap); ok && v < 0 {
		problems = append(problems, fmt.Sprintf("negative band gap %.3f eV", v))
	}
	if v, ok := rec.Number(material.PropDensity); ok && v <= 0 {
		problems = append(problems, fmt.Sprintf("non-positive density %.3f g/cm3", v))
	}
	if v, ok := rec.Number(material.PropEnergyAboveHull); ok && v < -hullTol {
		problems = append(problems, fmt.Sprintf("energy above hull %.3f eV/atom is below the hull", v))
	}
	for _, f := range []string{material.PropBulkModulus, material.PropShearModulus} {
		if v, ok := rec.Number(f); ok && v < 0 {
			problems = append(problems, fmt.Sprintf("negative %s %.1f GPa", f, v))
		}
	}
	if v, ok := rec.Number(material.PropNumElements); ok && int(v) != comp.NumElements() {
		problems = append(problems, fmt.Sprintf("record lists %d elements but %s has %d", int(v), comp, comp.NumElements()))
	}
	return problems
}

func (o *Orchestrator) analyze(ctx context.Context, view *matcher.View, s run.State) run.Patch {
	matched := view.MatchRules(s.PropertyRecord, analysis.AnalysisCategories)
	matches := make([]rules.Match, len(matched))
	for i, r := range matched {
		matches[i] = r.AsMatch()
	}
	findings := analysis.Analyze(s.PropertyRecord, matched)

	narrative, err := o.generate(ctx, analysis.AnalysisPrompt(s.Formula, s.PropertyRecord, matched, findings))
	if err != nil {
		p := o.generationFailure(ctx, s, run.NodeAnalyze, ports.PurposeAnalysis, err)
		p.MatchedRules = matches
		return p
	}
	return run.Patch{MatchedRules: matches, Analysis: findings, AnalysisNarrative: &narrative}
}

func (o *Orchestrator) hypothesize(ctx context.Context, view *matcher.View, s run.State) run.Patch {
	// rules cited so far, resolved against the run's pinned snapshot
	var matched []rules.Rule
	seen := make(map[string]bool, len(s.MatchedRules))
	for _, m := range s.MatchedRules {
		seen[m.RuleID.String()] = true
		if r, ok := view.Get(m.RuleID); ok {
			matched = append(matched, r)
		}
	}
	var added []rules.Match
	for _, r := range view.MatchRules(s.PropertyRecord, analysis.HypothesisCategories) {
		if seen[r.ID.String()] {
			continue
		}
		matched = append(matched, r)
		added = append(added, r.AsMatch())
	}

	hs := analysis.Rank(analysis.Hypothesize(matched), func(app string) float64 {
		return view.Score(s.PropertyRecord, app).Overall
	})
	narrative, err := o.generate(ctx, analysis.HypothesisPrompt(s.Formula, s.PropertyRecord, matched, s.Analysis, hs))
	if err != nil {
		p := o.generationFailure(ctx, s, run.NodeHypothesize, ports.PurposeHypothesis, err)
		p.MatchedRules = added
		return p
	}
	return run.Patch{MatchedRules: added, Hypotheses: hs, HypothesisNarrative: &narrative}
}

func (o *Orchestrator) generate(ctx context.Context, prompt ports.PromptContext) (string, error) {
	callCtx, cancel := withTimeout(ctx, o.cfg.GenerationTimeout)
	defer cancel()
	text, err := o.generator.Generate(callCtx, prompt)
	if err != nil && ctx.Err() == nil && stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", errors.Timeout(string(prompt.Purpose)+" generation", err)
	}
	return text, err
}

func (o *Orchestrator) generationFailure(ctx context.Context, s run.State, node run.NodeName, purpose ports.PromptPurpose, err error) run.Patch {
	if ctx.Err() != nil {
		return errorPatch(s, node, run.ErrCancelled, ctx.Err().Error())
	}
	return errorPatch(s, node, run.ErrGeneration, errors.GenerationError(string(purpose), err).Error())
}

func (o *Orchestrator) simulate(ctx context.Context, view *matcher.View, s run.State) run.Patch {
	res, err := o.simulator.EvaluateWith(ctx, s.Formula, view)
	if err != nil {
		p := errorPatch(s, run.NodeSimulate, simulationErrorKind(err), err.Error())
		if res.Composition.NumElements() > 0 {
			p.Composition = &res.Composition
		}
		return p
	}

	a := res.Assessment
	verdictsTotal.WithLabelValues(string(a.Verdict), string(a.Basis)).Inc()
	p := run.Patch{
		Composition:  &res.Composition,
		MatchedRules: res.Matches,
		Verdict:      run.Ptr(a.Verdict),
		Assessment:   &a,
	}
	if res.Vetoed() {
		p.ChemistryValid = run.Ptr(false)
		p.ValidationReason = run.Ptr(res.ValidationReason)
	} else {
		p.ChemistryValid = run.Ptr(true)
	}
	return p
}

func simulationErrorKind(err error) run.ErrorKind {
	switch errors.GetCode(err) {
	case errors.CodeInvalidFormula:
		return run.ErrInvalidFormula
	case errors.CodePredictionUnavailable:
		return run.ErrPredictionUnavailable
	case errors.CodeCancelled:
		return run.ErrCancelled
	default:
		return run.ErrInternal
	}
}

func (o *Orchestrator) format(_ context.Context, view *matcher.View, s run.State) run.Patch {
	if s.FoundInDatabase != nil && !*s.FoundInDatabase && s.Verdict == nil {
		return errorPatch(s, run.NodeFormat, run.ErrInternal, "feasibility path reached format without a verdict")
	}
	a := report.NewRenderer(view).Success(s)
	return run.Patch{Report: &a.Body, Artifact: &a}
}

func (o *Orchestrator) fail(_ context.Context, view *matcher.View, s run.State) run.Patch {
	a := report.NewRenderer(view).Failure(s)
	return run.Patch{Artifact: &a}
}
