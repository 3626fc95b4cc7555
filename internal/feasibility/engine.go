package feasibility

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/domain/verdict"
	"gomatter/internal"
	"gomatter/internal/errors"
	"gomatter/ports"
)

// evidenceCategories are the rule categories consulted for feasibility citations
var evidenceCategories = rules.NewCategorySet(rules.CategorySynthesis, rules.CategoryStability)

// RuleMatcher selects rules whose predicate holds for a record
type RuleMatcher interface {
	MatchRules(rec material.PropertyRecord, categories rules.CategorySet) []rules.Rule
}

// Config holds the decision thresholds, energies in eV/atom
type Config struct {
	HullTolerance           float64
	MetastableWindow        float64
	ChargeTolerance         float64
	HeuristicStableEnergy   float64
	HeuristicUnstableEnergy float64
	PredictionTimeout       time.Duration
	ReferenceTimeout        time.Duration
}

// DefaultConfig returns the thresholds used when none are configured
func DefaultConfig() Config {
	return Config{
		HullTolerance:           0.001,
		MetastableWindow:        0.1,
		ChargeTolerance:         0,
		HeuristicStableEnergy:   -0.05,
		HeuristicUnstableEnergy: 0.05,
		PredictionTimeout:       120 * time.Second,
		ReferenceTimeout:        10 * time.Second,
	}
}

// Estimate is one prototype energy prediction
type Estimate struct {
	Prototype       string  `json:"prototype"`
	FormationEnergy float64 `json:"formation_energy_per_atom"`
}

// Result is the outcome of one feasibility evaluation
type Result struct {
	Composition material.Composition
	Assessment  verdict.Assessment
	// Matches are the synthesis and stability rules supporting or explaining the verdict
	Matches []rules.Match
	// ValidationReason is set only when a chemical filter vetoed the composition
	ValidationReason string
	Record           material.PropertyRecord
	Estimates        []Estimate
	Hull             *HullResult
}

// Vetoed reports whether a chemical filter decided the verdict
func (r Result) Vetoed() bool {
	return r.Assessment.Basis == verdict.BasisChemicalFilter
}

// Option configures an Engine
type Option func(*Engine)

// WithRadiusModel replaces the default radius-ratio strategy
func WithRadiusModel(m RadiusRatioModel) Option {
	return func(e *Engine) { e.radius = m }
}

// WithReferences sets the competing-phase source used for the convex hull
func WithReferences(src ports.ReferencePhaseSource) Option {
	return func(e *Engine) { e.references = src }
}

// WithLogger sets the engine logger
func WithLogger(l *internal.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine decides whether a composition absent from the database could exist.
// It holds no per-run state and is safe for concurrent use.
type Engine struct {
	cfg        Config
	matcher    RuleMatcher
	predictor  ports.EnergyPredictor
	references ports.ReferencePhaseSource
	radius     RadiusRatioModel
	logger     *internal.Logger
}

// NewEngine creates an engine; references are optional
func NewEngine(cfg Config, matcher RuleMatcher, predictor ports.EnergyPredictor, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		matcher:   matcher,
		predictor: predictor,
		radius:    UnscoredRadiusModel{},
		logger:    internal.DefaultLogger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Filters returns the chemical screens in evaluation order
func (e *Engine) Filters() []Filter {
	return []Filter{
		ChargeNeutralityFilter{Tolerance: e.cfg.ChargeTolerance},
		DefaultElectronegativityFilter(),
		RadiusRatioFilter{Model: e.radius},
	}
}

// Evaluate runs the feasibility procedure for a formula.
// Only an unparsable formula, a failed energy prediction, or cancellation return an error;
// every other outcome is one of the three verdicts.
func (e *Engine) Evaluate(ctx context.Context, formula string) (Result, error) {
	return e.EvaluateWith(ctx, formula, e.matcher)
}

// EvaluateWith is Evaluate with citations drawn from rm, so a caller holding one
// rule version for a whole run cites from that version only.
func (e *Engine) EvaluateWith(ctx context.Context, formula string, rm RuleMatcher) (Result, error) {
	if rm == nil {
		rm = e.matcher
	}
	comp, err := material.ParseFormula(formula)
	if err != nil {
		return Result{}, errors.InvalidFormula(err)
	}
	res := Result{Composition: comp}
	roles := AssignRoles(comp)
	rec := material.PropertyRecord{FieldNumElements: material.Number(float64(comp.NumElements()))}

	for _, f := range e.Filters() {
		out := f.Check(comp, roles)
		for k, v := range out.Evidence {
			rec[k] = v
		}
		if out.Passed {
			e.logger.Trace("[Feasibility] %s passed %s: %s", comp, f.Name(), out.Reason)
			continue
		}
		cited := cite(rm, rec, f.EvidenceFields())
		res.Record = rec
		res.Matches = cited
		res.ValidationReason = vetoReason(f.Name(), out.Reason, cited)
		res.Assessment = verdict.Assessment{
			Verdict:      verdict.NotFeasible,
			Confidence:   verdict.ConfidenceHigh,
			Basis:        verdict.BasisChemicalFilter,
			Reason:       out.Reason,
			FailedFilter: f.Name(),
		}
		e.logger.Debug("[Feasibility] %s vetoed by %s", comp, f.Name())
		return res, nil
	}

	protos := Prototypes(comp, roles)
	if len(protos) == 0 {
		res.Record = rec
		res.Matches = matchesOf(rm.MatchRules(rec, evidenceCategories))
		res.Assessment = verdict.Assessment{
			Verdict:    verdict.NotFeasible,
			Confidence: verdict.ConfidenceLow,
			Basis:      verdict.BasisNoPrototype,
			Reason:     fmt.Sprintf("no structure prototype applies to the stoichiometry of %s", comp),
		}
		return res, nil
	}

	best, estimates, err := e.estimate(ctx, comp, protos)
	res.Estimates = estimates
	if err != nil {
		return res, err
	}
	rec[FieldFormation] = material.Number(best.FormationEnergy)

	assessment, hull := e.stability(ctx, comp, best)
	if hull != nil {
		rec[FieldAboveHull] = material.Number(hull.EnergyAboveHull)
		res.Hull = hull
	}
	res.Assessment = assessment
	res.Record = rec
	res.Matches = matchesOf(rm.MatchRules(rec, evidenceCategories))
	return res, nil
}

// estimate calls the predictor once per prototype, sequentially, and keeps the lowest energy
func (e *Engine) estimate(ctx context.Context, comp material.Composition, protos []string) (Estimate, []Estimate, error) {
	var estimates []Estimate
	var best Estimate
	for i, p := range protos {
		if err := ctx.Err(); err != nil {
			return best, estimates, errors.Cancelled(err)
		}
		energy, err := e.predictOne(ctx, comp, p)
		if err != nil {
			if ctx.Err() != nil && !errors.IsCode(err, errors.CodeTimeout) {
				return best, estimates, errors.Cancelled(ctx.Err())
			}
			return best, estimates, errors.PredictionUnavailable(p, err)
		}
		est := Estimate{Prototype: p, FormationEnergy: energy}
		estimates = append(estimates, est)
		if i == 0 || energy < best.FormationEnergy {
			best = est
		}
	}
	e.logger.Debug("[Feasibility] %s best prototype %s at %.3f eV/atom", comp, best.Prototype, best.FormationEnergy)
	return best, estimates, nil
}

func (e *Engine) predictOne(ctx context.Context, comp material.Composition, prototype string) (float64, error) {
	if e.predictor == nil {
		return 0, ports.ErrPredictionUnavailable
	}
	callCtx := ctx
	if e.cfg.PredictionTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.PredictionTimeout)
		defer cancel()
	}
	energy, err := e.predictor.PredictEnergy(callCtx, ports.StructureDescriptor{
		Formula:     comp.String(),
		Prototype:   prototype,
		Composition: comp.Elements,
	})
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return 0, errors.Timeout("energy prediction", err)
	}
	return energy, err
}

// stability places the estimate against the hull, or falls back to the energy heuristic
func (e *Engine) stability(ctx context.Context, comp material.Composition, best Estimate) (verdict.Assessment, *HullResult) {
	energy := best.FormationEnergy
	base := verdict.Assessment{Prototype: best.Prototype, FormationEnergy: &energy}

	refs, err := e.competingPhases(ctx, comp)
	if err != nil {
		e.logger.Warn("[Feasibility] reference phases unavailable for %s: %v", comp, err)
		return e.heuristic(base, energy, "reference phases unavailable"), nil
	}
	hull, err := EnergyAboveHull(comp, energy, refs)
	if err != nil {
		if !errors.Is(err, ErrNoReferencePhases) {
			e.logger.Warn("[Feasibility] hull construction failed for %s: %v", comp, err)
		}
		return e.heuristic(base, energy, err.Error()), nil
	}

	above := hull.EnergyAboveHull
	base.EnergyAboveHull = &above
	base.Basis = verdict.BasisConvexHull
	base.Confidence = verdict.ConfidenceHigh
	switch {
	case above <= e.cfg.HullTolerance:
		base.Verdict = verdict.Feasible
		base.Reason = fmt.Sprintf("%s (%s) lies on or below the convex hull (%.3f eV/atom)", comp, best.Prototype, above)
	case above <= e.cfg.MetastableWindow:
		base.Verdict = verdict.Metastable
		base.Reason = fmt.Sprintf("%s (%s) lies %.3f eV/atom above the convex hull", comp, best.Prototype, above)
	default:
		base.Verdict = verdict.NotFeasible
		base.Reason = fmt.Sprintf("%s (%s) lies %.3f eV/atom above the convex hull, decomposing to %s",
			comp, best.Prototype, above, decompositionString(hull.Decomposition))
	}
	return base, &hull
}

func (e *Engine) competingPhases(ctx context.Context, comp material.Composition) ([]ports.ReferencePhase, error) {
	if e.references == nil {
		return nil, nil
	}
	callCtx := ctx
	if e.cfg.ReferenceTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.ReferenceTimeout)
		defer cancel()
	}
	return e.references.CompetingPhases(callCtx, comp.Symbols())
}

func (e *Engine) heuristic(base verdict.Assessment, energy float64, why string) verdict.Assessment {
	base.Basis = verdict.BasisEnergyHeuristic
	base.Confidence = verdict.ConfidenceLow
	switch {
	case energy < e.cfg.HeuristicStableEnergy:
		base.Verdict = verdict.Feasible
	case energy <= e.cfg.HeuristicUnstableEnergy:
		base.Verdict = verdict.Metastable
	default:
		base.Verdict = verdict.NotFeasible
	}
	base.Reason = fmt.Sprintf("formation energy %.3f eV/atom (%s); no convex hull: %s", energy, base.Prototype, why)
	return base
}

// cite returns the evidence rules that reference the failed filter's fields
func cite(rm RuleMatcher, rec material.PropertyRecord, fields []string) []rules.Match {
	want := make(map[string]bool, len(fields))
	for _, f := range fields {
		want[f] = true
	}
	var out []rules.Match
	for _, r := range rm.MatchRules(rec, evidenceCategories) {
		for _, f := range r.Fields() {
			if want[f] {
				out = append(out, r.AsMatch())
				break
			}
		}
	}
	return out
}

func vetoReason(filter, reason string, cited []rules.Match) string {
	if len(cited) == 0 {
		return fmt.Sprintf("%s: %s", filter, reason)
	}
	ids := make([]string, len(cited))
	for i, m := range cited {
		ids[i] = m.RuleID.String()
	}
	return fmt.Sprintf("%s: %s (rules: %s)", filter, reason, strings.Join(ids, ", "))
}

func matchesOf(rs []rules.Rule) []rules.Match {
	out := make([]rules.Match, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.AsMatch())
	}
	return out
}

func decompositionString(d map[string]float64) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%.2f %s", d[k], k)
	}
	return strings.Join(parts, " + ")
}
