package run

import (
	"errors"
	"fmt"

	"gomatter/domain/core"
	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/domain/verdict"
)

// ErrFieldAlreadySet is returned when a patch tries to overwrite a set-once field
var ErrFieldAlreadySet = errors.New("pipeline state field already set")

// ErrTerminalConflict is returned when a patch would leave both report and error set
var ErrTerminalConflict = errors.New("report and error are mutually exclusive")

// State is the append-only record threaded through one pipeline run.
// Scalar fields are set at most once; sequences only grow.
type State struct {
	RunID   core.RunID `json:"run_id"`
	Formula string     `json:"formula"`

	FoundInDatabase *bool                   `json:"found_in_database,omitempty"`
	PropertyRecord  material.PropertyRecord `json:"property_record,omitempty"`

	Composition      *material.Composition `json:"composition,omitempty"`
	ChemistryValid   *bool                 `json:"chemistry_valid,omitempty"`
	ValidationReason *string               `json:"validation_reason,omitempty"`

	MatchedRules []rules.Match `json:"matched_rules"`

	Analysis          map[Dimension]Finding `json:"analysis,omitempty"`
	AnalysisNarrative *string               `json:"analysis_narrative,omitempty"`

	Hypotheses          []Hypothesis `json:"hypotheses"`
	HypothesisNarrative *string      `json:"hypothesis_narrative,omitempty"`

	Verdict    *verdict.Verdict    `json:"verdict,omitempty"`
	Assessment *verdict.Assessment `json:"assessment,omitempty"`

	Report   *string      `json:"report,omitempty"`
	Error    *ErrorRecord `json:"error,omitempty"`
	Artifact *Artifact    `json:"artifact,omitempty"`

	Path []NodeName `json:"path"`
}

// NewState creates the initial state for a formula
func NewState(id core.RunID, formula string) State {
	return State{
		RunID:        id,
		Formula:      formula,
		MatchedRules: []rules.Match{},
		Hypotheses:   []Hypothesis{},
		Path:         []NodeName{},
	}
}

// Patch carries the fields a node adds to the state
type Patch struct {
	FoundInDatabase *bool
	PropertyRecord  material.PropertyRecord

	Composition      *material.Composition
	ChemistryValid   *bool
	ValidationReason *string

	MatchedRules []rules.Match

	Analysis          map[Dimension]Finding
	AnalysisNarrative *string

	Hypotheses          []Hypothesis
	HypothesisNarrative *string

	Verdict    *verdict.Verdict
	Assessment *verdict.Assessment

	Report   *string
	Error    *ErrorRecord
	Artifact *Artifact
}

// Apply returns a new state with the patch merged in. The receiver is not modified
// and the result shares no mutable storage with it.
func (s State) Apply(p Patch) (State, error) {
	next := s.clone()

	if err := setOnce("found_in_database", &next.FoundInDatabase, p.FoundInDatabase); err != nil {
		return s, err
	}
	if p.PropertyRecord != nil {
		if next.PropertyRecord != nil {
			return s, fmt.Errorf("%w: property_record", ErrFieldAlreadySet)
		}
		next.PropertyRecord = p.PropertyRecord.Clone()
	}
	if err := setOnce("composition", &next.Composition, p.Composition); err != nil {
		return s, err
	}
	if err := setOnce("chemistry_valid", &next.ChemistryValid, p.ChemistryValid); err != nil {
		return s, err
	}
	if err := setOnce("validation_reason", &next.ValidationReason, p.ValidationReason); err != nil {
		return s, err
	}
	if p.Analysis != nil {
		if next.Analysis != nil {
			return s, fmt.Errorf("%w: analysis", ErrFieldAlreadySet)
		}
		next.Analysis = cloneAnalysis(p.Analysis)
	}
	if err := setOnce("analysis_narrative", &next.AnalysisNarrative, p.AnalysisNarrative); err != nil {
		return s, err
	}
	if err := setOnce("hypothesis_narrative", &next.HypothesisNarrative, p.HypothesisNarrative); err != nil {
		return s, err
	}
	if err := setOnce("verdict", &next.Verdict, p.Verdict); err != nil {
		return s, err
	}
	if err := setOnce("assessment", &next.Assessment, p.Assessment); err != nil {
		return s, err
	}
	if err := setOnce("report", &next.Report, p.Report); err != nil {
		return s, err
	}
	if err := setOnce("error", &next.Error, p.Error); err != nil {
		return s, err
	}
	if err := setOnce("artifact", &next.Artifact, p.Artifact); err != nil {
		return s, err
	}
	if next.Report != nil && next.Error != nil {
		return s, ErrTerminalConflict
	}

	next.MatchedRules = append(next.MatchedRules, p.MatchedRules...)
	for _, h := range p.Hypotheses {
		next.Hypotheses = append(next.Hypotheses, cloneHypothesis(h))
	}
	return next, nil
}

// Visit records that a node ran
func (s State) Visit(node NodeName) State {
	next := s.clone()
	next.Path = append(next.Path, node)
	return next
}

// HasError reports whether a terminal error was recorded
func (s State) HasError() bool {
	return s.Error != nil
}

// Completed reports whether exactly one of report and error is set
func (s State) Completed() bool {
	return (s.Report != nil) != (s.Error != nil)
}

func setOnce[T any](name string, dst **T, v *T) error {
	if v == nil {
		return nil
	}
	if *dst != nil {
		return fmt.Errorf("%w: %s", ErrFieldAlreadySet, name)
	}
	cp := *v
	*dst = &cp
	return nil
}

func (s State) clone() State {
	next := s
	next.MatchedRules = append([]rules.Match{}, s.MatchedRules...)
	next.Hypotheses = make([]Hypothesis, 0, len(s.Hypotheses))
	for _, h := range s.Hypotheses {
		next.Hypotheses = append(next.Hypotheses, cloneHypothesis(h))
	}
	next.Path = append([]NodeName{}, s.Path...)
	next.PropertyRecord = s.PropertyRecord.Clone()
	if s.Analysis != nil {
		next.Analysis = cloneAnalysis(s.Analysis)
	}
	if s.Composition != nil {
		c := material.NewComposition(s.Composition.Elements)
		next.Composition = &c
	}
	return next
}

func cloneAnalysis(in map[Dimension]Finding) map[Dimension]Finding {
	out := make(map[Dimension]Finding, len(in))
	for k, f := range in {
		f.SupportingRules = append([]core.RuleID(nil), f.SupportingRules...)
		out[k] = f
	}
	return out
}

func cloneHypothesis(h Hypothesis) Hypothesis {
	h.SupportingRules = append([]core.RuleID{}, h.SupportingRules...)
	if h.DomainScore != nil {
		v := *h.DomainScore
		h.DomainScore = &v
	}
	return h
}

// Ptr returns a pointer to v, for building patches
func Ptr[T any](v T) *T {
	return &v
}
