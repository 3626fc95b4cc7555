package run

import (
	"gomatter/domain/core"
)

// NodeName identifies a node of the pipeline graph
type NodeName string

const (
	NodeLookup            NodeName = "lookup"
	NodeValidateChemistry NodeName = "validate_chemistry"
	NodeAnalyze           NodeName = "analyze"
	NodeHypothesize       NodeName = "hypothesize"
	NodeSimulate          NodeName = "simulate"
	NodeFormat            NodeName = "format"
	NodeError             NodeName = "error"
	NodeEnd               NodeName = "END"
)

// ErrorKind classifies a failure captured into the pipeline state
type ErrorKind string

const (
	ErrLookup                ErrorKind = "LookupError"
	ErrInvalidFormula        ErrorKind = "InvalidFormula"
	ErrChemistryInvalid      ErrorKind = "ChemistryInvalid"
	ErrPredictionUnavailable ErrorKind = "PredictionUnavailable"
	ErrGeneration            ErrorKind = "GenerationError"
	ErrRuleStoreCorrupt      ErrorKind = "RuleStoreCorrupt"
	ErrCancelled             ErrorKind = "Cancelled"
	ErrInternal              ErrorKind = "InternalError"
)

// ErrorRecord is the terminal failure of a run
type ErrorRecord struct {
	Kind    ErrorKind `json:"kind"`
	Reason  string    `json:"reason"`
	Formula string    `json:"formula"`
	Node    NodeName  `json:"node"`
}

// Dimension is one axis of property analysis
type Dimension string

const (
	DimensionElectronic Dimension = "electronic"
	DimensionMechanical Dimension = "mechanical"
	DimensionThermal    Dimension = "thermal"
	DimensionStability  Dimension = "stability"
)

// Dimensions lists analysis dimensions in report order
var Dimensions = []Dimension{DimensionElectronic, DimensionMechanical, DimensionThermal, DimensionStability}

// Finding is the analysis result for one dimension
type Finding struct {
	Classification  string        `json:"classification"`
	Summary         string        `json:"summary"`
	SupportingRules []core.RuleID `json:"supporting_rules,omitempty"`
}

// Hypothesis is a candidate application with the rules that support it
type Hypothesis struct {
	Application     string        `json:"application"`
	Confidence      float64       `json:"confidence"`
	SupportingRules []core.RuleID `json:"supporting_rules"`
	Rationale       string        `json:"rationale"`
	// DomainScore is the material's weighted fitness for the application, when scored
	DomainScore *float64 `json:"domain_score,omitempty"`
}

// ArtifactStatus distinguishes success and error artifacts sharing one shape
type ArtifactStatus string

const (
	ArtifactOK    ArtifactStatus = "ok"
	ArtifactError ArtifactStatus = "error"
)

// Artifact is the report-shaped output of a completed run
type Artifact struct {
	Status ArtifactStatus `json:"status"`
	Format string         `json:"format"`
	Body   string         `json:"body"`
}
