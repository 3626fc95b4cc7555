package ports

import (
	"context"

	"gomatter/domain/material"
)

// PromptPurpose selects which narrative the generator writes
type PromptPurpose string

const (
	PurposeAnalysis   PromptPurpose = "analysis"
	PurposeHypothesis PromptPurpose = "hypothesis"
)

// RuleFact is a matched rule as presented to the generator
type RuleFact struct {
	ID         string  `json:"id"`
	Category   string  `json:"category"`
	Statement  string  `json:"statement"`
	Confidence float64 `json:"confidence"`
	Citation   string  `json:"citation,omitempty"`
}

// PromptContext is the structured input to narrative generation.
// The generator decides phrasing only; facts are fixed by the caller.
type PromptContext struct {
	Purpose    PromptPurpose           `json:"purpose"`
	Formula    string                  `json:"formula"`
	Properties material.PropertyRecord `json:"properties,omitempty"`
	Rules      []RuleFact              `json:"rules"`
	Findings   map[string]string       `json:"findings,omitempty"`
	Candidates []string                `json:"candidates,omitempty"`
}

// Generator turns a prompt context into prose
type Generator interface {
	Generate(ctx context.Context, prompt PromptContext) (string, error)
}
