package pipeline

import (
	"gomatter/domain/run"
)

// Condition is a routing predicate over the state after a node ran
type Condition func(s run.State) bool

// Transition is one row of the routing table
type Transition struct {
	From  run.NodeName
	Label string
	When  Condition
	To    run.NodeName
}

func failed(s run.State) bool { return s.HasError() }

func always(run.State) bool { return true }

func databaseHit(s run.State) bool { return s.FoundInDatabase != nil && *s.FoundInDatabase }

func databaseMiss(s run.State) bool { return s.FoundInDatabase != nil && !*s.FoundInDatabase }

func chemistryValid(s run.State) bool { return s.ChemistryValid != nil && *s.ChemistryValid }

func chemistryInvalid(s run.State) bool { return s.ChemistryValid != nil && !*s.ChemistryValid }

func analyzed(s run.State) bool { return s.Analysis != nil }

func hypothesized(s run.State) bool { return len(s.Hypotheses) > 0 }

func verdictReached(s run.State) bool { return s.Verdict != nil }

// Transitions is the routing table. Rows are tried in order and the first match wins,
// so every failure row precedes the success rows of its node.
var Transitions = []Transition{
	{run.NodeLookup, "lookup call fails", failed, run.NodeError},
	{run.NodeLookup, "database hit", databaseHit, run.NodeValidateChemistry},
	{run.NodeLookup, "database miss", databaseMiss, run.NodeSimulate},

	{run.NodeValidateChemistry, "validation fails", failed, run.NodeError},
	{run.NodeValidateChemistry, "chemistry valid", chemistryValid, run.NodeAnalyze},
	{run.NodeValidateChemistry, "chemistry invalid", chemistryInvalid, run.NodeError},

	{run.NodeAnalyze, "fails", failed, run.NodeError},
	{run.NodeAnalyze, "success", analyzed, run.NodeHypothesize},

	{run.NodeHypothesize, "fails", failed, run.NodeError},
	{run.NodeHypothesize, "success", hypothesized, run.NodeFormat},

	{run.NodeSimulate, "fatal stage failure", failed, run.NodeError},
	{run.NodeSimulate, "verdict reached", verdictReached, run.NodeFormat},

	{run.NodeFormat, "render fails", failed, run.NodeError},
	{run.NodeFormat, "always", always, run.NodeEnd},
	{run.NodeError, "always", always, run.NodeEnd},
}

// Route returns the next node for a state leaving from. ok is false when no row matches.
func Route(table []Transition, from run.NodeName, s run.State) (run.NodeName, bool) {
	for _, t := range table {
		if t.From == from && t.When(s) {
			return t.To, true
		}
	}
	return "", false
}
