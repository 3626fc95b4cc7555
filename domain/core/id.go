package core

import (
	"github.com/google/uuid"
)

// RunID identifies one pipeline run. Run ids are UUID v7 so they sort by start time.
type RunID string

// RuleID identifies a rule in the catalog
type RuleID string

func (id RunID) String() string  { return string(id) }
func (id RuleID) String() string { return string(id) }

// NewRunID returns a fresh identifier for one pipeline run
func NewRunID() RunID {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return RunID(id.String())
}
