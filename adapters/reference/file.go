// Package reference serves competing phases from a local file.
package reference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"gomatter/adapters/excel"
	"gomatter/domain/material"
	"gomatter/internal"
	"gomatter/ports"
)

type phaseDoc struct {
	Formula         string   `yaml:"formula"`
	FormationEnergy *float64 `yaml:"formation_energy_per_atom"`
	Energy          *float64 `yaml:"formation_energy"`
	Source          string   `yaml:"source"`
}

type phaseFile struct {
	Phases []phaseDoc `yaml:"phases"`
}

// FileSource holds phases loaded once from an xlsx, csv, yaml or json file
type FileSource struct {
	path   string
	phases []ports.ReferencePhase
}

var _ ports.ReferencePhaseSource = (*FileSource)(nil)

// Load reads path, choosing the format from its extension
func Load(path string, logger *internal.Logger) (*FileSource, error) {
	phases, err := ReadFile(path, logger)
	if err != nil {
		return nil, err
	}
	return &FileSource{path: path, phases: phases}, nil
}

// ReadFile parses reference phases without building a source
func ReadFile(path string, logger *internal.Logger) ([]ports.ReferencePhase, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".csv":
		return excel.NewDataReader(path, logger).ReadReferencePhases()
	case ".yaml", ".yml", ".json":
		return readYAML(path)
	default:
		return nil, fmt.Errorf("unsupported reference phase file %s", path)
	}
}

// readYAML accepts {phases: [...]} or a bare list; JSON parses as YAML
func readYAML(path string) ([]ports.ReferencePhase, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var docs []phaseDoc
	var wrapped phaseFile
	if err := yaml.Unmarshal(body, &wrapped); err == nil && len(wrapped.Phases) > 0 {
		docs = wrapped.Phases
	} else if err := yaml.Unmarshal(body, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	source := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := make([]ports.ReferencePhase, 0, len(docs))
	for i, d := range docs {
		comp, err := material.ParseFormula(d.Formula)
		if err != nil {
			return nil, fmt.Errorf("%s entry %d: %w", path, i, err)
		}
		energy := d.FormationEnergy
		if energy == nil {
			energy = d.Energy
		}
		if energy == nil {
			return nil, fmt.Errorf("%s entry %d (%s): missing formation energy", path, i, d.Formula)
		}
		p := ports.ReferencePhase{Formula: comp.Normalized, Composition: comp, FormationEnergy: *energy, Source: d.Source}
		if p.Source == "" {
			p.Source = source
		}
		out = append(out, p)
	}
	return out, nil
}

// Len is the number of loaded phases
func (s *FileSource) Len() int { return len(s.phases) }

// Phases returns every loaded phase
func (s *FileSource) Phases() []ports.ReferencePhase {
	out := make([]ports.ReferencePhase, len(s.phases))
	copy(out, s.phases)
	return out
}

// CompetingPhases returns the phases whose elements all belong to the given set
func (s *FileSource) CompetingPhases(ctx context.Context, elements []string) ([]ports.ReferencePhase, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(elements))
	for _, e := range elements {
		allowed[e] = true
	}
	var out []ports.ReferencePhase
	for _, p := range s.phases {
		ok := true
		for _, sym := range p.Composition.Symbols() {
			if !allowed[sym] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}
