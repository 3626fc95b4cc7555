package rulestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gomatter/domain/core"
	"gomatter/domain/rules"
	"gomatter/internal"
	"gomatter/internal/errors"
)

// Store owns the process-wide rule index. Reads go through an atomically swapped
// snapshot; Rebuild is the only writer and never overlaps with itself.
type Store struct {
	dir           string
	logger        *internal.Logger
	minConfidence float64

	rebuildMu sync.Mutex
	version   int64
	current   atomic.Pointer[Snapshot]
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(l *internal.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMinConfidence drops rules below the given confidence at load time
func WithMinConfidence(c float64) Option {
	return func(s *Store) { s.minConfidence = c }
}

// Open loads the rule files in dir. A corrupt file fails with RULE_STORE_CORRUPT.
// Zero rules returns a usable store together with a RULE_STORE_EMPTY error.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir, logger: internal.DefaultLogger}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&Snapshot{byID: map[core.RuleID]int{}, byCategory: map[rules.Category][]core.RuleID{}, byKeyword: map[string][]core.RuleID{}, papers: map[string]PaperMeta{}})

	if err := s.Rebuild(); err != nil {
		if errors.IsCode(err, errors.CodeRuleStoreEmpty) {
			return s, err
		}
		return nil, err
	}
	return s, nil
}

// FromRules builds an in-memory store with no backing files
func FromRules(rs ...rules.Rule) *Store {
	s := &Store{logger: internal.DefaultLogger}
	snap, _ := buildSnapshot(1, rs, nil, nil)
	s.version = 1
	s.current.Store(snap)
	return s
}

// Dir returns the directory the store loads from
func (s *Store) Dir() string { return s.dir }

// Snapshot returns the current index
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// All returns every rule ordered by id
func (s *Store) All() []rules.Rule { return s.Snapshot().All() }

// ByCategory returns the rules of one category ordered by id
func (s *Store) ByCategory(c rules.Category) []rules.Rule { return s.Snapshot().ByCategory(c) }

// ByKeyword returns the rules indexed under a keyword ordered by id
func (s *Store) ByKeyword(keyword string) []rules.Rule { return s.Snapshot().ByKeyword(keyword) }

// Get returns one rule by id
func (s *Store) Get(id core.RuleID) (rules.Rule, bool) { return s.Snapshot().Get(id) }

// Rebuild reloads the files and swaps in a freshly built index. Concurrent readers
// keep seeing the previous snapshot until the swap. On a corrupt file the previous
// snapshot stays in place.
func (s *Store) Rebuild() error {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	if s.dir == "" {
		return nil
	}

	loaded, err := s.load()
	if err != nil {
		rebuildsTotal.WithLabelValues("corrupt").Inc()
		s.logger.Error("[RuleStore] rebuild from %s failed: %v", s.dir, err)
		return err
	}

	s.version++
	snap, unknown := buildSnapshot(s.version, loaded.rules, loaded.papers, loaded.index)
	if len(unknown) > 0 {
		s.logger.Warn("[RuleStore] %s references %d unknown rule ids, ignored: %v", IndexFile, len(unknown), unknown)
	}
	s.current.Store(snap)
	rulesLoaded.Set(float64(snap.Len()))

	if snap.Len() == 0 {
		rebuildsTotal.WithLabelValues("empty").Inc()
		s.logger.Warn("[RuleStore] no rules loaded from %s; matching will produce no citations", s.dir)
		return errors.RuleStoreEmpty(s.dir)
	}
	rebuildsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("[RuleStore] loaded %d rules (version %d, %d skipped)", snap.Len(), snap.Version(), loaded.skipped)
	return nil
}

type loadResult struct {
	rules   []rules.Rule
	papers  map[string]PaperMeta
	index   *indexRecord
	skipped int
}

func (s *Store) load() (*loadResult, error) {
	res := &loadResult{papers: map[string]PaperMeta{}}

	if err := readJSON(filepath.Join(s.dir, MetadataFile), &res.papers); err != nil {
		return nil, err
	}

	var idx indexRecord
	if err := readJSON(filepath.Join(s.dir, IndexFile), &idx); err != nil {
		return nil, err
	}
	res.index = &idx

	records, err := readRuleRecords(filepath.Join(s.dir, RulesFile))
	if err != nil {
		return nil, err
	}

	seen := make(map[core.RuleID]struct{}, len(records))
	for i, rec := range records {
		r, err := rec.toRule(res.papers)
		if err != nil {
			res.skipped++
			s.logger.Warn("[RuleStore] skipping rule #%d: %v", i, err)
			continue
		}
		if r.Confidence < s.minConfidence {
			res.skipped++
			s.logger.Debug("[RuleStore] skipping %s: confidence %.2f below %.2f", r.ID, r.Confidence, s.minConfidence)
			continue
		}
		if _, dup := seen[r.ID]; dup {
			res.skipped++
			s.logger.Warn("[RuleStore] duplicate rule id %s, keeping the first", r.ID)
			continue
		}
		seen[r.ID] = struct{}{}
		res.rules = append(res.rules, r)
	}
	return res, nil
}

// readRuleRecords accepts a bare array or an object with a "rules" array.
// A missing file yields no records.
func readRuleRecords(path string) ([]ruleRecord, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.RuleStoreCorrupt(filepath.Base(path), err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var records []ruleRecord
	if trimmed[0] == '{' {
		var wrapper struct {
			Rules []ruleRecord `json:"rules"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, errors.RuleStoreCorrupt(filepath.Base(path), err)
		}
		return wrapper.Rules, nil
	}
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, errors.RuleStoreCorrupt(filepath.Base(path), err)
	}
	return records, nil
}

// readJSON decodes an optional JSON document; a missing or empty file leaves v untouched
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.RuleStoreCorrupt(filepath.Base(path), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.RuleStoreCorrupt(filepath.Base(path), fmt.Errorf("decode: %w", err))
	}
	return nil
}
