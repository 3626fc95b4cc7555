package app

import (
	"context"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"

	"gomatter/domain/material"
	"gomatter/domain/rules"
	"gomatter/domain/run"
	"gomatter/internal"
	"gomatter/internal/errors"
	"gomatter/internal/matcher"
	"gomatter/internal/pipeline"
	"gomatter/internal/rulestore"
	"gomatter/ports"
)

// MaxBatchSize bounds the number of formulas accepted by one batch request
const MaxBatchSize = 500

var timeNow = time.Now

// Pipeline runs one formula through the graph
type Pipeline interface {
	Stream(ctx context.Context, formula string, observe pipeline.Observer) run.State
}

// RuleCatalog is the rule store surface exposed to callers
type RuleCatalog interface {
	Snapshot() *rulestore.Snapshot
	Stats() rulestore.Stats
	Rebuild() error
}

// Scorer rates a property record against an application domain
type Scorer interface {
	Score(rec material.PropertyRecord, domain string) matcher.Scorecard
}

// NodeEvent is published after every node of a run that carries a session id
type NodeEvent struct {
	SessionID string       `json:"session_id"`
	RunID     string       `json:"run_id"`
	Formula   string       `json:"formula"`
	Node      run.NodeName `json:"node"`
	Path      []string     `json:"path"`
	Failed    bool         `json:"failed"`
	Progress  float64      `json:"progress"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventSink receives node events, e.g. to forward them over SSE
type EventSink interface {
	Publish(event NodeEvent)
}

// RunRequest names a formula and an optional event session
type RunRequest struct {
	Formula   string `json:"formula" binding:"required"`
	SessionID string `json:"session_id,omitempty"`
}

// BatchRequest runs many formulas under one session
type BatchRequest struct {
	Formulas  []string `json:"formulas" binding:"required"`
	SessionID string   `json:"session_id,omitempty"`
}

// BatchItem is the final state of one batch entry
type BatchItem struct {
	Formula    string    `json:"formula"`
	State      run.State `json:"state"`
	DurationMs float64   `json:"duration_ms"`
}

// BatchSummary aggregates the outcomes of a batch
type BatchSummary struct {
	Total          int            `json:"total"`
	Completed      int            `json:"completed"`
	Failed         int            `json:"failed"`
	ByErrorKind    map[string]int `json:"by_error_kind"`
	ByVerdict      map[string]int `json:"by_verdict"`
	DatabaseHits   int            `json:"database_hits"`
	MeanDurationMs float64        `json:"mean_duration_ms"`
	P95DurationMs  float64        `json:"p95_duration_ms"`
}

// BatchResult holds items in request order plus their summary
type BatchResult struct {
	Items   []BatchItem  `json:"items"`
	Summary BatchSummary `json:"summary"`
}

// RuleQuery filters the rule catalog; every field is optional and all given fields must hold
type RuleQuery struct {
	Category      string
	Keyword       string
	Application   string
	Property      string
	MinConfidence float64
}

// ScoreRequest asks how well a material fits an application domain. Without
// properties the material is looked up in the database.
type ScoreRequest struct {
	Formula    string                  `json:"formula" binding:"required"`
	Domain     string                  `json:"domain"`
	Properties material.PropertyRecord `json:"properties,omitempty"`
}

// ScoreResult is a scorecard plus where its properties came from
type ScoreResult struct {
	Formula   string            `json:"formula"`
	Source    string            `json:"source"`
	Scorecard matcher.Scorecard `json:"scorecard"`
}

// Property sources of a ScoreResult
const (
	SourceDatabase = "database"
	SourceRequest  = "request"
)

// DiscoveryService is the entry point shared by the HTTP API and the CLI
type DiscoveryService struct {
	pipeline    Pipeline
	catalog     RuleCatalog
	events      EventSink
	concurrency int
	logger      *internal.Logger

	materials ports.MaterialsDatabase
	scorer    Scorer
}

// ServiceOption configures a DiscoveryService
type ServiceOption func(*DiscoveryService)

// WithScoring enables ScoreMaterial over a materials database and a scorer
func WithScoring(materials ports.MaterialsDatabase, scorer Scorer) ServiceOption {
	return func(s *DiscoveryService) {
		s.materials = materials
		s.scorer = scorer
	}
}

// NewDiscoveryService creates the service; events may be nil
func NewDiscoveryService(p Pipeline, catalog RuleCatalog, events EventSink, concurrency int, logger *internal.Logger, opts ...ServiceOption) *DiscoveryService {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	s := &DiscoveryService{pipeline: p, catalog: catalog, events: events, concurrency: concurrency, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one pipeline. Node failures are reported inside the state;
// the error is only for requests that never reach the pipeline.
func (s *DiscoveryService) Run(ctx context.Context, req RunRequest) (run.State, error) {
	formula := strings.TrimSpace(req.Formula)
	if formula == "" {
		return run.State{}, errors.InvalidInput("formula is required")
	}
	return s.pipeline.Stream(ctx, formula, s.observer(req.SessionID, nil)), nil
}

// RunBatch runs formulas with bounded concurrency and returns them in request order.
// Cancelling ctx makes the remaining runs finish with a Cancelled error.
func (s *DiscoveryService) RunBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if len(req.Formulas) == 0 {
		return nil, errors.InvalidInput("formulas must not be empty")
	}
	if len(req.Formulas) > MaxBatchSize {
		return nil, errors.InvalidInput("too many formulas in one batch")
	}
	for _, f := range req.Formulas {
		if strings.TrimSpace(f) == "" {
			return nil, errors.InvalidInput("formulas must not contain blanks")
		}
	}

	items := make([]BatchItem, len(req.Formulas))
	done := &progress{total: len(req.Formulas)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, formula := range req.Formulas {
		i, formula := i, strings.TrimSpace(formula)
		g.Go(func() error {
			start := timeNow()
			state := s.pipeline.Stream(gctx, formula, s.observer(req.SessionID, done))
			items[i] = BatchItem{Formula: formula, State: state, DurationMs: float64(timeNow().Sub(start).Microseconds()) / 1000}
			done.inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := Summarize(items)
	s.logger.Info("[Discovery] batch of %d finished: %d completed, %d failed", summary.Total, summary.Completed, summary.Failed)
	return &BatchResult{Items: items, Summary: summary}, nil
}

// Summarize counts outcomes and duration statistics over batch items
func Summarize(items []BatchItem) BatchSummary {
	out := BatchSummary{Total: len(items), ByErrorKind: map[string]int{}, ByVerdict: map[string]int{}}
	durations := make(stats.Float64Data, 0, len(items))
	for _, it := range items {
		durations = append(durations, it.DurationMs)
		st := it.State
		if st.Error != nil {
			out.Failed++
			out.ByErrorKind[string(st.Error.Kind)]++
		} else if st.Report != nil {
			out.Completed++
		}
		if st.FoundInDatabase != nil && *st.FoundInDatabase {
			out.DatabaseHits++
		}
		if st.Verdict != nil {
			out.ByVerdict[string(*st.Verdict)]++
		}
	}
	if len(durations) > 0 {
		out.MeanDurationMs, _ = durations.Mean()
		out.P95DurationMs, _ = durations.Percentile(95)
	}
	return out
}

// ListRules filters the catalog. The most selective index answers first and the
// remaining criteria filter its result. Results are ordered by rule id.
func (s *DiscoveryService) ListRules(q RuleQuery) ([]rules.Rule, error) {
	var want rules.Category
	if q.Category != "" {
		c, err := rules.ParseCategory(q.Category)
		if err != nil {
			return nil, errors.InvalidInput(err.Error())
		}
		want = c
	}
	if q.MinConfidence < 0 || q.MinConfidence > 1 {
		return nil, errors.InvalidInput("min_confidence must be within [0, 1]")
	}

	snap := s.catalog.Snapshot()
	var base []rules.Rule
	switch {
	case q.Keyword != "":
		base = snap.ByKeyword(q.Keyword)
	case q.Application != "":
		base = snap.ByApplication(q.Application)
	case q.Property != "":
		base = snap.ByProperty(q.Property)
	case want != "":
		base = snap.ByCategory(want)
	default:
		base = snap.All()
	}

	inApp := idSet(snap.ByApplication(q.Application))
	inProp := idSet(snap.ByProperty(q.Property))
	out := make([]rules.Rule, 0, len(base))
	for _, r := range base {
		switch {
		case want != "" && r.Category != want:
		case q.Application != "" && !inApp[r.ID.String()]:
		case q.Property != "" && !inProp[r.ID.String()]:
		case r.Confidence < q.MinConfidence:
		default:
			out = append(out, r)
		}
	}
	return out, nil
}

func idSet(rs []rules.Rule) map[string]bool {
	out := make(map[string]bool, len(rs))
	for _, r := range rs {
		out[r.ID.String()] = true
	}
	return out
}

// ScoreMaterial rates a material for an application domain, general when none is named
func (s *DiscoveryService) ScoreMaterial(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	formula := strings.TrimSpace(req.Formula)
	if formula == "" {
		return nil, errors.InvalidInput("formula is required")
	}
	if s.scorer == nil {
		return nil, errors.New(errors.CodeInternalError, "material scoring is not configured")
	}

	res := &ScoreResult{Formula: formula, Source: SourceRequest}
	rec := req.Properties
	if len(rec) == 0 {
		if s.materials == nil {
			return nil, errors.InvalidInput("no materials database; pass the properties to score")
		}
		found, err := s.materials.Lookup(ctx, formula)
		switch {
		case errors.Is(err, ports.ErrMaterialNotFound):
			return nil, errors.New(errors.CodeNotFound, formula+" is not in the materials database; pass its properties to score it")
		case err != nil:
			return nil, errors.LookupError(formula, err)
		}
		rec = found
		res.Source = SourceDatabase
	}

	res.Scorecard = s.scorer.Score(rec, req.Domain)
	s.logger.Debug("[Discovery] scored %s for %s: %.3f", formula, res.Scorecard.Domain, res.Scorecard.Overall)
	return res, nil
}

// Applications lists the application tags indexed in the catalog
func (s *DiscoveryService) Applications() []string {
	return s.catalog.Snapshot().Applications()
}

// RuleStats returns catalog statistics
func (s *DiscoveryService) RuleStats() rulestore.Stats {
	return s.catalog.Stats()
}

// ReloadRules rebuilds the index from disk. A failed reload keeps the previous rules.
func (s *DiscoveryService) ReloadRules() (rulestore.Stats, error) {
	if err := s.catalog.Rebuild(); err != nil {
		if errors.IsCode(err, errors.CodeRuleStoreEmpty) {
			s.logger.Warn("[Discovery] rule reload found no rules: %v", err)
			return s.catalog.Stats(), nil
		}
		return s.catalog.Stats(), err
	}
	return s.catalog.Stats(), nil
}

func (s *DiscoveryService) observer(sessionID string, p *progress) pipeline.Observer {
	if s.events == nil || sessionID == "" {
		return nil
	}
	return func(node run.NodeName, st run.State) {
		path := make([]string, len(st.Path))
		for i, n := range st.Path {
			path[i] = string(n)
		}
		ev := NodeEvent{
			SessionID: sessionID,
			RunID:     st.RunID.String(),
			Formula:   st.Formula,
			Node:      node,
			Path:      path,
			Failed:    st.Error != nil,
			Timestamp: timeNow(),
		}
		if p != nil {
			ev.Progress = p.fraction()
		}
		s.events.Publish(ev)
	}
}
