// Package pipeline drives a formula through the lookup, analysis and feasibility stages.
// Each node reads the state, makes at most one external call, and returns a patch;
// routing is computed from the patched state through the Transitions table.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"gomatter/domain/core"
	"gomatter/domain/run"
	"gomatter/internal"
	"gomatter/internal/feasibility"
	"gomatter/internal/matcher"
	"gomatter/internal/report"
	"gomatter/ports"
)

// RuleSource pins the rule version a run reads from start to end
type RuleSource interface {
	Pin() *matcher.View
}

// Simulator evaluates compositions absent from the database, citing rules from rm
type Simulator interface {
	EvaluateWith(ctx context.Context, formula string, rm feasibility.RuleMatcher) (feasibility.Result, error)
}

// Config holds per-call timeouts and validation tolerances
type Config struct {
	LookupTimeout     time.Duration
	GenerationTimeout time.Duration
	// HullTolerance bounds how negative a reported energy above hull may be
	HullTolerance float64
}

// DefaultConfig returns the timeouts used when none are configured
func DefaultConfig() Config {
	return Config{
		LookupTimeout:     10 * time.Second,
		GenerationTimeout: 60 * time.Second,
		HullTolerance:     0.001,
	}
}

// Node is one stage of the graph. view is the rule snapshot pinned for the run.
type Node func(ctx context.Context, view *matcher.View, s run.State) run.Patch

// Observer receives the state after every node
type Observer func(node run.NodeName, s run.State)

// Orchestrator runs pipelines. It holds only shared read-only collaborators and is
// safe to use from many goroutines; every run owns its own state.
type Orchestrator struct {
	cfg       Config
	database  ports.MaterialsDatabase
	generator ports.Generator
	rules     RuleSource
	simulator Simulator
	logger    *internal.Logger

	nodes       map[run.NodeName]Node
	transitions []Transition
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger
func WithLogger(l *internal.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithConfig overrides the default timeouts
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// New wires an orchestrator over its collaborators
func New(database ports.MaterialsDatabase, generator ports.Generator, rs RuleSource, simulator Simulator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         DefaultConfig(),
		database:    database,
		generator:   generator,
		rules:       rs,
		simulator:   simulator,
		logger:      internal.DefaultLogger,
		transitions: Transitions,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.nodes = map[run.NodeName]Node{
		run.NodeLookup:            o.lookup,
		run.NodeValidateChemistry: o.validateChemistry,
		run.NodeAnalyze:           o.analyze,
		run.NodeHypothesize:       o.hypothesize,
		run.NodeSimulate:          o.simulate,
		run.NodeFormat:            o.format,
		run.NodeError:             o.fail,
	}
	return o
}

// Run executes one pipeline to END and returns the final state
func (o *Orchestrator) Run(ctx context.Context, formula string) run.State {
	return o.Stream(ctx, formula, nil)
}

// Stream executes one pipeline, passing the state to observe after each node
func (o *Orchestrator) Stream(ctx context.Context, formula string, observe Observer) run.State {
	s := run.NewState(core.NewRunID(), formula)
	view := o.rules.Pin()
	log := o.logger.With("run_id", s.RunID.String())
	log.Info("[Pipeline] starting run for %q against rules v%d", formula, view.Version())

	node := run.NodeLookup
	for node != run.NodeEnd {
		if node != run.NodeError && !s.HasError() && ctx.Err() != nil {
			s = o.patch(s, node, run.Patch{Error: &run.ErrorRecord{
				Kind: run.ErrCancelled, Reason: fmt.Sprintf("run cancelled before %s: %v", node, ctx.Err()),
				Formula: formula, Node: node,
			}})
			node = run.NodeError
			continue
		}

		fn, ok := o.nodes[node]
		if !ok {
			s = o.internalError(s, node, fmt.Sprintf("no handler for node %s", node))
			node = run.NodeError
			continue
		}

		start := time.Now()
		p := o.call(ctx, fn, view, node, s)
		nodeDuration.WithLabelValues(string(node)).Observe(time.Since(start).Seconds())

		s = o.patch(s.Visit(node), node, p)
		if observe != nil {
			observe(node, s)
		}

		next, ok := Route(o.transitions, node, s)
		if !ok {
			if node == run.NodeError {
				break
			}
			s = o.internalError(s, node, fmt.Sprintf("no transition from %s", node))
			next = run.NodeError
		}
		log.Debug("[Pipeline] %s -> %s", node, next)
		node = next
	}

	outcome := "ok"
	if s.Error != nil {
		outcome = string(s.Error.Kind)
		log.Warn("[Pipeline] run for %q ended with %s: %s", formula, s.Error.Kind, s.Error.Reason)
	} else {
		log.Info("[Pipeline] run for %q completed via %v", formula, s.Path)
	}
	runsTotal.WithLabelValues(outcome).Inc()
	return s
}

// call runs one node. A panicking node yields an internal error patch so the run
// still routes to the error node and ends with an artifact.
func (o *Orchestrator) call(ctx context.Context, fn Node, view *matcher.View, node run.NodeName, s run.State) (p run.Patch) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("[Pipeline] %s panicked: %v", node, r)
			panicsTotal.WithLabelValues(string(node)).Inc()
			if node == run.NodeError {
				// the failure renderer itself panicked; keep the recorded error
				p = run.Patch{Artifact: &run.Artifact{Status: run.ArtifactError, Format: report.FormatMarkdown,
					Body: fmt.Sprintf("# %s\n\n**Status:** error\n\nThe error report could not be rendered.\n", s.Formula)}}
				return
			}
			p = errorPatch(s, node, run.ErrInternal, fmt.Sprintf("%s panicked: %v", node, r))
		}
	}()
	return fn(ctx, view, s)
}

// patch applies a node patch; a patch the state rejects becomes an internal error
func (o *Orchestrator) patch(s run.State, node run.NodeName, p run.Patch) run.State {
	next, err := s.Apply(p)
	if err == nil {
		return next
	}
	o.logger.Error("[Pipeline] %s produced an invalid patch: %v", node, err)
	return o.internalError(s, node, err.Error())
}

func (o *Orchestrator) internalError(s run.State, node run.NodeName, reason string) run.State {
	if s.HasError() {
		return s
	}
	next, err := s.Apply(run.Patch{Error: &run.ErrorRecord{Kind: run.ErrInternal, Reason: reason, Formula: s.Formula, Node: node}})
	if err != nil {
		// only possible when a report is already set; the report stands
		return s
	}
	return next
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
