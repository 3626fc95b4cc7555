// Package container wires configuration into the running application.
package container

import (
	"context"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"

	"gomatter/adapters/energy"
	"gomatter/adapters/excel"
	"gomatter/adapters/llm"
	"gomatter/adapters/llm/heuristic"
	"gomatter/adapters/reference"
	"gomatter/adapters/sqlstore"
	"gomatter/app"
	"gomatter/internal"
	"gomatter/internal/api"
	"gomatter/internal/config"
	"gomatter/internal/errors"
	"gomatter/internal/feasibility"
	"gomatter/internal/matcher"
	"gomatter/internal/migration"
	"gomatter/internal/pipeline"
	"gomatter/internal/rulestore"
	"gomatter/ports"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB         *sqlx.DB
	Materials  ports.MaterialsRepository
	Phases     *sqlstore.ReferencePhaseRepository
	References ports.ReferencePhaseSource

	// Knowledge base
	Rules   *rulestore.Store
	Matcher *matcher.Matcher

	// External collaborators
	Generator ports.Generator
	Predictor ports.EnergyPredictor

	// Core
	Engine    *feasibility.Engine
	Pipeline  *pipeline.Orchestrator
	SSEHub    *api.SSEHub
	Discovery *app.DiscoveryService

	stopWatcher context.CancelFunc
}

// New opens the database, applies migrations, loads the rules and wires the pipeline.
// An empty rule directory is logged and tolerated.
func New(ctx context.Context, cfg *config.Config, logger *internal.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	c := &Container{Config: cfg, Logger: logger}

	if err := c.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := c.initRules(); err != nil {
		c.Shutdown(ctx)
		return nil, err
	}
	if err := c.initCollaborators(); err != nil {
		c.Shutdown(ctx)
		return nil, err
	}
	c.initCore()

	logger.Info("[Container] initialized (db=%s, generator=%s, rules=%d)", cfg.Database.Driver, cfg.LLM.Mode, c.Rules.Snapshot().Len())
	return c, nil
}

func (c *Container) initDatabase(ctx context.Context) error {
	db, err := sqlstore.Open(ctx, c.Config.Database.Driver, c.Config.Database.URL)
	if err != nil {
		return err
	}
	c.DB = db

	if err := migration.NewRunner(db, c.Logger).Run(ctx); err != nil {
		return errors.Wrap(err, "database migration failed")
	}

	var materials ports.MaterialsRepository = sqlstore.NewMaterialsRepository(db)
	if size := c.Config.Database.CacheSize; size > 0 {
		cached, err := sqlstore.NewCachedRepository(materials, size)
		if err != nil {
			return errors.Wrap(err, "failed to create lookup cache")
		}
		materials = cached
	}
	c.Materials = materials
	c.Phases = sqlstore.NewReferencePhaseRepository(db)
	return nil
}

func (c *Container) initRules() error {
	store, err := rulestore.Open(c.Config.Rules.Dir,
		rulestore.WithLogger(c.Logger),
		rulestore.WithMinConfidence(c.Config.Rules.MinConfidence),
	)
	if err != nil && !errors.IsCode(err, errors.CodeRuleStoreEmpty) {
		return err
	}
	c.Rules = store
	c.Matcher = matcher.New(store)
	return nil
}

func (c *Container) initCollaborators() error {
	switch c.Config.LLM.Mode {
	case "llm":
		gen, err := llm.NewGenerator(llm.Config{
			Model:         c.Config.LLM.Model,
			APIKey:        c.Config.LLM.APIKey,
			BaseURL:       c.Config.LLM.BaseURL,
			Temperature:   c.Config.LLM.Temperature,
			MaxTokens:     c.Config.LLM.MaxTokens,
			RatePerSecond: c.Config.LLM.RatePerSecond,
			PromptsDir:    c.Config.LLM.PromptsDir,
		}, c.Logger)
		if err != nil {
			return errors.Wrap(err, "failed to create LLM generator")
		}
		c.Generator = gen
	default:
		c.Generator = heuristic.NewGenerator()
	}

	if url := c.Config.Energy.ServiceURL; url != "" {
		c.Predictor = energy.NewClient(url, c.Config.Timeouts.Prediction)
	} else {
		c.Logger.Warn("[Container] ENERGY_SERVICE_URL not set; feasibility runs past the chemical filters will fail with PredictionUnavailable")
		c.Predictor = energy.Unavailable{}
	}

	if path := c.Config.Reference.PhasesFile; path != "" {
		src, err := reference.Load(path, c.Logger)
		if err != nil {
			return errors.Wrapf(err, "failed to load reference phases from %s", path)
		}
		c.Logger.Info("[Container] using %d reference phases from %s", src.Len(), path)
		c.References = src
	} else {
		c.References = c.Phases
	}
	return nil
}

func (c *Container) initCore() {
	fc := c.Config.Feasibility
	c.Engine = feasibility.NewEngine(feasibility.Config{
		HullTolerance:           fc.HullTolerance,
		MetastableWindow:        fc.MetastableWindow,
		ChargeTolerance:         fc.ChargeTolerance,
		HeuristicStableEnergy:   fc.HeuristicStableEnergy,
		HeuristicUnstableEnergy: fc.HeuristicUnstableEnergy,
		PredictionTimeout:       c.Config.Timeouts.Prediction,
		ReferenceTimeout:        c.Config.Timeouts.Reference,
	}, c.Matcher, c.Predictor,
		feasibility.WithReferences(c.References),
		feasibility.WithLogger(c.Logger),
	)

	c.Pipeline = pipeline.New(c.Materials, c.Generator, c.Matcher, c.Engine,
		pipeline.WithLogger(c.Logger),
		pipeline.WithConfig(pipeline.Config{
			LookupTimeout:     c.Config.Timeouts.Lookup,
			GenerationTimeout: c.Config.Timeouts.Generation,
			HullTolerance:     fc.HullTolerance,
		}),
	)

	c.SSEHub = api.NewSSEHub(c.Logger)
	c.Discovery = app.NewDiscoveryService(c.Pipeline, c.Rules, c.SSEHub, c.Config.Batch.Concurrency, c.Logger,
		app.WithScoring(c.Materials, c.Matcher))
}

// StartRuleWatcher rebuilds the rule index when the rule files change, until Shutdown.
// It does nothing unless RULES_WATCH is set.
func (c *Container) StartRuleWatcher(ctx context.Context) error {
	if !c.Config.Rules.Watch {
		return nil
	}
	w, err := rulestore.NewWatcher(c.Rules, rulestore.DefaultDebounce, func(err error) {
		if err != nil {
			c.Logger.Warn("[Container] rule reload: %v", err)
		}
	})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithCancel(ctx)
	c.stopWatcher = cancel
	go w.Run(wctx)
	c.Logger.Info("[Container] watching %s for rule changes", c.Rules.Dir())
	return nil
}

// ExportRules writes the rule catalog workbook
func (c *Container) ExportRules(w io.Writer) error {
	return excel.NewRuleExporter(c.Rules).WriteTo(w)
}

// NewServer builds the HTTP server over the discovery service
func (c *Container) NewServer() *api.Server {
	return api.NewServer(c.Discovery, c.SSEHub, c.ExportRules, c.Logger)
}

// Shutdown stops the watcher, logs LLM token usage and closes the database
func (c *Container) Shutdown(ctx context.Context) error {
	if c.stopWatcher != nil {
		c.stopWatcher()
	}
	if gen, ok := c.Generator.(*llm.Generator); ok {
		for _, purpose := range gen.Usage().Purposes() {
			t := gen.Usage().Summary()[purpose]
			c.Logger.Info("[Container] LLM usage %s: %d requests, %d tokens", purpose, t.Requests, t.TotalTokens)
		}
	}
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
