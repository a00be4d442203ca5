// Package agentplan provides a high-level façade that builds a fully wired
// generation engine from configuration. Most applications interact with this
// package by:
//  1. Loading a config.Config (or starting from config.Default())
//  2. Creating an AgentPlan via New, which resolves the model provider, the
//     tool registry, the stores and the queue named by the configuration
//  3. Submitting goals and resolving checkpoints through Engine()
//
// Every collaborator can be overridden through Options. All defaults are
// in-memory and safe for local development and testing.
package agentplan

import (
	"context"
	"errors"
	"fmt"
	"io"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentplan/artifact"
	artifactredis "github.com/hupe1980/agentplan/artifact/redis"
	"github.com/hupe1980/agentplan/checkpoint"
	"github.com/hupe1980/agentplan/config"
	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/engine"
	"github.com/hupe1980/agentplan/evidence"
	evidenceredis "github.com/hupe1980/agentplan/evidence/redis"
	"github.com/hupe1980/agentplan/internal/testutil"
	"github.com/hupe1980/agentplan/logging"
	"github.com/hupe1980/agentplan/model"
	"github.com/hupe1980/agentplan/model/anthropic"
	"github.com/hupe1980/agentplan/model/openai"
	"github.com/hupe1980/agentplan/planner"
	"github.com/hupe1980/agentplan/queue"
	"github.com/hupe1980/agentplan/request"
	"github.com/hupe1980/agentplan/request/mysql"
	"github.com/hupe1980/agentplan/retrieval"
	"github.com/hupe1980/agentplan/tool"
)

// Options overrides collaborators that would otherwise be built from the
// configuration.
type Options struct {
	// Model replaces the configured LLM provider.
	Model model.Model
	// Gateway replaces the in-memory gateway seeded from retrieval config.
	Gateway retrieval.Gateway
	// Tools are registered next to the builtin tools.
	Tools []tool.Tool
	// Callbacks receive engine lifecycle hooks.
	Callbacks *engine.CallbackManager
	// Logger defaults to a slog logger configured by logging config.
	Logger logging.Logger
}

// AgentPlan aggregates the engine and the resources it owns.
type AgentPlan struct {
	engine  *engine.Engine
	tools   *tool.Registry
	logger  logging.Logger
	closers []io.Closer
}

// New builds an AgentPlan from cfg. A nil cfg uses config.Default().
func New(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*AgentPlan, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewSlogLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format, false).WithComponent("agentplan")
	}

	ap := &AgentPlan{logger: opts.Logger}
	ok := false
	defer func() {
		if !ok {
			_ = ap.Close()
		}
	}()

	m := opts.Model
	if m == nil {
		var err error
		if m, err = NewModel(cfg.LLM); err != nil {
			return nil, err
		}
	}

	gw := opts.Gateway
	if gw == nil {
		docs, err := cfg.Retrieval.Documents()
		if err != nil {
			return nil, err
		}
		gw = retrieval.NewInMemoryGateway(docs...)
	}

	ap.tools = tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.Logger = opts.Logger
		o.DefaultTimeout = cfg.Engine.ToolTimeout
	})
	builtin := []tool.Tool{
		tool.NewCompletionTool(m, func(o *tool.CompletionOptions) {
			o.Temperature = cfg.LLM.Temperature
			o.MaxTokens = cfg.LLM.MaxTokens
			o.MaxConcurrency = cfg.LLM.MaxConcurrency
			o.Logger = opts.Logger
		}),
		tool.NewCalculatorTool(),
		retrieval.NewSearchTool(gw),
	}
	if err := ap.tools.Register(append(builtin, opts.Tools...)...); err != nil {
		return nil, err
	}

	requests, err := ap.requestStore(ctx, cfg.Storage.Requests)
	if err != nil {
		return nil, err
	}
	evidenceFactory, err := ap.evidenceFactory(ctx, cfg.Storage.Evidence)
	if err != nil {
		return nil, err
	}
	artifacts, err := ap.artifactStore(ctx, cfg.Storage.Artifacts)
	if err != nil {
		return nil, err
	}
	q, err := ap.queue(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}

	ap.engine = engine.New(ap.tools, func(o *engine.Options) {
		o.Config = engine.Config{
			Workers:             cfg.Engine.Workers,
			Concurrency:         cfg.Engine.Concurrency,
			MaxAttempts:         cfg.Engine.MaxAttempts,
			ValidationRetries:   cfg.Engine.ValidationRetries,
			BaseBackoff:         cfg.Engine.BaseBackoff,
			MaxBackoff:          cfg.Engine.MaxBackoff,
			RateLimitMultiplier: cfg.Engine.RateLimitMultiplier,
			AttemptTimeout:      cfg.Engine.AttemptTimeout,
			ToolTimeout:         cfg.Engine.ToolTimeout,
			Temperature:         cfg.LLM.Temperature,
			PollInterval:        engine.DefaultConfig.PollInterval,
		}
		o.Planner = planner.New(func(po *planner.Options) {
			po.DefaultTopK = cfg.Engine.DefaultTopK
			po.Logger = opts.Logger
		})
		o.Requests = requests
		o.Artifacts = artifacts
		o.Evidence = evidenceFactory
		o.Queue = q
		o.CheckpointOptions = []func(co *checkpoint.Options){func(co *checkpoint.Options) {
			co.Timeout = cfg.Checkpoint.Timeout
			co.TimeoutDecision = core.Decision(cfg.Checkpoint.TimeoutDecision)
		}}
		if opts.Callbacks != nil {
			o.Callbacks = opts.Callbacks
		}
		o.Logger = opts.Logger
	})

	ok = true
	ap.logger.Info("agentplan.ready", "provider", cfg.LLM.Provider, "tools", len(ap.tools.Names()), "queue", cfg.Queue.Driver)
	return ap, nil
}

// Engine returns the Generation Request API.
func (ap *AgentPlan) Engine() *engine.Engine { return ap.engine }

// Tools returns the tool registry.
func (ap *AgentPlan) Tools() *tool.Registry { return ap.tools }

// Start consumes the configured queue until ctx ends. It returns
// engine.ErrNoQueue when requests run in-process.
func (ap *AgentPlan) Start(ctx context.Context) error { return ap.engine.Start(ctx) }

// Run submits goal, waits for it to resolve and returns the final record.
// Checkpoints requested by the goal must be resolved concurrently through
// Engine().ResolveCheckpoint, or by the configured timeout policy.
func (ap *AgentPlan) Run(ctx context.Context, goal core.Goal) (*request.Record, error) {
	id, err := ap.engine.Submit(ctx, goal)
	if err != nil {
		return nil, err
	}
	if _, err := ap.engine.Wait(ctx, id); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_ = ap.engine.Cancel(context.WithoutCancel(ctx), id)
		}
		return nil, err
	}
	return ap.engine.Result(ctx, id)
}

// Close releases every connection opened by New.
func (ap *AgentPlan) Close() error {
	var errs []error
	for i := len(ap.closers) - 1; i >= 0; i-- {
		if err := ap.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	ap.closers = nil
	return errors.Join(errs...)
}

// NewModel resolves the configured provider.
func NewModel(cfg config.LLMConfig) (model.Model, error) {
	switch cfg.Provider {
	case "", "mock":
		return testutil.NewMockModel(), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = int64(cfg.MaxTokens)
			o.APIKey = cfg.APIKey()
		}), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = int64(cfg.MaxTokens)
			o.APIKey = cfg.APIKey()
		}), nil
	}
	return nil, fmt.Errorf("agentplan: unknown llm provider %q", cfg.Provider)
}

func (ap *AgentPlan) requestStore(ctx context.Context, cfg config.RequestStoreConfig) (request.Store, error) {
	if cfg.Driver != "mysql" {
		return request.NewInMemoryStore(), nil
	}
	s, err := mysql.New(ctx, mysql.Config{
		DSN:             cfg.MySQL.DSN,
		Table:           cfg.MySQL.Table,
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	ap.closers = append(ap.closers, s)
	return s, nil
}

func (ap *AgentPlan) evidenceFactory(ctx context.Context, cfg config.EvidenceStoreConfig) (evidence.Factory, error) {
	if cfg.Driver != "redis" {
		return evidence.InMemoryFactory(), nil
	}
	s, err := evidenceredis.New(ctx, evidenceredis.Config{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}
	ap.closers = append(ap.closers, s)
	return s.Factory(), nil
}

func (ap *AgentPlan) artifactStore(ctx context.Context, cfg config.ArtifactStoreConfig) (artifact.Store, error) {
	if cfg.Driver != "redis" {
		return artifact.NewInMemoryStore(), nil
	}
	s, err := artifactredis.New(ctx, artifactredis.Config{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
		TTL:      cfg.TTL,
	})
	if err != nil {
		return nil, err
	}
	ap.closers = append(ap.closers, s)
	return s, nil
}

// queue opens the configured queue. The memory driver is only used when
// explicitly requested with a size; otherwise requests run in-process.
func (ap *AgentPlan) queue(ctx context.Context, cfg config.QueueConfig) (queue.Queue, error) {
	if (cfg.Driver == "" || cfg.Driver == queue.DriverMemory) && cfg.Size == 0 {
		return nil, nil
	}
	q, err := queue.Open(ctx, queue.Config{
		Driver: cfg.Driver,
		Size:   cfg.Size,
		Redis: queue.RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: cfg.Redis.BlockWait,
		},
		RabbitMQ: queue.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		},
	}, func(o *queue.Options) { o.Logger = ap.logger })
	if err != nil {
		return nil, err
	}
	ap.closers = append(ap.closers, q)
	return q, nil
}
