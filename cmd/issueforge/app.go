package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/log/global"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/issueforge/internal/agent"
	"github.com/fyrsmithlabs/issueforge/internal/config"
	"github.com/fyrsmithlabs/issueforge/internal/correlator"
	"github.com/fyrsmithlabs/issueforge/internal/events"
	"github.com/fyrsmithlabs/issueforge/internal/execution"
	"github.com/fyrsmithlabs/issueforge/internal/logging"
	"github.com/fyrsmithlabs/issueforge/internal/orchestrator"
	"github.com/fyrsmithlabs/issueforge/internal/secrets"
	"github.com/fyrsmithlabs/issueforge/internal/session"
	"github.com/fyrsmithlabs/issueforge/internal/store"
	"github.com/fyrsmithlabs/issueforge/internal/store/githubstore"
	"github.com/fyrsmithlabs/issueforge/internal/store/gitrepo"
	"github.com/fyrsmithlabs/issueforge/internal/telemetry"
	"github.com/fyrsmithlabs/issueforge/internal/workflows"
)

// app holds process-wide dependencies shared by every session.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	scrubber  *secrets.Scrubber

	llm      agent.Agent
	temporal client.Client
	natsConn *nats.Conn
	events   events.Publisher
}

// bootstrap loads configuration and initializes logging and telemetry.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	if degraded, cause := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without exporters", zap.Error(cause))
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		scrubber:  secrets.New(cfg.Secrets.Enabled),
		events:    events.Nop{},
	}, nil
}

// connect dials the optional backends the configuration asks for.
func (rt *app) connect(ctx context.Context) error {
	if rt.cfg.Agent.Provider == config.AgentLLM {
		llm, err := newLLMAgent(rt.cfg.Agent)
		if err != nil {
			return err
		}
		rt.llm = llm
	}

	if rt.cfg.Execution.Runner == config.RunnerTemporal && rt.cfg.Execution.Mode != config.ModeSequential {
		c, err := dialTemporal(rt.cfg.Temporal)
		if err != nil {
			// The auto mode falls back to sequential execution without a runner.
			if rt.cfg.Execution.Mode == config.ModeDelegated {
				return err
			}
			rt.logger.Warn(ctx, "temporal unavailable, units will run in-process", zap.Error(err))
		} else {
			rt.temporal = c
		}
	}

	if rt.cfg.NATS.URL != "" {
		nc, err := events.Connect(rt.cfg.NATS.URL)
		if err != nil {
			rt.logger.Warn(ctx, "nats unavailable, session events disabled", zap.Error(err))
		} else {
			rt.natsConn = nc
			rt.events = events.NewNATSPublisher(nc, rt.cfg.NATS.SubjectPrefix, rt.logger)
		}
	}
	return nil
}

// Close releases every backend and flushes telemetry.
func (rt *app) Close() {
	if rt.natsConn != nil {
		_ = rt.natsConn.Drain()
	}
	if rt.temporal != nil {
		rt.temporal.Close()
	}
	if err := rt.telemetry.Shutdown(context.Background()); err != nil {
		rt.logger.Warn(context.Background(), "telemetry shutdown", zap.Error(err))
	}
	_ = rt.logger.Sync()
}

func newLLMAgent(cfg config.AgentConfig) (agent.Agent, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}
	return agent.NewLLMAgent(model, cfg.Timeout.Duration()), nil
}

func dialTemporal(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

// openStore opens the content store for one session.
type openStore func(ctx context.Context, target store.Target) (store.ContentStore, error)

func githubStores(rt *app) openStore {
	return func(ctx context.Context, target store.Target) (store.ContentStore, error) {
		return githubstore.Open(ctx, rt.cfg.GitHub, rt.cfg.Retry, target, rt.logger)
	}
}

func localStore(root string, defaultBranch string) openStore {
	return func(_ context.Context, target store.Target) (store.ContentStore, error) {
		return gitrepo.Open(root, target, defaultBranch)
	}
}

// factory builds the per-session environment: its store, the agent that
// answers on its behalf and the execution strategy for batched phases.
func (rt *app) factory(open openStore) orchestrator.Factory {
	return orchestrator.FactoryFunc(func(ctx context.Context, sess *session.Session) (orchestrator.Env, error) {
		target := store.Target{Owner: sess.Owner, Repo: sess.Repo, Issue: sess.ID, Branch: sess.Branch}
		st, err := open(ctx, target)
		if err != nil {
			return orchestrator.Env{}, fmt.Errorf("opening store for %s: %w", target, err)
		}
		logger := rt.logger.With(zap.String("session", sess.Key()))

		var ag agent.Agent
		switch rt.cfg.Agent.Provider {
		case config.AgentLLM:
			ag = rt.llm
		default:
			corr := correlator.New(st, correlator.Config{
				PollInterval: rt.cfg.Correlator.PollInterval.Duration(),
				MaxAttempts:  rt.cfg.Correlator.MaxAttempts,
				ClockSkew:    rt.cfg.Correlator.ClockSkew.Duration(),
			}, correlator.WithLogger(logger))
			ag = agent.NewCommentAgent(corr)
		}
		ag = agent.Scrubbed(ag, rt.scrubber)

		return orchestrator.Env{
			Store:    st,
			Agent:    ag,
			Strategy: execution.New(rt.cfg.Execution, st, rt.dispatcher(st, sess), ag, logger),
			Events:   rt.events,
		}, nil
	})
}

// dispatcher returns the delegated runner for a session, or nil when units
// must run in-process.
func (rt *app) dispatcher(st store.ContentStore, sess *session.Session) execution.Dispatcher {
	if rt.cfg.Execution.Mode == config.ModeSequential {
		return nil
	}
	switch rt.cfg.Execution.Runner {
	case config.RunnerTemporal:
		if rt.temporal == nil {
			return nil
		}
		return workflows.NewDispatcher(rt.temporal, rt.cfg.Temporal.TaskQueue, sess.ID)
	default:
		return execution.NewActionsDispatcher(st, sess.Branch, map[execution.Kind]string{
			execution.KindResearch:    rt.cfg.Execution.ResearchWorkflow,
			execution.KindDevelopment: rt.cfg.Execution.DevelopmentWorkflow,
		})
	}
}
