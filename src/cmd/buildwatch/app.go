package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"buildwatch-agent/src/actualize"
	"buildwatch-agent/src/agent"
	"buildwatch-agent/src/broker"
	"buildwatch-agent/src/config"
	"buildwatch-agent/src/logger"
	"buildwatch-agent/src/scheduler"
	"buildwatch-agent/src/store"

	// Providers register themselves with the provider registry.
	_ "buildwatch-agent/src/buildkite"
	_ "buildwatch-agent/src/githubactions"
	_ "buildwatch-agent/src/gitlab"
)

// app holds the wiring shared by every command.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	store   store.Store
	broker  broker.Broker
	sched   scheduler.Scheduler
	manual  *scheduler.Manual
	pool    *scheduler.Pool
	agent   *agent.Agent
	metrics *prometheus.Registry
}

type appOptions struct {
	// background runs tasks on a worker pool; otherwise tasks are recorded
	// and drained explicitly after each command step.
	background bool
	// withBroker connects to Redpanda when configured.
	withBroker bool
	// logFormat overrides the configured log format.
	logFormat string
}

func newApp(cfg *config.Config, servers []config.ServerConfig, opts appOptions) (*app, error) {
	format := cfg.LogFormat
	if opts.logFormat != "" {
		format = opts.logFormat
	}
	log, err := logger.New(format, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, metrics: prometheus.NewRegistry()}

	a.store, err = store.Open(cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}

	if opts.withBroker {
		a.broker, err = broker.New(cfg.RedpandaBrokers, log)
		if err != nil {
			a.store.Close()
			return nil, fmt.Errorf("failed to create broker: %w", err)
		}
	}

	if opts.background {
		a.pool = scheduler.NewPool(cfg.Workers, log)
		a.sched = a.pool
	} else {
		a.manual = scheduler.NewManual()
		a.sched = a.manual
	}

	a.agent, err = agent.New(servers, agent.Deps{
		Store:     a.store,
		Scheduler: a.sched,
		Broker:    a.broker,
		Logger:    log,
		Metrics:   actualize.NewMetrics(a.metrics),
	}, agent.OptionsFromConfig(cfg))
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}

	return a, nil
}

// drain runs the background loads queued by a one-shot command step.
func (a *app) drain(ctx context.Context) error {
	if a.manual == nil {
		return nil
	}
	return a.manual.RunDue(ctx, 0)
}

func (a *app) Close(ctx context.Context) {
	if a.pool != nil {
		if err := a.pool.Stop(ctx); err != nil {
			a.log.Error("[App] Scheduler did not stop cleanly: %v", err)
		}
	}
	if a.broker != nil {
		a.broker.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
