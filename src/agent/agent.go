// Package agent runs the sync and issue detection loop over every configured server.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"buildwatch-agent/src/actualize"
	"buildwatch-agent/src/broker"
	"buildwatch-agent/src/buildref"
	"buildwatch-agent/src/config"
	"buildwatch-agent/src/contracts"
	"buildwatch-agent/src/fatbuild"
	"buildwatch-agent/src/issue"
	"buildwatch-agent/src/logger"
	"buildwatch-agent/src/provider"
	"buildwatch-agent/src/scheduler"
	"buildwatch-agent/src/store"
)

// ErrUnknownServer is returned for a server id that is not configured.
var ErrUnknownServer = errors.New("unknown server")

// Deps are the shared collaborators of every server.
type Deps struct {
	Store     store.Store
	Scheduler scheduler.Scheduler
	Broker    broker.Broker
	Logger    logger.Logger
	Metrics   *actualize.Metrics

	// NewSource creates each server's remote source. Defaults to provider.NewSource.
	NewSource func(spec provider.ServerSpec) (provider.Source, error)
}

// Options tune the agent loop.
type Options struct {
	Sync         actualize.Options
	TickInterval time.Duration
	HistoryDepth int
}

// OptionsFromConfig maps environment configuration onto agent options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Sync: actualize.Options{
			MaxIDDiff:           cfg.MaxIDDiff,
			MaxChecked:          cfg.MaxChecked,
			ActualizeCoolDown:   cfg.ActualizeCoolDown,
			ReindexDelay:        cfg.ReindexDelay,
			FullReindexInterval: cfg.FullReindexInterval,
		},
		TickInterval: cfg.TickInterval,
		HistoryDepth: cfg.HistoryDepth,
	}
}

// Server is one configured CI server and its sync coordinator.
type Server struct {
	Config      config.ServerConfig
	Coordinator *actualize.Coordinator
	Loader      *fatbuild.Loader
}

// Agent owns the coordinators of all servers.
type Agent struct {
	servers  []*Server
	byID     map[string]*Server
	sched    scheduler.Scheduler
	broker   broker.Broker
	logger   logger.Logger
	detector *issue.Detector
	opts     Options

	mu        sync.Mutex
	published map[string]bool
}

// New builds the per-server caches and coordinators.
// Two servers whose cache masks collide are rejected.
func New(servers []config.ServerConfig, deps Deps, opts Options) (*Agent, error) {
	if deps.Store == nil || deps.Scheduler == nil {
		return nil, fmt.Errorf("agent needs a store and a scheduler")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewSilentLogger()
	}
	if deps.NewSource == nil {
		deps.NewSource = provider.NewSource
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}

	a := &Agent{
		byID:      make(map[string]*Server, len(servers)),
		sched:     deps.Scheduler,
		broker:    deps.Broker,
		logger:    deps.Logger,
		detector:  issue.NewDetector(),
		opts:      opts,
		published: make(map[string]bool),
	}

	masks := make(map[uint16]string, len(servers))
	for _, sc := range servers {
		if _, dup := a.byID[sc.ID]; dup {
			return nil, fmt.Errorf("duplicate server id %q", sc.ID)
		}
		mask := sc.CacheMask()
		if other, clash := masks[mask]; clash {
			return nil, fmt.Errorf("servers %q and %q share cache mask %d; set mask explicitly", other, sc.ID, mask)
		}
		masks[mask] = sc.ID

		src, err := deps.NewSource(sc.Spec())
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", sc.ID, err)
		}

		refs := buildref.NewCache(deps.Store, mask, sc.DefaultBranch)
		fat := fatbuild.NewCache(deps.Store, mask)
		loader := fatbuild.NewLoader(sc.ID, src, fat, refs, deps.Scheduler, deps.Logger)

		serverID := sc.ID
		coord := actualize.New(actualize.Deps{
			ServerID:  sc.ID,
			Source:    src,
			Refs:      refs,
			Loader:    loader,
			Scheduler: deps.Scheduler,
			Logger:    deps.Logger,
			Metrics:   deps.Metrics,
			OnScan: func(fullReindex bool, sum actualize.Summary, err error) {
				a.publishScan(serverID, fullReindex, sum, err)
			},
		}, opts.Sync)

		s := &Server{Config: sc, Coordinator: coord, Loader: loader}
		a.servers = append(a.servers, s)
		a.byID[sc.ID] = s
	}

	return a, nil
}

// Servers returns the configured servers in configuration order.
func (a *Agent) Servers() []*Server {
	return append([]*Server(nil), a.servers...)
}

// Server looks up a server by id.
func (a *Agent) Server(id string) (*Server, error) {
	s, ok := a.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	return s, nil
}

// LocateBuild resolves a build web URL to its configured server and build id.
func (a *Agent) LocateBuild(url string) (*Server, int64, error) {
	loc, err := provider.ParseURL(url)
	if err != nil {
		return nil, 0, err
	}
	for _, s := range a.servers {
		if loc.Matches(s.Config.Spec()) {
			return s, loc.BuildID, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: no configured server serves %s", ErrUnknownServer, url)
}

// Run ticks until ctx is cancelled. Each tick requests an actualize of every
// server and schedules issue detection for every watched history.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("[Agent] Starting with %d servers, tick %s", len(a.servers), a.opts.TickInterval)

	a.Tick()

	ticker := time.NewTicker(a.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.Tick()
		case <-ctx.Done():
			a.logger.Info("[Agent] Context cancelled, shutting down")
			return ctx.Err()
		}
	}
}

// Tick requests one round of sync and detection work.
func (a *Agent) Tick() {
	for _, s := range a.servers {
		s.Coordinator.EnsureActualizeRequested()

		for _, w := range s.Config.Watch {
			serverID, w := s.Config.ID, w
			name := fmt.Sprintf("Agent.detect.%s.%s.%s", serverID, w.BuildType, w.Branch)
			a.sched.ScheduleNamed(name, func(ctx context.Context) error {
				_, err := a.DetectAndPublish(ctx, serverID, w.BuildType, w.Branch)
				return err
			}, a.opts.TickInterval)
		}
	}
}

// DetectIssues scans the cached history of a build type on a branch.
func (a *Agent) DetectIssues(ctx context.Context, serverID, buildTypeID, branch string) ([]issue.Event, error) {
	s, err := a.Server(serverID)
	if err != nil {
		return nil, err
	}
	events, err := a.detector.Scan(ctx, s.Coordinator, buildTypeID, branch, a.opts.HistoryDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to detect issues on %s: %w", serverID, err)
	}
	return events, nil
}

// DetectAndPublish detects issues and publishes the ones not yet published.
func (a *Agent) DetectAndPublish(ctx context.Context, serverID, buildTypeID, branch string) (int, error) {
	events, err := a.DetectIssues(ctx, serverID, buildTypeID, branch)
	if err != nil {
		return 0, err
	}
	return a.PublishIssues(ctx, serverID, buildTypeID, branch, events)
}

// PublishIssues publishes events to the issues topic and returns how many were
// sent. An event already published by this process is skipped.
func (a *Agent) PublishIssues(ctx context.Context, serverID, buildTypeID, branch string, events []issue.Event) (int, error) {
	if a.broker == nil || len(events) == 0 {
		return 0, nil
	}
	s, err := a.Server(serverID)
	if err != nil {
		return 0, err
	}
	branch = s.Coordinator.Refs().BranchForQuery(branch)

	sent := 0
	for _, e := range events {
		id := e.ID(serverID)

		a.mu.Lock()
		seen := a.published[id]
		a.mu.Unlock()
		if seen {
			continue
		}

		msg := contracts.IssueEvent{
			ID:             id,
			ServerID:       serverID,
			IssueType:      string(e.Type),
			DisplayName:    e.Type.DisplayName(),
			BuildTypeID:    buildTypeID,
			Branch:         branch,
			TestName:       e.TestName,
			BuildIDs:       e.BuildIDs,
			FailedBuildIDs: e.FailedBuildIDs,
			DetectedAt:     e.DetectedAt,
			Timestamp:      time.Now().Format(time.RFC3339),
		}
		if fb, err := s.Loader.GetFatBuild(ctx, e.DetectedAt, false); err == nil && fb != nil {
			msg.WebURL = fb.WebURL
		}

		if err := broker.PublishJSON(ctx, a.broker, contracts.TopicIssues, id, msg); err != nil {
			return sent, err
		}

		a.mu.Lock()
		a.published[id] = true
		a.mu.Unlock()
		sent++

		a.logger.Info("[Agent] %s: %s in %s/%s (build %d)", e.Type.DisplayName(), e.TestName, buildTypeID, branch, e.DetectedAt)
	}
	return sent, nil
}

func (a *Agent) publishScan(serverID string, fullReindex bool, sum actualize.Summary, err error) {
	if a.broker == nil {
		return
	}
	msg := contracts.SyncSummary{
		ServerID:       serverID,
		FullReindex:    fullReindex,
		Saved:          sum.Saved,
		Checked:        sum.Checked,
		NeededToFind:   sum.NeededToFind,
		RemainedToFind: sum.RemainedToFind,
		Unresolved:     sum.Unresolved,
		Timestamp:      time.Now().Format(time.RFC3339),
	}
	if err != nil {
		msg.Error = err.Error()
	}
	if err := broker.PublishJSON(context.Background(), a.broker, contracts.TopicSyncSummaries, serverID, msg); err != nil {
		a.logger.Error("[Agent] Failed to publish sync summary for %s: %v", serverID, err)
	}
}

// Watches lists every watched history as server/buildType/branch triples, sorted.
func (a *Agent) Watches() []string {
	var out []string
	for _, s := range a.servers {
		for _, w := range s.Config.Watch {
			out = append(out, fmt.Sprintf("%s/%s/%s", s.Config.ID, w.BuildType, w.Branch))
		}
	}
	sort.Strings(out)
	return out
}
