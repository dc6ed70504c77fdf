// Package main provides the buildwatch command: a CI build history cache,
// sync agent and test issue detector.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"buildwatch-agent/src/agent"
	"buildwatch-agent/src/config"
	"buildwatch-agent/src/display"
	"buildwatch-agent/src/mcp"
	"buildwatch-agent/src/provider"
)

// version is set at build time.
var version = "dev"

var (
	appConfig *config.Config
	servers   []config.ServerConfig
)

var rootCmd = &cobra.Command{
	Use:   "buildwatch",
	Short: "Buildwatch - CI build history cache and test issue detector",
	Long: `Buildwatch keeps a local cache of build history from CI servers
(GitHub Actions, Buildkite, GitLab) and detects new test failures in it.

Servers are listed in the YAML file named by BUILDWATCH_SERVERS_FILE.
The cache backend is chosen by BUILDWATCH_STORE_DRIVER.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		appConfig, err = config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		servers, err = config.LoadServers(appConfig.ServersFile)
		if err != nil {
			return err
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync and detection agent",
	Long: `Keeps every configured server's cache in sync, scans watched build
types for new test failures and publishes them to the buildwatch.issues topic.

Set BUILDWATCH_REDPANDA_BROKERS to publish to Redpanda; otherwise events stay
in process. Prometheus metrics are served on BUILDWATCH_METRICS_ADDR.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(appConfig, servers, appOptions{background: true, withBroker: true})
		if err != nil {
			return provider.WrapError(err)
		}
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a.Close(shutdown)
		}()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: appConfig.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("[Serve] Metrics server failed: %v", err)
			}
		}()
		defer srv.Close()

		a.log.Info("[Serve] Watching %v, metrics on %s", a.agent.Watches(), appConfig.MetricsAddr)
		if err := a.agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		a.log.Info("[Serve] Stopped")
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [server-id...]",
	Short: "Run one sync pass and exit",
	Long: `Runs one incremental sync (or, with --full, a full reindex) of the given
servers, or of every configured server, and loads changed builds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		full, _ := cmd.Flags().GetBool("full")

		a, err := newApp(appConfig, servers, appOptions{withBroker: true})
		if err != nil {
			return provider.WrapError(err)
		}
		defer a.Close(ctx)

		targets := a.agent.Servers()
		if len(args) > 0 {
			targets = targets[:0]
			for _, id := range args {
				s, err := a.agent.Server(id)
				if err != nil {
					return err
				}
				targets = append(targets, s)
			}
		}

		var failed error
		for _, s := range targets {
			if full {
				sum, err := s.Coordinator.FullReindex(ctx)
				if err != nil {
					failed = errors.Join(failed, fmt.Errorf("%s: %w", s.Config.ID, provider.WrapError(err)))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s full reindex: %s (%d pages)\n", s.Config.ID, sum, sum.Pages)
			} else {
				sum, err := s.Coordinator.ActualizeRecent(ctx)
				if err != nil {
					failed = errors.Join(failed, fmt.Errorf("%s: %w", s.Config.ID, provider.WrapError(err)))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s sync: %s\n", s.Config.ID, sum)
			}
			if err := a.drain(ctx); err != nil {
				failed = errors.Join(failed, fmt.Errorf("%s: %w", s.Config.ID, err))
			}
		}
		return failed
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <server-id> <build-type>",
	Short: "Show cached build history of a build type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		branch, _ := cmd.Flags().GetString("branch")
		limit, _ := cmd.Flags().GetInt("limit")
		refresh, _ := cmd.Flags().GetBool("refresh")

		a, err := newApp(appConfig, servers, appOptions{})
		if err != nil {
			return provider.WrapError(err)
		}
		defer a.Close(ctx)

		s, err := a.agent.Server(args[0])
		if err != nil {
			return err
		}
		if refresh {
			if _, err := s.Coordinator.ActualizeRecent(ctx); err != nil {
				return provider.WrapError(err)
			}
			if err := a.drain(ctx); err != nil {
				return err
			}
		}

		refs, err := s.Coordinator.GetBuildHistory(ctx, args[1], branch)
		if err != nil {
			return err
		}
		if limit > 0 && len(refs) > limit {
			refs = refs[:limit]
		}

		title := fmt.Sprintf("%s %s on %s", s.Config.ID, args[1], s.Coordinator.Refs().BranchForQuery(branch))
		display.NewRenderer(cmd.OutOrStdout(), nil).History(title, refs)
		return nil
	},
}

var buildCmd = &cobra.Command{
	Use:   "build (<server-id> <build-id> | <build-url>)",
	Short: "Show full detail of one build",
	Long: `Shows one build from the cache, reloading it when the cached copy is stale.

The build is named either by server id and build id or by its web URL, e.g.
https://github.com/owner/repo/actions/runs/123.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		allTests, _ := cmd.Flags().GetBool("all-tests")

		a, err := newApp(appConfig, servers, appOptions{})
		if err != nil {
			return provider.WrapError(err)
		}
		defer a.Close(ctx)

		s, id, err := resolveBuild(a, args)
		if err != nil {
			return provider.WrapError(err)
		}
		fb, err := s.Coordinator.GetFatBuild(ctx, id, false)
		if err != nil {
			return provider.WrapError(err)
		}
		if fb == nil {
			return provider.WrapError(provider.ErrBuildNotFound)
		}

		display.NewRenderer(cmd.OutOrStdout(), nil).Build(fb, allTests)
		return nil
	},
}

func resolveBuild(a *app, args []string) (*agent.Server, int64, error) {
	if len(args) == 1 {
		return a.agent.LocateBuild(args[0])
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || id <= 0 {
		return nil, 0, fmt.Errorf("invalid build id %q", args[1])
	}
	s, err := a.agent.Server(args[0])
	if err != nil {
		return nil, 0, err
	}
	return s, id, nil
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <server-id> <build-type>",
	Short: "Queue a build and add it to the cache",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		branch, _ := cmd.Flags().GetString("branch")
		clean, _ := cmd.Flags().GetBool("clean")
		top, _ := cmd.Flags().GetBool("top")

		a, err := newApp(appConfig, servers, appOptions{})
		if err != nil {
			return provider.WrapError(err)
		}
		defer a.Close(ctx)

		s, err := a.agent.Server(args[0])
		if err != nil {
			return err
		}
		ref, err := s.Coordinator.TriggerBuild(ctx, args[1], branch, clean, top)
		if err != nil {
			return provider.WrapError(err)
		}
		if err := a.drain(ctx); err != nil {
			a.log.Error("[Trigger] Loading build %d failed: %v", ref.ID, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Queued %s build %d on %s\n", ref.BuildTypeID, ref.ID, ref.Branch)
		return nil
	},
}

var issuesCmd = &cobra.Command{
	Use:   "issues <server-id> <build-type>",
	Short: "Detect new test failures in a build type's history",
	Long: `Scans the cached history of a build type on a branch for new failures,
new failures of flaky tests, critical failures and failing new tests.

With --publish the issues are published to the buildwatch.issues topic.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		branch, _ := cmd.Flags().GetString("branch")
		publish, _ := cmd.Flags().GetBool("publish")
		refresh, _ := cmd.Flags().GetBool("refresh")

		a, err := newApp(appConfig, servers, appOptions{withBroker: publish})
		if err != nil {
			return provider.WrapError(err)
		}
		defer a.Close(ctx)

		s, err := a.agent.Server(args[0])
		if err != nil {
			return err
		}
		if refresh {
			if _, err := s.Coordinator.ActualizeRecent(ctx); err != nil {
				return provider.WrapError(err)
			}
			if err := a.drain(ctx); err != nil {
				return err
			}
		}

		events, err := a.agent.DetectIssues(ctx, args[0], args[1], branch)
		if err != nil {
			return provider.WrapError(err)
		}

		title := fmt.Sprintf("%s %s on %s", s.Config.ID, args[1], s.Coordinator.Refs().BranchForQuery(branch))
		display.NewRenderer(cmd.OutOrStdout(), nil).Issues(title, events)

		if publish {
			sent, err := a.agent.PublishIssues(ctx, args[0], args[1], branch, events)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %d issues\n", sent)
		}
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol; logs go to stderr as JSON.
		a, err := newApp(appConfig, servers, appOptions{background: true, logFormat: "json"})
		if err != nil {
			return provider.WrapError(err)
		}
		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.Close(shutdown)
		}()

		return mcp.NewServer(a.agent, version).Run()
	},
}

func init() {
	syncCmd.Flags().Bool("full", false, "Read every page instead of stopping once nothing changes")

	historyCmd.Flags().String("branch", provider.DefaultBranch, "Branch name")
	historyCmd.Flags().Int("limit", 30, "Max builds to show (0 for all)")
	historyCmd.Flags().Bool("refresh", false, "Sync recent builds first")

	buildCmd.Flags().Bool("all-tests", false, "List passing tests too")

	triggerCmd.Flags().String("branch", provider.DefaultBranch, "Branch name")
	triggerCmd.Flags().Bool("clean", false, "Start from a clean checkout")
	triggerCmd.Flags().Bool("top", false, "Put the build at the top of the queue")

	issuesCmd.Flags().String("branch", provider.DefaultBranch, "Branch name")
	issuesCmd.Flags().Bool("publish", false, "Publish issues to the broker")
	issuesCmd.Flags().Bool("refresh", false, "Sync recent builds first")

	rootCmd.AddCommand(serveCmd, syncCmd, historyCmd, buildCmd, triggerCmd, issuesCmd, mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
