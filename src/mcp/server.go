package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"buildwatch-agent/src/agent"
	"buildwatch-agent/src/provider"
)

// DefaultHistoryLimit caps get_build_history when no limit is given.
const DefaultHistoryLimit = 50

// Server is the MCP server for buildwatch.
type Server struct {
	mcpServer *server.MCPServer
	agent     *agent.Agent
}

// NewServer creates an MCP server over the agent's servers.
func NewServer(a *agent.Agent, version string) *Server {
	s := server.NewMCPServer(
		"buildwatch",
		version,
		server.WithToolCapabilities(true),
	)

	srv := &Server{
		mcpServer: s,
		agent:     a,
	}
	srv.registerTools()

	return srv
}

func serverParam() mcp.ToolOption {
	return mcp.WithString("server",
		mcp.Required(),
		mcp.Description("Configured server id"),
	)
}

// registerTools registers all available tools.
func (s *Server) registerTools() {
	historyTool := mcp.NewTool("get_build_history",
		mcp.WithDescription("List cached builds of a build type on a branch, newest first. Requests a background sync of the server."),
		serverParam(),
		mcp.WithString("build_type",
			mcp.Required(),
			mcp.Description("Build type id (workflow file, pipeline slug or pipeline source)"),
		),
		mcp.WithString("branch",
			mcp.Description("Branch name; omit for the server's default branch"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max builds to return (default: 50)"),
		),
	)

	buildTool := mcp.NewTool("get_build",
		mcp.WithDescription("Get full detail of one build: failed tests and build problems. Reloads the build when the cached copy is stale. Name the build by server and id, or by url."),
		mcp.WithString("server",
			mcp.Description("Configured server id"),
		),
		mcp.WithNumber("id",
			mcp.Description("Build id"),
		),
		mcp.WithString("url",
			mcp.Description("Build web URL (GitHub Actions run, Buildkite build or GitLab pipeline)"),
		),
		mcp.WithBoolean("accept_queued",
			mcp.Description("Serve a queued or running build from cache without reloading"),
		),
	)

	issuesTool := mcp.NewTool("detect_issues",
		mcp.WithDescription("Detect new test failures in the cached history of a build type on a branch."),
		serverParam(),
		mcp.WithString("build_type",
			mcp.Required(),
			mcp.Description("Build type id"),
		),
		mcp.WithString("branch",
			mcp.Description("Branch name; omit for the server's default branch"),
		),
	)

	actualizeTool := mcp.NewTool("actualize",
		mcp.WithDescription("Sync the server's build history now. An incremental pass stops once nothing changes; a full pass reads every page."),
		serverParam(),
		mcp.WithBoolean("full",
			mcp.Description("Run a full reindex instead of an incremental pass"),
		),
	)

	triggerTool := mcp.NewTool("trigger_build",
		mcp.WithDescription("Queue a build of a build type on a branch and add it to the cache."),
		serverParam(),
		mcp.WithString("build_type",
			mcp.Required(),
			mcp.Description("Build type id"),
		),
		mcp.WithString("branch",
			mcp.Description("Branch name; omit for the server's default branch"),
		),
		mcp.WithBoolean("clean_rebuild",
			mcp.Description("Start from a clean checkout where the provider supports it"),
		),
		mcp.WithBoolean("queue_at_top",
			mcp.Description("Put the build at the top of the queue where the provider supports it"),
		),
	)

	s.mcpServer.AddTool(historyTool, s.handleGetBuildHistory)
	s.mcpServer.AddTool(buildTool, s.handleGetBuild)
	s.mcpServer.AddTool(issuesTool, s.handleDetectIssues)
	s.mcpServer.AddTool(actualizeTool, s.handleActualize)
	s.mcpServer.AddTool(triggerTool, s.handleTriggerBuild)
}

// Run starts the MCP server on stdio.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) lookup(request mcp.CallToolRequest) (*agent.Server, *mcp.CallToolResult) {
	id := request.GetString("server", "")
	if id == "" {
		return nil, mcp.NewToolResultError("server parameter is required")
	}
	srv, err := s.agent.Server(id)
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	return srv, nil
}

func branchArg(request mcp.CallToolRequest) string {
	return request.GetString("branch", provider.DefaultBranch)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleGetBuildHistory handles the get_build_history tool call.
func (s *Server) handleGetBuildHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	srv, errResult := s.lookup(request)
	if errResult != nil {
		return errResult, nil
	}
	buildType := request.GetString("build_type", "")
	if buildType == "" {
		return mcp.NewToolResultError("build_type parameter is required"), nil
	}
	branch := branchArg(request)
	limit := request.GetInt("limit", DefaultHistoryLimit)

	refs, err := srv.Coordinator.GetBuildHistory(ctx, buildType, branch)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("history lookup failed: %v", err)), nil
	}

	resp := HistoryResponse{
		Server:    srv.Config.ID,
		BuildType: buildType,
		Branch:    srv.Coordinator.Refs().BranchForQuery(branch),
		Total:     len(refs),
		Builds:    []BuildRow{},
	}
	for i, r := range refs {
		if limit > 0 && i >= limit {
			break
		}
		resp.Builds = append(resp.Builds, BuildRow{
			ID:     r.ID,
			State:  string(r.State),
			Status: r.Status,
			Branch: r.Branch,
		})
	}
	return jsonResult(resp)
}

// handleGetBuild handles the get_build tool call.
func (s *Server) handleGetBuild(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var srv *agent.Server
	var id int64
	if url := request.GetString("url", ""); url != "" {
		var err error
		srv, id, err = s.agent.LocateBuild(url)
		if err != nil {
			return mcp.NewToolResultError(provider.WrapError(err).Error()), nil
		}
	} else {
		var errResult *mcp.CallToolResult
		srv, errResult = s.lookup(request)
		if errResult != nil {
			return errResult, nil
		}
		id = int64(request.GetInt("id", 0))
		if id <= 0 {
			return mcp.NewToolResultError("id parameter must be a positive build id"), nil
		}
	}

	fb, err := srv.Coordinator.GetFatBuild(ctx, id, request.GetBool("accept_queued", false))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("build lookup failed: %v", provider.WrapError(err))), nil
	}
	if fb == nil {
		return mcp.NewToolResultError(fmt.Sprintf("build %d not found", id)), nil
	}

	return jsonResult(ToBuildDetail(srv.Config.ID, fb))
}

// ToBuildDetail summarizes a full build for tool output.
func ToBuildDetail(serverID string, fb *provider.FatBuild) BuildDetail {
	d := BuildDetail{
		Server:      serverID,
		ID:          fb.ID,
		BuildType:   fb.BuildTypeID,
		Branch:      fb.Branch,
		State:       string(fb.State),
		Status:      fb.Status,
		WebURL:      fb.WebURL,
		StartedAt:   formatTime(fb.StartedAt),
		FinishedAt:  formatTime(fb.FinishedAt),
		TestsTotal:  len(fb.Tests),
		TestsFailed: []string{},
		Problems:    []ProblemInfo{},
	}
	for _, t := range fb.Tests {
		if t.Status == provider.TestFailure {
			d.TestsFailed = append(d.TestsFailed, t.Name)
		}
	}
	for _, p := range fb.Problems {
		d.Problems = append(d.Problems, ProblemInfo{Type: p.Type, Description: p.Description, Critical: p.Critical})
	}
	return d
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// handleDetectIssues handles the detect_issues tool call.
func (s *Server) handleDetectIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	srv, errResult := s.lookup(request)
	if errResult != nil {
		return errResult, nil
	}
	buildType := request.GetString("build_type", "")
	if buildType == "" {
		return mcp.NewToolResultError("build_type parameter is required"), nil
	}
	branch := branchArg(request)

	events, err := s.agent.DetectIssues(ctx, srv.Config.ID, buildType, branch)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp := IssuesResponse{
		Server:    srv.Config.ID,
		BuildType: buildType,
		Branch:    srv.Coordinator.Refs().BranchForQuery(branch),
		Issues:    []IssueInfo{},
	}
	for _, e := range events {
		resp.Issues = append(resp.Issues, IssueInfo{
			ID:             e.ID(srv.Config.ID),
			Type:           string(e.Type),
			DisplayName:    e.Type.DisplayName(),
			TestName:       e.TestName,
			DetectedAt:     e.DetectedAt,
			FailedBuildIDs: e.FailedBuildIDs,
		})
	}
	return jsonResult(resp)
}

// handleActualize handles the actualize tool call.
func (s *Server) handleActualize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	srv, errResult := s.lookup(request)
	if errResult != nil {
		return errResult, nil
	}
	full := request.GetBool("full", false)

	var err error
	resp := ActualizeResponse{Server: srv.Config.ID, FullReindex: full}
	if full {
		sum, scanErr := srv.Coordinator.FullReindex(ctx)
		err = scanErr
		resp.Saved, resp.Checked, resp.Pages = sum.Saved, sum.Checked, sum.Pages
	} else {
		sum, scanErr := srv.Coordinator.ActualizeRecent(ctx)
		err = scanErr
		resp.Saved, resp.Checked, resp.Pages = sum.Saved, sum.Checked, sum.Pages
		resp.RemainedToFind, resp.Unresolved = sum.RemainedToFind, sum.Unresolved
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sync failed: %v", provider.WrapError(err))), nil
	}
	return jsonResult(resp)
}

// handleTriggerBuild handles the trigger_build tool call.
func (s *Server) handleTriggerBuild(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	srv, errResult := s.lookup(request)
	if errResult != nil {
		return errResult, nil
	}
	buildType := request.GetString("build_type", "")
	if buildType == "" {
		return mcp.NewToolResultError("build_type parameter is required"), nil
	}

	ref, err := srv.Coordinator.TriggerBuild(ctx, buildType, branchArg(request),
		request.GetBool("clean_rebuild", false), request.GetBool("queue_at_top", false))
	if err != nil {
		if errors.Is(err, provider.ErrNotSupported) {
			return mcp.NewToolResultError(fmt.Sprintf("%s cannot trigger builds", srv.Config.Provider)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("trigger failed: %v", provider.WrapError(err))), nil
	}

	return jsonResult(BuildRow{
		ID:     ref.ID,
		State:  string(ref.State),
		Status: ref.Status,
		Branch: ref.Branch,
	})
}
