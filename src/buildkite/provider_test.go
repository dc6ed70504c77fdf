package buildkite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"buildwatch-agent/src/provider"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) (*Source, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	src, err := NewSource(provider.ServerSpec{
		ID:       "bk",
		BaseURL:  server.URL,
		Token:    "test-api-token",
		Org:      "my-org",
		Pipeline: "my-pipeline",
	})
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	return src, server
}

func respondJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestBuildkiteSource_Registered(t *testing.T) {
	src, err := provider.NewSource(provider.ServerSpec{Provider: "buildkite", Org: "myorg", Pipeline: "mypipeline"})
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	if src.Name() != "buildkite" {
		t.Errorf("Name() = %v, want buildkite", src.Name())
	}
	if src.Host() != "myorg/mypipeline" {
		t.Errorf("Host() = %v, want myorg/mypipeline", src.Host())
	}
}

func TestNewSource_RequiresPipeline(t *testing.T) {
	if _, err := NewSource(provider.ServerSpec{ID: "bk", Org: "myorg"}); err == nil {
		t.Error("NewSource() without pipeline should fail")
	}
}

func TestBuildkiteSource_GetBuildRefsPage(t *testing.T) {
	var server *httptest.Server
	var src *Source
	src, server = newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-api-token" {
			t.Errorf("Authorization header = %v", auth)
		}
		if r.URL.Path != "/organizations/my-org/pipelines/my-pipeline/builds" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", `<`+server.URL+`/organizations/my-org/pipelines/my-pipeline/builds?page=2>; rel="next"`)
			respondJSON(t, w, []Build{
				{Number: 4091, State: "running", Branch: "main"},
				{Number: 4090, State: "passed", Branch: "main"},
			})
			return
		}
		respondJSON(t, w, []Build{{Number: 4089, State: "failed", Branch: "feature"}})
	})

	refs, next, err := src.GetBuildRefsPage(context.Background(), "")
	if err != nil {
		t.Fatalf("GetBuildRefsPage() error = %v", err)
	}
	if len(refs) != 2 || next == "" {
		t.Fatalf("first page: refs=%d next=%q", len(refs), next)
	}
	want := provider.BuildRef{ID: 4091, BuildTypeID: "my-pipeline", Branch: "main", State: provider.StateRunning, Status: provider.StatusUnknown}
	if refs[0] != want {
		t.Errorf("refs[0] = %+v, want %+v", refs[0], want)
	}
	if refs[1].Status != provider.StatusSuccess || !refs[1].IsFinished() {
		t.Errorf("refs[1] = %+v, want finished SUCCESS", refs[1])
	}

	refs, next, err = src.GetBuildRefsPage(context.Background(), next)
	if err != nil {
		t.Fatalf("GetBuildRefsPage(next) error = %v", err)
	}
	if len(refs) != 1 || next != "" || refs[0].Status != provider.StatusFailure {
		t.Errorf("last page: refs=%+v next=%q", refs, next)
	}
}

func TestBuildkiteSource_GetFullBuild(t *testing.T) {
	finished := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	lost := -1
	var server *httptest.Server
	var src *Source
	src, server = newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/organizations/my-org/pipelines/my-pipeline/builds/7":
			respondJSON(t, w, Build{
				Number: 7, State: "failed", Branch: "main",
				CreatedAt: finished.Add(-time.Hour), FinishedAt: &finished,
				Jobs: []Job{
					{Name: "unit", Type: "script", State: "passed"},
					{Name: ":cypress: e2e", Type: "script", State: "failed", ExitStatus: &lost},
					{Name: "wait", Type: "waiter", State: "failed"},
				},
			})
		case "/organizations/my-org/pipelines/my-pipeline/builds/7/artifacts":
			respondJSON(t, w, []Artifact{
				{Path: "reports/junit-unit.xml", DownloadURL: server.URL + "/artifacts/1"},
				{Path: "coverage/index.html", DownloadURL: server.URL + "/artifacts/2"},
			})
		case "/artifacts/1":
			w.Write([]byte(`<testsuite name="unit"><testcase name="TestOK" classname="pkg"/></testsuite>`))
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	fb, err := src.GetFullBuild(context.Background(), 7, nil)
	if err != nil {
		t.Fatalf("GetFullBuild() error = %v", err)
	}
	if fb.Status != provider.StatusFailure || !fb.IsFinished() {
		t.Errorf("unexpected build: %+v", fb)
	}
	if !fb.UpdatedAt.Equal(finished) {
		t.Errorf("UpdatedAt = %v, want %v", fb.UpdatedAt, finished)
	}
	if len(fb.Problems) != 1 || fb.Problems[0].Type != "agent_lost" || !fb.HasCriticalProblem() {
		t.Errorf("Problems = %+v, want one critical agent_lost", fb.Problems)
	} else if fb.Problems[0].Description != "e2e" {
		t.Errorf("Problem description = %q, want e2e", fb.Problems[0].Description)
	}
	if len(fb.Tests) != 1 || fb.Tests[0].Name != "pkg.TestOK" {
		t.Errorf("Tests = %+v", fb.Tests)
	}

	_, err = src.GetFullBuild(context.Background(), 7, fb)
	if !errors.Is(err, provider.ErrNotModified) {
		t.Errorf("GetFullBuild(prev) error = %v, want ErrNotModified", err)
	}
}

func TestBuildkiteSource_GetFullBuild_Unauthorized(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := src.GetFullBuild(context.Background(), 1, nil)
	if !errors.Is(err, provider.ErrAuthFailed) {
		t.Errorf("error = %v, want ErrAuthFailed", err)
	}
}

func TestBuildkiteSource_TriggerBuild(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/organizations/my-org/pipelines/my-pipeline/builds" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req CreateBuildRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Branch != "release" || !req.CleanCheckout || req.Commit != "HEAD" {
			t.Errorf("unexpected request body: %+v", req)
		}
		w.WriteHeader(http.StatusCreated)
		respondJSON(t, w, Build{Number: 4092, State: "scheduled", Branch: "release"})
	})

	ref, err := src.TriggerBuild(context.Background(), "my-pipeline", "release", true, false)
	if err != nil {
		t.Fatalf("TriggerBuild() error = %v", err)
	}
	if ref.ID != 4092 || ref.State != provider.StateQueued {
		t.Errorf("TriggerBuild() = %+v", ref)
	}
}

func TestMapState(t *testing.T) {
	tests := []struct {
		state      string
		wantState  provider.BuildState
		wantStatus string
	}{
		{"scheduled", provider.StateQueued, provider.StatusUnknown},
		{"running", provider.StateRunning, provider.StatusUnknown},
		{"passed", provider.StateFinished, provider.StatusSuccess},
		{"failed", provider.StateFinished, provider.StatusFailure},
		{"canceled", provider.StateFinished, provider.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			if got := mapState(tt.state); got != tt.wantState {
				t.Errorf("mapState() = %v, want %v", got, tt.wantState)
			}
			if got := mapStatus(tt.state); got != tt.wantStatus {
				t.Errorf("mapStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}
