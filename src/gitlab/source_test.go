package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildwatch-agent/src/provider"
)

func newTestSource(t *testing.T, mux *http.ServeMux) *Source {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	src, err := NewSource(provider.ServerSpec{ID: "gl", BaseURL: server.URL, Token: "glpat-test", Project: "42"})
	require.NoError(t, err)
	return src
}

func reply(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

func TestSource_Registered(t *testing.T) {
	src, err := provider.NewSource(provider.ServerSpec{Provider: "gitlab", BaseURL: "https://gitlab.example.com", Project: "group/app"})
	require.NoError(t, err)
	assert.Equal(t, "gitlab", src.Name())
	assert.Equal(t, "gitlab.example.com/group/app", src.Host())

	_, err = NewSource(provider.ServerSpec{ID: "gl"})
	assert.Error(t, err)
}

func TestSource_GetBuildRefsPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/42/pipelines", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "glpat-test", r.Header.Get("Private-Token"))
		assert.Equal(t, "desc", r.URL.Query().Get("sort"))

		if r.URL.Query().Get("page") == "2" {
			reply(w, `[{"id": 98, "ref": "main", "status": "failed"}]`)
			return
		}
		w.Header().Set("X-Next-Page", "2")
		reply(w, `[{"id": 100, "ref": "main", "status": "pending"}, {"id": 99, "ref": "feature", "status": "success"}]`)
	})
	src := newTestSource(t, mux)

	refs, next, err := src.GetBuildRefsPage(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "2", next)
	assert.Equal(t, []provider.BuildRef{
		{ID: 100, BuildTypeID: "42", Branch: "main", State: provider.StateQueued, Status: provider.StatusUnknown},
		{ID: 99, BuildTypeID: "42", Branch: "feature", State: provider.StateFinished, Status: provider.StatusSuccess},
	}, refs)

	refs, next, err = src.GetBuildRefsPage(context.Background(), next)
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, refs, 1)
	assert.Equal(t, provider.StatusFailure, refs[0].Status)
}

func TestSource_GetFullBuild(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/42/pipelines/7", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"id": 7, "ref": "main", "status": "failed", "updated_at": "2024-06-01T10:00:00Z",
			"web_url": "https://gitlab.example.com/group/app/-/pipelines/7"}`)
	})
	mux.HandleFunc("/api/v4/projects/42/pipelines/7/jobs", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `[
			{"id": 1, "name": "unit", "status": "failed", "failure_reason": "script_failure"},
			{"id": 2, "name": "e2e", "status": "failed", "failure_reason": "job_execution_timeout"},
			{"id": 3, "name": "lint", "status": "failed", "allow_failure": true}
		]`)
	})
	mux.HandleFunc("/api/v4/projects/42/pipelines/7/test_report", func(w http.ResponseWriter, r *http.Request) {
		reply(w, `{"test_suites": [{"name": "unit", "test_cases": [
			{"status": "success", "name": "TestA", "classname": "pkg", "execution_time": 0.5},
			{"status": "failed", "name": "TestB", "classname": "pkg"},
			{"status": "skipped", "name": "TestC", "classname": "pkg"}
		]}]}`)
	})
	src := newTestSource(t, mux)

	fb, err := src.GetFullBuild(context.Background(), 7, nil)
	require.NoError(t, err)

	assert.Equal(t, provider.StateFinished, fb.State)
	assert.Equal(t, provider.StatusFailure, fb.Status)
	assert.Len(t, fb.Problems, 2)
	assert.True(t, fb.HasCriticalProblem())

	require.Len(t, fb.Tests, 3)
	tb, ok := fb.Test("pkg.TestB")
	require.True(t, ok)
	assert.Equal(t, provider.TestFailure, tb.Status)
	tc, _ := fb.Test("pkg.TestC")
	assert.Equal(t, provider.TestIgnored, tc.Status)

	_, err = src.GetFullBuild(context.Background(), 7, fb)
	assert.ErrorIs(t, err, provider.ErrNotModified)
}

func TestSource_GetFullBuild_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/42/pipelines/404", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		reply(w, `{"message": "404 Not found"}`)
	})
	src := newTestSource(t, mux)

	_, err := src.GetFullBuild(context.Background(), 404, nil)
	assert.True(t, errors.Is(err, provider.ErrBuildNotFound), "got %v", err)
}

func TestSource_TriggerBuild(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/42/pipeline", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var body struct {
			Ref       string `json:"ref"`
			Variables []struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "main", body.Ref)
		require.Len(t, body.Variables, 1)
		assert.Equal(t, "GIT_STRATEGY", body.Variables[0].Key)

		w.WriteHeader(http.StatusCreated)
		reply(w, `{"id": 101, "ref": "main", "status": "created"}`)
	})
	src := newTestSource(t, mux)

	ref, err := src.TriggerBuild(context.Background(), "42", "main", true, true)
	require.NoError(t, err)
	assert.Equal(t, int64(101), ref.ID)
	assert.True(t, ref.IsQueuedOrRunning())
}
