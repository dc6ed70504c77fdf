package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildwatch-agent/src/actualize"
	"buildwatch-agent/src/broker"
	"buildwatch-agent/src/config"
	"buildwatch-agent/src/contracts"
	"buildwatch-agent/src/issue"
	"buildwatch-agent/src/logger"
	"buildwatch-agent/src/provider"
	"buildwatch-agent/src/provider/providertest"
	"buildwatch-agent/src/scheduler"
	"buildwatch-agent/src/store"
)

type fixture struct {
	agent  *Agent
	sched  *scheduler.Manual
	broker *broker.InMemoryBroker
	source *providertest.FakeSource
}

func newFixture(t *testing.T, servers ...config.ServerConfig) *fixture {
	t.Helper()

	if len(servers) == 0 {
		servers = []config.ServerConfig{{
			ID:            "gh",
			Provider:      "github",
			DefaultBranch: "main",
			Watch:         []config.Watch{{BuildType: "ci.yml", Branch: provider.DefaultBranch}},
		}}
	}

	f := &fixture{
		sched:  scheduler.NewManual(),
		broker: broker.NewInMemoryBroker(),
		source: providertest.NewFakeSource(4),
	}
	t.Cleanup(func() { f.broker.Close() })

	a, err := New(servers, Deps{
		Store:     store.NewMemoryStore(),
		Scheduler: f.sched,
		Broker:    f.broker,
		Logger:    logger.NewSilentLogger(),
		NewSource: func(spec provider.ServerSpec) (provider.Source, error) {
			return f.source, nil
		},
	}, Options{Sync: actualize.DefaultOptions(), TickInterval: time.Minute, HistoryDepth: 20})
	require.NoError(t, err)
	f.agent = a
	return f
}

// putHistory adds five passing builds followed by four where "breaks" fails.
func (f *fixture) putHistory() {
	for id := int64(1); id <= 9; id++ {
		status := provider.TestOK
		if id > 5 {
			status = provider.TestFailure
		}
		f.source.Put(provider.FatBuild{
			ID:          id,
			BuildTypeID: "ci.yml",
			Branch:      "main",
			State:       provider.StateFinished,
			Status:      provider.StatusSuccess,
			WebURL:      fmt.Sprintf("https://ci.example/runs/%d", id),
			Tests: []provider.TestOccurrence{
				{Name: "stable", Status: provider.TestOK},
				{Name: "breaks", Status: status},
			},
		})
	}
}

func (f *fixture) sync(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	srv, err := f.agent.Server("gh")
	require.NoError(t, err)
	_, err = srv.Coordinator.FullReindex(ctx)
	require.NoError(t, err)
	require.NoError(t, f.sched.RunDue(ctx, 0))
}

func TestNew_RejectsMaskCollision(t *testing.T) {
	servers := []config.ServerConfig{
		{ID: "a", Provider: "github", Mask: 7},
		{ID: "b", Provider: "github", Mask: 7},
	}
	_, err := New(servers, Deps{
		Store:     store.NewMemoryStore(),
		Scheduler: scheduler.NewManual(),
		NewSource: func(provider.ServerSpec) (provider.Source, error) {
			return providertest.NewFakeSource(10), nil
		},
	}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share cache mask")
}

func TestNew_PropagatesSourceError(t *testing.T) {
	boom := errors.New("no token")
	_, err := New([]config.ServerConfig{{ID: "a", Provider: "github"}}, Deps{
		Store:     store.NewMemoryStore(),
		Scheduler: scheduler.NewManual(),
		NewSource: func(provider.ServerSpec) (provider.Source, error) { return nil, boom },
	}, Options{})
	assert.ErrorIs(t, err, boom)
}

func TestAgent_UnknownServer(t *testing.T) {
	f := newFixture(t)

	_, err := f.agent.DetectIssues(context.Background(), "nope", "ci.yml", "main")
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestAgent_TickSchedulesWork(t *testing.T) {
	f := newFixture(t)

	f.agent.Tick()
	f.agent.Tick()

	assert.Equal(t, []string{
		"Agent.detect.gh.ci.yml.<default>",
		"Coordinator.actualizeRecent.gh",
	}, f.sched.Names())
}

func TestAgent_DetectIssues(t *testing.T) {
	f := newFixture(t)
	f.putHistory()
	f.sync(t)

	events, err := f.agent.DetectIssues(context.Background(), "gh", "ci.yml", provider.DefaultBranch)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, issue.NewFailure, events[0].Type)
	assert.Equal(t, "breaks", events[0].TestName)
	assert.Equal(t, int64(6), events[0].DetectedAt)
}

func TestAgent_PublishIssuesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.putHistory()
	f.sync(t)

	issues, err := f.broker.Subscribe(ctx, contracts.TopicIssues, "test-consumer")
	require.NoError(t, err)

	sent, err := f.agent.DetectAndPublish(ctx, "gh", "ci.yml", provider.DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	select {
	case msg := <-issues:
		var ev contracts.IssueEvent
		require.NoError(t, json.Unmarshal(msg.Value, &ev))
		assert.Equal(t, msg.Key, ev.ID)
		assert.Equal(t, "gh", ev.ServerID)
		assert.Equal(t, "newFailure", ev.IssueType)
		assert.Equal(t, "main", ev.Branch)
		assert.Equal(t, "breaks", ev.TestName)
		assert.Equal(t, []int64{6, 7, 8, 9}, ev.FailedBuildIDs)
		assert.Equal(t, "https://ci.example/runs/6", ev.WebURL)
	case <-time.After(time.Second):
		t.Fatal("Expected an issue event")
	}

	sent, err = f.agent.DetectAndPublish(ctx, "gh", "ci.yml", provider.DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
}

func TestAgent_PublishesSyncSummaries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.putHistory()

	summaries, err := f.broker.Subscribe(ctx, contracts.TopicSyncSummaries, "test-consumer")
	require.NoError(t, err)

	f.sync(t)

	select {
	case msg := <-summaries:
		var sum contracts.SyncSummary
		require.NoError(t, json.Unmarshal(msg.Value, &sum))
		assert.Equal(t, "gh", msg.Key)
		assert.True(t, sum.FullReindex)
		assert.Equal(t, 9, sum.Saved)
		assert.Equal(t, 9, sum.Checked)
		assert.Empty(t, sum.Error)
	case <-time.After(time.Second):
		t.Fatal("Expected a sync summary")
	}
}

func TestAgent_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.agent.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAgent_Watches(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"gh/ci.yml/<default>"}, f.agent.Watches())
}

func TestAgent_LocateBuild(t *testing.T) {
	f := newFixture(t, config.ServerConfig{ID: "gh", Provider: "github", Owner: "acme", Repo: "api"})

	s, id, err := f.agent.LocateBuild("https://github.com/acme/api/actions/runs/12345")
	require.NoError(t, err)
	assert.Equal(t, "gh", s.Config.ID)
	assert.Equal(t, int64(12345), id)

	_, _, err = f.agent.LocateBuild("https://github.com/acme/web/actions/runs/1")
	assert.ErrorIs(t, err, ErrUnknownServer)

	_, _, err = f.agent.LocateBuild("https://example.com/nothing")
	assert.ErrorIs(t, err, provider.ErrInvalidURL)
}
