package distributor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomind-ai/agentcore/breaker"
	"github.com/gomind-ai/agentcore/broker"
	"github.com/gomind-ai/agentcore/comm"
	"github.com/gomind-ai/agentcore/core"
	"github.com/gomind-ai/agentcore/ratelimit"
)

func newTestComm(t *testing.T) *comm.Manager {
	t.Helper()
	b := broker.New(time.Minute, nil)
	cfg := core.RateLimitConfig{
		AgentDefaultMax: 1000, AgentDefaultInterval: time.Minute,
		GlobalMax: 10000, GlobalInterval: time.Minute,
		MessageTypeMax:      map[string]int{"default": 1000},
		MessageTypeInterval: time.Minute,
		PriorityMax:         map[string]int{"medium": 1000},
		PriorityInterval:    time.Minute,
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), cfg, nil)
	registry := breaker.NewRegistry(nil)
	return comm.NewManager(b, limiter, registry, core.NoAuthValidator{}, nil)
}

func TestDistributor_FindSuitableFiltersOfflineExcludedAndCapabilities(t *testing.T) {
	d := New(nil, nil)
	d.RegisterAgent("a", []string{"search", "code"}, 1)
	d.RegisterAgent("b", []string{"search"}, 2)
	d.SetOnline("c", false)

	got := d.FindSuitable([]string{"search"}, nil)
	assert.Equal(t, []string{"a", "b"}, got)

	got = d.FindSuitable([]string{"search", "code"}, nil)
	assert.Equal(t, []string{"a"}, got)

	got = d.FindSuitable([]string{"search"}, map[string]bool{"a": true})
	assert.Equal(t, []string{"b"}, got)
}

func TestDistributor_SelectCapabilityMatchIsFirstCandidate(t *testing.T) {
	d := New(nil, nil)
	agent, err := d.Select([]string{"a", "b"}, StrategyCapabilityMatch)
	require.NoError(t, err)
	assert.Equal(t, "a", agent)
}

func TestDistributor_SelectLoadBalancedPicksMinLoad(t *testing.T) {
	d := New(nil, nil)
	d.RegisterAgent("a", nil, 0)
	d.RegisterAgent("b", nil, 0)
	d.currentLoad["a"] = 5
	d.currentLoad["b"] = 1

	agent, err := d.Select([]string{"a", "b"}, StrategyLoadBalanced)
	require.NoError(t, err)
	assert.Equal(t, "b", agent)
}

func TestDistributor_SelectPriorityBasedPicksMaxRank(t *testing.T) {
	d := New(nil, nil)
	d.RegisterAgent("a", nil, 1)
	d.RegisterAgent("b", nil, 9)

	agent, err := d.Select([]string{"a", "b"}, StrategyPriorityBased)
	require.NoError(t, err)
	assert.Equal(t, "b", agent)
}

func TestDistributor_SelectCustomUsesRegisteredSelector(t *testing.T) {
	d := New(nil, nil)
	d.SetCustomSelector(func(candidates []string) string { return candidates[len(candidates)-1] })

	agent, err := d.Select([]string{"a", "b", "c"}, StrategyCustom)
	require.NoError(t, err)
	assert.Equal(t, "c", agent)
}

func TestDistributor_SelectEmptyCandidatesFails(t *testing.T) {
	d := New(nil, nil)
	_, err := d.Select(nil, StrategyCapabilityMatch)
	require.Error(t, err)
}

func TestDistributor_DistributeIncrementsLoadAndSends(t *testing.T) {
	mgr := newTestComm(t)
	d := New(mgr, nil)
	mgr.RegisterAgent("sender", nil)
	mgr.RegisterAgent("worker", nil)
	d.RegisterAgent("worker", []string{"search"}, 1)

	result, err := d.Distribute(context.Background(), DistributeRequest{
		TaskID:   "task-1",
		Type:     broker.TypeTaskRequest,
		Required: []string{"search"},
		SenderID: "sender",
		Strategy: StrategyCapabilityMatch,
		Priority: broker.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, "worker", result.AgentID)
	assert.Equal(t, "distributed", result.Status)
	assert.Equal(t, 1, d.CurrentLoad("worker"))

	got, err := mgr.GetMessages(context.Background(), "worker", comm.ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "task-1", got[0].CorrelationID)
}

func TestDistributor_DistributeNoCandidatesFails(t *testing.T) {
	mgr := newTestComm(t)
	d := New(mgr, nil)

	_, err := d.Distribute(context.Background(), DistributeRequest{
		TaskID:   "task-2",
		Required: []string{"search"},
		SenderID: "sender",
		Strategy: StrategyCapabilityMatch,
	})
	require.Error(t, err)
}

func TestDistributor_HandleResponseDecrementsLoadSaturatingAtZero(t *testing.T) {
	d := New(nil, nil)
	d.RegisterAgent("a", nil, 0)

	d.HandleResponse("t1", "a", "completed", nil, nil)
	assert.Equal(t, 0, d.CurrentLoad("a"))

	d.mu.Lock()
	d.currentLoad["a"] = 1
	d.mu.Unlock()
	d.HandleResponse("t1", "a", "completed", nil, nil)
	assert.Equal(t, 0, d.CurrentLoad("a"))
}
