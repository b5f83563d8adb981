package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.FailureThreshold = 2
	cfg.ResetTimeout = 30 * time.Millisecond
	cfg.HalfOpenLimit = 2
	cfg.WindowSize = time.Minute
	return cfg
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(fastConfig("svc"), nil)
	boom := errors.New("boom")

	assert.Equal(t, "closed", b.State())
	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return boom }))
	require.Error(t, b.Execute(context.Background(), func(context.Context) error { return boom }))

	assert.Equal(t, "open", b.State())
	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	cfg := fastConfig("svc2")
	b := New(cfg, nil)
	boom := errors.New("boom")

	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	require.Equal(t, "open", b.State())

	time.Sleep(40 * time.Millisecond)

	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
	require.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))

	assert.Equal(t, "closed", b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := fastConfig("svc3")
	b := New(cfg, nil)
	boom := errors.New("boom")

	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	require.Equal(t, "open", b.State())

	time.Sleep(40 * time.Millisecond)

	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	assert.Equal(t, "open", b.State())
}

type classifiedErr struct{ t string }

func (e classifiedErr) Error() string      { return "classified: " + e.t }
func (e classifiedErr) BreakerType() string { return e.t }

func TestDaggerFilter_OnlyConfiguredTypesCount(t *testing.T) {
	assert.True(t, DaggerFilter(classifiedErr{t: "TimeoutError"}))
	assert.False(t, DaggerFilter(classifiedErr{t: "ValueError"}))
	assert.False(t, DaggerFilter(errors.New("plain")))
}

type modulePathedErr struct{ path string }

func (e modulePathedErr) Error() string      { return "from " + e.path }
func (e modulePathedErr) ModulePath() string { return e.path }

func TestDaggerFilter_ModulePathSubstring(t *testing.T) {
	assert.True(t, DaggerFilter(modulePathedErr{path: "dagger.io/sdk"}))
	assert.False(t, DaggerFilter(modulePathedErr{path: "other/sdk"}))
}

func TestDaggerBreaker_IgnoresUnclassifiedFailures(t *testing.T) {
	cfg := NewDagger("dagger-svc")
	cfg.FailureThreshold = 1
	cfg.ResetTimeout = 30 * time.Millisecond
	b := New(cfg, nil)

	unclassified := errors.New("some unrelated failure")
	for i := 0; i < 5; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return unclassified })
		require.ErrorIs(t, err, unclassified)
	}
	// None of these counted against the breaker, so it never tripped.
	assert.Equal(t, "closed", b.State())

	tripped := classifiedErr{t: "TimeoutError"}
	err := b.Execute(context.Background(), func(context.Context) error { return tripped })
	require.Error(t, err)
	assert.Equal(t, "open", b.State())
}

func TestRegistry_GetOrCreateIsStable(t *testing.T) {
	r := NewRegistry(nil)
	a := r.GetOrCreate("agent_communication", DefaultConfig("agent_communication"))
	b := r.GetOrCreate("agent_communication", DefaultConfig("agent_communication"))
	assert.Same(t, a, b)
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry(nil)
	cfg := fastConfig("svc")
	b := r.GetOrCreate("svc", cfg)
	boom := errors.New("boom")
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	require.Equal(t, "open", b.State())

	r.ResetAll()

	fresh, _ := r.Get("svc")
	assert.Equal(t, "closed", fresh.State())
}

func TestRegistry_Metrics(t *testing.T) {
	r := NewRegistry(nil)
	r.GetOrCreate("svc", DefaultConfig("svc"))
	metrics := r.Metrics()
	require.Contains(t, metrics, "svc")
	assert.Equal(t, "closed", metrics["svc"]["state"])
}
