// Package breaker implements a per-subsystem, three-state circuit breaker
// on top of github.com/sony/gobreaker/v2's TwoStepCircuitBreaker: its
// Allow()/done(success) shape maps directly onto an
// allow()/record_success()/record_failure() contract, and its built-in
// half-open behavior (N consecutive successes closes, any failure reopens)
// is exactly the state machine this package needs, so no extra state
// machine is implemented here — only the adapter, logging and registry
// around it.
package breaker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/gomind-ai/agentcore/core"
)

// Config mirrors the per-name breaker defaults.
type Config struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenLimit    int
	WindowSize       time.Duration
	// IsFailure classifies an error as countable against the breaker.
	// Defaults to "any non-nil error counts".
	IsFailure func(error) bool
}

// DefaultConfig returns the process-wide breaker defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenLimit:    3,
		WindowSize:       60 * time.Second,
		IsFailure:        func(err error) bool { return err != nil },
	}
}

// Permit is the token returned by Allow, paired with exactly one of
// Success/Failure, tracking an in-flight request to avoid orphaned
// accounting under concurrent access.
type Permit struct {
	done     func(success bool)
	reported atomic.Bool
}

// Success records a successful probe/request.
func (p *Permit) Success() {
	if p.reported.CompareAndSwap(false, true) {
		p.done(true)
	}
}

// Failure records a failed probe/request.
func (p *Permit) Failure() {
	if p.reported.CompareAndSwap(false, true) {
		p.done(false)
	}
}

// Breaker wraps a single named gobreaker.TwoStepCircuitBreaker, adding
// structured logging and a metrics snapshot.
type Breaker struct {
	name   string
	cfg    Config
	engine *gobreaker.TwoStepCircuitBreaker[any]
	logger core.Logger

	mu           sync.Mutex
	transitions  []Transition
	resetTimeout time.Duration
	lastFailure  atomic.Value // time.Time
	isFailure    func(error) bool
}

// Transition records one state change for the metrics surface.
type Transition struct {
	From      string
	To        string
	Timestamp time.Time
}

const maxTransitionHistory = 50

// New creates a Breaker from cfg.
func New(cfg Config, logger core.Logger) *Breaker {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}

	b := &Breaker{name: cfg.Name, cfg: cfg, logger: logger, resetTimeout: cfg.ResetTimeout, isFailure: cfg.IsFailure}
	b.lastFailure.Store(time.Time{})

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.HalfOpenLimit),
		Interval:    cfg.WindowSize,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.TotalFailures) >= cfg.FailureThreshold
		},
		// IsSuccessful only governs the one-step CircuitBreaker helper;
		// TwoStepCircuitBreaker's done(success) is driven explicitly by
		// Execute below using the same isFailure classifier.
		IsSuccessful: func(err error) bool { return !cfg.IsFailure(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.recordTransition(from.String(), to.String())
			logger.Info("circuit breaker state changed", map[string]interface{}{
				"name": name, "from": from.String(), "to": to.String(),
			})
		},
	}

	b.engine = gobreaker.NewTwoStepCircuitBreaker[any](settings)
	return b
}

func (b *Breaker) recordTransition(from, to string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitions = append(b.transitions, Transition{From: from, To: to, Timestamp: time.Now()})
	if len(b.transitions) > maxTransitionHistory {
		b.transitions = b.transitions[len(b.transitions)-maxTransitionHistory:]
	}
	if to == gobreaker.StateOpen.String() {
		b.lastFailure.Store(time.Now())
	}
}

// Allow reports whether a call may proceed, returning a Permit that must
// receive exactly one Success()/Failure() call when it does.
func (b *Breaker) Allow() (*Permit, bool) {
	done, err := b.engine.Allow()
	if err != nil {
		return nil, false
	}
	return &Permit{done: done}, true
}

// State returns the current state as a lowercase string
// ("closed"/"open"/"half_open").
func (b *Breaker) State() string {
	switch b.engine.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config returns the configuration the breaker was created with, used by
// Registry.ResetAll to rebuild a fresh instance.
func (b *Breaker) Config() Config {
	return b.cfg
}

// LastFailureAt returns the last time the breaker tripped open, or the
// zero time if it never has.
func (b *Breaker) LastFailureAt() time.Time {
	return b.lastFailure.Load().(time.Time)
}

// Execute composes Allow + the wrapped call + Success/Failure: on !allow(),
// returns CIRCUIT_BREAKER.OPEN (HTTP 503) without invoking op. On failure,
// op's error is re-raised regardless of whether it counted against the
// breaker — the failure filter decides what trips the breaker, never what
// the caller sees.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	permit, ok := b.Allow()
	if !ok {
		b.logger.Info("circuit breaker rejected execution", map[string]interface{}{
			"name": b.name, "state": b.State(),
		})
		return core.CircuitOpenError(b.name, b.State(), b.resetTimeout, b.LastFailureAt())
	}

	err := op(ctx)
	if err != nil && b.isFailure(err) {
		permit.Failure()
		return err
	}
	permit.Success()
	return err
}

// Metrics returns counters and recent transitions for the admin surface.
func (b *Breaker) Metrics() map[string]interface{} {
	counts := b.engine.Counts()
	b.mu.Lock()
	transitions := append([]Transition(nil), b.transitions...)
	b.mu.Unlock()

	return map[string]interface{}{
		"name":                  b.name,
		"state":                 b.State(),
		"requests":              counts.Requests,
		"total_successes":       counts.TotalSuccesses,
		"total_failures":        counts.TotalFailures,
		"consecutive_successes": counts.ConsecutiveSuccesses,
		"consecutive_failures":  counts.ConsecutiveFailures,
		"transitions":           transitions,
	}
}
