// Package orchestrator implements the orchestration façade: the single
// flat surface external API handlers call, owning the process-wide
// registries and their graceful shutdown.
package orchestrator

import (
	"context"
	"time"

	"github.com/gomind-ai/agentcore/breaker"
	"github.com/gomind-ai/agentcore/broker"
	"github.com/gomind-ai/agentcore/comm"
	"github.com/gomind-ai/agentcore/core"
	"github.com/gomind-ai/agentcore/distributor"
	"github.com/gomind-ai/agentcore/ratelimit"
)

// Facade combines the Rate Limiter, Circuit Breaker Registry, Message
// Broker, Communication Manager and Task Distributor behind one surface.
// RegisterAgent and the admin methods check the token's scopes here, without
// a subject-match check; Send, GetMessages and DistributeTask pass the token
// to the Communication Manager, which checks scopes and subject-match.
// Subscribe, HandleTaskResponse and BreakerMetrics take no token.
type Facade struct {
	config    *core.Config
	validator core.TokenValidator
	logger    core.Logger
	telemetry core.Telemetry

	limiter     *ratelimit.Limiter
	breakers    *breaker.Registry
	broker      *broker.Broker
	comm        *comm.Manager
	distributor *distributor.Distributor
}

// New wires every subsystem from cfg. It does not start the background
// tasks (rate-limit replenisher, broker TTL sweeper); Start does, and
// Shutdown stops them.
// telemetry may be nil, in which case spans/metrics are discarded.
func New(cfg *core.Config, validator core.TokenValidator, logger core.Logger, telemetry core.Telemetry) *Facade {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if validator == nil {
		validator = core.NoAuthValidator{}
	}
	if logger == nil {
		logger = core.NewSimpleLogger()
	}
	if telemetry == nil {
		telemetry = core.NoOpTelemetry{}
	}

	store := ratelimit.NewMemoryStore()
	limiter := ratelimit.NewLimiter(store, cfg.RateLimit, logger)
	breakers := breaker.NewRegistry(logger)
	b := broker.New(cfg.Broker.SweepInterval, logger)
	commMgr := comm.NewManager(b, limiter, breakers, validator, logger)
	dist := distributor.New(commMgr, logger)

	f := &Facade{
		config:      cfg,
		validator:   validator,
		logger:      logger,
		telemetry:   telemetry,
		limiter:     limiter,
		breakers:    breakers,
		broker:      b,
		comm:        commMgr,
		distributor: dist,
	}
	return f
}

// Start launches the background replenisher and TTL sweeper.
func (f *Facade) Start(ctx context.Context) {
	f.limiter.StartReplenisher(ctx)
	f.broker.Start(ctx)
}

// Shutdown stops every background task. Idempotent.
func (f *Facade) Shutdown() {
	f.limiter.Stop()
	f.broker.Shutdown()
}

// requireScope validates authToken against requiredScopes, returning the
// token's subject. Its callers in this file do not use the subject.
func (f *Facade) requireScope(ctx context.Context, authToken string, requiredScopes []string) (string, error) {
	if authToken == "" {
		return "", nil
	}
	valid, subject, scopes, err := f.validator.Validate(ctx, authToken, requiredScopes)
	if err != nil || !valid {
		return "", core.AuthenticationError("orchestrator")
	}
	for _, scope := range requiredScopes {
		if !core.HasScope(scopes, scope) {
			return "", core.AuthorizationError("orchestrator", "token missing required scope "+scope)
		}
	}
	return subject, nil
}

// RegisterAgentRequest bundles RegisterAgent's parameters.
type RegisterAgentRequest struct {
	AgentID      string
	Capabilities []string
	Metadata     map[string]interface{}
	PriorityRank int
	AuthToken    string
}

// RegisterAgent registers an agent with the communication manager and task
// distributor.
func (f *Facade) RegisterAgent(ctx context.Context, req RegisterAgentRequest) error {
	if _, err := f.requireScope(ctx, req.AuthToken, []string{core.ScopeAgentWrite}); err != nil {
		return err
	}
	f.comm.RegisterAgent(req.AgentID, req.Metadata)
	f.distributor.RegisterAgent(req.AgentID, req.Capabilities, req.PriorityRank)
	return nil
}

// SendRequest bundles Send's parameters.
type SendRequest struct {
	Message           *broker.Message
	AuthToken         string
	UseCircuitBreaker bool
}

// Send dispatches a message through the Communication Manager, wrapped in
// a telemetry span tagged with the message type and recipient.
func (f *Facade) Send(ctx context.Context, req SendRequest) (string, error) {
	ctx, span := f.telemetry.StartSpan(ctx, "orchestrator.Send")
	defer span.End()
	span.SetAttribute("message.type", string(req.Message.Type))
	span.SetAttribute("message.recipient", req.Message.RecipientID)

	id, err := f.comm.Send(ctx, req.Message, comm.SendOptions{
		AuthToken:         req.AuthToken,
		UseCircuitBreaker: req.UseCircuitBreaker,
	})
	if err != nil {
		span.RecordError(err)
	}
	return id, err
}

// GetMessages dispatches a pull-receive through the Communication Manager.
func (f *Facade) GetMessages(ctx context.Context, agentID, authToken string, markDelivered bool) ([]*broker.Message, error) {
	ctx, span := f.telemetry.StartSpan(ctx, "orchestrator.GetMessages")
	defer span.End()
	span.SetAttribute("agent_id", agentID)

	messages, err := f.comm.GetMessages(ctx, agentID, comm.ReceiveOptions{
		AuthToken:     authToken,
		MarkDelivered: markDelivered,
	})
	if err != nil {
		span.RecordError(err)
	}
	f.telemetry.RecordMetric("broker.messages_received", float64(len(messages)), map[string]string{"agent_id": agentID})
	return messages, err
}

// Subscribe registers a push-delivery callback for agentID.
func (f *Facade) Subscribe(agentID string, callback func(*broker.Message)) {
	f.comm.Subscribe(agentID, callback)
}

// DistributeTask dispatches a task through the Task Distributor.
func (f *Facade) DistributeTask(ctx context.Context, req distributor.DistributeRequest) (*distributor.Result, error) {
	ctx, span := f.telemetry.StartSpan(ctx, "orchestrator.DistributeTask")
	defer span.End()
	span.SetAttribute("task.id", req.TaskID)
	span.SetAttribute("task.strategy", string(req.Strategy))

	result, err := f.distributor.Distribute(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttribute("task.agent_id", result.AgentID)
	return result, nil
}

// HandleTaskResponse decrements the responding agent's load.
func (f *Facade) HandleTaskResponse(taskID, agentID, status string, result interface{}, taskErr error) {
	f.distributor.HandleResponse(taskID, agentID, status, result, taskErr)
}

// GetRateLimits returns the bucket configuration for dimension/key. Only
// existing buckets are reported; an empty key does not return the
// dimension defaults. Requires the admin scope.
func (f *Facade) GetRateLimits(ctx context.Context, dimension, key, authToken string) (ratelimit.Snapshot, error) {
	if _, err := f.requireScope(ctx, authToken, []string{core.ScopeAdmin}); err != nil {
		return ratelimit.Snapshot{}, err
	}
	snap, ok := f.limiter.GetConfig(dimension, key)
	if !ok {
		return ratelimit.Snapshot{}, core.FromValidationError("orchestrator", "unknown rate limit dimension/key")
	}
	return snap, nil
}

// UpdateRateLimit replaces a bucket's (max, interval). Requires the admin
// scope.
func (f *Facade) UpdateRateLimit(ctx context.Context, dimension, key string, maxTokens int, interval time.Duration, authToken string) error {
	if _, err := f.requireScope(ctx, authToken, []string{core.ScopeAdmin}); err != nil {
		return err
	}
	if !f.limiter.UpdateLimit(dimension, key, maxTokens, interval) {
		return core.FromValidationError("orchestrator", "unable to update rate limit")
	}
	return nil
}

// ResetAllBreakers clears every breaker's failure window. Requires the
// admin scope.
func (f *Facade) ResetAllBreakers(ctx context.Context, authToken string) error {
	if _, err := f.requireScope(ctx, authToken, []string{core.ScopeAdmin}); err != nil {
		return err
	}
	f.breakers.ResetAll()
	return nil
}

// BreakerMetrics returns every breaker's metrics snapshot, for operational
// visibility.
func (f *Facade) BreakerMetrics() map[string]map[string]interface{} {
	return f.breakers.Metrics()
}
