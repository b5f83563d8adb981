// Package comm implements a thin guard layer between external callers and
// the Broker that wraps every public operation in authorization, rate
// limiting (send only), and an optional circuit-breaker wrap, in that
// order.
package comm

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/gomind-ai/agentcore/breaker"
	"github.com/gomind-ai/agentcore/broker"
	"github.com/gomind-ai/agentcore/core"
	"github.com/gomind-ai/agentcore/ratelimit"
)

// breakerName is the registry key for the communication manager's wrapped
// broker calls.
const breakerName = "agent_communication"

const capabilitiesTTL = 0 // no expiration: capabilities live for agent lifetime

// Manager wraps a Broker with auth, rate limiting and circuit breaking.
type Manager struct {
	broker    *broker.Broker
	limiter   *ratelimit.Limiter
	breakers  *breaker.Registry
	validator core.TokenValidator
	logger    core.Logger

	capabilities *gocache.Cache
}

// NewManager builds a Manager. validator may be core.NoAuthValidator{} when
// no auth is configured; limiter/breakers are required collaborators.
func NewManager(b *broker.Broker, limiter *ratelimit.Limiter, breakers *breaker.Registry, validator core.TokenValidator, logger core.Logger) *Manager {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if validator == nil {
		validator = core.NoAuthValidator{}
	}
	return &Manager{
		broker:       b,
		limiter:      limiter,
		breakers:     breakers,
		validator:    validator,
		logger:       logger,
		capabilities: gocache.New(capabilitiesTTL, 10*time.Minute),
	}
}

// RegisterAgent registers an agent with the underlying broker and stores its
// opaque capabilities map for later lookup.
func (m *Manager) RegisterAgent(agentID string, capabilities map[string]interface{}) {
	m.broker.Register(agentID)
	if capabilities != nil {
		m.capabilities.Set(agentID, capabilities, gocache.NoExpiration)
	}
}

// Capabilities returns the capabilities map previously registered for
// agentID, if any.
func (m *Manager) Capabilities(agentID string) (map[string]interface{}, bool) {
	v, ok := m.capabilities.Get(agentID)
	if !ok {
		return nil, false
	}
	return v.(map[string]interface{}), true
}

// Subscribe registers a push-delivery callback for agentID.
func (m *Manager) Subscribe(agentID string, callback func(*broker.Message)) {
	m.broker.Subscribe(agentID, callback)
}

// authorize validates authToken (when non-empty) against requiredScopes and
// enforces subject-match against agentScope when it is non-empty. An empty
// authToken skips authorization entirely — callers that require auth must
// always supply a token.
func (m *Manager) authorize(ctx context.Context, authToken string, requiredScopes []string, agentScope string) error {
	if authToken == "" {
		return nil
	}
	valid, subject, scopes, err := m.validator.Validate(ctx, authToken, requiredScopes)
	if err != nil || !valid {
		return core.AuthenticationError("comm")
	}
	for _, scope := range requiredScopes {
		if !core.HasScope(scopes, scope) {
			return core.AuthorizationError("comm", "token missing required scope "+scope)
		}
	}
	if agentScope != "" && subject != "" && subject != agentScope {
		return core.AuthorizationError("comm", "token subject does not match agent_id")
	}
	return nil
}

// wrapBreaker runs op through the named circuit breaker when
// useCircuitBreaker is true, otherwise runs it directly.
func (m *Manager) wrapBreaker(ctx context.Context, useCircuitBreaker bool, op func(ctx context.Context) error) error {
	if !useCircuitBreaker {
		return op(ctx)
	}
	b := m.breakers.GetOrCreate(breakerName, breaker.DefaultConfig(breakerName))
	return b.Execute(ctx, op)
}

// SendOptions configures a Send call.
type SendOptions struct {
	AuthToken         string
	UseCircuitBreaker bool
}

// Send wraps broker.Send in authorization, rate limiting, and an optional
// circuit-breaker wrap, applied in that order.
func (m *Manager) Send(ctx context.Context, msg *broker.Message, opts SendOptions) (string, error) {
	if err := m.authorize(ctx, opts.AuthToken, []string{core.ScopeAgentWrite}, msg.SenderID); err != nil {
		return "", err
	}

	decision := m.limiter.Check(ctx, msg.SenderID, string(msg.Type), string(msg.Priority))
	if !decision.Allowed {
		return "", core.RateLimitError("comm", int(decision.RetryAfter.Seconds()))
	}

	var sentID string
	err := m.wrapBreaker(ctx, opts.UseCircuitBreaker, func(ctx context.Context) error {
		id, sendErr := m.broker.Send(ctx, msg)
		sentID = id
		return sendErr
	})
	if err != nil {
		return "", err
	}
	return sentID, nil
}

// ReceiveOptions configures a GetMessages call.
type ReceiveOptions struct {
	AuthToken         string
	MarkDelivered     bool
	UseCircuitBreaker bool
}

// GetMessages wraps broker.GetMessages in authorization and an optional
// circuit-breaker wrap. Rate limiting never applies to receive, only send.
func (m *Manager) GetMessages(ctx context.Context, agentID string, opts ReceiveOptions) ([]*broker.Message, error) {
	if err := m.authorize(ctx, opts.AuthToken, []string{core.ScopeAgentRead}, agentID); err != nil {
		return nil, err
	}

	var messages []*broker.Message
	err := m.wrapBreaker(ctx, opts.UseCircuitBreaker, func(ctx context.Context) error {
		messages = m.broker.GetMessages(agentID, opts.MarkDelivered)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Shutdown tears down the underlying broker's background tasks.
func (m *Manager) Shutdown() {
	m.broker.Shutdown()
}
