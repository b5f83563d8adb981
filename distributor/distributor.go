// Package distributor implements task dispatch: capability matching,
// pluggable selection strategies, and live load tracking.
package distributor

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/gomind-ai/agentcore/broker"
	"github.com/gomind-ai/agentcore/comm"
	"github.com/gomind-ai/agentcore/core"
)

// Strategy selects one candidate agent from a suitable set.
type Strategy string

const (
	StrategyCapabilityMatch Strategy = "CAPABILITY_MATCH"
	StrategyRoundRobin      Strategy = "ROUND_ROBIN"
	StrategyLoadBalanced    Strategy = "LOAD_BALANCED"
	StrategyPriorityBased   Strategy = "PRIORITY_BASED"
	StrategyCustom          Strategy = "CUSTOM"
)

// CustomSelector is a pluggable selection function for StrategyCustom.
type CustomSelector func(candidates []string) string

// Distributor holds three parallel maps keyed by agent id plus an online
// set.
type Distributor struct {
	mu sync.Mutex

	capabilities map[string]map[string]bool
	priorityRank map[string]int
	currentLoad  map[string]int
	online       map[string]bool

	custom CustomSelector
	comm   *comm.Manager
	logger core.Logger
}

// New creates an empty Distributor. mgr is used to send TASK_REQUEST
// messages once an agent is selected.
func New(mgr *comm.Manager, logger core.Logger) *Distributor {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Distributor{
		capabilities: make(map[string]map[string]bool),
		priorityRank: make(map[string]int),
		currentLoad:  make(map[string]int),
		online:       make(map[string]bool),
		comm:         mgr,
		logger:       logger,
	}
}

// SetCustomSelector installs the CUSTOM strategy's selection function.
func (d *Distributor) SetCustomSelector(fn CustomSelector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.custom = fn
}

// RegisterAgent adds or updates an agent's capability set and priority
// rank, marking it online.
func (d *Distributor) RegisterAgent(agentID string, capabilities []string, priorityRank int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		set[c] = true
	}
	d.capabilities[agentID] = set
	d.priorityRank[agentID] = priorityRank
	if _, ok := d.currentLoad[agentID]; !ok {
		d.currentLoad[agentID] = 0
	}
	d.online[agentID] = true
}

// SetOnline flips an agent's online flag.
func (d *Distributor) SetOnline(agentID string, online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online[agentID] = online
}

// UnregisterAgent removes an agent from all tracking maps.
func (d *Distributor) UnregisterAgent(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.capabilities, agentID)
	delete(d.priorityRank, agentID)
	delete(d.currentLoad, agentID)
	delete(d.online, agentID)
}

// CurrentLoad returns an agent's current load, or 0 if unknown.
func (d *Distributor) CurrentLoad(agentID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentLoad[agentID]
}

// FindSuitable returns every online agent not in excluded whose
// capabilities are a superset of required. Order is deterministic
// (ascending agent id).
func (d *Distributor) FindSuitable(required []string, excluded map[string]bool) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findSuitableLocked(required, excluded)
}

func (d *Distributor) findSuitableLocked(required []string, excluded map[string]bool) []string {
	var candidates []string
	for agentID, online := range d.online {
		if !online || excluded[agentID] {
			continue
		}
		if hasAllLocked(d.capabilities[agentID], required) {
			candidates = append(candidates, agentID)
		}
	}
	sort.Strings(candidates)
	return candidates
}

func hasAllLocked(have map[string]bool, required []string) bool {
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// Select applies strategy to candidates, returning the chosen agent id.
// An empty candidates slice is a caller error — Distribute translates it
// into the taxonomy's TASK_DISTRIBUTION_FAILED before ever calling Select.
func (d *Distributor) Select(candidates []string, strategy Strategy) (string, error) {
	if len(candidates) == 0 {
		return "", core.TaskDistributionFailedError("distributor", nil)
	}

	switch strategy {
	case StrategyRoundRobin:
		return candidates[rand.IntN(len(candidates))], nil
	case StrategyLoadBalanced:
		return d.pickMinLoad(candidates), nil
	case StrategyPriorityBased:
		return d.pickMaxPriority(candidates), nil
	case StrategyCustom:
		d.mu.Lock()
		fn := d.custom
		d.mu.Unlock()
		if fn == nil {
			return "", core.FromValidationError("distributor", "no custom selector registered")
		}
		return fn(candidates), nil
	case StrategyCapabilityMatch:
		fallthrough
	default:
		return candidates[0], nil
	}
}

func (d *Distributor) pickMinLoad(candidates []string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	best := candidates[0]
	bestLoad := d.currentLoad[best]
	for _, c := range candidates[1:] {
		if d.currentLoad[c] < bestLoad {
			best, bestLoad = c, d.currentLoad[c]
		}
	}
	return best
}

func (d *Distributor) pickMaxPriority(candidates []string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	best := candidates[0]
	bestRank := d.priorityRank[best]
	for _, c := range candidates[1:] {
		if d.priorityRank[c] > bestRank {
			best, bestRank = c, d.priorityRank[c]
		}
	}
	return best
}

// Result is the return value of Distribute.
type Result struct {
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id"`
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// DistributeRequest bundles Distribute's parameters.
type DistributeRequest struct {
	TaskID     string
	Type       broker.MessageType
	Required   []string
	Data       interface{}
	SenderID   string
	Strategy   Strategy
	Excluded   map[string]bool
	Priority   broker.Priority
	TTLSeconds *int
	Metadata   map[string]string
	AuthToken  string
}

// Distribute composes find → select → increment load → send TASK_REQUEST,
// rolling the load increment back if the send fails.
func (d *Distributor) Distribute(ctx context.Context, req DistributeRequest) (*Result, error) {
	candidates := d.FindSuitable(req.Required, req.Excluded)
	if len(candidates) == 0 {
		return nil, core.TaskDistributionFailedError("distributor", req.Required)
	}
	agentID, err := d.Select(candidates, req.Strategy)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.currentLoad[agentID]++
	d.mu.Unlock()

	content, err := broker.MarshalContent(req.Data)
	if err != nil {
		d.rollback(agentID)
		return nil, err
	}

	msg := broker.NewMessage(broker.TypeTaskRequest, req.SenderID, agentID, req.Priority, content, req.Metadata, req.TTLSeconds)
	msg.CorrelationID = req.TaskID

	messageID, err := d.comm.Send(ctx, msg, comm.SendOptions{AuthToken: req.AuthToken, UseCircuitBreaker: true})
	if err != nil {
		d.rollback(agentID)
		return nil, err
	}

	return &Result{
		TaskID:    req.TaskID,
		AgentID:   agentID,
		MessageID: messageID,
		Status:    "distributed",
		Timestamp: time.Now().UTC(),
	}, nil
}

func (d *Distributor) rollback(agentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.currentLoad[agentID] > 0 {
		d.currentLoad[agentID]--
	}
}

// HandleResponse decrements agentID's load, saturating at 0. The
// distributor does not persist task state; persistent task status is owned
// by an external task store.
func (d *Distributor) HandleResponse(taskID, agentID, status string, result interface{}, respErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.currentLoad[agentID] > 0 {
		d.currentLoad[agentID]--
	}
	d.logger.Debug("task response handled", map[string]interface{}{
		"task_id": taskID, "agent_id": agentID, "status": status,
	})
}
