package comm

import (
	"context"
	"sync"

	"github.com/gomind-ai/agentcore/broker"
)

// ContainerManager is a specialized variant that wraps a second, parallel
// broker for communication between containerized agents, routing a send to
// whichever broker both endpoints actually share.
type ContainerManager struct {
	base      *Manager
	container *Manager

	mu         sync.RWMutex
	containers map[string]bool
}

// NewContainerManager wraps base (the ordinary agent-communication manager)
// and container (a second Manager backed by its own Broker instance) into
// one cross-domain router.
func NewContainerManager(base, container *Manager) *ContainerManager {
	return &ContainerManager{
		base:       base,
		container:  container,
		containers: make(map[string]bool),
	}
}

// RegisterContainer registers id as a container: it becomes known to both
// the container broker and the base broker (registration mirrors to both so
// cross-domain sends work in both directions).
func (cm *ContainerManager) RegisterContainer(id string, capabilities map[string]interface{}) {
	cm.mu.Lock()
	cm.containers[id] = true
	cm.mu.Unlock()

	cm.container.RegisterAgent(id, capabilities)
	cm.base.RegisterAgent(id, capabilities)
}

// RegisterAgent registers an ordinary, non-container agent with the base
// manager only.
func (cm *ContainerManager) RegisterAgent(id string, capabilities map[string]interface{}) {
	cm.base.RegisterAgent(id, capabilities)
}

func (cm *ContainerManager) isContainer(id string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.containers[id]
}

// routeForSend picks the container manager when sender is a container and
// either the send is a broadcast or the recipient is also a container;
// otherwise it picks the base manager.
func (cm *ContainerManager) routeForSend(msg *broker.Message) *Manager {
	if cm.isContainer(msg.SenderID) && (msg.Type == broker.TypeBroadcast || cm.isContainer(msg.RecipientID)) {
		return cm.container
	}
	return cm.base
}

// Send routes msg to whichever broker the sender/recipient pair shares.
func (cm *ContainerManager) Send(ctx context.Context, msg *broker.Message, opts SendOptions) (string, error) {
	return cm.routeForSend(msg).Send(ctx, msg, opts)
}

// GetMessages routes by whether id is a known container.
func (cm *ContainerManager) GetMessages(ctx context.Context, id string, opts ReceiveOptions) ([]*broker.Message, error) {
	if cm.isContainer(id) {
		return cm.container.GetMessages(ctx, id, opts)
	}
	return cm.base.GetMessages(ctx, id, opts)
}

// Subscribe routes the push-delivery subscription to whichever broker the
// recipient belongs to.
func (cm *ContainerManager) Subscribe(id string, callback func(*broker.Message)) {
	if cm.isContainer(id) {
		cm.container.Subscribe(id, callback)
		return
	}
	cm.base.Subscribe(id, callback)
}

// Shutdown tears down both underlying brokers.
func (cm *ContainerManager) Shutdown() {
	cm.base.Shutdown()
	cm.container.Shutdown()
}
