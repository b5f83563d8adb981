package comm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomind-ai/agentcore/broker"
	"github.com/gomind-ai/agentcore/core"
)

func TestContainerManager_ContainerToContainerRoutesViaContainerBroker(t *testing.T) {
	base := newTestManager(t, core.NoAuthValidator{})
	container := newTestManager(t, core.NoAuthValidator{})
	cm := NewContainerManager(base, container)

	cm.RegisterContainer("c1", nil)
	cm.RegisterContainer("c2", nil)

	msg := broker.NewMessage(broker.TypeDirect, "c1", "c2", broker.PriorityMedium, nil, nil, nil)
	_, err := cm.Send(context.Background(), msg, SendOptions{})
	require.NoError(t, err)

	got, err := cm.GetMessages(context.Background(), "c2", ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// The base broker never saw this message.
	baseGot, err := base.GetMessages(context.Background(), "c2", ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	assert.Empty(t, baseGot)
}

func TestContainerManager_ContainerToOrdinaryRoutesViaBase(t *testing.T) {
	base := newTestManager(t, core.NoAuthValidator{})
	container := newTestManager(t, core.NoAuthValidator{})
	cm := NewContainerManager(base, container)

	cm.RegisterContainer("c1", nil)
	cm.RegisterAgent("plain", nil)

	msg := broker.NewMessage(broker.TypeDirect, "c1", "plain", broker.PriorityMedium, nil, nil, nil)
	_, err := cm.Send(context.Background(), msg, SendOptions{})
	require.NoError(t, err)

	got, err := cm.GetMessages(context.Background(), "plain", ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestContainerManager_BroadcastFromContainerRoutesViaContainerBroker(t *testing.T) {
	base := newTestManager(t, core.NoAuthValidator{})
	container := newTestManager(t, core.NoAuthValidator{})
	cm := NewContainerManager(base, container)

	cm.RegisterContainer("c1", nil)
	cm.RegisterContainer("c2", nil)

	msg := broker.NewMessage(broker.TypeBroadcast, "c1", "", broker.PriorityMedium, nil, nil, nil)
	_, err := cm.Send(context.Background(), msg, SendOptions{})
	require.NoError(t, err)

	got, err := cm.GetMessages(context.Background(), "c2", ReceiveOptions{MarkDelivered: true})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
