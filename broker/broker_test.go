package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ttl(seconds int) *int { return &seconds }

func TestBroker_DirectSendAndPull(t *testing.T) {
	b := New(time.Minute, nil)
	b.Register("agent-a")
	b.Register("agent-b")

	msg := NewMessage(TypeDirect, "agent-a", "agent-b", PriorityMedium, nil, nil, nil)
	id, err := b.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, id)

	got := b.GetMessages("agent-b", true)
	require.Len(t, got, 1)
	assert.True(t, got[0].Delivered)
	assert.NotNil(t, got[0].DeliveredAt)

	// Cleared after mark_delivered.
	assert.Empty(t, b.GetMessages("agent-b", true))
}

func TestBroker_UnknownRecipientReturnsNotFound(t *testing.T) {
	b := New(time.Minute, nil)
	b.Register("agent-a")

	msg := NewMessage(TypeDirect, "agent-a", "ghost", PriorityMedium, nil, nil, nil)
	_, err := b.Send(context.Background(), msg)
	require.Error(t, err)
}

func TestBroker_GetMessagesUnknownRecipientIsEmptyNotError(t *testing.T) {
	b := New(time.Minute, nil)
	assert.Empty(t, b.GetMessages("nobody", true))
}

func TestBroker_PriorityOrdering(t *testing.T) {
	b := New(time.Minute, nil)
	b.Register("sender")
	b.Register("recv")

	low := NewMessage(TypeDirect, "sender", "recv", PriorityLow, nil, nil, nil)
	high := NewMessage(TypeDirect, "sender", "recv", PriorityHigh, nil, nil, nil)
	medium := NewMessage(TypeDirect, "sender", "recv", PriorityMedium, nil, nil, nil)

	_, _ = b.Send(context.Background(), low)
	_, _ = b.Send(context.Background(), high)
	_, _ = b.Send(context.Background(), medium)

	got := b.GetMessages("recv", true)
	require.Len(t, got, 3)
	assert.Equal(t, PriorityHigh, got[0].Priority)
	assert.Equal(t, PriorityMedium, got[1].Priority)
	assert.Equal(t, PriorityLow, got[2].Priority)
}

func TestBroker_Broadcast(t *testing.T) {
	b := New(time.Minute, nil)
	b.Register("sender")
	b.Register("a")
	b.Register("b")

	msg := NewMessage(TypeBroadcast, "sender", "", PriorityMedium, nil, nil, nil)
	id, err := b.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, id)

	a := b.GetMessages("a", true)
	require.Len(t, a, 1)
	assert.Equal(t, msg.ID+":a", a[0].ID)
	assert.Equal(t, "a", a[0].RecipientID)

	bMsgs := b.GetMessages("b", true)
	require.Len(t, bMsgs, 1)

	// Sender never receives its own broadcast.
	assert.Empty(t, b.GetMessages("sender", true))
}

func TestBroker_PushDelivery(t *testing.T) {
	b := New(time.Minute, nil)
	b.Register("sender")
	b.Register("recv")

	var got []*Message
	done := make(chan struct{}, 1)
	b.Subscribe("recv", func(m *Message) {
		got = append(got, m)
		done <- struct{}{}
	})

	msg := NewMessage(TypeDirect, "sender", "recv", PriorityHigh, nil, nil, nil)
	_, err := b.Send(context.Background(), msg)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback was never invoked")
	}

	require.Len(t, got, 1)
	assert.True(t, got[0].Delivered)
	// Push delivery drains the queue, so a subsequent pull sees nothing.
	assert.Empty(t, b.GetMessages("recv", true))
}

func TestBroker_TTLExpiration(t *testing.T) {
	b := New(time.Minute, nil)
	b.Register("sender")
	b.Register("recv")

	msg := NewMessage(TypeDirect, "sender", "recv", PriorityMedium, nil, nil, ttl(0))
	time.Sleep(5 * time.Millisecond)
	_, err := b.Send(context.Background(), msg)
	require.NoError(t, err)

	assert.Empty(t, b.GetMessages("recv", true))
}

func TestBroker_SweeperDropsExpiredInBackground(t *testing.T) {
	b := New(20*time.Millisecond, nil)
	b.Register("sender")
	b.Register("recv")

	msg := NewMessage(TypeDirect, "sender", "recv", PriorityMedium, nil, nil, ttl(0))
	_, _ = b.Send(context.Background(), msg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Shutdown()

	time.Sleep(60 * time.Millisecond)
	// Inspect the queue directly: a pull would drop the expired message
	// itself and so could not show that the sweeper did.
	b.mu.Lock()
	remaining := len(b.queues["recv"].messages)
	b.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestBroker_PullWithoutMarkDeliveredLeavesQueueIntact(t *testing.T) {
	b := New(time.Minute, nil)
	b.Register("sender")
	b.Register("recv")

	msg := NewMessage(TypeDirect, "sender", "recv", PriorityMedium, nil, nil, nil)
	_, _ = b.Send(context.Background(), msg)

	peeked := b.GetMessages("recv", false)
	require.Len(t, peeked, 1)
	assert.False(t, peeked[0].Delivered)

	again := b.GetMessages("recv", true)
	require.Len(t, again, 1)
}
