package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gomind-ai/agentcore/core"
)

// Broker maintains per-recipient priority queues, routes sends, delivers to
// push subscribers and expires TTL'd messages. One Broker is a process-wide
// singleton; all mutation happens under mu, and no user callback runs while
// mu is held.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*messageQueue
	logger core.Logger

	sweepInterval time.Duration
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New creates an empty Broker. sweepInterval is the cadence of the
// background TTL sweeper.
func New(sweepInterval time.Duration, logger core.Logger) *Broker {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	return &Broker{
		queues:        make(map[string]*messageQueue),
		logger:        logger,
		sweepInterval: sweepInterval,
	}
}

// Register ensures id has a queue, marking it online. Auto-registration on
// first send calls this implicitly.
func (b *Broker) Register(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registerLocked(id)
}

func (b *Broker) registerLocked(id string) *messageQueue {
	q, ok := b.queues[id]
	if !ok {
		q = newMessageQueue()
		b.queues[id] = q
	}
	q.online = true
	return q
}

// SetOnline marks an existing or new queue's online status.
func (b *Broker) SetOnline(id string, online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.registerLocked(id)
	q.online = online
}

// Subscribe registers a push-delivery callback for recipientID. Delivery
// fires in registration order for a given recipient; order across
// recipients is unspecified.
func (b *Broker) Subscribe(recipientID string, callback func(*Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.registerLocked(recipientID)
	q.callbacks = append(q.callbacks, callback)
}

// Send routes msg: auto-registers the sender, fans a BROADCAST out to
// every other known recipient, or appends to the single named recipient's
// queue — then triggers push delivery to online recipients. Returns the id
// that was actually sent (for BROADCAST, the original pre-fanout id).
func (b *Broker) Send(ctx context.Context, msg *Message) (string, error) {
	var toDeliver map[string][]*Message

	b.mu.Lock()
	b.registerLocked(msg.SenderID)

	if msg.Type == TypeBroadcast {
		toDeliver = b.broadcastLocked(msg)
	} else {
		if msg.RecipientID == "" {
			b.mu.Unlock()
			return "", core.AgentNotFoundError("broker.Send", "")
		}
		q, ok := b.queues[msg.RecipientID]
		if !ok {
			b.mu.Unlock()
			return "", core.AgentNotFoundError("broker.Send", msg.RecipientID)
		}
		q.append(msg)
		if q.online && len(q.callbacks) > 0 {
			toDeliver = map[string][]*Message{msg.RecipientID: q.drain(time.Now())}
		}
	}
	b.mu.Unlock()

	b.deliver(toDeliver)
	return msg.ID, nil
}

// broadcastLocked fans msg out to every recipient except the sender,
// returning the drained, delivery-ready messages per online recipient with
// at least one callback. Must be called with mu held.
func (b *Broker) broadcastLocked(msg *Message) map[string][]*Message {
	toDeliver := make(map[string][]*Message)
	for id, q := range b.queues {
		if id == msg.SenderID {
			continue
		}
		fanout := msg.forRecipient(id)
		q.append(fanout)
		if q.online && len(q.callbacks) > 0 {
			toDeliver[id] = q.drain(time.Now())
		}
	}
	return toDeliver
}

// deliver invokes every recipient's callbacks for its drained messages,
// outside the broker lock. A panicking callback is recovered and logged,
// never allowed to crash the delivery loop for other recipients.
func (b *Broker) deliver(toDeliver map[string][]*Message) {
	for recipientID, messages := range toDeliver {
		b.mu.Lock()
		q, ok := b.queues[recipientID]
		var callbacks []func(*Message)
		if ok {
			callbacks = append(callbacks, q.callbacks...)
		}
		b.mu.Unlock()
		if !ok {
			continue
		}
		for _, m := range messages {
			for _, cb := range callbacks {
				b.invokeCallback(cb, m)
			}
		}
	}
}

func (b *Broker) invokeCallback(cb func(*Message), m *Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("push delivery callback panicked", map[string]interface{}{
				"recovered": r,
			})
		}
	}()
	cb(m)
}

// GetMessages implements pull-receive: returns all non-expired messages
// currently in recipientID's queue. If markDelivered, messages are marked
// delivered and the queue is cleared under the same lock; otherwise the
// live messages stay queued and unmarked (expired ones are dropped either
// way). An unknown recipient returns an empty slice, no error.
func (b *Broker) GetMessages(recipientID string, markDelivered bool) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[recipientID]
	if !ok {
		return nil
	}
	now := time.Now()
	if markDelivered {
		return q.drain(now)
	}
	return q.peek(now)
}

// Start launches the background TTL sweeper. It is cancellable and
// idempotent to stop; it is an amortization, not a correctness requirement,
// since GetMessages and push delivery already filter expired messages
// inline.
func (b *Broker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sweep()
			}
		}
	}()
}

func (b *Broker) sweep() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.queues {
		q.dropExpired(now)
	}
}

// Shutdown cancels the TTL sweeper and waits for it to exit. Idempotent;
// further calls to Send/GetMessages are not required to succeed afterward.
func (b *Broker) Shutdown() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

// MarshalContent is a convenience for callers building Message.Content from
// an arbitrary Go value.
func MarshalContent(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, core.FromValidationError("broker", "content is not serializable")
	}
	return raw, nil
}
