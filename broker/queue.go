package broker

import (
	"sort"
	"time"
)

// messageQueue is an ordered sequence of Messages kept in priority order
// (HIGH before MEDIUM before LOW), stable within a priority. Owned
// exclusively by the Broker and mutated only while its lock is held.
type messageQueue struct {
	messages  []*Message
	online    bool
	callbacks []func(*Message)
}

func newMessageQueue() *messageQueue {
	return &messageQueue{online: true}
}

// append adds msg and re-sorts by priority rank, stable within a priority.
func (q *messageQueue) append(msg *Message) {
	q.messages = append(q.messages, msg)
	sort.SliceStable(q.messages, func(i, j int) bool {
		return q.messages[i].Priority.Rank() < q.messages[j].Priority.Rank()
	})
}

// dropExpired removes expired messages in place.
func (q *messageQueue) dropExpired(now time.Time) {
	live := q.messages[:0]
	for _, m := range q.messages {
		if !m.IsExpired(now) {
			live = append(live, m)
		}
	}
	q.messages = live
}

// drain returns all non-expired messages and empties the queue, marking
// each delivered. Used by both pull-receive (mark_delivered=true) and
// push-delivery.
func (q *messageQueue) drain(now time.Time) []*Message {
	q.dropExpired(now)
	out := q.messages
	q.messages = nil
	for _, m := range out {
		m.markDelivered(now)
	}
	return out
}

// peek drops expired messages from the queue, then returns a copy of the
// remaining ones without marking or removing them, used by pull-receive
// when mark_delivered=false.
func (q *messageQueue) peek(now time.Time) []*Message {
	q.dropExpired(now)
	out := make([]*Message, len(q.messages))
	copy(out, q.messages)
	return out
}
