// Package broker implements a priority message broker: per-recipient
// priority queues, TTL expiration, broadcast fan-out and push-delivery
// callbacks.
package broker

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType is one of the seven canonical message kinds.
type MessageType string

const (
	TypeDirect       MessageType = "direct"
	TypeBroadcast    MessageType = "broadcast"
	TypeTaskRequest  MessageType = "task_request"
	TypeTaskResponse MessageType = "task_response"
	TypeStatusUpdate MessageType = "status_update"
	TypeError        MessageType = "error"
	TypeSystem       MessageType = "system"
)

// Priority is one of the three priority classes; PriorityRank gives its
// sort key (HIGH=0, MEDIUM=1, LOW=2).
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort key for p, defaulting unrecognized priorities to
// MEDIUM's rank.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Message is the value object produced on Send and consumed on receive.
// It round-trips through JSON without loss.
type Message struct {
	ID            string            `json:"id"`
	Type          MessageType       `json:"type"`
	SenderID      string            `json:"sender_id"`
	RecipientID   string            `json:"recipient_id,omitempty"`
	CorrelationID string            `json:"correlation_id"`
	Priority      Priority          `json:"priority"`
	Content       json.RawMessage   `json:"content,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	TTLSeconds    *int              `json:"ttl_seconds,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	Delivered     bool              `json:"delivered"`
	DeliveredAt   *time.Time        `json:"delivered_at,omitempty"`
}

// NewMessage constructs a Message with a generated id, defaulting
// correlation_id to the new id and deriving expires_at from ttlSeconds.
func NewMessage(msgType MessageType, senderID, recipientID string, priority Priority, content json.RawMessage, metadata map[string]string, ttlSeconds *int) *Message {
	now := time.Now().UTC()
	id := uuid.New().String()

	var expiresAt *time.Time
	if ttlSeconds != nil {
		e := now.Add(time.Duration(*ttlSeconds) * time.Second)
		expiresAt = &e
	}

	return &Message{
		ID:            id,
		Type:          msgType,
		SenderID:      senderID,
		RecipientID:   recipientID,
		CorrelationID: id,
		Priority:      priority,
		Content:       content,
		Metadata:      metadata,
		CreatedAt:     now,
		TTLSeconds:    ttlSeconds,
		ExpiresAt:     expiresAt,
	}
}

// IsExpired reports whether the message's TTL has passed as of now.
func (m *Message) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// forRecipient returns a broadcast copy of m addressed to recipientID, with
// a derived id of "originalId:recipientId" so each fan-out copy is traceable
// back to the broadcast it came from.
func (m *Message) forRecipient(recipientID string) *Message {
	cp := *m
	cp.RecipientID = recipientID
	cp.ID = m.ID + ":" + recipientID
	return &cp
}

// markDelivered sets delivered/delivered_at exactly once.
func (m *Message) markDelivered(now time.Time) {
	m.Delivered = true
	m.DeliveredAt = &now
}
