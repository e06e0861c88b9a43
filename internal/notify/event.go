// Package notify publishes conversation change events for real-time
// dashboard gateways.
package notify

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindConversationCreated   Kind = "conversation.created"
	KindConversationUpdated   Kind = "conversation.updated"
	KindMessageCreated        Kind = "message.created"
	KindClassificationCreated Kind = "classification.created"
)

// Change is the payload of one accepted write observed on the table stream.
type Change struct {
	Kind           Kind      `json:"kind"`
	ConversationID string    `json:"conversationId"`
	HostID         string    `json:"hostId,omitempty"`
	PropertyID     string    `json:"propertyId,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`
	Direction      string    `json:"direction,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	Tag            string    `json:"tag,omitempty"`
	PriorityLevel  int       `json:"priorityLevel,omitempty"`
	NeedsAttention bool      `json:"needsAttention"`
	AttentionState string    `json:"attentionState,omitempty"`
	UnreadCount    int       `json:"unreadCount"`
	At             time.Time `json:"at"`
}

type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
	Producer      string    `json:"producer,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

type Envelope struct {
	Meta Meta   `json:"meta"`
	Data Change `json:"data"`
}

const eventVersion = ".v1"

// NewEnvelope wraps c with a fresh event id. eventID may be empty.
func NewEnvelope(producer, eventID, correlationID string, c Change) Envelope {
	if eventID == "" {
		eventID = uuid.NewString()
	}
	return Envelope{
		Meta: Meta{
			ID:            eventID,
			Type:          string(c.Kind) + eventVersion,
			Time:          time.Now().UTC(),
			Producer:      producer,
			CorrelationID: correlationID,
		},
		Data: c,
	}
}

// RoutingKey is the topic routing key of an envelope, e.g.
// "conversation.message.created".
func RoutingKey(env Envelope) string {
	return "conversation." + string(env.Data.Kind)
}

// HostChannel is the pub/sub channel dashboards of one host subscribe to.
func HostChannel(hostID string) string {
	if hostID == "" {
		return "inbox:unassigned"
	}
	return "inbox:host:" + hostID
}
