package domain

import "time"

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

// AttentionState is the host-facing attention status of a conversation.
// Classifications only ever move it to AttentionNeeded; AttentionResolved is
// written by the host dashboard.
type AttentionState string

const (
	AttentionNormal   AttentionState = "normal"
	AttentionNeeded   AttentionState = "needs_attention"
	AttentionResolved AttentionState = "resolved"
)

// Conversation is the durable record for one guest at one property.
type Conversation struct {
	ID                           string
	GuestIdentifier              string
	GuestName                    string
	PropertyID                   string
	HostID                       string
	Status                       ConversationStatus
	LastMessageSummary           string
	LastMessageAt                time.Time
	UnreadCount                  int
	LastClassificationTag        string
	LastClassificationConfidence float64
	NeedsAttention               bool
	AttentionState               AttentionState
	PriorityLevel                int
	LastAnalyzedAt               time.Time
	LastAnalyzedEventAt          time.Time
	CreatedAt                    time.Time
}

// PropertyContext is read-only property data supplied by the external
// property catalog.
type PropertyContext struct {
	ID             string
	HostID         string
	Name           string
	Address        string
	Amenities      []string
	Rules          string
	FAQ            string
	AIInstructions string
}

// HostSettings holds per-host classification preferences. It is fetched for
// each analysis rather than cached.
type HostSettings struct {
	HostID             string
	CustomInstructions string
	AutoReplyEnabled   bool
}
