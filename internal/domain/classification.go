package domain

import "time"

// ClassificationRecord is one append-only classification of an inbound
// message. SourceEventAt is the event time of the classified message and
// orders projections onto the conversation.
type ClassificationRecord struct {
	ID              string
	ConversationID  string
	SourceMessageID string
	Tag             string
	Confidence      float64
	NeedsAttention  bool
	Explanation     string
	SuggestedAction string
	PriorityLevel   int
	HasIncoherence  bool
	Source          string
	SourceEventAt   time.Time
	CreatedAt       time.Time
}
