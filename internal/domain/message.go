package domain

import "time"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

const (
	MessageTypeText      = "text"
	MessageTypeAIReply   = "ai_reply"
	MessageTypeHostReply = "host_reply"

	// MetaAutoGenerated marks outbound messages produced by the reply bot
	// when the sending path does not set MessageTypeAIReply.
	MetaAutoGenerated = "auto_generated"
)

// Message is a single persisted conversation message. CreatedAt is the
// provider event time, not the insertion time.
type Message struct {
	ID                string
	ConversationID    string
	Content           string
	Direction         Direction
	Type              string
	Provider          string
	ExternalMessageID string
	CreatedAt         time.Time
	Metadata          map[string]string
}

// IsAutomatedReply reports whether m was generated by the reply bot.
func (m Message) IsAutomatedReply() bool {
	if m.Direction != DirectionOutbound {
		return false
	}
	return m.Type == MessageTypeAIReply || m.Metadata[MetaAutoGenerated] == "true"
}
