package usecase

import (
	"context"
	"errors"

	"guest-inbox/internal/domain"
	"guest-inbox/internal/notify"
	"guest-inbox/internal/repository"
)

type ConversationReader interface {
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
}

// ChangeNotifier turns stream changes into published envelopes. Message and
// classification changes carry only a conversation id and are enriched with
// the conversation's host and property before publishing.
type ChangeNotifier struct {
	conversations ConversationReader
	publisher     notify.Publisher
	producer      string
}

func NewChangeNotifier(conversations ConversationReader, publisher notify.Publisher, producer string) (*ChangeNotifier, error) {
	if conversations == nil {
		return nil, errors.New("usecase: conversation reader must not be nil")
	}
	if publisher == nil {
		return nil, errors.New("usecase: publisher must not be nil")
	}
	return &ChangeNotifier{conversations: conversations, publisher: publisher, producer: producer}, nil
}

// Notify publishes change. eventID should be stable across redeliveries of
// the same stream record.
func (n *ChangeNotifier) Notify(ctx context.Context, eventID, correlationID string, change notify.Change) error {
	if change.ConversationID == "" {
		return newError(ErrorInvalidInput, "missing_conversation_id", nil)
	}
	if change.HostID == "" && change.Kind != notify.KindConversationCreated && change.Kind != notify.KindConversationUpdated {
		conv, err := n.conversations.GetConversation(ctx, change.ConversationID)
		switch {
		case err == nil:
			change.HostID = conv.HostID
			change.PropertyID = conv.PropertyID
			change.UnreadCount = conv.UnreadCount
			change.AttentionState = string(conv.AttentionState)
		case errors.Is(err, repository.ErrNotFound):
			return newError(ErrorIntegrity, "conversation_missing", err)
		default:
			return newError(ErrorUpstream, "dynamodb_conversation_error", err)
		}
	}

	env := notify.NewEnvelope(n.producer, eventID, correlationID, change)
	if err := n.publisher.Publish(ctx, env); err != nil {
		return newError(ErrorUpstream, "publish_error", err)
	}
	return nil
}
