package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"guest-inbox/internal/domain"
	"guest-inbox/internal/repository"
)

type OutboundStore interface {
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	RecordOutbound(ctx context.Context, msg domain.Message) error
}

// ReplyInput is a message already sent to the guest by the reply bot or the
// host.
type ReplyInput struct {
	ConversationID    string
	Content           string
	Automated         bool
	ExternalMessageID string
	At                time.Time
}

type ReplyOutput struct {
	MessageID string
	Duplicate bool
}

// ReplyService records outbound replies so later classifications can be
// checked against them.
type ReplyService struct {
	store OutboundStore
	now   func() time.Time
}

func NewReplyService(store OutboundStore) (*ReplyService, error) {
	if store == nil {
		return nil, errors.New("usecase: outbound store must not be nil")
	}
	return &ReplyService{store: store, now: func() time.Time { return time.Now().UTC() }}, nil
}

var replyNamespace = uuid.MustParse("0c6f7d0a-91c4-4b55-8f3e-6a2d1e5b7c44")

func (s *ReplyService) RecordReply(ctx context.Context, in ReplyInput) (ReplyOutput, error) {
	content := strings.TrimSpace(in.Content)
	switch {
	case strings.TrimSpace(in.ConversationID) == "":
		return ReplyOutput{}, newError(ErrorInvalidInput, "missing_conversation_id", nil)
	case content == "":
		return ReplyOutput{}, newError(ErrorInvalidInput, "empty_body", nil)
	}
	if r := []rune(content); len(r) > maxContentRunes {
		content = string(r[:maxContentRunes])
	}

	if _, err := s.store.GetConversation(ctx, in.ConversationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ReplyOutput{}, newError(ErrorInvalidInput, "unknown_conversation", err)
		}
		return ReplyOutput{}, newError(ErrorUpstream, "dynamodb_conversation_error", err)
	}

	at := in.At.UTC()
	if in.At.IsZero() {
		at = s.now()
	}
	msgType := domain.MessageTypeHostReply
	if in.Automated {
		msgType = domain.MessageTypeAIReply
	}
	id := newUUID()
	if ext := strings.TrimSpace(in.ExternalMessageID); ext != "" {
		id = uuid.NewSHA1(replyNamespace, []byte(in.ConversationID+"/"+ext)).String()
	}
	msg := domain.Message{
		ID:                id,
		ConversationID:    in.ConversationID,
		Content:           content,
		Direction:         domain.DirectionOutbound,
		Type:              msgType,
		ExternalMessageID: strings.TrimSpace(in.ExternalMessageID),
		CreatedAt:         at,
	}

	err := s.store.RecordOutbound(ctx, msg)
	switch {
	case err == nil:
		return ReplyOutput{MessageID: id}, nil
	case errors.Is(err, repository.ErrDuplicateMessage):
		return ReplyOutput{MessageID: id, Duplicate: true}, nil
	default:
		return ReplyOutput{}, newError(ErrorUpstream, "dynamodb_write_error", err)
	}
}
