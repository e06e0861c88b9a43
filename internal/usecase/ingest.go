package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"guest-inbox/internal/domain"
	"guest-inbox/internal/repository"
)

const maxContentRunes = 4096

type InboundRecorder interface {
	RecordInbound(ctx context.Context, msg domain.Message) error
}

// InboundEvent is one guest message extracted from a provider delivery.
type InboundEvent struct {
	Provider          string
	ChannelID         string
	ExternalMessageID string
	Sender            string
	SenderName        string
	Type              string
	Body              string
	Timestamp         time.Time
}

type IngestOutput struct {
	ConversationID string
	MessageID      string
	Created        bool
	Duplicate      bool
}

// IngestService durably stores inbound guest messages. Classification is not
// run here; it follows asynchronously from the table stream.
type IngestService struct {
	resolver *Resolver
	messages InboundRecorder
}

func NewIngestService(resolver *Resolver, messages InboundRecorder) (*IngestService, error) {
	if resolver == nil {
		return nil, errors.New("usecase: resolver must not be nil")
	}
	if messages == nil {
		return nil, errors.New("usecase: message recorder must not be nil")
	}
	return &IngestService{resolver: resolver, messages: messages}, nil
}

func (s *IngestService) Ingest(ctx context.Context, ev InboundEvent) (IngestOutput, error) {
	content, err := validateEvent(ev)
	if err != nil {
		return IngestOutput{}, err
	}

	resolved, err := s.resolver.Resolve(ctx, ResolveInput{
		RawIdentifier: ev.Sender,
		ChannelID:     ev.ChannelID,
		GuestName:     ev.SenderName,
	})
	if err != nil {
		return IngestOutput{}, err
	}

	msgType := strings.TrimSpace(ev.Type)
	if msgType == "" {
		msgType = domain.MessageTypeText
	}
	msg := domain.Message{
		ID:                newUUID(),
		ConversationID:    resolved.Conversation.ID,
		Content:           content,
		Direction:         domain.DirectionInbound,
		Type:              msgType,
		Provider:          ev.Provider,
		ExternalMessageID: ev.ExternalMessageID,
		CreatedAt:         ev.Timestamp.UTC(),
	}
	if resolved.Identifier != "" {
		msg.Metadata = map[string]string{"sender": resolved.Identifier}
	}

	out := IngestOutput{ConversationID: msg.ConversationID, MessageID: msg.ID, Created: resolved.Created}
	err = s.messages.RecordInbound(ctx, msg)
	if errors.Is(err, repository.ErrConversationMissing) {
		// Resolving again heals the guard.
		zerolog.Ctx(ctx).Warn().Str("conversation_id", msg.ConversationID).Msg("conversation missing on record, re-resolving")
		resolved, err = s.resolver.Resolve(ctx, ResolveInput{RawIdentifier: ev.Sender, ChannelID: ev.ChannelID, GuestName: ev.SenderName})
		if err != nil {
			return IngestOutput{}, err
		}
		msg.ConversationID = resolved.Conversation.ID
		out.ConversationID, out.Created = msg.ConversationID, resolved.Created
		err = s.messages.RecordInbound(ctx, msg)
	}

	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, repository.ErrDuplicateMessage):
		out.Duplicate = true
		return out, nil
	case errors.Is(err, repository.ErrConversationMissing):
		return IngestOutput{}, newError(ErrorIntegrity, "conversation_missing", err)
	default:
		return IngestOutput{}, newError(ErrorUpstream, "dynamodb_write_error", err)
	}
}

func validateEvent(ev InboundEvent) (string, error) {
	switch {
	case strings.TrimSpace(ev.ExternalMessageID) == "":
		return "", newError(ErrorInvalidInput, "missing_message_id", nil)
	case strings.TrimSpace(ev.Sender) == "":
		return "", newError(ErrorInvalidInput, "missing_sender", nil)
	case ev.Timestamp.IsZero():
		return "", newError(ErrorInvalidInput, "missing_timestamp", nil)
	}

	content := strings.TrimSpace(ev.Body)
	if content == "" {
		t := strings.TrimSpace(ev.Type)
		if t == "" || t == domain.MessageTypeText {
			return "", newError(ErrorInvalidInput, "empty_body", nil)
		}
		// Non-text messages get a placeholder body.
		content = "[" + t + "]"
	}
	if r := []rune(content); len(r) > maxContentRunes {
		content = string(r[:maxContentRunes])
	}
	return content, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
