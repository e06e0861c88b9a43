package handler

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"guest-inbox/internal/notify"
	"guest-inbox/internal/repository"
)

type ChangePublisher interface {
	Notify(ctx context.Context, eventID, correlationID string, change notify.Change) error
}

// NotifierHandler turns table stream records into change events for
// dashboards.
type NotifierHandler struct {
	notifier ChangePublisher
	log      zerolog.Logger
}

func NewNotifierHandler(notifier ChangePublisher, log zerolog.Logger) (*NotifierHandler, error) {
	if notifier == nil {
		return nil, errors.New("handler: notifier must not be nil")
	}
	return &NotifierHandler{notifier: notifier, log: log}, nil
}

func (h *NotifierHandler) Handle(ctx context.Context, ev events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	for _, rec := range ev.Records {
		change, ok := changeFromRecord(rec)
		if !ok {
			continue
		}
		rctx, log := withCorrelation(ctx, h.log, rec.EventID)
		if err := h.notifier.Notify(rctx, rec.EventID, rec.EventID, change); err != nil {
			log.Error().Err(err).Str("kind", string(change.Kind)).Str("conversation_id", change.ConversationID).Msg("change not published, will retry")
			return batchFailure(rec), nil
		}
		log.Debug().Str("kind", string(change.Kind)).Str("conversation_id", change.ConversationID).Msg("change published")
	}
	return events.DynamoDBEventResponse{}, nil
}

func changeFromRecord(rec events.DynamoDBEventRecord) (notify.Change, bool) {
	img := streamImage(rec.Change.NewImage)
	convID := img.str("conversationId")
	if convID == "" {
		return notify.Change{}, false
	}
	insert := rec.EventName == string(events.DynamoDBOperationTypeInsert)
	modify := rec.EventName == string(events.DynamoDBOperationTypeModify)

	switch img.str("entity") {
	case repository.EntityConversation:
		if !insert && !modify {
			return notify.Change{}, false
		}
		kind := notify.KindConversationUpdated
		if insert {
			kind = notify.KindConversationCreated
		}
		at := img.millis("lastMessageAt")
		if at.IsZero() {
			at = recordTime(rec)
		}
		return notify.Change{
			Kind:           kind,
			ConversationID: convID,
			HostID:         img.str("hostId"),
			PropertyID:     img.str("propertyId"),
			Summary:        img.str("lastMessageSummary"),
			Tag:            img.str("lastClassificationTag"),
			PriorityLevel:  int(img.num("priorityLevel")),
			NeedsAttention: img.flag("needsAttention"),
			AttentionState: img.str("attentionState"),
			UnreadCount:    int(img.num("unreadCount")),
			At:             at,
		}, true
	case repository.EntityMessage:
		if !insert {
			return notify.Change{}, false
		}
		return notify.Change{
			Kind:           notify.KindMessageCreated,
			ConversationID: convID,
			MessageID:      img.str("messageId"),
			Direction:      img.str("direction"),
			At:             img.millis("createdAt"),
		}, true
	case repository.EntityClassification:
		if !insert {
			return notify.Change{}, false
		}
		return notify.Change{
			Kind:           notify.KindClassificationCreated,
			ConversationID: convID,
			MessageID:      img.str("sourceMessageId"),
			Tag:            img.str("tag"),
			PriorityLevel:  int(img.num("priorityLevel")),
			NeedsAttention: img.flag("needsAttention"),
			At:             img.millis("createdAt"),
		}, true
	}
	return notify.Change{}, false
}

func recordTime(rec events.DynamoDBEventRecord) time.Time {
	if t := rec.Change.ApproximateCreationDateTime.Time; !t.IsZero() {
		return t.UTC()
	}
	return time.Now().UTC()
}
