package repository

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"guest-inbox/internal/domain"
)

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              sAttr(convPK(conv.ID)),
		"SK":              sAttr(skMeta),
		"entity":          sAttr(EntityConversation),
		"conversationId":  sAttr(conv.ID),
		"guestIdentifier": sAttr(conv.GuestIdentifier),
		"guestName":       sAttr(conv.GuestName),
		"propertyId":      sAttr(conv.PropertyID),
		"hostId":          sAttr(conv.HostID),
		"status":          sAttr(string(conv.Status)),
		"unreadCount":     nAttr(int64(conv.UnreadCount)),
		"needsAttention":  bAttr(conv.NeedsAttention),
		"attentionState":  sAttr(string(conv.AttentionState)),
		"priorityLevel":   nAttr(int64(conv.PriorityLevel)),
		"createdAt":       nAttr(millis(conv.CreatedAt)),
	}
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	state := domain.AttentionState(optStr(item, "attentionState"))
	if state == "" {
		state = domain.AttentionNormal
	}
	return domain.Conversation{
		ID:                           id,
		GuestIdentifier:              optStr(item, "guestIdentifier"),
		GuestName:                    optStr(item, "guestName"),
		PropertyID:                   optStr(item, "propertyId"),
		HostID:                       optStr(item, "hostId"),
		Status:                       domain.ConversationStatus(optStr(item, "status")),
		LastMessageSummary:           optStr(item, "lastMessageSummary"),
		LastMessageAt:                fromMillis(optInt(item, "lastMessageAt")),
		UnreadCount:                  int(optInt(item, "unreadCount")),
		LastClassificationTag:        optStr(item, "lastClassificationTag"),
		LastClassificationConfidence: optFloat(item, "lastClassificationConfidence"),
		NeedsAttention:               optBool(item, "needsAttention"),
		AttentionState:               state,
		PriorityLevel:                int(optInt(item, "priorityLevel")),
		LastAnalyzedAt:               fromMillis(optInt(item, "lastAnalyzedAt")),
		LastAnalyzedEventAt:          fromMillis(optInt(item, "lastAnalyzedEventAt")),
		CreatedAt:                    fromMillis(optInt(item, "createdAt")),
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":             sAttr(convPK(msg.ConversationID)),
		"SK":             sAttr(msgSK(msg.CreatedAt, msg.ID)),
		"entity":         sAttr(EntityMessage),
		"messageId":      sAttr(msg.ID),
		"conversationId": sAttr(msg.ConversationID),
		"content":        sAttr(msg.Content),
		"direction":      sAttr(string(msg.Direction)),
		"type":           sAttr(msg.Type),
		"createdAt":      nAttr(millis(msg.CreatedAt)),
	}
	if msg.Provider != "" {
		item["provider"] = sAttr(msg.Provider)
	}
	if msg.ExternalMessageID != "" {
		item["externalMessageId"] = sAttr(msg.ExternalMessageID)
	}
	if len(msg.Metadata) > 0 {
		meta := make(map[string]types.AttributeValue, len(msg.Metadata))
		for k, v := range msg.Metadata {
			meta[k] = sAttr(v)
		}
		item["metadata"] = &types.AttributeValueMemberM{Value: meta}
	}
	return item
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "messageId")
	if err != nil {
		return domain.Message{}, err
	}
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Message{}, err
	}
	createdAt, err := intAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:                id,
		ConversationID:    convID,
		Content:           optStr(item, "content"),
		Direction:         domain.Direction(optStr(item, "direction")),
		Type:              optStr(item, "type"),
		Provider:          optStr(item, "provider"),
		ExternalMessageID: optStr(item, "externalMessageId"),
		CreatedAt:         fromMillis(createdAt),
		Metadata:          optStringMap(item, "metadata"),
	}, nil
}

func classificationItem(rec domain.ClassificationRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":               sAttr(convPK(rec.ConversationID)),
		"SK":               sAttr(clsSK(rec.SourceEventAt, rec.ID)),
		"entity":           sAttr(EntityClassification),
		"classificationId": sAttr(rec.ID),
		"conversationId":   sAttr(rec.ConversationID),
		"sourceMessageId":  sAttr(rec.SourceMessageID),
		"tag":              sAttr(rec.Tag),
		"confidence":       fAttr(rec.Confidence),
		"needsAttention":   bAttr(rec.NeedsAttention),
		"explanation":      sAttr(rec.Explanation),
		"suggestedAction":  sAttr(rec.SuggestedAction),
		"priorityLevel":    nAttr(int64(rec.PriorityLevel)),
		"hasIncoherence":   bAttr(rec.HasIncoherence),
		"source":           sAttr(rec.Source),
		"sourceEventAt":    nAttr(millis(rec.SourceEventAt)),
		"createdAt":        nAttr(millis(rec.CreatedAt)),
	}
}

func itemToClassification(item map[string]types.AttributeValue) (domain.ClassificationRecord, error) {
	id, err := strAttr(item, "classificationId")
	if err != nil {
		return domain.ClassificationRecord{}, err
	}
	eventAt, err := intAttr(item, "sourceEventAt")
	if err != nil {
		return domain.ClassificationRecord{}, err
	}
	return domain.ClassificationRecord{
		ID:              id,
		ConversationID:  optStr(item, "conversationId"),
		SourceMessageID: optStr(item, "sourceMessageId"),
		Tag:             optStr(item, "tag"),
		Confidence:      optFloat(item, "confidence"),
		NeedsAttention:  optBool(item, "needsAttention"),
		Explanation:     optStr(item, "explanation"),
		SuggestedAction: optStr(item, "suggestedAction"),
		PriorityLevel:   int(optInt(item, "priorityLevel")),
		HasIncoherence:  optBool(item, "hasIncoherence"),
		Source:          optStr(item, "source"),
		SourceEventAt:   fromMillis(eventAt),
		CreatedAt:       fromMillis(optInt(item, "createdAt")),
	}, nil
}

func itemToProperty(item map[string]types.AttributeValue) (domain.PropertyContext, error) {
	id, err := strAttr(item, "propertyId")
	if err != nil {
		return domain.PropertyContext{}, fmt.Errorf("decode property: %w", err)
	}
	return domain.PropertyContext{
		ID:             id,
		HostID:         optStr(item, "hostId"),
		Name:           optStr(item, "name"),
		Address:        optStr(item, "address"),
		Amenities:      optStrings(item, "amenities"),
		Rules:          optStr(item, "rules"),
		FAQ:            optStr(item, "faq"),
		AIInstructions: optStr(item, "aiInstructions"),
	}, nil
}
