package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"guest-inbox/internal/domain"
)

const resolveAttempts = 5

// ConversationKey identifies the active conversation of one guest at one
// property. HostID and GuestName are only used when a conversation is created.
type ConversationKey struct {
	Identifier string
	PropertyID string
	HostID     string
	GuestName  string
}

// ResolveConversation returns the active conversation for key, creating it
// when absent. Creation is an insert-if-absent transaction on the guard item,
// so concurrent callers for the same key converge on one conversation. A
// guard left pointing at a missing or archived conversation is replaced.
func (c *Client) ResolveConversation(ctx context.Context, k ConversationKey) (domain.Conversation, bool, error) {
	if strings.TrimSpace(k.Identifier) == "" || strings.TrimSpace(k.PropertyID) == "" {
		return domain.Conversation{}, false, errors.New("repository: ResolveConversation: identifier and property are required")
	}

	for attempt := 0; attempt < resolveAttempts; attempt++ {
		guard, err := c.getItem(ctx, guardPK(k.Identifier, k.PropertyID), skActive)
		switch {
		case errors.Is(err, ErrNotFound):
			conv, err := c.createConversation(ctx, k, "")
			if err == nil {
				return conv, true, nil
			}
			if !errors.Is(err, errGuardTaken) {
				return domain.Conversation{}, false, fmt.Errorf("repository: ResolveConversation: %w", err)
			}
			if err := c.pauseOnConflict(ctx, err, attempt); err != nil {
				return domain.Conversation{}, false, fmt.Errorf("repository: ResolveConversation: %w", err)
			}
			continue
		case err != nil:
			return domain.Conversation{}, false, fmt.Errorf("repository: ResolveConversation get guard: %w", err)
		}

		staleID, err := strAttr(guard, "conversationId")
		if err != nil {
			return domain.Conversation{}, false, fmt.Errorf("repository: ResolveConversation decode guard: %w", err)
		}
		conv, err := c.GetConversation(ctx, staleID)
		if err == nil && conv.Status != domain.ConversationArchived {
			return conv, false, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return domain.Conversation{}, false, fmt.Errorf("repository: ResolveConversation: %w", err)
		}

		conv, err = c.createConversation(ctx, k, staleID)
		if err == nil {
			return conv, true, nil
		}
		if !errors.Is(err, errGuardTaken) {
			return domain.Conversation{}, false, fmt.Errorf("repository: ResolveConversation heal: %w", err)
		}
		if err := c.pauseOnConflict(ctx, err, attempt); err != nil {
			return domain.Conversation{}, false, fmt.Errorf("repository: ResolveConversation: %w", err)
		}
	}
	return domain.Conversation{}, false, fmt.Errorf("repository: ResolveConversation %s: %w", k.Identifier, ErrContention)
}

var (
	errGuardTaken = errors.New("guard taken")
	// errCreateConflict wraps errGuardTaken: the guard state is unknown and the
	// resolve loop re-reads it after a pause.
	errCreateConflict = fmt.Errorf("create conversation: transaction conflict: %w", errGuardTaken)
)

func (c *Client) pauseOnConflict(ctx context.Context, err error, attempt int) error {
	if !errors.Is(err, errCreateConflict) {
		return nil
	}
	return conflictBackoff(ctx, attempt)
}

// createConversation writes the guard and the meta item atomically. With an
// empty replaces the guard must not exist; otherwise it must still point at
// replaces.
func (c *Client) createConversation(ctx context.Context, k ConversationKey, replaces string) (domain.Conversation, error) {
	now := c.now()
	conv := domain.Conversation{
		ID:              uuid.NewString(),
		GuestIdentifier: k.Identifier,
		GuestName:       strings.TrimSpace(k.GuestName),
		PropertyID:      k.PropertyID,
		HostID:          k.HostID,
		Status:          domain.ConversationActive,
		AttentionState:  domain.AttentionNormal,
		PriorityLevel:   1,
		CreatedAt:       now,
	}

	guardPut := &types.Put{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":             sAttr(guardPK(k.Identifier, k.PropertyID)),
			"SK":             sAttr(skActive),
			"entity":         sAttr(EntityGuard),
			"conversationId": sAttr(conv.ID),
			"createdAt":      nAttr(millis(now)),
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}
	if replaces != "" {
		guardPut.ConditionExpression = aws.String("conversationId = :stale")
		guardPut.ExpressionAttributeValues = map[string]types.AttributeValue{":stale": sAttr(replaces)}
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: guardPut},
			{Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                conversationItem(conv),
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		if isTransactionConflict(err) {
			return domain.Conversation{}, errCreateConflict
		}
		if failed, ok := canceledReasons(err); ok && len(failed) > 0 && failed[0] {
			return domain.Conversation{}, errGuardTaken
		}
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation reads the conversation meta item.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	item, err := c.getItem(ctx, convPK(conversationID), skMeta)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation %s: %w", conversationID, err)
	}
	return itemToConversation(item)
}

// RecordInbound stores an inbound message exactly once per provider message
// id and increments the unread counter in the same transaction. A transaction
// cancelled by a concurrent write to the conversation is retried. The summary
// fields only move forward in event time.
func (c *Client) RecordInbound(ctx context.Context, msg domain.Message) error {
	if err := validateMessage(msg); err != nil {
		return fmt.Errorf("repository: RecordInbound: %w", err)
	}

	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                messageItem(msg),
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		}},
		{Update: &types.Update{
			TableName:           aws.String(c.tableName),
			Key:                 key(convPK(msg.ConversationID), skMeta),
			UpdateExpression:    aws.String("ADD unreadCount :one"),
			ConditionExpression: aws.String("attribute_exists(PK)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":one": nAttr(1),
			},
		}},
	}
	if msg.ExternalMessageID != "" {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(c.tableName),
			Item: map[string]types.AttributeValue{
				"PK":             sAttr(extMsgPK(msg.Provider, msg.ExternalMessageID)),
				"SK":             sAttr(skExtMsg),
				"conversationId": sAttr(msg.ConversationID),
				"messageId":      sAttr(msg.ID),
				"createdAt":      nAttr(millis(c.now())),
			},
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		}})
	}

	var err error
	for attempt := 0; attempt < txAttempts; attempt++ {
		_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if !isTransactionConflict(err) {
			break
		}
		if attempt == txAttempts-1 {
			return fmt.Errorf("repository: RecordInbound %s: %w: %w", msg.ID, ErrContention, err)
		}
		if werr := conflictBackoff(ctx, attempt); werr != nil {
			return fmt.Errorf("repository: RecordInbound: %w", werr)
		}
	}
	if err != nil {
		if failed, ok := canceledReasons(err); ok {
			switch {
			case len(failed) > 2 && failed[2], len(failed) > 0 && failed[0]:
				return ErrDuplicateMessage
			case len(failed) > 1 && failed[1]:
				return fmt.Errorf("repository: RecordInbound %s: %w", msg.ConversationID, ErrConversationMissing)
			}
		}
		return fmt.Errorf("repository: RecordInbound: %w", err)
	}

	if err := c.touchSummary(ctx, msg); err != nil {
		return fmt.Errorf("repository: RecordInbound: %w", err)
	}
	return nil
}

// RecordOutbound stores a message sent to the guest. It does not change the
// unread counter.
func (c *Client) RecordOutbound(ctx context.Context, msg domain.Message) error {
	if err := validateMessage(msg); err != nil {
		return fmt.Errorf("repository: RecordOutbound: %w", err)
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("repository: RecordOutbound: %w", err)
	}
	if err := c.touchSummary(ctx, msg); err != nil {
		return fmt.Errorf("repository: RecordOutbound: %w", err)
	}
	return nil
}

func (c *Client) touchSummary(ctx context.Context, msg domain.Message) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              key(convPK(msg.ConversationID), skMeta),
		UpdateExpression: aws.String("SET lastMessageSummary = :summary, lastMessageAt = :at"),
		ConditionExpression: aws.String(
			"attribute_exists(PK) AND (attribute_not_exists(lastMessageAt) OR lastMessageAt <= :at)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":summary": sAttr(summarize(msg.Content)),
			":at":      nAttr(millis(msg.CreatedAt)),
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("update summary: %w", err)
	}
	return nil
}

func validateMessage(msg domain.Message) error {
	switch {
	case msg.ID == "":
		return errors.New("message id is required")
	case msg.ConversationID == "":
		return errors.New("conversation id is required")
	case msg.CreatedAt.IsZero():
		return errors.New("message time is required")
	}
	return nil
}
