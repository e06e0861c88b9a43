package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"guest-inbox/internal/domain"
)

// GetMessage reads one message by its conversation, event time and id.
func (c *Client) GetMessage(ctx context.Context, conversationID string, at time.Time, messageID string) (domain.Message, error) {
	item, err := c.getItem(ctx, convPK(conversationID), msgSK(at, messageID))
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessage %s: %w", messageID, err)
	}
	msg, err := itemToMessage(item)
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: GetMessage unmarshal: %w", err)
	}
	return msg, nil
}

// GetHistoryThrough returns up to limit messages of msg's conversation that
// sort at or before msg, ending with msg itself. Messages sharing msg's event
// time but sorting after it are excluded.
func (c *Client) GetHistoryThrough(ctx context.Context, msg domain.Message, limit int) ([]domain.Message, error) {
	if msg.ConversationID == "" || msg.ID == "" || msg.CreatedAt.IsZero() {
		return nil, errors.New("repository: GetHistoryThrough: conversation, id and event time are required")
	}
	msgs, err := c.queryHistory(ctx, msg.ConversationID, msgSK(msg.CreatedAt, msg.ID), limit)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistoryThrough: %w", err)
	}
	return msgs, nil
}

// queryHistory reads messages with a sort key not above hi, newest first so
// LIMIT favors the most recent context, and returns them oldest first.
func (c *Client) queryHistory(ctx context.Context, conversationID, hi string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND SK BETWEEN :lo AND :hi"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": sAttr(convPK(conversationID)),
			":lo": sAttr(skPrefixMsg),
			":hi": sAttr(hi),
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// GetProperty reads a property profile from the catalog items.
func (c *Client) GetProperty(ctx context.Context, propertyID string) (domain.PropertyContext, error) {
	item, err := c.getItem(ctx, propertyPK(propertyID), skProfile)
	if err != nil {
		return domain.PropertyContext{}, fmt.Errorf("repository: GetProperty %s: %w", propertyID, err)
	}
	p, err := itemToProperty(item)
	if err != nil {
		return domain.PropertyContext{}, fmt.Errorf("repository: GetProperty: %w", err)
	}
	return p, nil
}

// GetHostSettings reads per-host preferences. A host without a settings item
// gets zero-value settings.
func (c *Client) GetHostSettings(ctx context.Context, hostID string) (domain.HostSettings, error) {
	if hostID == "" {
		return domain.HostSettings{}, nil
	}
	item, err := c.getItem(ctx, hostPK(hostID), skSettings)
	if errors.Is(err, ErrNotFound) {
		return domain.HostSettings{HostID: hostID}, nil
	}
	if err != nil {
		return domain.HostSettings{}, fmt.Errorf("repository: GetHostSettings %s: %w", hostID, err)
	}
	return domain.HostSettings{
		HostID:             hostID,
		CustomInstructions: optStr(item, "customInstructions"),
		AutoReplyEnabled:   optBool(item, "autoReplyEnabled"),
	}, nil
}
