package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"guest-inbox/internal/domain"
)

// SaveClassification appends a classification record. Saving the same record
// id twice is a no-op, so stream retries do not duplicate history.
func (c *Client) SaveClassification(ctx context.Context, rec domain.ClassificationRecord) error {
	if rec.ID == "" || rec.ConversationID == "" || rec.SourceEventAt.IsZero() {
		return errors.New("repository: SaveClassification: id, conversation and event time are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                classificationItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("repository: SaveClassification: %w", err)
	}
	return nil
}

// ApplyClassification projects rec onto the conversation unless a
// classification of a later message is already projected, in which case
// ErrStaleClassification is returned. Messages are ordered by event time,
// then by message id, the same order history reads use. The attention flag
// is only ever set.
func (c *Client) ApplyClassification(ctx context.Context, rec domain.ClassificationRecord) error {
	update := "SET lastClassificationTag = :tag, lastClassificationConfidence = :conf, " +
		"lastClassificationId = :id, priorityLevel = :priority, hasIncoherence = :incoherent, " +
		"lastAnalyzedAt = :now, lastAnalyzedEventAt = :eventAt, lastAnalyzedKey = :analyzedKey"
	values := map[string]types.AttributeValue{
		":tag":         sAttr(rec.Tag),
		":conf":        fAttr(rec.Confidence),
		":id":          sAttr(rec.ID),
		":priority":    nAttr(int64(rec.PriorityLevel)),
		":incoherent":  bAttr(rec.HasIncoherence),
		":now":         nAttr(millis(c.now())),
		":eventAt":     nAttr(millis(rec.SourceEventAt)),
		":analyzedKey": sAttr(msgSK(rec.SourceEventAt, rec.SourceMessageID)),
	}
	if rec.NeedsAttention {
		update += ", needsAttention = :flag, attentionState = :state"
		values[":flag"] = bAttr(true)
		values[":state"] = sAttr(string(domain.AttentionNeeded))
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              key(convPK(rec.ConversationID), skMeta),
		UpdateExpression: aws.String(update),
		ConditionExpression: aws.String(
			"attribute_exists(PK) AND (attribute_not_exists(lastAnalyzedKey) OR lastAnalyzedKey <= :analyzedKey)"),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrStaleClassification
		}
		return fmt.Errorf("repository: ApplyClassification: %w", err)
	}
	return nil
}

// LatestClassification returns the classification with the newest source
// event time.
func (c *Client) LatestClassification(ctx context.Context, conversationID string) (domain.ClassificationRecord, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     sAttr(convPK(conversationID)),
			":prefix": sAttr(skPrefixCls),
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return domain.ClassificationRecord{}, fmt.Errorf("repository: LatestClassification query: %w", err)
	}
	if len(out.Items) == 0 {
		return domain.ClassificationRecord{}, fmt.Errorf("repository: LatestClassification %s: %w", conversationID, ErrNotFound)
	}
	rec, err := itemToClassification(out.Items[0])
	if err != nil {
		return domain.ClassificationRecord{}, fmt.Errorf("repository: LatestClassification unmarshal: %w", err)
	}
	return rec, nil
}
