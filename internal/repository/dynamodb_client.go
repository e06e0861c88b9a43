package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	skMeta     = "META#"
	skActive   = "ACTIVE#"
	skExtMsg   = "EXTMSG#"
	skProfile  = "PROFILE#"
	skSettings = "SETTINGS#"

	skPrefixMsg = "MSG#"
	skPrefixCls = "CLS#"

	summaryMaxRunes = 120

	// Transactions touching the same items cancel each other with
	// TransactionConflict; these bound the retries.
	txAttempts    = 4
	conflictPause = 15 * time.Millisecond
)

// Values of the "entity" attribute, read by stream consumers.
const (
	EntityConversation   = "conversation"
	EntityMessage        = "message"
	EntityClassification = "classification"
	EntityGuard          = "guard"
)

var (
	ErrNotFound            = errors.New("repository: not found")
	ErrDuplicateMessage    = errors.New("repository: duplicate message")
	ErrConversationMissing = errors.New("repository: conversation missing")
	ErrStaleClassification = errors.New("repository: newer classification already applied")
	ErrContention          = errors.New("repository: write contended")
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps the single state table holding conversations, messages,
// classifications and the read-only property catalog.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: func() time.Time { return time.Now().UTC() }}, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func guardPK(identifier, propertyID string) string {
	return "GUEST#" + identifier + "#PROP#" + propertyID
}

func extMsgPK(provider, externalID string) string {
	return "EXTMSG#" + provider + "#" + externalID
}

func propertyPK(propertyID string) string {
	return "PROPERTY#" + propertyID
}

func hostPK(hostID string) string {
	return "HOST#" + hostID
}

// eventKey formats an event time so that lexical order is chronological.
func eventKey(ts time.Time) string {
	return fmt.Sprintf("%013d", millis(ts))
}

func msgSK(ts time.Time, messageID string) string {
	return skPrefixMsg + eventKey(ts) + "#" + messageID
}

func clsSK(ts time.Time, classificationID string) string {
	return skPrefixCls + eventKey(ts) + "#" + classificationID
}

func millis(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (c *Client) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// canceledReasons returns, per transact item, whether its condition failed.
// ok is false when err is not a transaction cancellation.
func canceledReasons(err error) (failed []bool, ok bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil, false
	}
	failed = make([]bool, len(tce.CancellationReasons))
	for i, r := range tce.CancellationReasons {
		failed[i] = aws.ToString(r.Code) == "ConditionalCheckFailed"
	}
	return failed, true
}

// isTransactionConflict reports whether err is a write that lost a race with
// another in-flight transaction and touched nothing. A cancellation that also
// carries a failed condition is not a conflict.
func isTransactionConflict(err error) bool {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		conflict := false
		for _, r := range tce.CancellationReasons {
			switch aws.ToString(r.Code) {
			case "ConditionalCheckFailed":
				return false
			case "TransactionConflict":
				conflict = true
			}
		}
		return conflict
	}
	var tc *types.TransactionConflictException
	return errors.As(err, &tc)
}

// conflictBackoff waits before retry attempt n, growing linearly.
func conflictBackoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(attempt+1) * conflictPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func summarize(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	r := []rune(s)
	if len(r) <= summaryMaxRunes {
		return s
	}
	return string(r[:summaryMaxRunes-1]) + "…"
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optStr(item map[string]types.AttributeValue, key string) string {
	s, _ := strAttr(item, key)
	return s
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func optInt(item map[string]types.AttributeValue, key string) int64 {
	n, _ := intAttr(item, key)
	return n
}

func optFloat(item map[string]types.AttributeValue, key string) float64 {
	n, ok := item[key].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(n.Value, 64)
	return f
}

func optBool(item map[string]types.AttributeValue, key string) bool {
	b, ok := item[key].(*types.AttributeValueMemberBOOL)
	return ok && b.Value
}

func optStrings(item map[string]types.AttributeValue, key string) []string {
	switch v := item[key].(type) {
	case *types.AttributeValueMemberSS:
		return v.Value
	case *types.AttributeValueMemberL:
		out := make([]string, 0, len(v.Value))
		for _, e := range v.Value {
			if s, ok := e.(*types.AttributeValueMemberS); ok {
				out = append(out, s.Value)
			}
		}
		return out
	}
	return nil
}

func optStringMap(item map[string]types.AttributeValue, key string) map[string]string {
	m, ok := item[key].(*types.AttributeValueMemberM)
	if !ok || len(m.Value) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.Value))
	for k, v := range m.Value {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			out[k] = s.Value
		}
	}
	return out
}

func sAttr(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func nAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func fAttr(f float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'f', -1, 64)}
}

func bAttr(b bool) types.AttributeValue {
	return &types.AttributeValueMemberBOOL{Value: b}
}
