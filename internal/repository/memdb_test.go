package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// memDynamo is an in-memory table that understands the key conditions,
// condition expressions and update expressions issued by Client.
type memDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	getErr   error
	queryErr error
	txErr    error
	txCalls  int

	// txConflicts cancels that many transactions with TransactionConflict
	// before evaluating them, the way DynamoDB reports concurrent writers.
	txConflicts int
}

func newMemDynamo() *memDynamo {
	return &memDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(k map[string]types.AttributeValue) string {
	return k["PK"].(*types.AttributeValueMemberS).Value + "|" + k["SK"].(*types.AttributeValueMemberS).Value
}

func copyItem(in map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memDynamo) put(item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemKey(item)] = copyItem(item)
}

func (m *memDynamo) get(pk, sk string) map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[pk+"|"+sk]
	if !ok {
		return nil
	}
	return copyItem(item)
}

func (m *memDynamo) count(entity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.items {
		if s, ok := item["entity"].(*types.AttributeValueMemberS); ok && s.Value == entity {
			n++
		}
	}
	return n
}

func (m *memDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (m *memDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := itemKey(in.Item)
	ok, err := evalCondition(aws.ToString(in.ConditionExpression), m.items[k], in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("conditional request failed")}
	}
	m.items[k] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := itemKey(in.Key)
	ok, err := evalCondition(aws.ToString(in.ConditionExpression), m.items[k], in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("conditional request failed")}
	}
	updated, err := applyUpdate(m.items[k], in.Key, aws.ToString(in.UpdateExpression), in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	m.items[k] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *memDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	vals := in.ExpressionAttributeValues
	pk := vals[":pk"].(*types.AttributeValueMemberS).Value
	cond := aws.ToString(in.KeyConditionExpression)
	match := func(sk string) bool {
		switch {
		case strings.Contains(cond, "begins_with"):
			return strings.HasPrefix(sk, vals[":prefix"].(*types.AttributeValueMemberS).Value)
		case strings.Contains(cond, "BETWEEN"):
			lo := vals[":lo"].(*types.AttributeValueMemberS).Value
			hi := vals[":hi"].(*types.AttributeValueMemberS).Value
			return sk >= lo && sk <= hi
		}
		return true
	}

	var keys []string
	for k := range m.items {
		parts := strings.SplitN(k, "|", 2)
		if parts[0] == pk && match(parts[1]) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	}
	if in.Limit != nil && int(*in.Limit) < len(keys) {
		keys = keys[:*in.Limit]
	}
	out := &dynamodb.QueryOutput{}
	for _, k := range keys {
		out.Items = append(out.Items, copyItem(m.items[k]))
	}
	return out, nil
}

func (m *memDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++
	if m.txErr != nil {
		return nil, m.txErr
	}
	if m.txConflicts > 0 {
		m.txConflicts--
		reasons := make([]types.CancellationReason, len(in.TransactItems))
		for i := range reasons {
			reasons[i].Code = aws.String("None")
		}
		reasons[len(reasons)-1].Code = aws.String("TransactionConflict")
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		var k, cond string
		var vals map[string]types.AttributeValue
		switch {
		case ti.Put != nil:
			k, cond, vals = itemKey(ti.Put.Item), aws.ToString(ti.Put.ConditionExpression), ti.Put.ExpressionAttributeValues
		case ti.Update != nil:
			k, cond, vals = itemKey(ti.Update.Key), aws.ToString(ti.Update.ConditionExpression), ti.Update.ExpressionAttributeValues
		default:
			return nil, fmt.Errorf("memdb: unsupported transact item %d", i)
		}
		ok, err := evalCondition(cond, m.items[k], vals)
		if err != nil {
			return nil, err
		}
		reasons[i].Code = aws.String("None")
		if !ok {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range in.TransactItems {
		if ti.Put != nil {
			m.items[itemKey(ti.Put.Item)] = copyItem(ti.Put.Item)
			continue
		}
		k := itemKey(ti.Update.Key)
		updated, err := applyUpdate(m.items[k], ti.Update.Key, aws.ToString(ti.Update.UpdateExpression), ti.Update.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		m.items[k] = updated
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func applyUpdate(current, k map[string]types.AttributeValue, expr string, vals map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	item := copyItem(current)
	if item == nil {
		item = copyItem(k)
	}
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "SET "):
		for _, assign := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
			parts := strings.SplitN(assign, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("memdb: bad assignment %q", assign)
			}
			v, ok := vals[strings.TrimSpace(parts[1])]
			if !ok {
				return nil, fmt.Errorf("memdb: missing value %q", parts[1])
			}
			item[strings.TrimSpace(parts[0])] = v
		}
	case strings.HasPrefix(expr, "ADD "):
		fields := strings.Fields(strings.TrimPrefix(expr, "ADD "))
		if len(fields) != 2 {
			return nil, fmt.Errorf("memdb: bad add %q", expr)
		}
		delta, _ := strconv.ParseInt(vals[fields[1]].(*types.AttributeValueMemberN).Value, 10, 64)
		var cur int64
		if n, ok := item[fields[0]].(*types.AttributeValueMemberN); ok {
			cur, _ = strconv.ParseInt(n.Value, 10, 64)
		}
		item[fields[0]] = &types.AttributeValueMemberN{Value: strconv.FormatInt(cur+delta, 10)}
	default:
		return nil, fmt.Errorf("memdb: unsupported update %q", expr)
	}
	return item, nil
}

// evalCondition supports attribute_exists, attribute_not_exists, comparisons
// against placeholders, AND, OR and parentheses.
func evalCondition(expr string, item, vals map[string]types.AttributeValue) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	p := &condParser{tokens: tokenize(expr), item: item, vals: vals}
	ok, err := p.or()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.tokens) {
		return false, fmt.Errorf("memdb: trailing tokens in %q", expr)
	}
	return ok, nil
}

func tokenize(expr string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range expr {
		switch r {
		case '(', ')', ',':
			flush()
			tokens = append(tokens, string(r))
		case ' ', '\t', '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

type condParser struct {
	tokens []string
	pos    int
	item   map[string]types.AttributeValue
	vals   map[string]types.AttributeValue
}

func (p *condParser) next() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *condParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *condParser) or() (bool, error) {
	left, err := p.and()
	if err != nil {
		return false, err
	}
	for p.peek() == "OR" {
		p.next()
		right, err := p.and()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *condParser) and() (bool, error) {
	left, err := p.factor()
	if err != nil {
		return false, err
	}
	for p.peek() == "AND" {
		p.next()
		right, err := p.factor()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *condParser) factor() (bool, error) {
	t := p.next()
	switch t {
	case "(":
		v, err := p.or()
		if err != nil {
			return false, err
		}
		if p.next() != ")" {
			return false, fmt.Errorf("memdb: missing )")
		}
		return v, nil
	case "attribute_exists", "attribute_not_exists":
		if p.next() != "(" {
			return false, fmt.Errorf("memdb: expected ( after %s", t)
		}
		name := p.next()
		if p.next() != ")" {
			return false, fmt.Errorf("memdb: expected ) after %s", name)
		}
		_, exists := p.item[name]
		if t == "attribute_exists" {
			return exists, nil
		}
		return !exists, nil
	}

	op := p.next()
	placeholder := p.next()
	want, ok := p.vals[placeholder]
	if !ok {
		return false, fmt.Errorf("memdb: missing value %q", placeholder)
	}
	have, ok := p.item[t]
	if !ok {
		return false, nil
	}
	cmp, err := compare(have, want)
	if err != nil {
		return false, err
	}
	switch op {
	case "=":
		return cmp == 0, nil
	case "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("memdb: unsupported operator %q", op)
}

func compare(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, fmt.Errorf("memdb: type mismatch")
		}
		return strings.Compare(av.Value, bv.Value), nil
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, fmt.Errorf("memdb: type mismatch")
		}
		x, _ := strconv.ParseFloat(av.Value, 64)
		y, _ := strconv.ParseFloat(bv.Value, 64)
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
		return 0, nil
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || av.Value != bv.Value {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("memdb: unsupported attribute type %T", a)
}
