// Package dynamotest provides an in-memory stand-in for the DynamoDB calls
// made by dynamostore.
package dynamotest

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Fake implements dynamostore.API on a map. Queries return every item of
// the requested partition and ignore the filter expression. Write
// conditions are evaluated for the forms dynamostore emits.
type Fake struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	exists  bool
	Queries []*dynamodb.QueryInput
	Writes  []*dynamodb.TransactWriteItemsInput
	Deletes int
}

// New returns a Fake with an existing, empty table.
func New() *Fake {
	return &Fake{items: make(map[string]map[string]types.AttributeValue), exists: true}
}

func itemKey(item map[string]types.AttributeValue) string {
	return item["pk"].(*types.AttributeValueMemberS).Value + "|" + item["sk"].(*types.AttributeValueMemberS).Value
}

// Len returns the number of stored items.
func (f *Fake) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Exists reports whether the table exists.
func (f *Fake) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists
}

// Drop removes the table without recording a DeleteTable call.
func (f *Fake) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists = false
	f.items = make(map[string]map[string]types.AttributeValue)
}

// Reset forgets the recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = nil
	f.Writes = nil
}

func (f *Fake) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, in)
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if item["pk"].(*types.AttributeValueMemberS).Value == pk {
			out = append(out, item)
		}
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

func conditionHolds(cond string, existing, values map[string]types.AttributeValue) bool {
	if strings.HasPrefix(cond, "attribute_not_exists") {
		return existing == nil
	}
	if existing == nil {
		return false
	}
	if want, ok := values[":expected"]; ok {
		got, ok := existing["version"].(*types.AttributeValueMemberN)
		return ok && got.Value == want.(*types.AttributeValueMemberN).Value
	}
	return true
}

func (f *Fake) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes = append(f.Writes, in)

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	code := "ConditionalCheckFailed"
	for i, ti := range in.TransactItems {
		var ok bool
		switch {
		case ti.Put != nil:
			ok = conditionHolds(aws.ToString(ti.Put.ConditionExpression), f.items[itemKey(ti.Put.Item)], ti.Put.ExpressionAttributeValues)
		case ti.Delete != nil:
			ok = conditionHolds(aws.ToString(ti.Delete.ConditionExpression), f.items[itemKey(ti.Delete.Key)], ti.Delete.ExpressionAttributeValues)
		}
		if !ok {
			reasons[i] = types.CancellationReason{Code: &code}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{Message: aws.String("cancelled"), CancellationReasons: reasons}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			f.items[itemKey(ti.Put.Item)] = ti.Put.Item
		case ti.Delete != nil:
			delete(f.items, itemKey(ti.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *Fake) CreateTable(_ context.Context, _ *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exists = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *Fake) DeleteTable(_ context.Context, _ *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exists {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	f.exists = false
	f.Deletes++
	f.items = make(map[string]map[string]types.AttributeValue)
	return &dynamodb.DeleteTableOutput{}, nil
}

func (f *Fake) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exists {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableStatus: types.TableStatusActive}}, nil
}
