package dynamostore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/query"
)

type executor struct {
	session    *Session
	entityType string
}

// load reads every item of the type that passes the pushed-down filter,
// ordered by id.
func (e executor) load(ctx context.Context, steps []query.Step) ([]any, error) {
	s := e.session.store
	if !s.schema.Has(e.entityType) {
		return nil, fmt.Errorf("%w: %q", datastore.ErrUnknownType, e.entityType)
	}

	var archivedAttr string
	if sd, ok := s.schema.SoftDelete(e.entityType); ok {
		archivedAttr = sd.Field
	}
	f := pushdown(steps, archivedAttr)

	raw, err := s.queryType(ctx, e.entityType, f)
	if err != nil {
		return nil, err
	}

	items := make([]any, 0, len(raw))
	for _, r := range raw {
		ent, err := s.Unmarshal(r)
		if err != nil {
			return nil, err
		}
		items = append(items, ent)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].(datastore.Entity).EntityID() < items[j].(datastore.Entity).EntityID()
	})
	return items, nil
}

func (e executor) run(ctx context.Context, steps []query.Step) ([]any, error) {
	items, err := e.load(ctx, steps)
	if err != nil {
		return nil, err
	}
	return query.Apply(steps, items, e.session.store.schema.Archived(e.entityType)), nil
}

func (e executor) Any(ctx context.Context, steps []query.Step) (bool, error) {
	items, err := e.run(ctx, steps)
	return len(items) > 0, err
}

func (e executor) Count(ctx context.Context, steps []query.Step) (int, error) {
	items, err := e.run(ctx, steps)
	return len(items), err
}

func (e executor) List(ctx context.Context, steps []query.Step) ([]any, error) {
	items, err := e.run(ctx, steps)
	if err != nil {
		return nil, err
	}
	items = e.session.Resolve(steps, items)
	if err := query.Load(ctx, steps, items); err != nil {
		return nil, err
	}
	return items, nil
}

// queryType queries all shards of an entity type.
func (s *Store) queryType(ctx context.Context, entityType string, f *filter) ([]map[string]types.AttributeValue, error) {
	keys := shard.PartitionKeys(entityType, s.config.NumShards)

	// Fast path for single shard (default)
	if len(keys) == 1 {
		return s.queryShard(ctx, keys[0], f)
	}

	// Multi-shard fan-out
	var mu sync.Mutex
	var all []map[string]types.AttributeValue
	var wg sync.WaitGroup
	errs := make(chan error, len(keys))

	for _, pk := range keys {
		wg.Add(1)
		go func(pk string) {
			defer wg.Done()

			items, err := s.queryShard(ctx, pk, f)
			if err != nil {
				errs <- fmt.Errorf("shard %s: %w", pk, err)
				return
			}

			mu.Lock()
			all = append(all, items...)
			mu.Unlock()
		}(pk)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return all, nil
}

func (s *Store) queryShard(ctx context.Context, pk string, f *filter) ([]map[string]types.AttributeValue, error) {
	keyName := "#pk"
	keyValue := ":pk"
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.Table),
		KeyConditionExpression: aws.String(fmt.Sprintf("%s = %s", keyName, keyValue)),
		ExpressionAttributeNames: mergeExprNames(
			map[string]string{keyName: attrPK},
			f.names,
		),
		ExpressionAttributeValues: mergeExprValues(
			map[string]types.AttributeValue{keyValue: &types.AttributeValueMemberS{Value: pk}},
			f.values,
		),
	}
	if expr := f.Expression(); expr != "" {
		input.FilterExpression = aws.String(expr)
	}

	// Paginate through all results
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}
